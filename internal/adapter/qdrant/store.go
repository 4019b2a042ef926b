// Package qdrant is the alternate vector index, reached over gRPC.
package qdrant

import (
	"context"
	"fmt"
	"sync"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"wprag/internal/vector"
)

var _ vector.Index = (*Store)(nil)

// PointsClient is the subset of pb.PointsClient the store uses.
type PointsClient interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
}

// CollectionsClient is the subset of pb.CollectionsClient the store uses.
type CollectionsClient interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

type Store struct {
	conn        *grpc.ClientConn
	points      PointsClient
	collections CollectionsClient
	collection  string
	timeout     time.Duration

	mu    sync.Mutex
	ready bool
}

// New dials Qdrant at addr (host:grpc-port).
func New(addr, collection string, timeout time.Duration) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant: dial %s: %w", addr, err)
	}
	s := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection, timeout)
	s.conn = conn
	return s, nil
}

func NewWithClients(points PointsClient, collections CollectionsClient, collection string, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Store{points: points, collections: collections, collection: collection, timeout: timeout}
}

func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// ensureCollection creates the collection with the dimension of the first
// vectors written to it.
func (s *Store) ensureCollection(ctx context.Context, dims int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}

	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("qdrant: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == s.collection {
			s.ready = true
			return nil
		}
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{Size: uint64(dims), Distance: pb.Distance_Cosine},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant: create collection %s: %w", s.collection, err)
	}
	s.ready = true
	return nil
}

func (s *Store) Replace(ctx context.Context, postID int64, records []vector.Record) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if len(records) > 0 {
		if err := s.ensureCollection(ctx, len(records[0].Vector)); err != nil {
			return err
		}
	}

	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{Must: []*pb.Condition{postIDMatch(postID)}},
			},
		},
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("qdrant: delete post %d: %w", postID, err)
	}
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: vector.PointID(r.ID).String()}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: r.Vector}},
			},
			Payload: map[string]*pb.Value{
				"content":      stringValue(r.Text),
				"record_id":    stringValue(r.ID),
				"post_id":      intValue(r.Metadata.PostID),
				"chunk_index":  intValue(int64(r.Metadata.ChunkIndex)),
				"title":        stringValue(r.Metadata.Title),
				"url":          stringValue(r.Metadata.URL),
				"modified_gmt": stringValue(r.Metadata.ModifiedGMT),
			},
		}
	}

	_, err = s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert %d points for post %d: %w", len(points), postID, err)
	}
	return nil
}

// Query reports cosine distance as 1 - score.
func (s *Store) Query(ctx context.Context, vec []float32, topK int) ([]vector.Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         vec,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("qdrant: search: %w", err)
	}

	matches := make([]vector.Match, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		payload := p.GetPayload()
		id := payload["record_id"].GetStringValue()
		if id == "" {
			id = p.GetId().GetUuid()
		}
		matches = append(matches, vector.Match{
			ID:   id,
			Text: payload["content"].GetStringValue(),
			Metadata: vector.Metadata{
				PostID:      payload["post_id"].GetIntegerValue(),
				Title:       payload["title"].GetStringValue(),
				URL:         payload["url"].GetStringValue(),
				ModifiedGMT: payload["modified_gmt"].GetStringValue(),
				ChunkIndex:  int(payload["chunk_index"].GetIntegerValue()),
			},
			Distance: 1 - float64(p.GetScore()),
		})
	}
	return matches, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	exact := true
	resp, err := s.points.Count(ctx, &pb.CountPoints{CollectionName: s.collection, Exact: &exact})
	if isNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("qdrant: count: %w", err)
	}
	return int(resp.GetResult().GetCount()), nil
}

func postIDMatch(postID int64) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   "post_id",
				Match: &pb.Match{MatchValue: &pb.Match_Integer{Integer: postID}},
			},
		},
	}
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func intValue(i int64) *pb.Value {
	return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: i}}
}

func isNotFound(err error) bool {
	return err != nil && status.Code(err) == codes.NotFound
}
