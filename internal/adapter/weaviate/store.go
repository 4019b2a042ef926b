package weaviate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"wprag/internal/vector"
)

var _ vector.Index = (*Store)(nil)

// Store keeps post chunks in a Weaviate class with caller-supplied vectors.
type Store struct {
	client  *weaviate.Client
	class   string
	timeout time.Duration
}

func NewStore(client *weaviate.Client, class string, timeout time.Duration) *Store {
	if class == "" {
		class = vector.DefaultClass
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Store{client: client, class: class, timeout: timeout}
}

// EnsureSchema creates the chunk class if it does not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return vector.EnsureSchema(ctx, vector.NewWeaviateSchema(s.client), s.class)
}

func (s *Store) Replace(ctx context.Context, postID int64, records []vector.Record) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(s.class).
		WithOutput("minimal").
		WithWhere(filters.Where().
			WithPath([]string{"postId"}).
			WithOperator(filters.Equal).
			WithValueInt(postID)).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("delete post %d chunks: %w", postID, err)
	}

	if len(records) == 0 {
		return nil
	}

	batcher := s.client.Batch().ObjectsBatcher()
	for _, r := range records {
		batcher = batcher.WithObjects(&models.Object{
			Class: s.class,
			ID:    strfmt.UUID(vector.PointID(r.ID).String()),
			Properties: map[string]interface{}{
				"content":     r.Text,
				"recordId":    r.ID,
				"postId":      r.Metadata.PostID,
				"chunkIndex":  r.Metadata.ChunkIndex,
				"title":       r.Metadata.Title,
				"url":         r.Metadata.URL,
				"modifiedGmt": r.Metadata.ModifiedGMT,
			},
			Vector: r.Vector,
		})
	}

	resp, err := batcher.Do(ctx)
	if err != nil {
		return fmt.Errorf("insert post %d chunks: %w", postID, err)
	}

	var failures []string
	for _, obj := range resp {
		if obj.Result == nil || obj.Result.Errors == nil {
			continue
		}
		for _, e := range obj.Result.Errors.Error {
			failures = append(failures, e.Message)
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("insert post %d chunks: %s", postID, strings.Join(failures, "; "))
	}

	slog.DebugContext(ctx, "post chunks replaced", "post_id", postID, "count", len(records))
	return nil
}

func (s *Store) Query(ctx context.Context, vec []float32, topK int) ([]vector.Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "recordId"},
		{Name: "postId"},
		{Name: "chunkIndex"},
		{Name: "title"},
		{Name: "url"},
		{Name: "modifiedGmt"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}, {Name: "distance"}}},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithNearVector(s.client.GraphQL().NearVectorArgBuilder().WithVector(vec)).
		WithLimit(topK).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", graphQLErrors(res.Errors))
	}

	var matches []vector.Match
	data, _ := res.Data["Get"].(map[string]interface{})
	rows, _ := data[s.class].([]interface{})
	for _, row := range rows {
		props, ok := row.(map[string]interface{})
		if !ok {
			continue
		}
		matches = append(matches, toMatch(props))
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Count returns the number of stored chunks.
func (s *Store) Count(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.client.GraphQL().Aggregate().
		WithClassName(s.class).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %s", graphQLErrors(res.Errors))
	}

	agg, _ := res.Data["Aggregate"].(map[string]interface{})
	groups, _ := agg[s.class].([]interface{})
	if len(groups) == 0 {
		return 0, nil
	}
	group, _ := groups[0].(map[string]interface{})
	meta, _ := group["meta"].(map[string]interface{})
	count, _ := meta["count"].(float64)
	return int(count), nil
}

func toMatch(props map[string]interface{}) vector.Match {
	m := vector.Match{}
	m.Text, _ = props["content"].(string)
	m.ID, _ = props["recordId"].(string)
	m.Metadata.Title, _ = props["title"].(string)
	m.Metadata.URL, _ = props["url"].(string)
	m.Metadata.ModifiedGMT, _ = props["modifiedGmt"].(string)
	if v, ok := props["postId"].(float64); ok {
		m.Metadata.PostID = int64(v)
	}
	if v, ok := props["chunkIndex"].(float64); ok {
		m.Metadata.ChunkIndex = int(v)
	}

	if additional, ok := props["_additional"].(map[string]interface{}); ok {
		if d, ok := additional["distance"].(float64); ok {
			m.Distance = d
		}
		if m.ID == "" {
			m.ID, _ = additional["id"].(string)
		}
	}
	return m
}

func graphQLErrors(errs []*models.GraphQLError) string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		if e != nil {
			msgs = append(msgs, e.Message)
		}
	}
	return strings.Join(msgs, "; ")
}
