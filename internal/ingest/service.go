package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"wprag/internal/provider"
	"wprag/internal/text"
	"wprag/internal/vector"
	"wprag/internal/wordpress"
)

// MaxConsecutiveProviderFailures is the number of posts in a row that may fail
// on the embedding provider before the run is treated as an outage and stops.
const MaxConsecutiveProviderFailures = 3

// ErrCountMismatch means the provider returned a different number of vectors
// than chunks were sent.
var ErrCountMismatch = errors.New("chunk/embedding count mismatch")

type Fetcher interface {
	FetchPosts(ctx context.Context, modifiedAfter string) ([]wordpress.Post, error)
}

type Chunker interface {
	Chunk(text string) []string
}

// Indexer is the write side of the vector index.
type Indexer interface {
	Replace(ctx context.Context, postID int64, records []vector.Record) error
}

// PostRecord is the metadata kept per ingested post.
type PostRecord struct {
	WPPostID    int64
	Slug        string
	URL         string
	Title       string
	ModifiedGMT string
	Status      string
}

// PostStore is the post metadata store consulted for the watermark and the
// re-embedding decision.
type PostStore interface {
	// LatestModified returns the maximum modified_gmt ingested, "" if none.
	LatestModified(ctx context.Context) (string, error)
	// LastModified returns the stored modified_gmt for a post.
	LastModified(ctx context.Context, wpPostID int64) (string, bool, error)
	Upsert(ctx context.Context, p PostRecord) error
}

// Result is the run summary reported to the job status store.
type Result struct {
	OK         bool      `json:"ok"`
	Processed  int       `json:"processed_posts"`
	Skipped    int       `json:"skipped_posts"`
	Fetched    int       `json:"fetched_posts"`
	Failed     int       `json:"failed_posts"`
	FinishedAt time.Time `json:"finished_at"`
}

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeSkipped
	outcomeFailed
)

// Service is the only writer of the vector index and the post store.
type Service struct {
	fetcher  Fetcher
	chunker  Chunker
	embedder provider.Embedder
	index    Indexer
	posts    PostStore
	now      func() time.Time

	// runs never overlap within a process
	mu sync.Mutex
}

func NewService(fetcher Fetcher, chunker Chunker, embedder provider.Embedder, index Indexer, posts PostStore) *Service {
	return &Service{
		fetcher:  fetcher,
		chunker:  chunker,
		embedder: embedder,
		index:    index,
		posts:    posts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run syncs the index with WordPress. With fullResync every published post is
// fetched; otherwise only posts modified after the stored watermark. Posts whose
// modification time has not advanced are skipped either way.
func (s *Service) Run(ctx context.Context, fullResync bool) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	watermark := ""
	if !fullResync {
		wm, err := s.posts.LatestModified(ctx)
		if err != nil {
			return nil, fmt.Errorf("read watermark: %w", err)
		}
		watermark = wm
	}

	slog.InfoContext(ctx, "sync started", "full_resync", fullResync, "watermark", watermark)

	posts, err := s.fetcher.FetchPosts(ctx, watermark)
	if err != nil {
		return nil, fmt.Errorf("fetch posts: %w", err)
	}

	res := &Result{Fetched: len(posts)}
	providerFailures := 0

	for _, p := range posts {
		out, err := s.processPost(ctx, p)
		switch out {
		case outcomeProcessed:
			res.Processed++
		case outcomeSkipped:
			res.Skipped++
		case outcomeFailed:
			res.Failed++
			slog.WarnContext(ctx, "post failed", "post_id", p.ID, "error", err)
		}

		if err == nil || !provider.IsProviderError(err) {
			providerFailures = 0
			continue
		}
		providerFailures++
		if errors.Is(err, provider.ErrNotConfigured) || providerFailures >= MaxConsecutiveProviderFailures {
			res.FinishedAt = s.now()
			slog.ErrorContext(ctx, "sync aborted", "post_id", p.ID, "processed", res.Processed, "error", err)
			return res, fmt.Errorf("sync aborted at post %d: %w", p.ID, err)
		}
	}

	res.OK = true
	res.FinishedAt = s.now()
	slog.InfoContext(ctx, "sync finished",
		"fetched", res.Fetched, "processed", res.Processed, "skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}

func (s *Service) processPost(ctx context.Context, p wordpress.Post) (outcome, error) {
	last, found, err := s.posts.LastModified(ctx, p.ID)
	if err != nil {
		return outcomeFailed, fmt.Errorf("read post state: %w", err)
	}
	if found && p.ModifiedGMT <= last {
		slog.DebugContext(ctx, "post up to date", "post_id", p.ID, "modified_gmt", p.ModifiedGMT)
		return outcomeSkipped, nil
	}

	chunks := nonBlank(s.chunker.Chunk(text.HTMLToText(string(p.Content))))
	if len(chunks) == 0 {
		// existing records are left as they are
		slog.InfoContext(ctx, "post has no text", "post_id", p.ID)
		return outcomeSkipped, nil
	}

	vecs, err := s.embedder.Embed(ctx, chunks)
	if err != nil {
		return outcomeFailed, fmt.Errorf("embed: %w", err)
	}
	if len(vecs) != len(chunks) {
		return outcomeFailed, fmt.Errorf("%w: %d chunks, %d embeddings", ErrCountMismatch, len(chunks), len(vecs))
	}

	title := text.HTMLToText(string(p.Title))
	records := make([]vector.Record, len(chunks))
	for i, chunk := range chunks {
		records[i] = vector.Record{
			ID:       vector.RecordID(p.ID, i),
			Text:     chunk,
			Vector:   vecs[i],
			Metadata: vector.NewMetadata(p.ID, i, title, p.Link, p.ModifiedGMT),
		}
	}

	if err := s.index.Replace(ctx, p.ID, records); err != nil {
		return outcomeFailed, fmt.Errorf("replace index records: %w", err)
	}

	err = s.posts.Upsert(ctx, PostRecord{
		WPPostID:    p.ID,
		Slug:        p.Slug,
		URL:         p.Link,
		Title:       title,
		ModifiedGMT: p.ModifiedGMT,
		Status:      p.Status,
	})
	if err != nil {
		return outcomeFailed, fmt.Errorf("upsert post: %w", err)
	}

	slog.InfoContext(ctx, "post ingested", "post_id", p.ID, "chunks", len(chunks))
	return outcomeProcessed, nil
}

func nonBlank(chunks []string) []string {
	out := chunks[:0]
	for _, c := range chunks {
		if strings.TrimSpace(c) != "" {
			out = append(out, c)
		}
	}
	return out
}
