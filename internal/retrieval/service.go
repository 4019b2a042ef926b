package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"wprag/internal/middleware"
	"wprag/internal/provider"
	"wprag/internal/vector"
)

const (
	MinQuestionLen = 3
	MaxQuestionLen = 4000
	ExcerptLen     = 300
)

var ErrInvalidQuestion = errors.New("invalid question")

// Searcher is the read side of the vector index.
type Searcher interface {
	Query(ctx context.Context, vec []float32, topK int) ([]vector.Match, error)
}

type Options struct {
	TopK             int
	MaxContextChunks int
	AnswerLanguage   string
}

type Source struct {
	PostID     int64   `json:"post_id"`
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	ChunkIndex int     `json:"chunk_index"`
	Distance   float64 `json:"distance"`
	Excerpt    string  `json:"excerpt"`
}

type Answer struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// Service answers questions from the indexed posts. It only reads the index.
type Service struct {
	embedder  provider.Embedder
	index     Searcher
	generator provider.Generator
	opts      Options
	logger    *QueryLogger
}

func NewService(e provider.Embedder, idx Searcher, g provider.Generator, opts Options, l *QueryLogger) *Service {
	if opts.TopK <= 0 {
		opts.TopK = 6
	}
	if opts.MaxContextChunks <= 0 || opts.MaxContextChunks > opts.TopK {
		opts.MaxContextChunks = opts.TopK
	}
	return &Service{embedder: e, index: idx, generator: g, opts: opts, logger: l}
}

func (s *Service) Ask(ctx context.Context, question string) (*Answer, error) {
	start := time.Now()

	question = strings.TrimSpace(question)
	if n := utf8.RuneCountInString(question); n < MinQuestionLen || n > MaxQuestionLen {
		return nil, fmt.Errorf("%w: length must be between %d and %d characters", ErrInvalidQuestion, MinQuestionLen, MaxQuestionLen)
	}

	vecs, err := s.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, &provider.RequestError{Provider: "embedding", Err: errors.New("no embedding returned for question")}
	}

	matches, err := s.index.Query(ctx, vecs[0], s.opts.TopK)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	if len(matches) > s.opts.MaxContextChunks {
		matches = matches[:s.opts.MaxContextChunks]
	}
	matches = dedupByPost(matches)

	prompt := BuildPrompt(question, matches, s.opts.AnswerLanguage)
	text, err := s.generator.Generate(ctx, prompt, SystemInstruction)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	answer := &Answer{Answer: text, Sources: make([]Source, len(matches))}
	for i, m := range matches {
		answer.Sources[i] = Source{
			PostID:     m.Metadata.PostID,
			Title:      m.Metadata.Title,
			URL:        m.Metadata.URL,
			ChunkIndex: m.Metadata.ChunkIndex,
			Distance:   m.Distance,
			Excerpt:    excerpt(m.Text),
		}
	}

	if s.logger != nil {
		s.logger.Log(QueryLogEntry{
			Query:         question,
			NumResults:    len(answer.Sources),
			Duration:      time.Since(start),
			CorrelationID: middleware.GetCorrelationID(ctx),
		})
	}
	return answer, nil
}

// dedupByPost keeps the closest match of each post, ordered by distance.
func dedupByPost(matches []vector.Match) []vector.Match {
	best := make(map[int64]int, len(matches))
	out := make([]vector.Match, 0, len(matches))
	for _, m := range matches {
		i, seen := best[m.Metadata.PostID]
		if !seen {
			best[m.Metadata.PostID] = len(out)
			out = append(out, m)
			continue
		}
		if m.Distance < out[i].Distance {
			out[i] = m
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out
}

func excerpt(s string) string {
	if utf8.RuneCountInString(s) <= ExcerptLen {
		return s
	}
	return string([]rune(s)[:ExcerptLen])
}
