package retrieval

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"wprag/internal/middleware"
	"wprag/internal/provider"
	"wprag/internal/vector"
)

type MockEmbedder struct{ mock.Mock }

func (m *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

type MockSearcher struct{ mock.Mock }

func (m *MockSearcher) Query(ctx context.Context, vec []float32, topK int) ([]vector.Match, error) {
	args := m.Called(ctx, vec, topK)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]vector.Match), args.Error(1)
}

type MockGenerator struct{ mock.Mock }

func (m *MockGenerator) Generate(ctx context.Context, prompt, system string) (string, error) {
	args := m.Called(ctx, prompt, system)
	return args.String(0), args.Error(1)
}

func match(postID int64, chunk int, distance float64) vector.Match {
	return vector.Match{
		ID:       vector.RecordID(postID, chunk),
		Text:     fmt.Sprintf("text of %d:%d", postID, chunk),
		Metadata: vector.NewMetadata(postID, chunk, fmt.Sprintf("Post %d", postID), fmt.Sprintf("https://blog.example/%d", postID), "2024-01-01T00:00:00"),
		Distance: distance,
	}
}

func TestAsk_DedupsByPostAndRanks(t *testing.T) {
	emb, idx, gen := new(MockEmbedder), new(MockSearcher), new(MockGenerator)
	qvec := []float32{0.1, 0.2}

	emb.On("Embed", mock.Anything, []string{"What is A?"}).Return([][]float32{qvec}, nil)
	idx.On("Query", mock.Anything, qvec, 6).Return([]vector.Match{
		match(1, 0, 0.1), // A
		match(1, 1, 0.05), // A, closer
		match(2, 0, 0.3), // B
	}, nil)
	gen.On("Generate", mock.Anything, mock.AnythingOfType("string"), SystemInstruction).Return("A is a letter.", nil)

	svc := NewService(emb, idx, gen, Options{TopK: 6, MaxContextChunks: 6}, nil)
	ans, err := svc.Ask(context.Background(), "  What is A?  ")
	require.NoError(t, err)

	assert.Equal(t, "A is a letter.", ans.Answer)
	require.Len(t, ans.Sources, 2)
	assert.Equal(t, int64(1), ans.Sources[0].PostID)
	assert.Equal(t, 1, ans.Sources[0].ChunkIndex)
	assert.InDelta(t, 0.05, ans.Sources[0].Distance, 1e-9)
	assert.Equal(t, int64(2), ans.Sources[1].PostID)
	assert.InDelta(t, 0.3, ans.Sources[1].Distance, 1e-9)

	prompt := gen.Calls[0].Arguments.String(1)
	assert.Contains(t, prompt, "[1] Title: Post 1\nURL: https://blog.example/1\nSnippet:\ntext of 1:1")
	assert.Contains(t, prompt, "[2] Title: Post 2")
	assert.NotContains(t, prompt, "text of 1:0")

	emb.AssertExpectations(t)
	idx.AssertExpectations(t)
	gen.AssertExpectations(t)
}

func TestAsk_TruncatesToMaxContextChunksBeforeDedup(t *testing.T) {
	emb, idx, gen := new(MockEmbedder), new(MockSearcher), new(MockGenerator)
	emb.On("Embed", mock.Anything, mock.Anything).Return([][]float32{{1}}, nil)
	idx.On("Query", mock.Anything, mock.Anything, 5).Return([]vector.Match{
		match(1, 0, 0.1),
		match(2, 0, 0.2),
		match(3, 0, 0.3),
		match(4, 0, 0.4),
		match(5, 0, 0.5),
	}, nil)
	gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return("ok", nil)

	svc := NewService(emb, idx, gen, Options{TopK: 5, MaxContextChunks: 2}, nil)
	ans, err := svc.Ask(context.Background(), "question")
	require.NoError(t, err)

	require.Len(t, ans.Sources, 2)
	assert.Equal(t, int64(1), ans.Sources[0].PostID)
	assert.Equal(t, int64(2), ans.Sources[1].PostID)
}

func TestAsk_EmptyIndexStillGenerates(t *testing.T) {
	emb, idx, gen := new(MockEmbedder), new(MockSearcher), new(MockGenerator)
	emb.On("Embed", mock.Anything, mock.Anything).Return([][]float32{{1}}, nil)
	idx.On("Query", mock.Anything, mock.Anything, mock.Anything).Return([]vector.Match{}, nil)
	gen.On("Generate", mock.Anything, mock.MatchedBy(func(p string) bool {
		return strings.HasSuffix(p, "Context snippets:\n\nAnswer:")
	}), SystemInstruction).Return("I don't know.", nil)

	svc := NewService(emb, idx, gen, Options{TopK: 6, MaxContextChunks: 6}, nil)
	ans, err := svc.Ask(context.Background(), "anything there?")
	require.NoError(t, err)

	assert.Equal(t, "I don't know.", ans.Answer)
	assert.Empty(t, ans.Sources)
	gen.AssertExpectations(t)
}

func TestAsk_ValidationBeforeProviderCalls(t *testing.T) {
	emb, idx, gen := new(MockEmbedder), new(MockSearcher), new(MockGenerator)
	svc := NewService(emb, idx, gen, Options{}, nil)

	for _, q := range []string{"", "  ab  ", strings.Repeat("x", MaxQuestionLen+1)} {
		_, err := svc.Ask(context.Background(), q)
		assert.ErrorIs(t, err, ErrInvalidQuestion)
	}

	emb.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything)
	gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)

	// rune count, not bytes
	emb.On("Embed", mock.Anything, []string{"سلا"}).Return(nil, errors.New("stop"))
	_, err := svc.Ask(context.Background(), "سلا")
	assert.NotErrorIs(t, err, ErrInvalidQuestion)
	emb.AssertExpectations(t)
}

func TestAsk_ProviderErrorsPropagate(t *testing.T) {
	t.Run("Embed", func(t *testing.T) {
		emb, idx, gen := new(MockEmbedder), new(MockSearcher), new(MockGenerator)
		emb.On("Embed", mock.Anything, mock.Anything).Return(nil, fmt.Errorf("%w: OPENAI_API_KEY is missing", provider.ErrNotConfigured))

		svc := NewService(emb, idx, gen, Options{}, nil)
		_, err := svc.Ask(context.Background(), "question")
		assert.ErrorIs(t, err, provider.ErrNotConfigured)
		idx.AssertNotCalled(t, "Query", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Empty Embedding", func(t *testing.T) {
		emb, idx, gen := new(MockEmbedder), new(MockSearcher), new(MockGenerator)
		emb.On("Embed", mock.Anything, mock.Anything).Return([][]float32{}, nil)

		svc := NewService(emb, idx, gen, Options{}, nil)
		_, err := svc.Ask(context.Background(), "question")
		assert.True(t, provider.IsProviderError(err))
	})

	t.Run("Generate", func(t *testing.T) {
		emb, idx, gen := new(MockEmbedder), new(MockSearcher), new(MockGenerator)
		emb.On("Embed", mock.Anything, mock.Anything).Return([][]float32{{1}}, nil)
		idx.On("Query", mock.Anything, mock.Anything, mock.Anything).Return([]vector.Match{match(1, 0, 0.1)}, nil)
		gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return("", &provider.RequestError{Provider: "gemini", StatusCode: 500})

		svc := NewService(emb, idx, gen, Options{}, nil)
		_, err := svc.Ask(context.Background(), "question")
		var reqErr *provider.RequestError
		assert.True(t, errors.As(err, &reqErr))
	})

	t.Run("Index", func(t *testing.T) {
		emb, idx, gen := new(MockEmbedder), new(MockSearcher), new(MockGenerator)
		emb.On("Embed", mock.Anything, mock.Anything).Return([][]float32{{1}}, nil)
		idx.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("weaviate down"))

		svc := NewService(emb, idx, gen, Options{}, nil)
		_, err := svc.Ask(context.Background(), "question")
		assert.Error(t, err)
	})
}

func TestAsk_ExcerptAndQueryLog(t *testing.T) {
	emb, idx, gen := new(MockEmbedder), new(MockSearcher), new(MockGenerator)
	long := match(3, 2, 0.2)
	long.Text = strings.Repeat("ب", 500)
	emb.On("Embed", mock.Anything, mock.Anything).Return([][]float32{{1}}, nil)
	idx.On("Query", mock.Anything, mock.Anything, mock.Anything).Return([]vector.Match{long}, nil)
	gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return("answer", nil)

	var buf bytes.Buffer
	svc := NewService(emb, idx, gen, Options{}, NewQueryLogger(&buf))
	ctx := middleware.WithCorrelationID(context.Background(), "corr-9")

	ans, err := svc.Ask(ctx, "question")
	require.NoError(t, err)
	assert.Len(t, []rune(ans.Sources[0].Excerpt), ExcerptLen)
	assert.Contains(t, buf.String(), `"correlation_id":"corr-9"`)
	assert.Contains(t, buf.String(), `"num_sources":1`)
}

func TestDedupByPost(t *testing.T) {
	out := dedupByPost([]vector.Match{match(1, 0, 0.1), match(1, 1, 0.05), match(2, 0, 0.3)})
	require.Len(t, out, 2)
	assert.Equal(t, "1:1", out[0].ID)
	assert.Equal(t, "2:0", out[1].ID)

	assert.Empty(t, dedupByPost(nil))
}
