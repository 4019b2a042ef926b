package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"wprag/internal/provider"
	"wprag/internal/text"
	"wprag/internal/vector"
	"wprag/internal/wordpress"
)

// --- fakes ---

type fakeFetcher struct {
	posts    []wordpress.Post
	err      error
	received []string
}

func (f *fakeFetcher) FetchPosts(_ context.Context, modifiedAfter string) ([]wordpress.Post, error) {
	f.received = append(f.received, modifiedAfter)
	return f.posts, f.err
}

type fakeEmbedder struct {
	calls int
	fn    func(texts []string) ([][]float32, error)
}

func (e *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.fn != nil {
		return e.fn(texts)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), float32(i)}
	}
	return out, nil
}

type memIndex struct {
	records map[int64][]vector.Record
	err     error
}

func newMemIndex() *memIndex { return &memIndex{records: map[int64][]vector.Record{}} }

func (m *memIndex) Replace(_ context.Context, postID int64, records []vector.Record) error {
	if m.err != nil {
		return m.err
	}
	delete(m.records, postID)
	if len(records) > 0 {
		m.records[postID] = append([]vector.Record(nil), records...)
	}
	return nil
}

func (m *memIndex) ids() []string {
	var ids []string
	for _, rs := range m.records {
		for _, r := range rs {
			ids = append(ids, r.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

type memPosts struct {
	rows map[int64]PostRecord
}

func newMemPosts() *memPosts { return &memPosts{rows: map[int64]PostRecord{}} }

func (m *memPosts) LatestModified(context.Context) (string, error) {
	latest := ""
	for _, r := range m.rows {
		if r.ModifiedGMT > latest {
			latest = r.ModifiedGMT
		}
	}
	return latest, nil
}

func (m *memPosts) LastModified(_ context.Context, id int64) (string, bool, error) {
	r, ok := m.rows[id]
	return r.ModifiedGMT, ok, nil
}

func (m *memPosts) Upsert(_ context.Context, p PostRecord) error {
	m.rows[p.WPPostID] = p
	return nil
}

type MockPostStore struct {
	mock.Mock
}

func (m *MockPostStore) LatestModified(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockPostStore) LastModified(ctx context.Context, id int64) (string, bool, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockPostStore) Upsert(ctx context.Context, p PostRecord) error {
	return m.Called(ctx, p).Error(0)
}

func post(id int64, modified string, body string) wordpress.Post {
	return wordpress.Post{
		ID:          id,
		Slug:        fmt.Sprintf("post-%d", id),
		Status:      "publish",
		Link:        fmt.Sprintf("https://blog.example/post-%d", id),
		ModifiedGMT: modified,
		Title:       wordpress.Rendered(fmt.Sprintf("Post &#8211; %d", id)),
		Content:     wordpress.Rendered(body),
	}
}

func longBody(words int) string {
	return "<p>" + strings.TrimSpace(strings.Repeat("lorem ipsum ", words)) + "</p>"
}

func newTestService(f Fetcher, e provider.Embedder, idx Indexer, ps PostStore) *Service {
	return NewService(f, text.NewChunker(200, 50), e, idx, ps)
}

// --- tests ---

func TestRun_ProcessesNewPosts(t *testing.T) {
	fetcher := &fakeFetcher{posts: []wordpress.Post{
		post(1, "2024-01-01T00:00:00", longBody(50)), // 599 chars -> 4 chunks
		post(2, "2024-01-02T00:00:00", "<p>Short post.</p>"),
	}}
	idx, posts := newMemIndex(), newMemPosts()
	svc := newTestService(fetcher, &fakeEmbedder{}, idx, posts)

	res, err := svc.Run(context.Background(), false)
	require.NoError(t, err)

	assert.True(t, res.OK)
	assert.Equal(t, 2, res.Fetched)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 0, res.Skipped)
	assert.False(t, res.FinishedAt.IsZero())
	assert.Equal(t, []string{""}, fetcher.received)

	require.Len(t, idx.records[1], 4)
	first := idx.records[1][0]
	assert.Equal(t, "1:0", first.ID)
	assert.Equal(t, int64(1), first.Metadata.PostID)
	assert.Equal(t, "Post – 1", first.Metadata.Title)
	assert.Equal(t, "https://blog.example/post-1", first.Metadata.URL)
	assert.Equal(t, 3, idx.records[1][3].Metadata.ChunkIndex)

	require.Contains(t, posts.rows, int64(2))
	assert.Equal(t, "post-2", posts.rows[2].Slug)
	assert.Equal(t, "Post – 2", posts.rows[2].Title)
	assert.Equal(t, "publish", posts.rows[2].Status)
}

func TestRun_SecondRunIsIdempotent(t *testing.T) {
	fetcher := &fakeFetcher{posts: []wordpress.Post{
		post(1, "2024-01-01T00:00:00", longBody(30)),
		post(2, "2024-01-02T00:00:00", longBody(10)),
		post(3, "2024-01-03T00:00:00", longBody(5)),
	}}
	embedder := &fakeEmbedder{}
	svc := newTestService(fetcher, embedder, newMemIndex(), newMemPosts())

	_, err := svc.Run(context.Background(), true)
	require.NoError(t, err)
	callsAfterFirst := embedder.calls

	res, err := svc.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, res.Fetched, res.Skipped)
	assert.Equal(t, callsAfterFirst, embedder.calls)

	// the incremental run asks only for posts after the watermark
	assert.Equal(t, []string{"", "2024-01-03T00:00:00"}, fetcher.received)
}

func TestRun_AdvancedTimestampReplacesRecords(t *testing.T) {
	fetcher := &fakeFetcher{posts: []wordpress.Post{post(5, "2024-01-01T00:00:00", longBody(50))}}
	idx := newMemIndex()
	svc := newTestService(fetcher, &fakeEmbedder{}, idx, newMemPosts())

	_, err := svc.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"5:0", "5:1", "5:2", "5:3"}, idx.ids())

	fetcher.posts = []wordpress.Post{post(5, "2024-02-01T00:00:00", "<p>Rewritten, much shorter.</p>")}
	res, err := svc.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, []string{"5:0"}, idx.ids())
	assert.Equal(t, "Rewritten, much shorter.", idx.records[5][0].Text)
}

func TestRun_UnchangedTimestampIsSkippedEvenIfContentChanged(t *testing.T) {
	fetcher := &fakeFetcher{posts: []wordpress.Post{post(5, "2024-01-01T00:00:00", "<p>Original</p>")}}
	idx := newMemIndex()
	svc := newTestService(fetcher, &fakeEmbedder{}, idx, newMemPosts())

	_, err := svc.Run(context.Background(), false)
	require.NoError(t, err)

	fetcher.posts = []wordpress.Post{post(5, "2024-01-01T00:00:00", "<p>Edited without a new timestamp</p>")}
	res, err := svc.Run(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, "Original", idx.records[5][0].Text)
}

func TestRun_EmptyPostKeepsPreviousRecords(t *testing.T) {
	fetcher := &fakeFetcher{posts: []wordpress.Post{post(9, "2024-01-01T00:00:00", "<p>Has text</p>")}}
	idx, posts := newMemIndex(), newMemPosts()
	embedder := &fakeEmbedder{}
	svc := newTestService(fetcher, embedder, idx, posts)

	_, err := svc.Run(context.Background(), false)
	require.NoError(t, err)

	fetcher.posts = []wordpress.Post{post(9, "2024-03-01T00:00:00", "<script>only()</script><p>   </p>")}
	res, err := svc.Run(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, 1, embedder.calls)
	assert.Equal(t, []string{"9:0"}, idx.ids())
	assert.Equal(t, "2024-01-01T00:00:00", posts.rows[9].ModifiedGMT)
}

func TestRun_CountMismatchSkipsOnlyThatPost(t *testing.T) {
	fetcher := &fakeFetcher{posts: []wordpress.Post{
		post(1, "2024-01-01T00:00:00", longBody(50)),
		post(2, "2024-01-02T00:00:00", "<p>Fine</p>"),
	}}
	embedder := &fakeEmbedder{fn: func(texts []string) ([][]float32, error) {
		out := make([][]float32, 0, len(texts))
		for range texts {
			out = append(out, []float32{1})
		}
		if len(texts) > 1 {
			return out[:len(out)-1], nil
		}
		return out, nil
	}}
	idx, posts := newMemIndex(), newMemPosts()
	svc := newTestService(fetcher, embedder, idx, posts)

	res, err := svc.Run(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Processed)
	assert.NotContains(t, idx.records, int64(1))
	assert.NotContains(t, posts.rows, int64(1))
	assert.Contains(t, idx.records, int64(2))
}

func TestRun_SingleProviderErrorContinues(t *testing.T) {
	fetcher := &fakeFetcher{posts: []wordpress.Post{
		post(1, "2024-01-01T00:00:00", "<p>one</p>"),
		post(2, "2024-01-02T00:00:00", "<p>two</p>"),
	}}
	calls := 0
	embedder := &fakeEmbedder{fn: func(texts []string) ([][]float32, error) {
		calls++
		if calls == 1 {
			return nil, &provider.RequestError{Provider: "openai", StatusCode: 500, Body: "oops"}
		}
		return [][]float32{{1}}, nil
	}}
	svc := newTestService(fetcher, embedder, newMemIndex(), newMemPosts())

	res, err := svc.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Processed)
}

func TestRun_ProviderOutageAborts(t *testing.T) {
	var ps []wordpress.Post
	for i := int64(1); i <= 6; i++ {
		ps = append(ps, post(i, fmt.Sprintf("2024-01-0%dT00:00:00", i), "<p>text</p>"))
	}
	embedder := &fakeEmbedder{fn: func(texts []string) ([][]float32, error) {
		return nil, &provider.RequestError{Provider: "gemini", StatusCode: 503, Body: "unavailable"}
	}}
	svc := newTestService(&fakeFetcher{posts: ps}, embedder, newMemIndex(), newMemPosts())

	res, err := svc.Run(context.Background(), false)
	require.Error(t, err)
	require.NotNil(t, res)

	var reqErr *provider.RequestError
	assert.True(t, errors.As(err, &reqErr))
	assert.False(t, res.OK)
	assert.Equal(t, 6, res.Fetched)
	assert.Equal(t, MaxConsecutiveProviderFailures, res.Failed)
	assert.Equal(t, MaxConsecutiveProviderFailures, embedder.calls)
}

func TestRun_NotConfiguredAbortsAfterCurrentPost(t *testing.T) {
	fetcher := &fakeFetcher{posts: []wordpress.Post{
		post(1, "2024-01-01T00:00:00", "<p>one</p>"),
		post(2, "2024-01-02T00:00:00", "<p>two</p>"),
	}}
	embedder := &fakeEmbedder{fn: func([]string) ([][]float32, error) {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY is missing", provider.ErrNotConfigured)
	}}
	svc := newTestService(fetcher, embedder, newMemIndex(), newMemPosts())

	res, err := svc.Run(context.Background(), false)
	assert.ErrorIs(t, err, provider.ErrNotConfigured)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, embedder.calls)
}

func TestRun_IndexErrorFailsPost(t *testing.T) {
	fetcher := &fakeFetcher{posts: []wordpress.Post{post(1, "2024-01-01T00:00:00", "<p>one</p>")}}
	idx := newMemIndex()
	idx.err = errors.New("weaviate down")
	posts := newMemPosts()
	svc := newTestService(fetcher, &fakeEmbedder{}, idx, posts)

	res, err := svc.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Empty(t, posts.rows)
}

func TestRun_FetchErrorFailsRun(t *testing.T) {
	fetcher := &fakeFetcher{err: &provider.RequestError{Provider: "wordpress", StatusCode: 502}}
	svc := newTestService(fetcher, &fakeEmbedder{}, newMemIndex(), newMemPosts())

	res, err := svc.Run(context.Background(), false)
	assert.Nil(t, res)
	assert.Error(t, err)
}

func TestRun_WatermarkError(t *testing.T) {
	store := new(MockPostStore)
	store.On("LatestModified", mock.Anything).Return("", errors.New("db down"))
	fetcher := &fakeFetcher{}
	svc := newTestService(fetcher, &fakeEmbedder{}, newMemIndex(), store)

	_, err := svc.Run(context.Background(), false)
	assert.Error(t, err)
	assert.Empty(t, fetcher.received)
	store.AssertExpectations(t)
}

func TestRun_FullResyncIgnoresWatermark(t *testing.T) {
	store := new(MockPostStore)
	store.On("LastModified", mock.Anything, int64(1)).Return("2024-01-01T00:00:00", true, nil)
	fetcher := &fakeFetcher{posts: []wordpress.Post{post(1, "2024-01-01T00:00:00", "<p>x</p>")}}
	svc := newTestService(fetcher, &fakeEmbedder{}, newMemIndex(), store)

	res, err := svc.Run(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, []string{""}, fetcher.received)
	store.AssertNotCalled(t, "LatestModified", mock.Anything)
	store.AssertExpectations(t)
}
