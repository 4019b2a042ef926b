package gemini_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"wprag/internal/adapter/gemini"
	"wprag/internal/provider"
)

func fakeGemini(t *testing.T, embedCalls *atomic.Int32, lastText *atomic.Value) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, ":embedContent"):
			embedCalls.Add(1)
			var body struct {
				Content struct {
					Parts []struct {
						Text string `json:"text"`
					} `json:"parts"`
				} `json:"content"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			if lastText != nil && len(body.Content.Parts) > 0 {
				lastText.Store(body.Content.Parts[0].Text)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"embedding": map[string]any{"values": []float32{0.1, 0.2, 0.3}},
			})
		case strings.HasSuffix(r.URL.Path, ":generateContent"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"candidates": []any{
					map[string]any{
						"content": map[string]any{
							"role":  "model",
							"parts": []any{map[string]any{"text": "Hello "}, map[string]any{"text": "there"}},
						},
					},
				},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestEmbedder_SkipsEmptyInputs(t *testing.T) {
	var calls atomic.Int32
	ts := fakeGemini(t, &calls, nil)

	e := gemini.NewEmbedder(gemini.Config{
		APIKey:        "test-key",
		ClientOptions: []option.ClientOption{option.WithEndpoint(ts.URL)},
	})
	defer e.Close()

	vecs, err := e.Embed(context.Background(), []string{"hello", "   ", "", "world"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, float32(0.1), vecs[0][0])
}

func TestEmbedder_TruncatesLongText(t *testing.T) {
	var calls atomic.Int32
	var last atomic.Value
	ts := fakeGemini(t, &calls, &last)

	e := gemini.NewEmbedder(gemini.Config{
		APIKey:        "test-key",
		ClientOptions: []option.ClientOption{option.WithEndpoint(ts.URL)},
	})
	defer e.Close()

	_, err := e.Embed(context.Background(), []string{strings.Repeat("ک", gemini.MaxEmbedChars+500)})
	require.NoError(t, err)
	sent, _ := last.Load().(string)
	assert.Len(t, []rune(sent), gemini.MaxEmbedChars)
}

func TestEmbedder_MissingKey(t *testing.T) {
	e := gemini.NewEmbedder(gemini.Config{})
	vecs, err := e.Embed(context.Background(), []string{"hello"})
	assert.Nil(t, vecs)
	assert.ErrorIs(t, err, provider.ErrNotConfigured)
}

func TestEmbedder_UpstreamError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`))
	}))
	defer ts.Close()

	e := gemini.NewEmbedder(gemini.Config{
		APIKey:        "bad-key",
		ClientOptions: []option.ClientOption{option.WithEndpoint(ts.URL)},
	})
	defer e.Close()

	_, err := e.Embed(context.Background(), []string{"hello"})
	require.Error(t, err)

	var reqErr *provider.RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Contains(t, err.Error(), "API key not valid")
}

func TestGenerator_JoinsFirstCandidate(t *testing.T) {
	var calls atomic.Int32
	ts := fakeGemini(t, &calls, nil)

	g := gemini.NewGenerator(gemini.Config{
		APIKey:        "test-key",
		ClientOptions: []option.ClientOption{option.WithEndpoint(ts.URL)},
	})
	defer g.Close()

	answer, err := g.Generate(context.Background(), "prompt", "system")
	require.NoError(t, err)
	assert.Equal(t, "Hello there", answer)
}

func TestGenerator_NoCandidates(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer ts.Close()

	g := gemini.NewGenerator(gemini.Config{
		APIKey:        "test-key",
		ClientOptions: []option.ClientOption{option.WithEndpoint(ts.URL)},
	})
	defer g.Close()

	answer, err := g.Generate(context.Background(), "prompt", "")
	require.NoError(t, err)
	assert.Equal(t, "", answer)
}

func TestGenerator_MissingKey(t *testing.T) {
	g := gemini.NewGenerator(gemini.Config{})
	_, err := g.Generate(context.Background(), "prompt", "")
	assert.ErrorIs(t, err, provider.ErrNotConfigured)
}
