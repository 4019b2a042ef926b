// Package gemini adapts the Gemini API: per-text embeddings and content
// generation.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"wprag/internal/provider"
)

const providerName = "gemini"

type Config struct {
	APIKey         string
	EmbeddingModel string
	GenerateModel  string
	// RequestsPerSecond paces embedding calls; zero or less means unlimited.
	RequestsPerSecond float64
	Timeout           time.Duration
	ClientOptions     []option.ClientOption
}

// lazyClient opens the genai client on first use, so a missing key only
// fails the operation that needs it.
type lazyClient struct {
	apiKey string
	opts   []option.ClientOption

	mu     sync.Mutex
	client *genai.Client
}

func (l *lazyClient) get(ctx context.Context) (*genai.Client, error) {
	if l.apiKey == "" {
		return nil, fmt.Errorf("%w: GEMINI_API_KEY is missing", provider.ErrNotConfigured)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client != nil {
		return l.client, nil
	}

	opts := append([]option.ClientOption{option.WithAPIKey(l.apiKey)}, l.opts...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	l.client = client
	return client, nil
}

func (l *lazyClient) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client == nil {
		return nil
	}
	err := l.client.Close()
	l.client = nil
	return err
}

func requestError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		body := apiErr.Body
		if body == "" {
			body = apiErr.Message
		}
		return &provider.RequestError{Provider: providerName, StatusCode: apiErr.Code, Body: body, Err: err}
	}
	return &provider.RequestError{Provider: providerName, Err: err}
}
