package provider

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotConfigured is returned when the selected backend lacks the credentials
// it needs. It is never retried.
var ErrNotConfigured = errors.New("provider not configured")

// Embedder turns texts into vectors, one per accepted input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator turns an assembled prompt into a free-text answer.
type Generator interface {
	Generate(ctx context.Context, prompt, system string) (string, error)
}

// RequestError is an upstream failure: a non-2xx response or a transport
// error. StatusCode is zero for transport errors.
type RequestError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *RequestError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s request failed: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

func (e *RequestError) Unwrap() error { return e.Err }

// IsProviderError reports whether err means the provider cannot serve
// requests right now, either misconfigured or failing upstream.
func IsProviderError(err error) bool {
	var reqErr *RequestError
	return errors.Is(err, ErrNotConfigured) || errors.As(err, &reqErr)
}
