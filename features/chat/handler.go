package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"wprag/internal/middleware"
	"wprag/internal/provider"
	"wprag/internal/retrieval"
)

const maxBodyBytes = 64 << 10

type Asker interface {
	Ask(ctx context.Context, question string) (*retrieval.Answer, error)
}

type Handler struct {
	asker Asker
}

func NewHandler(a Asker) *Handler {
	return &Handler{asker: a}
}

func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req struct {
		Question string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "invalid request body", http.StatusBadRequest)
		return
	}

	answer, err := h.asker.Ask(ctx, req.Question)
	if err != nil {
		h.handleAskError(ctx, w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": answer}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) handleAskError(ctx context.Context, w http.ResponseWriter, err error) {
	var reqErr *provider.RequestError
	switch {
	case errors.Is(err, retrieval.ErrInvalidQuestion):
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
	case errors.Is(err, provider.ErrNotConfigured):
		slog.ErrorContext(ctx, "provider not configured", "error", err)
		h.writeError(ctx, w, "NOT_CONFIGURED", err.Error(), http.StatusServiceUnavailable)
	case errors.As(err, &reqErr):
		slog.ErrorContext(ctx, "upstream provider failed", "provider", reqErr.Provider, "status", reqErr.StatusCode, "error", err)
		h.writeError(ctx, w, "UPSTREAM_ERROR", "upstream provider request failed", http.StatusBadGateway)
	default:
		slog.ErrorContext(ctx, "chat failed", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
