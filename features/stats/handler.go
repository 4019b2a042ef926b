package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"wprag/internal/middleware"
)

// Counter is satisfied by the post and job repositories and the vector index.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

type Handler struct {
	posts Counter
	jobs  Counter
	index Counter
}

func NewHandler(posts, jobs, index Counter) *Handler {
	return &Handler{posts: posts, jobs: jobs, index: index}
}

type StatsResponse struct {
	Posts        int `json:"posts"`
	Jobs         int `json:"jobs"`
	IndexRecords int `json:"index_records"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	slog.InfoContext(ctx, "getting stats", "correlationId", correlationID)

	pCount, err := h.posts.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count posts", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count posts", http.StatusInternalServerError)
		return
	}

	jCount, err := h.jobs.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count jobs", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count jobs", http.StatusInternalServerError)
		return
	}

	rCount, err := h.index.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count index records", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count index records", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{
		Posts:        pCount,
		Jobs:         jCount,
		IndexRecords: rCount,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
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
