package post

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"wprag/internal/middleware"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 200
)

type Lister interface {
	List(ctx context.Context, page, perPage int) ([]Post, error)
	Count(ctx context.Context) (int, error)
}

type Handler struct {
	repo Lister
}

func NewHandler(repo Lister) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	page, perPage := parsePaging(r)

	total, err := h.repo.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count posts", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count posts", http.StatusInternalServerError)
		return
	}

	items, err := h.repo.List(ctx, page, perPage)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list posts", "error", err, "page", page)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to list posts", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []Post{}
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"data": Page{Page: page, PerPage: perPage, Total: total, Items: items},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// parsePaging falls back to page 1 and the default page size on bad input.
func parsePaging(r *http.Request) (int, int) {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	perPage, err := strconv.Atoi(r.URL.Query().Get("per_page"))
	if err != nil || perPage < 1 || perPage > MaxPerPage {
		perPage = DefaultPerPage
	}
	return page, perPage
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
