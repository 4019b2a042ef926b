package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"wprag/features/post"
	"wprag/internal/retrieval"
)

const (
	ToolAsk       = "wprag_ask"
	ToolListPosts = "wprag_list_posts"
)

type AskArgs struct {
	Question string `json:"question"`
}

type ListPostsArgs struct {
	Page    *int `json:"page,omitempty"`
	PerPage *int `json:"per_page,omitempty"`
}

var tools = []Tool{
	{
		Name: ToolAsk,
		Description: `Answers a question from the indexed blog posts and cites the posts it used.

USAGE EXAMPLE:
wprag_ask(question="When should I prune roses?")`,
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"question": map[string]interface{}{
					"type":        "string",
					"description": "The question, 3 to 4000 characters",
				},
			},
			"required": []string{"question"},
		},
	},
	{
		Name: ToolListPosts,
		Description: `Lists the mirrored posts, most recently indexed first.

USAGE EXAMPLE:
wprag_list_posts(page=1, per_page=20)`,
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"page": map[string]interface{}{
					"type":    "integer",
					"minimum": 1,
				},
				"per_page": map[string]interface{}{
					"type":    "integer",
					"minimum": 1,
					"maximum": post.MaxPerPage,
				},
			},
		},
	},
}

// ProcessRequest handles one JSON-RPC request.
// Notifications return nil.
func (h *Handler) ProcessRequest(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	switch req.Method {
	case "initialize":
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: map[string]interface{}{
				"protocolVersion": "2024-11-05",
				"capabilities": map[string]interface{}{
					"tools": map[string]interface{}{},
				},
				"serverInfo": map[string]interface{}{
					"name":    "wprag-mcp",
					"version": "1.0.0",
				},
			},
		}
	case "notifications/initialized":
		return nil
	case "tools/list":
		return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: ListToolsResult{Tools: tools}}
	case "tools/call":
		var params CallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			slog.WarnContext(ctx, "invalid params structure", "error", err)
			return makeErrorResponse(req.ID, ErrInvalidParams, "Invalid params")
		}
		switch params.Name {
		case ToolAsk:
			return h.callAsk(ctx, req.ID, params.Arguments)
		case ToolListPosts:
			return h.callListPosts(ctx, req.ID, params.Arguments)
		}
		slog.WarnContext(ctx, "tool not found", "tool", params.Name)
		return makeErrorResponse(req.ID, ErrMethodNotFound, "Method not found: "+params.Name)
	}

	slog.WarnContext(ctx, "unknown jsonrpc method", "method", req.Method)
	return makeErrorResponse(req.ID, ErrMethodNotFound, "Method not found")
}

func (h *Handler) callAsk(ctx context.Context, id interface{}, raw json.RawMessage) *JSONRPCResponse {
	var args AskArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return makeErrorResponse(id, ErrInvalidParams, "Invalid ask arguments")
	}
	if strings.TrimSpace(args.Question) == "" {
		return makeErrorResponse(id, ErrInvalidParams, "Question is required")
	}

	ans, err := h.asker.Ask(ctx, args.Question)
	if errors.Is(err, retrieval.ErrInvalidQuestion) {
		return makeErrorResponse(id, ErrInvalidParams, err.Error())
	}
	if err != nil {
		slog.ErrorContext(ctx, "ask failed", "error", err)
		return textResult(id, "Error: "+err.Error(), true)
	}

	var b strings.Builder
	b.WriteString(ans.Answer)
	if len(ans.Sources) > 0 {
		b.WriteString("\n\nSources:\n")
		for i, s := range ans.Sources {
			fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, s.Title, s.URL)
		}
	}

	slog.InfoContext(ctx, "tool execution completed", "tool", ToolAsk, "source_count", len(ans.Sources))
	return textResult(id, b.String(), false)
}

func (h *Handler) callListPosts(ctx context.Context, id interface{}, raw json.RawMessage) *JSONRPCResponse {
	var args ListPostsArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return makeErrorResponse(id, ErrInvalidParams, "Invalid arguments")
		}
	}
	page, perPage := 1, post.DefaultPerPage
	if args.Page != nil && *args.Page >= 1 {
		page = *args.Page
	}
	if args.PerPage != nil && *args.PerPage >= 1 && *args.PerPage <= post.MaxPerPage {
		perPage = *args.PerPage
	}

	posts, err := h.posts.List(ctx, page, perPage)
	if err != nil {
		slog.ErrorContext(ctx, "list_posts failed", "error", err)
		return textResult(id, "Error: "+err.Error(), true)
	}
	if len(posts) == 0 {
		return textResult(id, "No posts found.", false)
	}

	type simplePost struct {
		ID    int64  `json:"id"`
		Title string `json:"title"`
		URL   string `json:"url"`
	}
	out := make([]simplePost, len(posts))
	for i, p := range posts {
		out[i] = simplePost{ID: p.WPPostID, Title: p.Title, URL: p.URL}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return textResult(id, "Error marshalling results", true)
	}
	return textResult(id, string(data), false)
}
