package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/skim/internal/channel"
	"github.com/hpungsan/skim/internal/errors"
	"github.com/hpungsan/skim/internal/page"
	"github.com/hpungsan/skim/internal/summary"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	sender channel.Sender
	pages  page.Source
}

// NewHandlers creates a new Handlers instance. pages may be nil, in which
// case summary_summarize accepts text only.
func NewHandlers(sender channel.Sender, pages page.Source) *Handlers {
	return &Handlers{sender: sender, pages: pages}
}

// Request types for each tool

// SummarizeRequest represents the arguments for summary_summarize.
type SummarizeRequest struct {
	Text string `json:"text,omitempty"`
	URL  string `json:"url,omitempty"`
}

// SaveRequest represents the arguments for summary_save.
type SaveRequest struct {
	Summary string `json:"summary"`
	URL     string `json:"url,omitempty"`
	Title   string `json:"title,omitempty"`
}

// DeleteRequest represents the arguments for summary_delete.
type DeleteRequest struct {
	ID string `json:"id"`
}

// ToggleRequest represents the arguments for extension_toggle.
type ToggleRequest struct {
	Enabled *bool `json:"enabled"`
}

// SummarizeOutput is the result of summary_summarize.
type SummarizeOutput struct {
	Summary string `json:"summary"`
	URL     string `json:"url,omitempty"`
	Title   string `json:"title,omitempty"`
}

// SaveOutput is the result of summary_save.
type SaveOutput struct {
	ID        string             `json:"id"`
	Summaries summary.Collection `json:"summaries"`
}

// ListOutput is the result of summary_list.
type ListOutput struct {
	Summaries summary.Collection `json:"summaries"`
	Count     int                `json:"count"`
}

// Handler implementations

// HandleSummarize handles the summary_summarize tool call.
func (h *Handlers) HandleSummarize(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SummarizeRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	out := SummarizeOutput{URL: input.URL}
	text := input.Text
	if strings.TrimSpace(text) == "" && input.URL != "" {
		if h.pages == nil {
			return errorResult(errors.NewInvalidRequest("loading pages is not available; pass text")), nil
		}
		p, err := h.pages.Load(ctx, input.URL)
		if err != nil {
			return errorResult(err), nil
		}
		text = p.Text
		out.Title = p.Title
	}

	resp, err := channel.Call(ctx, h.sender, &channel.Request{
		Action: channel.ActionSummarize,
		Text:   text,
	})
	if err != nil {
		return errorResult(err), nil
	}
	out.Summary = resp.Summary
	return successResult(out)
}

// HandleSave handles the summary_save tool call.
func (h *Handlers) HandleSave(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SaveRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	resp, err := channel.Call(ctx, h.sender, &channel.Request{
		Action:  channel.ActionSaveSummary,
		Summary: input.Summary,
		URL:     input.URL,
		Title:   input.Title,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(SaveOutput{ID: resp.ID, Summaries: nonNil(resp.Summaries)})
}

// HandleDelete handles the summary_delete tool call.
func (h *Handlers) HandleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DeleteRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	if _, err := channel.Call(ctx, h.sender, &channel.Request{
		Action: channel.ActionDeleteSummary,
		ID:     input.ID,
	}); err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"deleted": true, "id": input.ID})
}

// HandleList handles the summary_list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resp, err := channel.Call(ctx, h.sender, &channel.Request{Action: channel.ActionListSummaries})
	if err != nil {
		return errorResult(err), nil
	}
	summaries := nonNil(resp.Summaries)
	return successResult(ListOutput{Summaries: summaries, Count: len(summaries)})
}

// HandleToggle handles the extension_toggle tool call.
func (h *Handlers) HandleToggle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ToggleRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Enabled == nil {
		return errorResult(errors.NewInvalidRequest("enabled is required")), nil
	}

	if _, err := channel.Call(ctx, h.sender, &channel.Request{
		Action:  channel.ActionToggleExtension,
		Enabled: input.Enabled,
	}); err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"enabled": *input.Enabled})
}

func nonNil(c summary.Collection) summary.Collection {
	if c == nil {
		return summary.Collection{}
	}
	return c
}

// errorResult creates an MCP error result from an error.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var sErr *errors.SkimError
	if stderrors.As(err, &sErr) {
		errorObj := map[string]any{
			"code":    sErr.Code,
			"message": sErr.Message,
			"status":  sErr.Status,
		}
		// Only include details for non-internal errors to avoid leaking
		// sensitive info like file paths or SQL errors
		if sErr.Code != errors.ErrInternal && sErr.Details != nil {
			errorObj["details"] = sErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
