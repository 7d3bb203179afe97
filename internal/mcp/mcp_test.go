package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/skim/internal/channel"
	"github.com/hpungsan/skim/internal/config"
	"github.com/hpungsan/skim/internal/coordinator"
	"github.com/hpungsan/skim/internal/errors"
	"github.com/hpungsan/skim/internal/page"
	"github.com/hpungsan/skim/internal/store"
)

type echoSummarizer struct{}

func (echoSummarizer) Summarize(ctx context.Context, credential, text string) (string, error) {
	return "summary of: " + text, nil
}

// direct delivers requests to the coordinator in the caller's goroutine.
type direct struct {
	h channel.Handler
}

func (d direct) Send(ctx context.Context, req *channel.Request) (*channel.Response, error) {
	return d.h.Handle(ctx, req), nil
}

type unreachable struct{}

func (unreachable) Send(ctx context.Context, req *channel.Request) (*channel.Response, error) {
	return nil, errors.NewChannelUnreachable(fmt.Errorf("connection refused"))
}

type fakePages map[string]*page.Page

func (f fakePages) Load(ctx context.Context, url string) (*page.Page, error) {
	p, ok := f[url]
	if !ok {
		return nil, errors.NewInvalidRequest("page not found")
	}
	return p, nil
}

// testSetup creates an in-memory store and a coordinator behind Handlers.
func testSetup(t *testing.T) (*Handlers, *store.Memory) {
	t.Helper()

	mem := store.NewMemory()
	t.Cleanup(func() { mem.Close() })

	coord := coordinator.New(mem, echoSummarizer{}, coordinator.WithClock(func() time.Time {
		return time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	}))
	if err := coord.Install(context.Background()); err != nil {
		t.Fatalf("install: %v", err)
	}

	pages := fakePages{
		"https://example.com/post": {URL: "https://example.com/post", Title: "Post", Text: "page body"},
	}
	return NewHandlers(direct{h: coord}, pages), mem
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("result has no content")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content[0] = %T, want TextContent", result.Content[0])
	}
	return text.Text
}

func errorCode(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if !result.IsError {
		t.Fatalf("expected error result, got %s", resultText(t, result))
	}
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(resultText(t, result)), &payload); err != nil {
		t.Fatalf("unmarshal error payload: %v", err)
	}
	return payload.Error.Code
}

func TestHandleSummarize(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		args        map[string]any
		credential  bool
		wantCode    string
		wantSummary string
		wantTitle   string
	}{
		{
			name:        "text",
			args:        map[string]any{"text": "hello world"},
			credential:  true,
			wantSummary: "summary of: hello world",
		},
		{
			name:        "url loads page",
			args:        map[string]any{"url": "https://example.com/post"},
			credential:  true,
			wantSummary: "summary of: page body",
			wantTitle:   "Post",
		},
		{
			name:       "unknown page",
			args:       map[string]any{"url": "https://example.com/missing"},
			credential: true,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:     "missing credential",
			args:     map[string]any{"text": "hello"},
			wantCode: "CREDENTIAL_MISSING",
		},
		{
			name:       "empty text",
			args:       map[string]any{},
			credential: true,
			wantCode:   "INVALID_REQUEST",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, mem := testSetup(t)
			if tt.credential {
				if err := store.SetCredential(ctx, mem, "sk-test"); err != nil {
					t.Fatalf("set credential: %v", err)
				}
			}

			result, err := h.HandleSummarize(ctx, makeRequest(tt.args))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if tt.wantCode != "" {
				if got := errorCode(t, result); got != tt.wantCode {
					t.Errorf("code = %q, want %q", got, tt.wantCode)
				}
				return
			}
			if result.IsError {
				t.Fatalf("unexpected error result: %s", resultText(t, result))
			}
			var out SummarizeOutput
			if err := json.Unmarshal([]byte(resultText(t, result)), &out); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if out.Summary != tt.wantSummary {
				t.Errorf("summary = %q, want %q", out.Summary, tt.wantSummary)
			}
			if out.Title != tt.wantTitle {
				t.Errorf("title = %q, want %q", out.Title, tt.wantTitle)
			}
		})
	}
}

func TestHandleSaveListDelete(t *testing.T) {
	ctx := context.Background()
	h, mem := testSetup(t)

	var ids []string
	for _, text := range []string{"first", "second"} {
		result, err := h.HandleSave(ctx, makeRequest(map[string]any{
			"summary": text,
			"url":     "https://example.com/" + text,
			"title":   text,
		}))
		if err != nil {
			t.Fatalf("save: %v", err)
		}
		if result.IsError {
			t.Fatalf("save error: %s", resultText(t, result))
		}
		var out SaveOutput
		if err := json.Unmarshal([]byte(resultText(t, result)), &out); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if out.ID == "" {
			t.Fatal("save returned empty id")
		}
		if out.Summaries[0].ID != out.ID {
			t.Errorf("new summary is not first")
		}
		ids = append(ids, out.ID)
	}

	result, err := h.HandleList(ctx, makeRequest(nil))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var list ListOutput
	if err := json.Unmarshal([]byte(resultText(t, result)), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if list.Count != 2 || list.Summaries[0].Text != "second" {
		t.Fatalf("list = %+v, want newest first", list)
	}

	result, err = h.HandleDelete(ctx, makeRequest(map[string]any{"id": ids[0]}))
	if err != nil || result.IsError {
		t.Fatalf("delete: %v %v", err, result)
	}
	stored, err := store.Summaries(ctx, mem)
	if err != nil {
		t.Fatalf("summaries: %v", err)
	}
	if len(stored) != 1 || stored[0].ID != ids[1] {
		t.Errorf("stored = %+v, want only %s", stored, ids[1])
	}

	// Unknown id is a no-op success
	result, err = h.HandleDelete(ctx, makeRequest(map[string]any{"id": "missing"}))
	if err != nil || result.IsError {
		t.Fatalf("delete unknown: %v %v", err, result)
	}
}

func TestHandleSave_Invalid(t *testing.T) {
	h, _ := testSetup(t)

	result, err := h.HandleSave(context.Background(), makeRequest(map[string]any{"summary": "  "}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := errorCode(t, result); got != "INVALID_REQUEST" {
		t.Errorf("code = %q, want INVALID_REQUEST", got)
	}

	result, err = h.HandleSave(context.Background(), makeRequest(map[string]any{"summary": 42}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := errorCode(t, result); got != "INVALID_REQUEST" {
		t.Errorf("code = %q, want INVALID_REQUEST for wrong type", got)
	}
}

func TestHandleToggle(t *testing.T) {
	ctx := context.Background()
	h, mem := testSetup(t)

	result, err := h.HandleToggle(ctx, makeRequest(map[string]any{"enabled": false}))
	if err != nil || result.IsError {
		t.Fatalf("toggle: %v %v", err, result)
	}
	enabled, err := store.Enabled(ctx, mem)
	if err != nil {
		t.Fatalf("enabled: %v", err)
	}
	if enabled {
		t.Error("enabled = true, want false")
	}

	result, err = h.HandleToggle(ctx, makeRequest(map[string]any{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := errorCode(t, result); got != "INVALID_REQUEST" {
		t.Errorf("code = %q, want INVALID_REQUEST", got)
	}
}

func TestHandlers_Unreachable(t *testing.T) {
	h := NewHandlers(unreachable{}, nil)

	result, err := h.HandleList(context.Background(), makeRequest(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := errorCode(t, result); got != "CHANNEL_UNREACHABLE" {
		t.Errorf("code = %q, want CHANNEL_UNREACHABLE", got)
	}

	// Without a page source a url alone cannot be summarized
	result, err = h.HandleSummarize(context.Background(), makeRequest(map[string]any{"url": "https://example.com"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := errorCode(t, result); got != "INVALID_REQUEST" {
		t.Errorf("code = %q, want INVALID_REQUEST", got)
	}
}

func TestErrorResult_HidesInternalDetails(t *testing.T) {
	result := errorResult(errors.NewInternal(fmt.Errorf("sql: secret path /home/x")))
	text := resultText(t, result)
	var payload map[string]map[string]any
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := payload["error"]["details"]; ok {
		t.Error("internal error details should not be exposed")
	}

	result = errorResult(fmt.Errorf("plain"))
	if got := errorCode(t, result); got != "INTERNAL" {
		t.Errorf("code = %q, want INTERNAL", got)
	}
}

func TestServerRegistration(t *testing.T) {
	h, _ := testSetup(t)
	s := NewServer(h.sender, h.pages, config.DefaultConfig(), "test", nil)

	tools := s.ListTools()
	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)

	want := AllToolNames()
	if len(names) != len(want) {
		t.Fatalf("registered %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("tool[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestServerRegistration_WithDisabledTools(t *testing.T) {
	h, _ := testSetup(t)
	cfg := config.DefaultConfig()
	cfg.DisabledTools = []string{"summary_delete", "extension_toggle", "summary_delete"}

	tools := NewServer(h.sender, h.pages, cfg, "test", nil).ListTools()
	if len(tools) != len(AllToolNames())-2 {
		t.Fatalf("registered %d tools, want %d", len(tools), len(AllToolNames())-2)
	}
	if _, ok := tools["summary_delete"]; ok {
		t.Error("summary_delete should be disabled")
	}
	if _, ok := tools["summary_list"]; !ok {
		t.Error("summary_list should be registered")
	}
}

func TestServerRegistration_AllToolsDisabled(t *testing.T) {
	h, _ := testSetup(t)
	cfg := config.DefaultConfig()
	cfg.DisabledTools = AllToolNames()

	if tools := NewServer(h.sender, h.pages, cfg, "test", nil).ListTools(); len(tools) != 0 {
		t.Errorf("registered %d tools, want 0", len(tools))
	}
}

func TestValidateDisabledTools(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		wantLen int
	}{
		{"all valid", []string{"summary_list", "extension_toggle"}, 0},
		{"one unknown", []string{"summary_list", "summary_purge"}, 1},
		{"empty", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if unknown := ValidateDisabledTools(tt.input); len(unknown) != tt.wantLen {
				t.Errorf("ValidateDisabledTools() = %v, want %d unknown", unknown, tt.wantLen)
			}
		})
	}
}
