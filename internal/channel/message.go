// Package channel carries request/response messages between skim contexts.
//
// Every request gets exactly one response. Application failures travel in
// the response (Success false, Error, Code); a Sender returns an error only
// when the other side could not be reached.
package channel

import (
	"context"
	"encoding/json"

	"github.com/hpungsan/skim/internal/errors"
	"github.com/hpungsan/skim/internal/summary"
)

// Action names a request kind.
type Action string

const (
	ActionSummarize       Action = "summarize"
	ActionSaveSummary     Action = "saveSummary"
	ActionDeleteSummary   Action = "deleteSummary"
	ActionToggleExtension Action = "toggleExtension"
	ActionListSummaries   Action = "listSummaries"
)

// Request is the request envelope. Payload fields are flat, keyed per action:
//
//	summarize{text}
//	saveSummary{summary, url, title}
//	deleteSummary{id}
//	toggleExtension{enabled}
//	listSummaries{}
type Request struct {
	RequestID string `json:"request_id,omitempty"`
	Action    Action `json:"action"`

	Text    string `json:"text,omitempty"`
	Summary string `json:"summary,omitempty"`
	URL     string `json:"url,omitempty"`
	Title   string `json:"title,omitempty"`
	ID      string `json:"id,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// Response is the response envelope.
type Response struct {
	RequestID string `json:"request_id,omitempty"`
	Success   bool   `json:"success"`

	Summary   string             `json:"summary,omitempty"`
	ID        string             `json:"id,omitempty"`
	Summaries summary.Collection `json:"summaries,omitempty"`
	Enabled   *bool              `json:"enabled,omitempty"`

	Error string           `json:"error,omitempty"`
	Code  errors.ErrorCode `json:"code,omitempty"`
}

// Err rebuilds the typed error of a failed response. It is nil on success.
func (r *Response) Err() error {
	if r == nil {
		return errors.NewInternal(nil)
	}
	if r.Success {
		return nil
	}
	return errors.FromCode(r.Code, r.Error)
}

// OK returns an empty successful response.
func OK() *Response {
	return &Response{Success: true}
}

// Fail returns a failed response carrying err's code and message.
// Internal errors keep their generic message.
func Fail(err error) *Response {
	sErr := errors.As(err)
	return &Response{
		Success: false,
		Error:   sErr.Message,
		Code:    sErr.Code,
	}
}

// Handler answers requests.
type Handler interface {
	Handle(ctx context.Context, req *Request) *Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *Request) *Response

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, req *Request) *Response {
	return f(ctx, req)
}

// Sender delivers a request and waits for its response.
// The error is CHANNEL_UNREACHABLE (or TIMEOUT) when no response could be obtained.
type Sender interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// Call sends req and folds a failed response into the returned error.
func Call(ctx context.Context, s Sender, req *Request) (*Response, error) {
	resp, err := s.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return resp, err
	}
	return resp, nil
}

// Bool returns a pointer to b, for Request.Enabled.
func Bool(b bool) *bool {
	return &b
}

// String renders the request for logs without its payload text.
func (r *Request) String() string {
	b, _ := json.Marshal(struct {
		RequestID string `json:"request_id,omitempty"`
		Action    Action `json:"action"`
		ID        string `json:"id,omitempty"`
	}{r.RequestID, r.Action, r.ID})
	return string(b)
}
