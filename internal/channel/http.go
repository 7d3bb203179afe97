package channel

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hpungsan/skim/internal/errors"
)

// RPCPath is the route the HTTP transport uses.
const RPCPath = "/rpc"

const maxRequestBytes = 1 << 20

// NewHTTPHandler serves h over POST JSON. Application failures are returned
// with status 200 so clients only see non-200 for transport problems.
func NewHTTPHandler(h Handler, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req Request
		var resp *Response
		dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
		if err := dec.Decode(&req); err != nil {
			resp = Fail(errors.NewInvalidRequest(fmt.Sprintf("invalid request body: %v", err)))
		} else {
			// A disconnecting client does not cancel coordinator work.
			resp = h.Handle(context.WithoutCancel(r.Context()), &req)
			if resp == nil {
				resp = Fail(errors.NewInternal(nil))
			}
			resp.RequestID = req.RequestID
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Warn("write rpc response", zap.Error(err))
		}
	})
}

// HTTPClient is a Sender that posts requests to a running coordinator.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient returns a client for the coordinator at baseURL
// (for example http://127.0.0.1:7787).
func NewHTTPClient(baseURL string, hc *http.Client) *HTTPClient {
	if hc == nil {
		hc = &http.Client{Timeout: 5 * time.Minute}
	}
	return &HTTPClient{baseURL: strings.TrimRight(baseURL, "/"), httpClient: hc}
}

// Send implements Sender. Dial failures, non-200 statuses and undecodable
// bodies are CHANNEL_UNREACHABLE.
func (c *HTTPClient) Send(ctx context.Context, req *Request) (*Response, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+RPCPath, bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewChannelUnreachable(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctxError(ctx)
		}
		return nil, errors.NewChannelUnreachable(err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, errors.NewChannelUnreachable(fmt.Errorf("unexpected status %d", httpResp.StatusCode))
	}

	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) {
			return nil, errors.NewTimeout("request", err)
		}
		return nil, errors.NewChannelUnreachable(fmt.Errorf("decode response: %w", err))
	}
	return &resp, nil
}
