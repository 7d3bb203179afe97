package page

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/hpungsan/skim/internal/errors"
)

const maxPageBytes = 5 << 20

// HTTPSource fetches pages with a plain GET. Script-rendered content is not seen.
type HTTPSource struct {
	client *http.Client
}

// NewHTTPSource returns an HTTPSource. A nil client uses a 30s timeout.
func NewHTTPSource(client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPSource{client: client}
}

// Load implements Source.
func (s *HTTPSource) Load(ctx context.Context, url string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid url: %v", err))
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.8")
	req.Header.Set("User-Agent", "skim/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.NewTimeout("page load", err)
		}
		return nil, errors.NewInvalidRequest(fmt.Sprintf("failed to load page: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("failed to load page: status %d", resp.StatusCode))
	}

	body := io.LimitReader(resp.Body, maxPageBytes)
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "text/plain" {
		raw, err := io.ReadAll(body)
		if err != nil {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("failed to read page: %v", err))
		}
		return &Page{URL: url, Text: normalizeLines(string(raw))}, nil
	}
	if mediaType != "" && !strings.Contains(mediaType, "html") {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("unsupported content type %q", mediaType))
	}

	title, text, err := Extract(body)
	if err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}
	return &Page{URL: url, Title: title, Text: text}, nil
}
