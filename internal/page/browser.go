package page

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hpungsan/skim/internal/errors"
)

// visibleTextJS reads what the user actually sees after scripts ran.
const visibleTextJS = `() => ({
	title: document.title || "",
	text: document.body ? document.body.innerText : ""
})`

// BrowserSource renders pages in headless Chrome before reading their text.
type BrowserSource struct {
	// ControlURL connects to an existing browser. Empty launches one per Load.
	ControlURL string

	// NavigationTimeout bounds navigation and load. Zero means 30s.
	NavigationTimeout time.Duration
}

// Load implements Source.
func (s *BrowserSource) Load(ctx context.Context, url string) (*Page, error) {
	timeout := s.NavigationTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	controlURL := s.ControlURL
	var l *launcher.Launcher
	if controlURL == "" {
		l = launcher.New().Headless(true)
		u, err := l.Launch()
		if err != nil {
			return nil, errors.NewInternal(fmt.Errorf("launch chrome: %w", err))
		}
		controlURL = u
		defer l.Cleanup()
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("connect to chrome: %w", err))
	}
	defer func() {
		if l != nil {
			_ = browser.Close()
		}
	}()

	p, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("open page: %w", err))
	}
	defer p.Close()

	p = p.Context(ctx).Timeout(timeout)
	if err := p.Navigate(url); err != nil {
		return nil, loadError(ctx, err)
	}
	if err := p.WaitLoad(); err != nil {
		return nil, loadError(ctx, err)
	}

	res, err := p.Evaluate(&rod.EvalOptions{JS: visibleTextJS, ByValue: true})
	if err != nil {
		return nil, loadError(ctx, err)
	}
	return &Page{
		URL:   url,
		Title: res.Value.Get("title").Str(),
		Text:  normalizeLines(res.Value.Get("text").Str()),
	}, nil
}

func loadError(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded || err == context.DeadlineExceeded {
		return errors.NewTimeout("page load", err)
	}
	return errors.NewInvalidRequest(fmt.Sprintf("failed to load page: %v", err))
}
