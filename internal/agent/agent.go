// Package agent is the per-page skim context. It owns the extracted text of
// one page load, guards against duplicate summarize requests and renders
// results it receives from the coordinator.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/skim/internal/channel"
	"github.com/hpungsan/skim/internal/errors"
	"github.com/hpungsan/skim/internal/page"
	"github.com/hpungsan/skim/internal/store"
)

// UnreachableMessage is shown when the coordinator cannot be reached.
const UnreachableMessage = "Connection to skim lost. Reload the page and try again."

// CopiedResetAfter is how long the copied label stays visible.
const CopiedResetAfter = 2 * time.Second

// Listener names registered while a dialog is open.
const (
	listenerNavigation   = "navigation"
	listenerOutsideClick = "outside-click"
	timerCopied          = "copied-reset"
)

// extracted is the ExtractedText snapshot plus its cached summary.
type extracted struct {
	url     string
	title   string
	text    string
	summary string
}

// Agent is the state machine for one page load. All state is per instance.
type Agent struct {
	doc       page.Page
	sender    channel.Sender
	store     store.Store
	renderer  Renderer
	clipboard Clipboard
	logger    *zap.Logger
	copyReset time.Duration

	mu         sync.Mutex
	mounted    bool
	dialog     bool
	tab        Tab
	snap       *extracted
	guard      bool
	errMsg     string
	saved      bool
	copied     bool
	gone       bool
	generation uint64
	copySeq    uint64

	// listeners holds teardown funcs for everything registered with the open dialog.
	listeners map[string]func()

	inflight sync.WaitGroup
	done     chan struct{}
}

// Option configures an Agent.
type Option func(*Agent)

// WithClipboard replaces the system clipboard.
func WithClipboard(c Clipboard) Option {
	return func(a *Agent) {
		a.clipboard = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Agent) {
		a.logger = logger
	}
}

// WithCopyReset overrides CopiedResetAfter.
func WithCopyReset(d time.Duration) Option {
	return func(a *Agent) {
		a.copyReset = d
	}
}

// New returns an agent for doc in the Hidden state.
func New(doc page.Page, sender channel.Sender, s store.Store, r Renderer, opts ...Option) *Agent {
	a := &Agent{
		doc:       doc,
		sender:    sender,
		store:     s,
		renderer:  r,
		clipboard: SystemClipboard{},
		logger:    zap.NewNop(),
		copyReset: CopiedResetAfter,
		listeners: make(map[string]func()),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.renderer == nil {
		a.renderer = RendererFunc(func(View) {})
	}
	a.logger = a.logger.Named("agent")
	return a
}

// Load reads the feature toggle and mounts the control when it is on.
func (a *Agent) Load(ctx context.Context) error {
	enabled, err := store.Enabled(ctx, a.store)
	if err != nil {
		return err
	}
	a.SetMounted(enabled)
	return nil
}

// Watch mounts and unmounts the control as the stored toggle changes.
// It returns when ctx is done or the page navigates away.
func (a *Agent) Watch(ctx context.Context) error {
	changes, cancel := a.store.Subscribe()
	defer cancel()

	// Catch toggles committed before the subscription was live
	enabled, err := store.Enabled(ctx, a.store)
	if err != nil {
		return err
	}
	a.SetMounted(enabled)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.done:
			return nil
		case c, ok := <-changes:
			if !ok {
				return nil
			}
			if c.Key != store.KeyEnabled {
				continue
			}
			enabled, err := store.DecodeEnabled(c.NewValue)
			if err != nil {
				a.logger.Warn("bad toggle value", zap.Error(err))
				continue
			}
			a.SetMounted(enabled)
		}
	}
}

// Handle implements channel.Handler for messages addressed to the page.
func (a *Agent) Handle(ctx context.Context, req *channel.Request) *channel.Response {
	switch req.Action {
	case channel.ActionToggleExtension:
		if req.Enabled == nil {
			return channel.Fail(errors.NewInvalidRequest("enabled is required"))
		}
		a.SetMounted(*req.Enabled)
		return channel.OK()
	default:
		return channel.Fail(errors.NewInvalidRequest(fmt.Sprintf("agent does not handle %q", req.Action)))
	}
}

// SetMounted shows or hides the floating control. Mounting twice is a no-op.
// Unmounting also closes an open dialog.
func (a *Agent) SetMounted(mounted bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.gone || a.mounted == mounted {
		return
	}
	if !mounted {
		a.closeDialogLocked()
	}
	a.mounted = mounted
	a.renderLocked()
}

// ClickControl opens the dialog, or closes it when it is already open.
func (a *Agent) ClickControl() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.gone || !a.mounted {
		return
	}
	if a.dialog {
		a.closeDialogLocked()
		a.renderLocked()
		return
	}

	a.dialog = true
	a.tab = TabFull
	a.snap = &extracted{url: a.doc.URL, title: a.doc.Title, text: a.doc.Text}
	a.register(listenerNavigation, func() {})
	a.register(listenerOutsideClick, func() {})
	a.renderLocked()
}

// OutsideClick closes the dialog while its outside-click listener is registered.
func (a *Agent) OutsideClick() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.listeners[listenerOutsideClick]; !ok {
		return
	}
	a.closeDialogLocked()
	a.renderLocked()
}

// Close discards the snapshot and guard and returns to Idle. A response
// still in flight is dropped when it arrives.
func (a *Agent) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.dialog {
		return
	}
	a.closeDialogLocked()
	a.renderLocked()
}

// Navigate tears everything down. The agent is unusable afterwards.
func (a *Agent) Navigate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.gone {
		return
	}
	a.closeDialogLocked()
	a.mounted = false
	a.gone = true
	close(a.done)
	a.renderLocked()
}

// SelectTab switches the dialog tab. The first switch to Summary sends one
// summarize request; a cached summary is reused afterwards.
func (a *Agent) SelectTab(ctx context.Context, tab Tab) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.dialog {
		return
	}
	a.tab = tab
	if tab == TabSummary && a.snap.summary == "" && !a.guard {
		a.startSummarizeLocked(ctx)
	}
	a.renderLocked()
}

func (a *Agent) startSummarizeLocked(ctx context.Context) {
	a.guard = true
	a.errMsg = ""
	gen := a.generation
	text := a.snap.text

	a.inflight.Add(1)
	go func() {
		defer a.inflight.Done()
		resp, err := channel.Call(ctx, a.sender, &channel.Request{
			Action: channel.ActionSummarize,
			Text:   text,
		})

		a.mu.Lock()
		defer a.mu.Unlock()
		if gen != a.generation {
			// Dialog closed while waiting
			return
		}
		a.guard = false
		if err != nil {
			a.errMsg = errorMessage(err)
			a.logger.Debug("summarize failed", zap.Error(err))
		} else {
			a.snap.summary = resp.Summary
		}
		a.renderLocked()
	}()
}

// Save sends the cached summary to the coordinator.
func (a *Agent) Save(ctx context.Context) error {
	a.mu.Lock()
	if !a.dialog || a.snap.summary == "" {
		a.mu.Unlock()
		return errors.NewInvalidRequest("no summary to save")
	}
	gen := a.generation
	req := &channel.Request{
		Action:  channel.ActionSaveSummary,
		Summary: a.snap.summary,
		URL:     a.snap.url,
		Title:   a.snap.title,
	}
	a.mu.Unlock()

	_, err := channel.Call(ctx, a.sender, req)

	a.mu.Lock()
	defer a.mu.Unlock()
	if gen == a.generation {
		if err != nil {
			a.errMsg = errorMessage(err)
		} else {
			a.saved = true
			a.errMsg = ""
		}
		a.renderLocked()
	}
	return err
}

// Copy writes the active tab's content to the clipboard.
func (a *Agent) Copy() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.dialog {
		return errors.NewInvalidRequest("dialog is not open")
	}
	return a.copyLocked(a.contentLocked())
}

// Share writes the cached summary to the clipboard.
func (a *Agent) Share() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.dialog || a.snap.summary == "" {
		return errors.NewInvalidRequest("no summary to share")
	}
	return a.copyLocked(a.snap.summary)
}

func (a *Agent) copyLocked(text string) error {
	if err := a.clipboard.WriteAll(text); err != nil {
		return errors.NewInternal(fmt.Errorf("clipboard: %w", err))
	}
	a.copied = true
	a.copySeq++
	seq := a.copySeq
	t := time.AfterFunc(a.copyReset, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		// A later copy owns the label and the timer entry
		if seq != a.copySeq {
			return
		}
		a.copied = false
		delete(a.listeners, timerCopied)
		a.renderLocked()
	})
	a.register(timerCopied, func() { t.Stop() })
	a.renderLocked()
	return nil
}

// Wait blocks until every summarize request has returned.
func (a *Agent) Wait() {
	a.inflight.Wait()
}

// View returns the current view.
func (a *Agent) View() View {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.viewLocked()
}

// Listeners returns how many listeners and timers are registered.
func (a *Agent) Listeners() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.listeners)
}

// register adds a teardown func, replacing any earlier one under the same name.
func (a *Agent) register(name string, teardown func()) {
	if old, ok := a.listeners[name]; ok {
		old()
	}
	a.listeners[name] = teardown
}

func (a *Agent) closeDialogLocked() {
	if !a.dialog {
		return
	}
	for name, teardown := range a.listeners {
		teardown()
		delete(a.listeners, name)
	}
	a.generation++
	a.copySeq++
	a.dialog = false
	a.snap = nil
	a.guard = false
	a.errMsg = ""
	a.saved = false
	a.copied = false
	a.tab = TabFull
}

func (a *Agent) contentLocked() string {
	if a.snap == nil {
		return ""
	}
	if a.tab == TabSummary {
		return a.snap.summary
	}
	return a.snap.text
}

func (a *Agent) viewLocked() View {
	v := View{
		State:          a.stateLocked(),
		ControlMounted: a.mounted,
		DialogOpen:     a.dialog,
		Tab:            a.tab,
	}
	if !a.dialog {
		return v
	}
	v.Title = a.snap.title
	v.URL = a.snap.url
	v.Content = a.contentLocked()
	v.Loading = a.tab == TabSummary && a.guard
	if a.tab == TabSummary {
		v.Error = a.errMsg
	}
	v.CanSave = a.snap.summary != ""
	v.Saved = a.saved
	v.Copied = a.copied
	return v
}

func (a *Agent) stateLocked() State {
	switch {
	case a.gone:
		return StateGone
	case !a.mounted:
		return StateHidden
	case !a.dialog:
		return StateIdle
	case a.guard:
		return StateSummarizing
	default:
		return StateViewing
	}
}

func (a *Agent) renderLocked() {
	a.renderer.Render(a.viewLocked())
}

// errorMessage turns a failure into the text shown in the dialog.
func errorMessage(err error) string {
	if errors.Is(err, errors.ErrChannelUnreachable) {
		return UnreachableMessage
	}
	return errors.As(err).Message
}
