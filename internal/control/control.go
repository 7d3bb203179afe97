// Package control is the skim control surface: it toggles the feature,
// manages the API credential and lists or deletes saved summaries.
//
// Toggle and credential are written to the store directly. Deleting a
// summary goes through the coordinator, which alone writes the collection.
package control

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/skim/internal/agent"
	"github.com/hpungsan/skim/internal/channel"
	"github.com/hpungsan/skim/internal/errors"
	"github.com/hpungsan/skim/internal/store"
	"github.com/hpungsan/skim/internal/summary"
)

// Status messages shown after successful actions.
const (
	StatusCredentialSaved   = "API key saved successfully"
	StatusCredentialRemoved = "API key removed"
	StatusSummaryDeleted    = "Summary deleted"
	StatusSummaryCopied     = "Summary copied to clipboard"
)

// StatusTTL is how long a status or error message stays on the state.
const StatusTTL = 3 * time.Second

// State is what a control surface front end displays.
type State struct {
	Enabled          bool               `json:"enabled"`
	HasCredential    bool               `json:"has_credential"`
	MaskedCredential string             `json:"masked_credential,omitempty"`
	Summaries        summary.Collection `json:"summaries"`
	Status           string             `json:"status,omitempty"`
	Error            string             `json:"error,omitempty"`
}

// Surface holds the control surface state for one front end.
type Surface struct {
	store     store.Store
	sender    channel.Sender
	clipboard agent.Clipboard
	logger    *zap.Logger
	statusTTL time.Duration

	mu        sync.Mutex
	state     State
	statusGen uint64
	statusT   *time.Timer
	observers map[int]chan State
	nextObs   int
}

// Option configures a Surface.
type Option func(*Surface)

// WithClipboard replaces the system clipboard.
func WithClipboard(c agent.Clipboard) Option {
	return func(s *Surface) {
		s.clipboard = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Surface) {
		s.logger = logger
	}
}

// WithStatusTTL overrides StatusTTL.
func WithStatusTTL(d time.Duration) Option {
	return func(s *Surface) {
		s.statusTTL = d
	}
}

// New returns a Surface. Call Open before reading State.
func New(st store.Store, sender channel.Sender, opts ...Option) *Surface {
	s := &Surface{
		store:     st,
		sender:    sender,
		clipboard: agent.SystemClipboard{},
		logger:    zap.NewNop(),
		statusTTL: StatusTTL,
		observers: make(map[int]chan State),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("control")
	return s
}

// Open loads the toggle, credential presence and collection in one batch read.
func (s *Surface) Open(ctx context.Context) error {
	snap, err := store.ReadSnapshot(ctx, s.store)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Enabled = snap.Enabled
	s.setCredentialLocked(snap.Credential, snap.HasCredential)
	s.state.Summaries = snap.Summaries
	s.notifyLocked()
	return nil
}

// Run keeps the state live from store changes until ctx is done.
// It re-reads the store after subscribing so no change is missed.
func (s *Surface) Run(ctx context.Context) error {
	changes, cancel := s.store.Subscribe()
	defer cancel()

	if err := s.Open(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-changes:
			if !ok {
				return nil
			}
			if err := s.apply(c); err != nil {
				s.logger.Warn("ignoring change", zap.String("key", c.Key), zap.Error(err))
			}
		}
	}
}

func (s *Surface) apply(c store.Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch c.Key {
	case store.KeyEnabled:
		enabled, err := store.DecodeEnabled(c.NewValue)
		if err != nil {
			return err
		}
		s.state.Enabled = enabled
	case store.KeyCredential:
		credential, ok, err := store.DecodeCredential(c.NewValue)
		if err != nil {
			return err
		}
		s.setCredentialLocked(credential, ok)
	case store.KeySummaries:
		summaries, err := store.DecodeSummaries(c.NewValue)
		if err != nil {
			return err
		}
		s.state.Summaries = summaries
	default:
		return nil
	}
	s.notifyLocked()
	return nil
}

// State returns the current state.
func (s *Surface) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Observe returns a stream of states. Only the latest pending state is kept
// for a slow observer. The returned func stops observing and closes the stream.
func (s *Surface) Observe() (<-chan State, func()) {
	ch := make(chan State, 1)
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = ch
	ch <- s.state
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.observers[id]; ok {
			delete(s.observers, id)
			close(ch)
		}
	}
}

// SetEnabled writes the feature toggle. Pages observe it on their own.
func (s *Surface) SetEnabled(ctx context.Context, enabled bool) error {
	if err := store.SetEnabled(ctx, s.store, enabled); err != nil {
		return s.fail(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Enabled = enabled
	s.notifyLocked()
	return nil
}

// Toggle flips the feature toggle and returns the new value.
func (s *Surface) Toggle(ctx context.Context) (bool, error) {
	enabled, err := store.Enabled(ctx, s.store)
	if err != nil {
		return false, s.fail(err)
	}
	if err := s.SetEnabled(ctx, !enabled); err != nil {
		return false, err
	}
	return !enabled, nil
}

// SetCredential stores a new credential. Blank input is rejected.
func (s *Surface) SetCredential(ctx context.Context, credential string) error {
	if err := store.SetCredential(ctx, s.store, credential); err != nil {
		return s.fail(err)
	}
	credential, ok, err := store.Credential(ctx, s.store)
	if err != nil {
		return s.fail(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setCredentialLocked(credential, ok)
	s.setStatusLocked(StatusCredentialSaved, "")
	return nil
}

// RemoveCredential deletes the credential.
func (s *Surface) RemoveCredential(ctx context.Context) error {
	if err := store.RemoveCredential(ctx, s.store); err != nil {
		return s.fail(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setCredentialLocked("", false)
	s.setStatusLocked(StatusCredentialRemoved, "")
	return nil
}

// MaskedCredential returns the credential with all but the last four
// characters hidden, or "" when none is set.
func (s *Surface) MaskedCredential() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.MaskedCredential
}

// DeleteSummary asks the coordinator to delete a saved summary.
func (s *Surface) DeleteSummary(ctx context.Context, id string) error {
	if _, err := channel.Call(ctx, s.sender, &channel.Request{
		Action: channel.ActionDeleteSummary,
		ID:     id,
	}); err != nil {
		return s.fail(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Summaries, _ = s.state.Summaries.Remove(id)
	s.setStatusLocked(StatusSummaryDeleted, "")
	return nil
}

// CopySummary writes a saved summary's text to the clipboard.
func (s *Surface) CopySummary(id string) error {
	s.mu.Lock()
	item, ok := s.state.Summaries.Find(id)
	s.mu.Unlock()
	if !ok {
		return s.fail(errors.NewNotFound(id))
	}
	if err := s.clipboard.WriteAll(item.Text); err != nil {
		return s.fail(errors.NewInternal(err))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setStatusLocked(StatusSummaryCopied, "")
	return nil
}

// Close stops the status timer and ends every observation.
func (s *Surface) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statusT != nil {
		s.statusT.Stop()
		s.statusT = nil
	}
	s.statusGen++
	for id, ch := range s.observers {
		delete(s.observers, id)
		close(ch)
	}
}

// fail records err as a transient error message and returns it.
func (s *Surface) fail(err error) error {
	msg := errors.As(err).Message
	if errors.Is(err, errors.ErrChannelUnreachable) {
		msg = agent.UnreachableMessage
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setStatusLocked("", msg)
	return err
}

func (s *Surface) setCredentialLocked(credential string, ok bool) {
	s.state.HasCredential = ok
	s.state.MaskedCredential = ""
	if ok {
		s.state.MaskedCredential = store.MaskCredential(credential)
	}
}

// setStatusLocked shows a message and clears it after statusTTL.
func (s *Surface) setStatusLocked(status, errMsg string) {
	s.state.Status = status
	s.state.Error = errMsg
	s.statusGen++
	gen := s.statusGen
	if s.statusT != nil {
		s.statusT.Stop()
	}
	s.statusT = time.AfterFunc(s.statusTTL, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if gen != s.statusGen {
			return
		}
		s.state.Status = ""
		s.state.Error = ""
		s.statusT = nil
		s.notifyLocked()
	})
	s.notifyLocked()
}

// notifyLocked hands the current state to every observer, replacing any
// state it has not read yet.
func (s *Surface) notifyLocked() {
	for _, ch := range s.observers {
		select {
		case <-ch:
		default:
		}
		ch <- s.state
	}
}
