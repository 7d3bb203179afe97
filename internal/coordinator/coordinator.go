// Package coordinator is the privileged skim context. It alone reads the
// credential, calls the summarization API and writes the summary collection.
package coordinator

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/skim/internal/errors"
	"github.com/hpungsan/skim/internal/store"
	"github.com/hpungsan/skim/internal/summarizer"
	"github.com/hpungsan/skim/internal/summary"
)

// Coordinator answers channel requests.
//
// Collection mutations inside one Coordinator are serialized. Coordinators
// in different processes sharing a database still race: each performs its
// own read-modify-write and the last writer wins.
type Coordinator struct {
	store      store.Store
	summarizer summarizer.Summarizer
	logger     *zap.Logger
	now        func() time.Time

	// writeMu serializes read-modify-write cycles on the collection.
	writeMu sync.Mutex
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// New returns a Coordinator over s that summarizes with sum.
func New(s store.Store, sum summarizer.Summarizer, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:      s,
		summarizer: sum,
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("coordinator")
	return c
}

// Install initializes defaults for keys that are absent. Existing values,
// including saved summaries, are never overwritten.
func (c *Coordinator) Install(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	values, err := c.store.Get(ctx, store.KeyEnabled, store.KeySummaries)
	if err != nil {
		return err
	}
	defaults := store.Values{}
	if _, ok := values[store.KeyEnabled]; !ok {
		defaults[store.KeyEnabled] = []byte("true")
	}
	if _, ok := values[store.KeySummaries]; !ok {
		defaults[store.KeySummaries] = []byte("[]")
	}
	if len(defaults) == 0 {
		return nil
	}
	c.logger.Info("installing defaults", zap.Int("keys", len(defaults)))
	return c.store.Set(ctx, defaults)
}

// Summarize condenses text with the configured credential.
// It never returns an empty success.
func (c *Coordinator) Summarize(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.NewInvalidRequest("text is required")
	}

	credential, ok, err := store.Credential(ctx, c.store)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.NewCredentialMissing()
	}

	result, err := c.summarizer.Summarize(ctx, credential, text)
	if err != nil {
		return "", err
	}
	result = strings.TrimSpace(result)
	if result == "" {
		return "", errors.NewExternalAPI(0, "summarization API returned an empty summary")
	}
	return result, nil
}

// SaveInput contains parameters for SaveSummary.
type SaveInput struct {
	Summary string
	URL     string
	Title   string
}

// SaveOutput contains the result of SaveSummary.
type SaveOutput struct {
	ID        string             `json:"id"`
	Summaries summary.Collection `json:"summaries"`
}

// SaveSummary prepends a new summary to the collection and writes it back.
// If the write fails the stored collection is unchanged.
func (c *Coordinator) SaveSummary(ctx context.Context, input SaveInput) (*SaveOutput, error) {
	if strings.TrimSpace(input.Summary) == "" {
		return nil, errors.NewInvalidRequest("summary is required")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	current, err := store.Summaries(ctx, c.store)
	if err != nil {
		return nil, err
	}

	item, err := summary.New(input.Summary, input.URL, input.Title, c.now())
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	next := current.Prepend(item)
	if err := store.PutSummaries(ctx, c.store, next); err != nil {
		return nil, err
	}
	return &SaveOutput{ID: item.ID, Summaries: next}, nil
}

// DeleteSummary removes the summary with id. An unknown id is a successful
// no-op and the stored collection is not rewritten.
func (c *Coordinator) DeleteSummary(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.NewInvalidRequest("id is required")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	current, err := store.Summaries(ctx, c.store)
	if err != nil {
		return err
	}
	next, found := current.Remove(id)
	if !found {
		return nil
	}
	return store.PutSummaries(ctx, c.store, next)
}

// ToggleExtension writes the feature toggle. Writing the current value is a no-op.
func (c *Coordinator) ToggleExtension(ctx context.Context, enabled bool) error {
	return store.SetEnabled(ctx, c.store, enabled)
}

// ListSummaries returns the saved collection, newest first.
func (c *Coordinator) ListSummaries(ctx context.Context) (summary.Collection, error) {
	return store.Summaries(ctx, c.store)
}
