package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hpungsan/skim/internal/config"
	"github.com/hpungsan/skim/internal/db"
	"github.com/hpungsan/skim/internal/errors"
	"github.com/hpungsan/skim/internal/page"
	"github.com/hpungsan/skim/internal/store"
	"github.com/hpungsan/skim/internal/summary"
)

type fakeSummarizer struct{}

func (fakeSummarizer) Summarize(ctx context.Context, credential, text string) (string, error) {
	return "short: " + text, nil
}

type fakePages map[string]*page.Page

func (f fakePages) Load(ctx context.Context, url string) (*page.Page, error) {
	p, ok := f[url]
	if !ok {
		return nil, errors.NewInvalidRequest("page not found")
	}
	return p, nil
}

type fakeClipboard struct {
	mu   sync.Mutex
	text string
}

func (c *fakeClipboard) WriteAll(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text = text
	return nil
}

// syncBuffer is a bytes.Buffer safe for a writer and a reader goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

// setupTestEnv creates a sqlite-backed env in a temporary directory.
func setupTestEnv(t *testing.T) (*env, *syncBuffer, *fakeClipboard) {
	t.Helper()
	dir := t.TempDir()
	database, err := db.Init(dir)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	st, err := store.NewSQLStore(context.Background(), database, dir, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	out := &syncBuffer{}
	clip := &fakeClipboard{}
	e := &env{
		baseDir:    dir,
		cfg:        config.DefaultConfig(),
		logger:     zap.NewNop(),
		store:      st,
		watcher:    st,
		summarizer: fakeSummarizer{},
		pages: fakePages{
			"https://example.com/a": {URL: "https://example.com/a", Title: "Article A", Text: "body of a"},
		},
		clipboard: clip,
		now:       func() time.Time { return time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC) },
		out:       out,
	}
	return e, out, clip
}

func runCLI(t *testing.T, e *env, args ...string) error {
	t.Helper()
	return newCLIApp(e).RunContext(context.Background(), append([]string{"skim"}, args...))
}

func decodeOutput(t *testing.T, out *syncBuffer, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(out.String()), v))
	out.Reset()
}

func TestStatus_FreshStore(t *testing.T) {
	e, out, _ := setupTestEnv(t)

	require.NoError(t, runCLI(t, e, "status"))
	var got statusOutput
	decodeOutput(t, out, &got)
	require.True(t, got.Enabled, "absent toggle reads as on")
	require.False(t, got.HasCredential)
	require.Equal(t, 0, got.Summaries)
	require.Equal(t, e.baseDir, got.BaseDir)
}

func TestKey_SetShowDelete(t *testing.T) {
	e, out, _ := setupTestEnv(t)

	require.NoError(t, runCLI(t, e, "key", "set", "sk-cli-abcd1234"))
	require.NotContains(t, out.String(), "sk-cli-abcd1234")
	out.Reset()

	require.NoError(t, runCLI(t, e, "key", "show"))
	var shown map[string]any
	decodeOutput(t, out, &shown)
	require.Equal(t, true, shown["has_credential"])
	require.Equal(t, "****1234", shown["masked_credential"])

	require.NoError(t, runCLI(t, e, "key", "delete"))
	out.Reset()
	_, ok, err := store.Credential(context.Background(), e.store)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestKey_SetBlankRejected(t *testing.T) {
	e, _, _ := setupTestEnv(t)

	err := runCLI(t, e, "key", "set", "   ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "[INVALID_REQUEST] Please enter an API key")
}

func TestEnableDisable(t *testing.T) {
	e, out, _ := setupTestEnv(t)
	ctx := context.Background()

	require.NoError(t, runCLI(t, e, "disable"))
	enabled, err := store.Enabled(ctx, e.store)
	require.NoError(t, err)
	require.False(t, enabled)

	require.NoError(t, runCLI(t, e, "enable"))
	enabled, err = store.Enabled(ctx, e.store)
	require.NoError(t, err)
	require.True(t, enabled)
	require.Contains(t, out.String(), `"enabled": true`)
}

func TestSummarize_SaveListDelete(t *testing.T) {
	e, out, clip := setupTestEnv(t)
	require.NoError(t, store.SetCredential(context.Background(), e.store, "sk-test"))

	require.NoError(t, runCLI(t, e, "summarize", "--save", "--copy", "https://example.com/a"))
	var summarized summarizeOutput
	decodeOutput(t, out, &summarized)
	require.Equal(t, "short: body of a", summarized.Summary)
	require.Equal(t, "Article A", summarized.Title)
	require.True(t, summarized.Saved)
	require.True(t, summarized.Copied)
	require.Equal(t, "short: body of a", clip.text)

	require.NoError(t, runCLI(t, e, "list"))
	var list listOutput
	decodeOutput(t, out, &list)
	require.Equal(t, 1, list.Count)
	require.Equal(t, "https://example.com/a", list.Summaries[0].URL)
	require.Equal(t, "Article A", list.Summaries[0].Title)

	require.NoError(t, runCLI(t, e, "delete", list.Summaries[0].ID))
	out.Reset()

	require.NoError(t, runCLI(t, e, "list"))
	decodeOutput(t, out, &list)
	require.Equal(t, 0, list.Count)
	require.NotNil(t, list.Summaries)
}

func TestSummarize_Failures(t *testing.T) {
	t.Run("missing credential", func(t *testing.T) {
		e, _, _ := setupTestEnv(t)
		err := runCLI(t, e, "summarize", "https://example.com/a")
		require.Error(t, err)
		require.Contains(t, err.Error(), "API key not found")

		summaries, serr := store.Summaries(context.Background(), e.store)
		require.NoError(t, serr)
		require.Empty(t, summaries)
	})

	t.Run("turned off", func(t *testing.T) {
		e, _, _ := setupTestEnv(t)
		require.NoError(t, store.SetCredential(context.Background(), e.store, "sk-test"))
		require.NoError(t, runCLI(t, e, "disable"))

		err := runCLI(t, e, "summarize", "https://example.com/a")
		require.Error(t, err)
		require.Contains(t, err.Error(), "turned off")
	})

	t.Run("unknown page", func(t *testing.T) {
		e, _, _ := setupTestEnv(t)
		err := runCLI(t, e, "summarize", "https://example.com/missing")
		require.Error(t, err)
		require.Contains(t, err.Error(), "[INVALID_REQUEST]")
	})

	t.Run("unreachable coordinator", func(t *testing.T) {
		e, _, _ := setupTestEnv(t)
		e.cfg.CoordinatorURL = "http://127.0.0.1:1"
		err := runCLI(t, e, "list")
		require.Error(t, err)
		require.Contains(t, err.Error(), "[CHANNEL_UNREACHABLE]")
	})
}

func TestDelete_RequiresID(t *testing.T) {
	e, _, _ := setupTestEnv(t)
	err := runCLI(t, e, "delete")
	require.Error(t, err)
	require.Contains(t, err.Error(), "summary id is required")
}

func TestExport(t *testing.T) {
	e, out, _ := setupTestEnv(t)
	ctx := context.Background()
	require.NoError(t, store.PutSummaries(ctx, e.store, summary.Collection{
		{ID: "b", Text: "second", Date: e.now()},
		{ID: "a", Text: "first", Date: e.now()},
	}))

	require.NoError(t, runCLI(t, e, "export"))
	var got summary.ExportOutput
	decodeOutput(t, out, &got)
	require.Equal(t, 2, got.Count)
	require.Equal(t, summary.DefaultExportPath(e.baseDir, e.now()), got.Path)

	data, err := os.ReadFile(got.Path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3, "header plus one line per summary")
}

func TestWatch_PrintsChangesWithoutCredential(t *testing.T) {
	e, out, _ := setupTestEnv(t)
	e.watcher = nil

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- newCLIApp(e).RunContext(ctx, []string{"skim", "watch"})
	}()

	// Flip the toggle until the watcher has subscribed and printed a change
	enabled := true
	require.Eventually(t, func() bool {
		enabled = !enabled
		if err := store.SetEnabled(context.Background(), e.store, enabled); err != nil {
			return false
		}
		return strings.Contains(out.String(), `"key":"enabled"`)
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, store.SetCredential(context.Background(), e.store, "sk-secret-value"))
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"key":"credential"`)
	}, 2*time.Second, 10*time.Millisecond)
	require.NotContains(t, out.String(), "sk-secret-value")

	cancel()
	require.NoError(t, <-done)
}

func TestOutputError(t *testing.T) {
	err := outputError(errors.NewNotFound("abc"))
	require.Contains(t, err.Error(), "[NOT_FOUND]")

	err = outputError(os.ErrClosed)
	require.Equal(t, os.ErrClosed.Error(), err.Error())
}

func TestHelpWithoutEnv(t *testing.T) {
	app := newCLIApp(nil)
	var buf bytes.Buffer
	app.Writer = &buf
	require.NoError(t, app.Run([]string{"skim", "--help"}))
	require.Contains(t, buf.String(), "summarize")
	require.Contains(t, buf.String(), "serve")
}
