package tui

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/skim/internal/channel"
	"github.com/hpungsan/skim/internal/control"
	"github.com/hpungsan/skim/internal/coordinator"
	"github.com/hpungsan/skim/internal/store"
)

type stubSummarizer struct{}

func (stubSummarizer) Summarize(ctx context.Context, credential, text string) (string, error) {
	return "summary", nil
}

type direct struct {
	h channel.Handler
}

func (d direct) Send(ctx context.Context, req *channel.Request) (*channel.Response, error) {
	return d.h.Handle(ctx, req), nil
}

type nopClipboard struct{ text string }

func (c *nopClipboard) WriteAll(text string) error {
	c.text = text
	return nil
}

func setup(t *testing.T) (model, *store.Memory, *coordinator.Coordinator, *nopClipboard) {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	coord := coordinator.New(mem, stubSummarizer{}, coordinator.WithClock(func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	}))
	require.NoError(t, coord.Install(ctx))

	clip := &nopClipboard{}
	surface := control.New(mem, direct{h: coord}, control.WithClipboard(clip))
	require.NoError(t, surface.Open(ctx))
	states, cancel := surface.Observe()
	t.Cleanup(func() {
		cancel()
		surface.Close()
		mem.Close()
	})
	return newModel(ctx, surface, states), mem, coord, clip
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press feeds a key and runs any resulting action to completion.
func press(t *testing.T, m model, s string) model {
	t.Helper()
	next, cmd := m.Update(key(s))
	m = next.(model)
	if cmd != nil && s != "q" {
		if msg, ok := cmd().(doneMsg); ok {
			next, _ = m.Update(msg)
			m = next.(model)
		}
	}
	m.state = m.surface.State()
	return m
}

func TestToggle(t *testing.T) {
	m, mem, _, _ := setup(t)
	require.Contains(t, m.View(), "summarizing")

	m = press(t, m, "t")
	enabled, err := store.Enabled(context.Background(), mem)
	require.NoError(t, err)
	require.False(t, enabled)
	require.False(t, m.state.Enabled)
}

func TestSetKey(t *testing.T) {
	m, mem, _, _ := setup(t)

	m = press(t, m, "a")
	require.Equal(t, modeKey, m.m)

	// Blank input stays in the form
	m = press(t, m, "enter")
	require.Equal(t, modeKey, m.m)
	require.Equal(t, "Please enter an API key", m.formErr)

	m.keyIn.SetValue("sk-terminal-9876")
	m = press(t, m, "enter")
	require.Equal(t, modeList, m.m)

	credential, ok, err := store.Credential(context.Background(), mem)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "sk-terminal-9876", credential)
	require.Contains(t, m.View(), "****9876")
	require.NotContains(t, m.View(), "sk-terminal-9876")

	m = press(t, m, "x")
	_, ok, err = store.Credential(context.Background(), mem)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeleteAndCopy(t *testing.T) {
	m, mem, coord, clip := setup(t)
	ctx := context.Background()
	_, err := coord.SaveSummary(ctx, coordinator.SaveInput{Summary: "older", Title: "Old"})
	require.NoError(t, err)
	_, err = coord.SaveSummary(ctx, coordinator.SaveInput{Summary: "newer", Title: "New"})
	require.NoError(t, err)
	m = press(t, m, "r")
	require.Len(t, m.state.Summaries, 2)

	m = press(t, m, "j")
	require.Equal(t, 1, m.cursor)
	m = press(t, m, "c")
	require.Equal(t, "older", clip.text)

	m = press(t, m, "d")
	require.Equal(t, modeConfirmDel, m.m)
	require.Contains(t, m.View(), `"Old"`)

	m = press(t, m, "n")
	require.Equal(t, modeList, m.m)

	m = press(t, m, "d")
	m = press(t, m, "y")
	stored, err := store.Summaries(ctx, mem)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, "newer", stored[0].Text)
}

func TestStateMessageClampsCursor(t *testing.T) {
	m, _, _, _ := setup(t)
	m.cursor = 5
	next, cmd := m.Update(stateMsg(control.State{Enabled: true}))
	m = next.(model)
	require.Equal(t, 0, m.cursor)
	require.NotNil(t, cmd)
	require.True(t, strings.Contains(m.View(), "No summaries saved yet."))
}

func TestQuit(t *testing.T) {
	m, _, _, _ := setup(t)
	_, cmd := m.Update(key("q"))
	require.NotNil(t, cmd)
	_, ok := cmd().(tea.QuitMsg)
	require.True(t, ok)
}
