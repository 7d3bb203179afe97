// Package tui is a terminal front end for the skim control surface.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/hpungsan/skim/internal/control"
	"github.com/hpungsan/skim/internal/summary"
)

type mode int

const (
	modeList mode = iota
	modeKey
	modeConfirmDel
)

// stateMsg carries a state observed from the surface.
type stateMsg control.State

// closedMsg reports that the state stream ended.
type closedMsg struct{}

// doneMsg reports the result of an action run off the update loop.
type doneMsg struct {
	err error
}

type model struct {
	ctx     context.Context
	surface *control.Surface
	states  <-chan control.State

	state  control.State
	cursor int

	m       mode
	keyIn   textinput.Model
	formErr string
	delID   string

	width  int
	height int
}

var (
	styleHeader   = lipgloss.NewStyle().Bold(true)
	styleSelected = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	styleMuted    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleKey      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	styleOn       = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleOff      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	styleStatusOK = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleStatusEr = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func newModel(ctx context.Context, surface *control.Surface, states <-chan control.State) model {
	in := textinput.New()
	in.Placeholder = "sk-..."
	in.EchoMode = textinput.EchoPassword
	in.EchoCharacter = '*'
	return model{
		ctx:     ctx,
		surface: surface,
		states:  states,
		state:   surface.State(),
		keyIn:   in,
	}
}

// waitState blocks until the surface publishes a state.
func waitState(states <-chan control.State) tea.Cmd {
	return func() tea.Msg {
		st, ok := <-states
		if !ok {
			return closedMsg{}
		}
		return stateMsg(st)
	}
}

func (m model) Init() tea.Cmd { return waitState(m.states) }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil
	case stateMsg:
		m.state = control.State(msg)
		m.clampCursor()
		return m, waitState(m.states)
	case closedMsg:
		return m, tea.Quit
	case doneMsg:
		// Success and failure messages arrive through the state stream
		return m, nil
	case tea.KeyMsg:
		switch m.m {
		case modeKey:
			return m.updateKeyInput(msg)
		case modeConfirmDel:
			return m.updateConfirmKey(msg)
		default:
			return m.updateListKey(msg)
		}
	}
	return m, nil
}

func (m model) updateListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.state.Summaries)-1 {
			m.cursor++
		}
	case "t":
		return m, m.run(func(ctx context.Context) error {
			_, err := m.surface.Toggle(ctx)
			return err
		})
	case "a":
		m.m = modeKey
		m.formErr = ""
		m.keyIn.SetValue("")
		m.keyIn.Focus()
	case "x":
		if !m.state.HasCredential {
			return m, nil
		}
		return m, m.run(m.surface.RemoveCredential)
	case "c":
		if item, ok := m.selected(); ok {
			id := item.ID
			return m, m.run(func(context.Context) error {
				return m.surface.CopySummary(id)
			})
		}
	case "d":
		if item, ok := m.selected(); ok {
			m.m = modeConfirmDel
			m.delID = item.ID
		}
	case "r":
		return m, m.run(m.surface.Open)
	case "q", "esc", "ctrl+c":
		return m, tea.Quit
	}
	return m, nil
}

func (m model) updateKeyInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		value := m.keyIn.Value()
		if strings.TrimSpace(value) == "" {
			m.formErr = "Please enter an API key"
			return m, nil
		}
		m.m = modeList
		m.keyIn.Blur()
		m.keyIn.SetValue("")
		return m, m.run(func(ctx context.Context) error {
			return m.surface.SetCredential(ctx, value)
		})
	case "esc", "ctrl+c":
		m.m = modeList
		m.formErr = ""
		m.keyIn.Blur()
		return m, nil
	default:
		var cmd tea.Cmd
		m.keyIn, cmd = m.keyIn.Update(msg)
		return m, cmd
	}
}

func (m model) updateConfirmKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y", "Y":
		id := m.delID
		m.m = modeList
		m.delID = ""
		return m, m.run(func(ctx context.Context) error {
			return m.surface.DeleteSummary(ctx, id)
		})
	case "n", "N", "esc", "q":
		m.m = modeList
		m.delID = ""
	}
	return m, nil
}

// run performs fn off the update loop.
func (m model) run(fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return doneMsg{err: fn(ctx)}
	}
}

func (m model) selected() (summary.Summary, bool) {
	if m.cursor < 0 || m.cursor >= len(m.state.Summaries) {
		return summary.Summary{}, false
	}
	return m.state.Summaries[m.cursor], true
}

func (m *model) clampCursor() {
	if m.cursor >= len(m.state.Summaries) {
		m.cursor = len(m.state.Summaries) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(m.renderTop())
	b.WriteString("\n\n")

	switch m.m {
	case modeKey:
		b.WriteString(styleHeader.Render("New API key"))
		b.WriteString("\n")
		b.WriteString(m.keyIn.View())
		b.WriteString("\n")
		if m.formErr != "" {
			b.WriteString(styleStatusEr.Render(m.formErr))
			b.WriteString("\n")
		}
		b.WriteString(styleMuted.Render("enter save · esc cancel"))
		return b.String()
	case modeConfirmDel:
		item, _ := m.state.Summaries.Find(m.delID)
		b.WriteString(fmt.Sprintf("Delete %q? (y/n)", displayTitle(item)))
		return b.String()
	}

	b.WriteString(m.renderList())
	b.WriteString("\n")
	b.WriteString(m.renderStatus())
	b.WriteString(m.help())
	return b.String()
}

func (m model) renderTop() string {
	toggle := styleOff.Render("off")
	if m.state.Enabled {
		toggle = styleOn.Render("on")
	}
	key := styleMuted.Render("no API key")
	if m.state.HasCredential {
		key = "key " + m.state.MaskedCredential
	}
	return styleHeader.Render("skim") + "  summarizing " + toggle + "  " + key
}

func (m model) renderList() string {
	if len(m.state.Summaries) == 0 {
		return styleMuted.Render("No summaries saved yet.") + "\n"
	}

	width := m.width
	if width <= 0 {
		width = 80
	}

	var b strings.Builder
	for i, item := range m.state.Summaries {
		line := fmt.Sprintf("%s  %s", item.Date.UTC().Format("2006-01-02 15:04"), displayTitle(item))
		if i == m.cursor {
			b.WriteString(styleSelected.Render("> " + line))
			b.WriteString("\n")
			b.WriteString(styleMuted.Render("  " + item.Preview(width-4)))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m model) renderStatus() string {
	switch {
	case m.state.Error != "":
		return styleStatusEr.Render(m.state.Error) + "\n"
	case m.state.Status != "":
		return styleStatusOK.Render(m.state.Status) + "\n"
	}
	return ""
}

func (m model) help() string {
	keys := []struct{ k, d string }{
		{"j/k", "move"}, {"t", "toggle"}, {"a", "set key"}, {"x", "remove key"},
		{"c", "copy"}, {"d", "delete"}, {"r", "reload"}, {"q", "quit"},
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, styleKey.Render(k.k)+" "+k.d)
	}
	return strings.Join(parts, " · ")
}

func displayTitle(s summary.Summary) string {
	if s.Title != "" {
		return s.Title
	}
	if s.URL != "" {
		return s.URL
	}
	return s.ID
}

// Run opens the terminal UI over surface until the user quits or ctx ends.
func Run(ctx context.Context, surface *control.Surface) error {
	states, cancel := surface.Observe()
	defer cancel()

	p := tea.NewProgram(newModel(ctx, surface, states), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
