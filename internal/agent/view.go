package agent

import "github.com/atotto/clipboard"

// State is the agent's lifecycle state.
type State int

const (
	StateHidden State = iota
	StateIdle
	StateViewing
	StateSummarizing
	StateGone
)

func (s State) String() string {
	switch s {
	case StateHidden:
		return "hidden"
	case StateIdle:
		return "idle"
	case StateViewing:
		return "viewing"
	case StateSummarizing:
		return "summarizing"
	case StateGone:
		return "gone"
	default:
		return "unknown"
	}
}

// Tab selects what the dialog shows.
type Tab int

const (
	TabFull Tab = iota
	TabSummary
)

func (t Tab) String() string {
	if t == TabSummary {
		return "summary"
	}
	return "full"
}

// View is an immutable description of what should be on screen.
type View struct {
	State          State
	ControlMounted bool
	DialogOpen     bool
	Tab            Tab
	Title          string
	URL            string

	// Content is the page text on the Full tab and the summary on the Summary tab.
	Content string
	Loading bool
	Error   string

	// CanSave is true once a summary is cached.
	CanSave bool
	Saved   bool
	Copied  bool
}

// Renderer draws views. Render is called with the agent locked and must not
// call back into the agent.
type Renderer interface {
	Render(View)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(View)

// Render implements Renderer.
func (f RendererFunc) Render(v View) { f(v) }

// Clipboard receives copied text.
type Clipboard interface {
	WriteAll(text string) error
}

// SystemClipboard writes to the OS clipboard.
type SystemClipboard struct{}

// WriteAll implements Clipboard.
func (SystemClipboard) WriteAll(text string) error {
	return clipboard.WriteAll(text)
}
