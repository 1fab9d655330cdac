// Package tui implements the terminal chat front end.
package tui

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/ashureev/risk-assistant/internal/conversation"
)

const headerHeight = 3

// Options configures the chat model.
type Options struct {
	Title       string
	Subtitle    string
	Placeholder string
	// Markdown renders assistant answers with glamour.
	Markdown bool
}

type turnDoneMsg struct {
	turn conversation.Turn
	err  error
}

// Model is the bubbletea model of the chat screen.
type Model struct {
	ctx     context.Context
	loop    *conversation.Loop
	session *conversation.Session
	opts    Options

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer
	styles   Styles

	busy     bool
	errLine  string
	width    int
	ready    bool
	quitting bool
}

// New creates a chat model bound to session.
func New(ctx context.Context, loop *conversation.Loop, session *conversation.Session, opts Options) Model {
	styles := DefaultStyles()

	ti := textinput.New()
	ti.Placeholder = opts.Placeholder
	ti.Prompt = "│ "
	ti.PromptStyle = styles.Prompt
	ti.CharLimit = 4096
	ti.Width = 80
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	vp := viewport.New(80, 20)
	vp.KeyMap = transcriptKeyMap()

	m := Model{
		ctx:      ctx,
		loop:     loop,
		session:  session,
		opts:     opts,
		input:    ti,
		viewport: vp,
		spinner:  sp,
		styles:   styles,
		width:    80,
	}
	m.renderer = newRenderer(opts.Markdown, m.width)
	m.refresh()
	return m
}

// transcriptKeyMap scrolls the transcript with keys that never type text, so
// letters and spaces always reach the input.
func transcriptKeyMap() viewport.KeyMap {
	return viewport.KeyMap{
		PageDown: key.NewBinding(key.WithKeys("pgdown")),
		PageUp:   key.NewBinding(key.WithKeys("pgup")),
		Up:       key.NewBinding(key.WithKeys("up")),
		Down:     key.NewBinding(key.WithKeys("down")),
	}
}

func newRenderer(enabled bool, width int) *glamour.TermRenderer {
	if !enabled {
		return nil
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-4),
	)
	if err != nil {
		return nil
	}
	return r
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-headerHeight-3, 3)
		m.input.Width = max(msg.Width-4, 10)
		m.renderer = newRenderer(m.opts.Markdown, msg.Width)
		m.ready = true
		m.refresh()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			if m.busy {
				return m, nil
			}
			question := m.input.Value()
			m.input.Reset()
			if strings.TrimSpace(question) == "" {
				return m, nil
			}
			m.busy = true
			m.errLine = ""
			return m, tea.Batch(m.spinner.Tick, m.submit(question))
		}

	case turnDoneMsg:
		m.busy = false
		var turnErr *conversation.TurnError
		switch {
		case errors.As(msg.err, &turnErr):
			m.errLine = "Could not answer " + quote(turnErr.Question) + ": " + turnErr.Err.Error()
		case msg.err != nil:
			m.errLine = msg.err.Error()
		}
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if m.busy {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) submit(question string) tea.Cmd {
	return func() tea.Msg {
		ctx := conversation.WithChannel(m.ctx, "cli")
		turn, err := m.loop.Submit(ctx, m.session, question, nil)
		return turnDoneMsg{turn: turn, err: err}
	}
}

// refresh re-renders the transcript into the viewport.
func (m *Model) refresh() {
	var b strings.Builder
	for _, e := range m.session.Entries() {
		switch e.Speaker {
		case conversation.SpeakerUser:
			b.WriteString(m.styles.User.Render("You"))
			b.WriteString("\n")
			b.WriteString(e.Message)
			b.WriteString("\n\n")
		default:
			b.WriteString(m.styles.Assistant.Render(m.opts.Title))
			b.WriteString("\n")
			b.WriteString(m.renderMarkdown(e.Message))
			b.WriteString("\n\n")
		}
	}
	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

func (m *Model) renderMarkdown(s string) string {
	if m.renderer == nil {
		return s
	}
	out, err := m.renderer.Render(s)
	if err != nil {
		return s
	}
	return strings.TrimSpace(out)
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(m.styles.Title.Render(m.opts.Title))
	b.WriteString("\n")
	b.WriteString(m.styles.Subtitle.Render(m.opts.Subtitle))
	b.WriteString("\n\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	switch {
	case m.busy:
		b.WriteString(m.spinner.View() + m.styles.Status.Render(" Thinking…"))
	case m.errLine != "":
		b.WriteString(m.styles.Error.Render(m.errLine))
	}
	b.WriteString("\n")
	b.WriteString(m.input.View())
	return b.String()
}

// Busy reports whether a question is being answered.
func (m Model) Busy() bool { return m.busy }

// ErrorLine returns the last failure shown to the user.
func (m Model) ErrorLine() string { return m.errLine }

func quote(s string) string { return "\"" + s + "\"" }

// Run starts the full-screen program and blocks until the user quits.
func Run(ctx context.Context, loop *conversation.Loop, session *conversation.Session, opts Options) error {
	p := tea.NewProgram(New(ctx, loop, session, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
