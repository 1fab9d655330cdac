package tui

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/risk-assistant/internal/conversation"
)

type fakeAgent struct{ err error }

func (f fakeAgent) Answer(context.Context, string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "Payroll has an MAO of 2 days.", nil
}

func newModel(t *testing.T, err error) (Model, *conversation.Session) {
	t.Helper()
	s := conversation.NewRegistry(nil).GetOrCreate("cli/default")
	loop := conversation.NewLoop(fakeAgent{err: err}, "DICT")
	m := New(context.Background(), loop, s, Options{Title: "Risk Assistant", Subtitle: "Ask me anything!", Placeholder: "Your question…"})
	return m, s
}

func typeText(m Model, text string) Model {
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
	return next.(Model)
}

// runCmd executes cmd and feeds any turn result back into the model.
func runCmd(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	require.NotNil(t, cmd)
	msgs := []tea.Msg{cmd()}
	if batch, ok := msgs[0].(tea.BatchMsg); ok {
		msgs = msgs[:0]
		for _, c := range batch {
			if c != nil {
				msgs = append(msgs, c())
			}
		}
	}
	for _, msg := range msgs {
		if done, ok := msg.(turnDoneMsg); ok {
			next, _ := m.Update(done)
			m = next.(Model)
		}
	}
	return m
}

func TestSubmitQuestion(t *testing.T) {
	t.Parallel()
	m, s := newModel(t, nil)

	m = typeText(m, "What is the MAO for Payroll?")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	assert.True(t, m.Busy())
	assert.Contains(t, m.View(), "Thinking")
	assert.Empty(t, m.input.Value())

	m = runCmd(t, m, cmd)
	assert.False(t, m.Busy())
	assert.Empty(t, m.ErrorLine())
	assert.Equal(t, 2, s.Len())
	assert.Contains(t, m.View(), "Payroll has an MAO of 2 days.")
}

func TestTypingDoesNotScrollTranscript(t *testing.T) {
	t.Parallel()
	m, s := newModel(t, nil)

	loop := conversation.NewLoop(fakeAgent{}, "DICT")
	for range 30 {
		_, err := loop.Submit(context.Background(), s, "What is the MAO for Payroll?", nil)
		require.NoError(t, err)
	}
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 20})
	m = next.(Model)
	bottom := m.viewport.YOffset
	require.Positive(t, bottom)

	m = typeText(m, "kkkk")
	m = typeText(m, " ")
	m = typeText(m, "jfbdu")
	assert.Equal(t, "kkkk jfbdu", m.input.Value())
	assert.Equal(t, bottom, m.viewport.YOffset)

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyPgUp})
	m = next.(Model)
	assert.Less(t, m.viewport.YOffset, bottom)
}

func TestBlankInputIgnored(t *testing.T) {
	t.Parallel()
	m, s := newModel(t, nil)

	m = typeText(m, "   ")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	assert.Nil(t, cmd)
	assert.False(t, m.Busy())
	assert.Zero(t, s.Len())
}

func TestFailureShowsErrorLine(t *testing.T) {
	t.Parallel()
	m, s := newModel(t, errors.New("invalid api key"))

	m = typeText(m, "Top KPI?")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = runCmd(t, next.(Model), cmd)

	assert.Zero(t, s.Len())
	assert.Equal(t, `Could not answer "Top KPI?": invalid api key`, m.ErrorLine())
	assert.Contains(t, m.View(), "invalid api key")
}

func TestEnterWhileBusyIgnored(t *testing.T) {
	t.Parallel()
	m, _ := newModel(t, nil)

	m = typeText(m, "first")
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = typeText(next.(Model), "second")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Equal(t, "second", next.(Model).input.Value())
}

func TestViewShowsHeaderAndPlaceholder(t *testing.T) {
	t.Parallel()
	m, _ := newModel(t, nil)

	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	view := next.(Model).View()
	assert.Contains(t, view, "Risk Assistant")
	assert.Contains(t, view, "Ask me anything!")
}

func TestQuit(t *testing.T) {
	t.Parallel()
	m, _ := newModel(t, nil)

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
	assert.Empty(t, next.(Model).View())
}
