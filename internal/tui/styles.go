package tui

import "github.com/charmbracelet/lipgloss"

// Styles groups the lipgloss styles of the chat view.
type Styles struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	User      lipgloss.Style
	Assistant lipgloss.Style
	Error     lipgloss.Style
	Status    lipgloss.Style
	Prompt    lipgloss.Style
}

// DefaultStyles returns the default palette.
func DefaultStyles() Styles {
	return Styles{
		Title:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4")),
		Subtitle:  lipgloss.NewStyle().Faint(true),
		User:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#04B575")),
		Assistant: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#3C9EE7")),
		Error:     lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87")),
		Status:    lipgloss.NewStyle().Faint(true).Italic(true),
		Prompt:    lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4")),
	}
}
