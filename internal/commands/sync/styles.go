package sync

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/tildaslashalef/ewsync/internal/sync"
)

// Theme represents the color theme for the progress view
type Theme struct {
	Primary lipgloss.AdaptiveColor
	Success lipgloss.AdaptiveColor
	Warning lipgloss.AdaptiveColor
	Error   lipgloss.AdaptiveColor
	Info    lipgloss.AdaptiveColor
	Text    lipgloss.AdaptiveColor
	TextDim lipgloss.AdaptiveColor
}

// GruvboxTheme creates a new Gruvbox-inspired theme
func GruvboxTheme() Theme {
	return Theme{
		Primary: lipgloss.AdaptiveColor{Light: "#b8bb26", Dark: "#b8bb26"},
		Success: lipgloss.AdaptiveColor{Light: "#98971a", Dark: "#b8bb26"},
		Warning: lipgloss.AdaptiveColor{Light: "#d79921", Dark: "#fabd2f"},
		Error:   lipgloss.AdaptiveColor{Light: "#cc241d", Dark: "#fb4934"},
		Info:    lipgloss.AdaptiveColor{Light: "#458588", Dark: "#83a598"},
		Text:    lipgloss.AdaptiveColor{Light: "#3c3836", Dark: "#fbf1c7"},
		TextDim: lipgloss.AdaptiveColor{Light: "#7c6f64", Dark: "#a89984"},
	}
}

// Styles contains predefined styles for the progress view
type Styles struct {
	Title   lipgloss.Style
	Account lipgloss.Style
	Subtle  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Info    lipgloss.Style
	Spinner lipgloss.Style
}

// DefaultStyles returns default styles for the progress view
func DefaultStyles() Styles {
	theme := GruvboxTheme()

	return Styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(theme.Primary),
		Account: lipgloss.NewStyle().Bold(true).Foreground(theme.Text),
		Subtle:  lipgloss.NewStyle().Foreground(theme.TextDim),
		Success: lipgloss.NewStyle().Bold(true).Foreground(theme.Success),
		Warning: lipgloss.NewStyle().Bold(true).Foreground(theme.Warning),
		Error:   lipgloss.NewStyle().Bold(true).Foreground(theme.Error),
		Info:    lipgloss.NewStyle().Foreground(theme.Info),
		Spinner: lipgloss.NewStyle().Foreground(theme.Info),
	}
}

// Status renders a status string in the color of its outcome
func (s Styles) Status(status string) string {
	switch status {
	case "":
		return s.Subtle.Render("-")
	case sync.StatusOK:
		return s.Success.Render(status)
	case sync.ReasonAborted, sync.ReasonDisabled:
		return s.Warning.Render(status)
	default:
		return s.Error.Render(status)
	}
}
