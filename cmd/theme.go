package cmd

import "github.com/charmbracelet/lipgloss"

// Theme defines the colors used in step reports.
type Theme struct {
	Primary   lipgloss.Color // headings
	Error     lipgloss.Color // failed steps
	Warning   lipgloss.Color // timeouts
	Success   lipgloss.Color // passed steps
	Text      lipgloss.Color // step names
	TextMuted lipgloss.Color // durations, buffers, hints
}

// DarkTheme returns the default dark theme.
func DarkTheme() Theme {
	return Theme{
		Primary:   lipgloss.Color("#fab283"),
		Error:     lipgloss.Color("#e06c75"),
		Warning:   lipgloss.Color("#f5a742"),
		Success:   lipgloss.Color("#7fd88f"),
		Text:      lipgloss.Color("#eeeeee"),
		TextMuted: lipgloss.Color("#808080"),
	}
}

// LightTheme returns a light theme for bright terminal backgrounds.
func LightTheme() Theme {
	return Theme{
		Primary:   lipgloss.Color("#b35c00"),
		Error:     lipgloss.Color("#cf222e"),
		Warning:   lipgloss.Color("#bf8700"),
		Success:   lipgloss.Color("#116329"),
		Text:      lipgloss.Color("#1f2328"),
		TextMuted: lipgloss.Color("#656d76"),
	}
}

// ThemeByName returns a theme by name. Defaults to dark.
func ThemeByName(name string) Theme {
	switch name {
	case "light":
		return LightTheme()
	default:
		return DarkTheme()
	}
}

// styles holds all lipgloss styles derived from a Theme.
type styles struct {
	title   lipgloss.Style
	ok      lipgloss.Style
	fail    lipgloss.Style
	timeout lipgloss.Style
	text    lipgloss.Style
	dim     lipgloss.Style
}

func newStyles(t Theme) styles {
	return styles{
		title:   lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		ok:      lipgloss.NewStyle().Foreground(t.Success),
		fail:    lipgloss.NewStyle().Bold(true).Foreground(t.Error),
		timeout: lipgloss.NewStyle().Bold(true).Foreground(t.Warning),
		text:    lipgloss.NewStyle().Foreground(t.Text),
		dim:     lipgloss.NewStyle().Foreground(t.TextMuted),
	}
}
