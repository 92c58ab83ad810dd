package tui

import "github.com/charmbracelet/lipgloss"

var (
	ColorInk       = lipgloss.Color("#E5E9F0")
	ColorDim       = lipgloss.Color("#7A8291")
	ColorAccent    = lipgloss.Color("#88C0D0")
	ColorAccentAlt = lipgloss.Color("#81A1C1")
	ColorSuccess   = lipgloss.Color("#A3BE8C")
	ColorWarn      = lipgloss.Color("#EBCB8B")
	ColorError     = lipgloss.Color("#BF616A")
)

// StatusColor picks the colour used for a job status.
func StatusColor(s string) lipgloss.Color {
	switch s {
	case "succeeded":
		return ColorSuccess
	case "failed":
		return ColorError
	case "cancelled":
		return ColorWarn
	default:
		return ColorDim
	}
}
