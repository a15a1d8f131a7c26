package report

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary = lipgloss.Color("86")  // Cyan
	colorSuccess = lipgloss.Color("42")  // Green
	colorError   = lipgloss.Color("196") // Red
	colorWarning = lipgloss.Color("214") // Orange
	colorMuted   = lipgloss.Color("240") // Gray
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true)

	componentStyle = lipgloss.NewStyle().
			Foreground(colorPrimary).
			MarginTop(1)

	successStyle = lipgloss.NewStyle().
			Foreground(colorSuccess)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(colorWarning)

	mutedStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	summaryStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorMuted).
			Padding(0, 1).
			MarginTop(1)
)

const (
	iconSuccess = "✓"
	iconError   = "✗"
	iconWarning = "⚠"
	iconSkipped = "↷"
	iconPending = "•"
)
