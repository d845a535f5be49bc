package main

import "github.com/charmbracelet/lipgloss"

const (
	colorPrimary = lipgloss.Color("#7C3AED")
	colorMuted   = lipgloss.Color("#6B7280")
	colorSuccess = lipgloss.Color("#10B981")
	colorError   = lipgloss.Color("#EF4444")
	colorWarning = lipgloss.Color("#F59E0B")
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(colorSuccess)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorError)
	warningStyle = lipgloss.NewStyle().Foreground(colorWarning)

	// noticeStyle frames the final export notice.
	noticeStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorMuted).
			Padding(0, 1)
)
