package tui

import "github.com/charmbracelet/lipgloss"

var (
	borderColor  = lipgloss.Color("#6B7280")
	focusColor   = lipgloss.Color("#3B82F6")
	mutedColor   = lipgloss.Color("#9CA3AF")
	promptBorder = lipgloss.Color("#F59E0B")

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(borderColor)

	focusedPaneStyle = paneStyle.
				BorderForeground(focusColor)

	paneTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(mutedColor)

	focusedTitleStyle = paneTitleStyle.
				Foreground(focusColor)

	promptStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(promptBorder).
			Padding(0, 1)
)
