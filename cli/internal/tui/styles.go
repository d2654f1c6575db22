package tui

import "github.com/charmbracelet/lipgloss"

var (
	cAccent  = lipgloss.Color("#9945FF")
	cAccent2 = lipgloss.Color("#14F195")
	cText    = lipgloss.Color("#E4E4E7")
	cMuted   = lipgloss.Color("#71717A")
	cError   = lipgloss.Color("#F87171")
	cPanel   = lipgloss.Color("#27272A")

	navStyle = lipgloss.NewStyle().
			Foreground(cText).
			Background(cPanel).
			Padding(0, 1)
	brandStyle    = lipgloss.NewStyle().Bold(true).Foreground(cAccent2).Background(cPanel)
	navMutedStyle = lipgloss.NewStyle().Foreground(cMuted).Background(cPanel)

	bannerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(cError).
			Padding(0, 1)
	statusStyle = lipgloss.NewStyle().Foreground(cAccent2)
	mutedStyle  = lipgloss.NewStyle().Foreground(cMuted)
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(cText)
	labelStyle  = lipgloss.NewStyle().Foreground(cAccent)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(cMuted).
			Padding(0, 1)
	activePanelStyle = panelStyle.BorderForeground(cAccent)

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(cMuted).
			Padding(0, 1)
	selectedCardStyle = cardStyle.BorderForeground(cAccent2)

	dialogStyle = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(cError).
			Padding(1, 2)
)
