package tui

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	statusOKStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	statusWarnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	statusErrStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	completedStyle = lipgloss.NewStyle().
			Strikethrough(true).
			Foreground(lipgloss.Color("243"))

	presenceStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("81"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)
