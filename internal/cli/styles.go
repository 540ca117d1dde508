package cli

import "github.com/charmbracelet/lipgloss"

// Styles degrade to plain text when the output is not a color terminal.
var (
	headingStyle = lipgloss.NewStyle().Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)
