package tui

import "github.com/charmbracelet/lipgloss"

// Color palette for the dashboard.
const (
	primaryColor = "#7C3AED" // Purple
	successColor = "#10B981" // Green
	warningColor = "#F59E0B" // Amber
	errorColor   = "#EF4444" // Red
	dimColor     = "#6B7280" // Gray
)

var (
	// TitleStyle renders the dashboard header.
	TitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(primaryColor)).
			Bold(true)

	// SelectedStyle highlights the selected session row.
	SelectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(primaryColor)).
			Bold(true)

	// DimStyle renders muted text.
	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(dimColor))

	// SuccessStyle renders completed states.
	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(successColor))

	// ErrorStyle renders failed and quarantined states.
	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(errorColor))

	// WarningStyle renders running and aborted states.
	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(warningColor))

	// BoxStyle frames the stage detail pane.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(dimColor)).
			Padding(0, 1)
)

// stateStyle picks the style for a session state label.
func stateStyle(state string) lipgloss.Style {
	switch state {
	case "completed":
		return SuccessStyle
	case "running":
		return WarningStyle
	case "failed", "quarantined":
		return ErrorStyle
	default:
		return DimStyle
	}
}
