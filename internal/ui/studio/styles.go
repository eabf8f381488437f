package studio

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/osa030/cantovox/internal/app/session/state"
)

// Catppuccin Macchiato accents
var (
	colorText     = lipgloss.Color("#cad3f5")
	colorSubtext  = lipgloss.Color("#a5adcb")
	colorOverlay  = lipgloss.Color("#6e738d")
	colorSurface  = lipgloss.Color("#494d64")
	colorRed      = lipgloss.Color("#ed8796")
	colorPeach    = lipgloss.Color("#f5a97f")
	colorYellow   = lipgloss.Color("#eed49f")
	colorGreen    = lipgloss.Color("#a6da95")
	colorBlue     = lipgloss.Color("#8aadf4")
	colorLavender = lipgloss.Color("#b7bdf8")
)

// Styles holds the studio view styles.
type Styles struct {
	Frame    lipgloss.Style
	Title    lipgloss.Style
	Label    lipgloss.Style
	Value    lipgloss.Style
	Muted    lipgloss.Style
	Error    lipgloss.Style
	Key      lipgloss.Style
	Hint     lipgloss.Style
	Disabled lipgloss.Style
	Status   lipgloss.Style
}

// NewStyles creates the default styles.
func NewStyles() *Styles {
	return &Styles{
		Frame: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorSurface).
			Padding(1, 2),
		Title:    lipgloss.NewStyle().Foreground(colorLavender).Bold(true),
		Label:    lipgloss.NewStyle().Foreground(colorSubtext).Width(10),
		Value:    lipgloss.NewStyle().Foreground(colorText),
		Muted:    lipgloss.NewStyle().Foreground(colorOverlay),
		Error:    lipgloss.NewStyle().Foreground(colorRed).Bold(true),
		Key:      lipgloss.NewStyle().Foreground(colorBlue).Bold(true),
		Hint:     lipgloss.NewStyle().Foreground(colorSubtext),
		Disabled: lipgloss.NewStyle().Foreground(colorOverlay).Faint(true),
		Status:   lipgloss.NewStyle().Foreground(colorPeach),
	}
}

// Phase returns the badge style for a phase.
func (s *Styles) Phase(p state.Phase) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)
	switch p {
	case state.PhaseRecording:
		return base.Foreground(colorRed)
	case state.PhaseCaptured:
		return base.Foreground(colorBlue)
	case state.PhaseTraining:
		return base.Foreground(colorYellow)
	case state.PhaseCompleted:
		return base.Foreground(colorGreen)
	case state.PhaseFailed:
		return base.Foreground(colorRed).Reverse(true)
	default:
		return base.Foreground(colorSubtext)
	}
}
