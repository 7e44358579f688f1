package output

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Color palette
const (
	ColorLime     = "154" // Primary accent
	ColorLimeDim  = "106" // Path kinds
	ColorWhite    = "255" // Headers
	ColorGray     = "245" // Line numbers, labels
	ColorDarkGray = "238" // Context lines
	ColorRed      = "196" // Errors
	ColorYellow   = "220" // Warnings, match highlight
)

// Styles holds the styles used when rendering results.
type Styles struct {
	Header   lipgloss.Style
	PathKind lipgloss.Style
	Kind     lipgloss.Style
	Path     lipgloss.Style
	Lno      lipgloss.Style
	Match    lipgloss.Style
	Dim      lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Label    lipgloss.Style
}

// DefaultStyles returns the terminal styles.
func DefaultStyles() Styles {
	return Styles{
		Header:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorWhite)),
		PathKind: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorLimeDim)),
		Kind:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorLime)),
		Path:     lipgloss.NewStyle().Underline(true),
		Lno:      lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
		Match:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorYellow)),
		Dim:      lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
		Success:  lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLime)),
		Warning:  lipgloss.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Error:    lipgloss.NewStyle().Foreground(lipgloss.Color(ColorRed)),
		Label:    lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
	}
}

// NoColorStyles returns unstyled components for plain output.
func NoColorStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{
		Header:   plain,
		PathKind: plain,
		Kind:     plain,
		Path:     plain,
		Lno:      plain,
		Match:    plain,
		Dim:      plain,
		Success:  plain,
		Warning:  plain,
		Error:    plain,
		Label:    plain,
	}
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor checks if the NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}
