// Package output renders CLI tables and state labels.
package output

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"sidekick/internal/model"
)

var (
	ColorPrimary = lipgloss.Color("#64b5f6")
	ColorFocused = lipgloss.Color("#66bb6a")
	ColorDrowsy  = lipgloss.Color("#fff59d")
	ColorAlert   = lipgloss.Color("#ef5350")
	ColorMuted   = lipgloss.Color("#888888")
)

var (
	StyleHeader = lipgloss.NewStyle().Foreground(ColorPrimary).Bold(true)
	StyleMuted  = lipgloss.NewStyle().Foreground(ColorMuted)
	StyleLabel  = lipgloss.NewStyle().Width(22)
	StyleValue  = lipgloss.NewStyle().Bold(true)

	stateStyles = map[model.State]lipgloss.Style{
		model.StateFocused:    lipgloss.NewStyle().Foreground(ColorFocused),
		model.StateDrowsy:     lipgloss.NewStyle().Foreground(ColorDrowsy),
		model.StateDistracted: lipgloss.NewStyle().Foreground(ColorAlert),
		model.StateAway:       lipgloss.NewStyle().Foreground(ColorMuted),
	}
)

var noColor bool

// SetNoColor swaps every style for an unstyled one when disabled is true.
func SetNoColor(disabled bool) {
	noColor = disabled
	if !disabled {
		return
	}
	plain := lipgloss.NewStyle()
	StyleHeader = plain
	StyleMuted = plain
	StyleLabel = plain.Width(22)
	StyleValue = plain
	for k := range stateStyles {
		stateStyles[k] = plain
	}
}

func NoColor() bool { return noColor }

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// State renders a state name in its color.
func State(s model.State) string {
	if st, ok := stateStyles[s]; ok {
		return st.Render(string(s))
	}
	return string(s)
}

// KV renders one "label  value" line.
func KV(label, value string) string {
	return StyleLabel.Render(label) + StyleValue.Render(value)
}
