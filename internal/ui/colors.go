package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/desertthunder/embysync/internal/models"
)

var styles = newPalette(paletteColors{
	accent: "#7D56F4",
	ok:     "#04B575",
	err:    "#FF5F5F",
	warn:   "#FFA500",
	muted:  "#626262",
	lhs:    "#5FAFFF",
	rhs:    "#FF87D7",
})

type paletteColors struct {
	accent, ok, err, warn, muted, lhs, rhs string
}

// palette holds the styles shared by every view. Each server side has its own
// color so push directions read at a glance.
type palette struct {
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	help  lipgloss.Style
	box   lipgloss.Style
	sides [2]lipgloss.Style
}

func newPalette(c paletteColors) *palette {
	fg := func(color string) lipgloss.Style {
		return lipgloss.NewStyle().Foreground(lipgloss.Color(color))
	}
	return &palette{
		title: fg(c.accent).Bold(true).MarginBottom(1),
		ok:    fg(c.ok).Bold(true),
		err:   fg(c.err).Bold(true),
		warn:  fg(c.warn),
		help:  fg(c.muted).Italic(true),
		box:   lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color(c.muted)).Padding(0, 1),
		sides: [2]lipgloss.Style{fg(c.lhs).Bold(true), fg(c.rhs).Bold(true)},
	}
}

// side renders "LHS" or "RHS" in that side's color.
func (p *palette) side(s models.Side) string {
	return p.sides[s].Render(strings.ToUpper(s.String()))
}

// progressBar draws step/total as a bar of width cells.
func progressBar(step, total, width int) string {
	if width <= 0 {
		width = 40
	}
	if total <= 0 {
		return styles.help.Render(strings.Repeat("░", width))
	}
	if step > total {
		step = total
	}
	filled := width * step / total
	return styles.ok.Render(strings.Repeat("█", filled)) + styles.help.Render(strings.Repeat("░", width-filled))
}
