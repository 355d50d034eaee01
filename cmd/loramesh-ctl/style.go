package main

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("57")).
			Padding(0, 1)

	headerCellStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			PaddingRight(2)

	cellStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			PaddingRight(2)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Italic(true)
)

func render(s lipgloss.Style, text string) string {
	if plain {
		return text
	}
	return s.Render(text)
}

// table renders rows as aligned columns; the first row is the header.
func table(rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}
	widths := make([]int, len(rows[0]))
	for _, r := range rows {
		for i, c := range r {
			if w := lipgloss.Width(c); w > widths[i] {
				widths[i] = w
			}
		}
	}
	var b strings.Builder
	for ri, r := range rows {
		style := cellStyle
		if ri == 0 {
			style = headerCellStyle
		}
		for i, c := range r {
			cell := c + strings.Repeat(" ", widths[i]-lipgloss.Width(c))
			if plain {
				b.WriteString(cell + "  ")
				continue
			}
			b.WriteString(style.Render(cell))
		}
		b.WriteString("\n")
	}
	return b.String()
}
