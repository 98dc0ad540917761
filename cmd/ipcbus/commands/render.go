// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// theme holds the colors of the state report, as ANSI 256 codes.
type theme struct {
	Header lipgloss.Color
	Faint  lipgloss.Color
	Good   lipgloss.Color
	Bad    lipgloss.Color
}

var defaultTheme = theme{
	Header: lipgloss.Color("75"),
	Faint:  lipgloss.Color("245"),
	Good:   lipgloss.Color("42"),
	Bad:    lipgloss.Color("203"),
}

// section renders a titled block of aligned columns. Column widths are
// measured with lipgloss.Width so styled cells line up.
type section struct {
	title   string
	columns []string
	rows    [][]string
}

func (s *section) add(cells ...string) {
	s.rows = append(s.rows, cells)
}

func (s *section) render(w io.Writer, colors theme) {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(colors.Header)
	headerStyle := lipgloss.NewStyle().Foreground(colors.Faint)

	io.WriteString(w, titleStyle.Render(s.title)+"\n")
	if len(s.rows) == 0 {
		io.WriteString(w, "  "+headerStyle.Render("(none)")+"\n\n")
		return
	}

	widths := make([]int, len(s.columns))
	for index, column := range s.columns {
		widths[index] = lipgloss.Width(column)
	}
	for _, row := range s.rows {
		for index, cell := range row {
			widths[index] = max(widths[index], lipgloss.Width(cell))
		}
	}

	line := func(cells []string, style *lipgloss.Style) string {
		rendered := make([]string, len(cells))
		for index, cell := range cells {
			padded := lipgloss.NewStyle().Width(widths[index]).Render(cell)
			if style != nil {
				padded = style.Render(padded)
			}
			rendered[index] = padded
		}
		return "  " + strings.TrimRight(lipgloss.JoinHorizontal(lipgloss.Top, intersperse(rendered, "  ")...), " ") + "\n"
	}

	io.WriteString(w, line(s.columns, &headerStyle))
	for _, row := range s.rows {
		io.WriteString(w, line(row, nil))
	}
	io.WriteString(w, "\n")
}

func intersperse(cells []string, separator string) []string {
	if len(cells) == 0 {
		return nil
	}
	result := make([]string, 0, len(cells)*2-1)
	for index, cell := range cells {
		if index > 0 {
			result = append(result, separator)
		}
		result = append(result, cell)
	}
	return result
}
