package display

import (
	"fmt"
	"io"
	"strings"
)

// Table prints rows as fixed-width columns with a dashed underline, the
// shared layout for list commands. Column widths grow to fit the widest
// cell; the last column is never padded.
func Table(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	printRow := func(cells []string) {
		parts := make([]string, 0, len(cells))
		for i, cell := range cells {
			if i == len(cells)-1 {
				parts = append(parts, cell)
				continue
			}
			parts = append(parts, fmt.Sprintf("%-*s", widths[i], cell))
		}
		fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
	}

	printRow(headers)

	underline := make([]string, len(headers))
	for i, h := range headers {
		underline[i] = strings.Repeat("-", len(h))
	}
	printRow(underline)

	for _, row := range rows {
		printRow(row)
	}
}
