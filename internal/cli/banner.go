package cli

import (
	"fmt"
	"io"
	"strings"
)

var rule = strings.Repeat("═", 59)

// banner prints a ruled title followed by aligned "label: value" rows
func banner(w io.Writer, title string, rows ...[2]string) {
	fmt.Fprintf(w, "\n%s\n  %s\n%s\n\n", rule, title, rule)
	if len(rows) == 0 {
		return
	}
	width := 0
	for _, r := range rows {
		width = max(width, len(r[0]))
	}
	for _, r := range rows {
		fmt.Fprintf(w, "  %-*s  %s\n", width+1, r[0]+":", r[1])
	}
	fmt.Fprintln(w)
}
