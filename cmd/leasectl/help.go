package main

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/leasebridge/internal/ui"
)

// Patterns over cobra's plain help text.
var (
	// Unindented lines ending with ":", e.g. "Agreements:" or "Flags:".
	reGroupHeader = regexp.MustCompile(`(?m)^([A-Z][^\n]*:)\s*$`)

	// Two-space indent, a command name, then the description.
	reCommand = regexp.MustCompile(`(?m)^(  )(\S+)(  )`)

	// Flag value types, e.g. "--url string", "--limit int".
	reFlagType = regexp.MustCompile(`(--?\S+\s+)(string|int|uint|duration|strings|stringSlice)`)

	reDefault = regexp.MustCompile(`\(default [^)]*\)`)
)

// colorizedHelpFunc renders cobra's usage with ANSI colors on a terminal.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, _ []string) {
		if noColor || !ui.ShouldUseColor() {
			_ = cmd.Usage()
			return
		}
		orig := cmd.OutOrStdout()
		var buf bytes.Buffer
		cmd.SetOut(&buf)
		_ = cmd.Usage()
		cmd.SetOut(orig)
		fmt.Fprint(orig, colorizeHelpOutput(buf.String()))
	}
}

func colorizeHelpOutput(s string) string {
	s = reGroupHeader.ReplaceAllStringFunc(s, func(m string) string {
		return ui.RenderAccent(strings.TrimSpace(m))
	})
	s = reCommand.ReplaceAllStringFunc(s, func(m string) string {
		if p := reCommand.FindStringSubmatch(m); len(p) == 4 {
			return p[1] + ui.RenderCommand(p[2]) + p[3]
		}
		return m
	})
	s = reFlagType.ReplaceAllStringFunc(s, func(m string) string {
		if p := reFlagType.FindStringSubmatch(m); len(p) == 3 {
			return p[1] + ui.RenderMuted(p[2])
		}
		return m
	})
	return reDefault.ReplaceAllStringFunc(s, ui.RenderMuted)
}
