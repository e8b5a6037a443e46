package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

// formatDuration renders d coarsely, using the largest whole unit.
func formatDuration(d time.Duration) string {
	plural := func(n int, unit string) string {
		if n == 1 {
			return "1 " + unit
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}
	switch {
	case d < 0:
		return "expired"
	case d < time.Minute:
		return "< 1 minute"
	case d < time.Hour:
		return plural(int(d.Minutes()), "minute")
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour")
	default:
		return plural(int(d.Hours()/24), "day")
	}
}

// formatExpiry formats a time as "in X" or "expired X ago".
func formatExpiry(at time.Time) string {
	remaining := time.Until(at)
	if remaining > 0 {
		return "in " + formatDuration(remaining)
	}
	return text.FgYellow.Sprintf("expired %s ago", formatDuration(-remaining))
}

// prompt writes label to the command's error stream and reads one line from
// in. Callers share one reader per invocation so buffered input is not lost
// between prompts.
func prompt(cmd *cobra.Command, in *bufio.Reader, label string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), label)
	line, err := in.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// startSpinner shows progress on stderr unless --quiet is set. The returned
// stop function prints final, if any.
func startSpinner(cmd *cobra.Command, suffix string) (stop func(final string)) {
	if quiet {
		return func(string) {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
	s.Suffix = " " + suffix
	s.Start()
	return func(final string) {
		s.FinalMSG = final
		s.Stop()
	}
}
