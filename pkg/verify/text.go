package verify

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

var statusLabel = map[Status]string{
	StatusPass: "PASS",
	StatusWarn: "WARN",
	StatusFail: "FAIL",
}

// WriteText renders a plain-text report suitable for a log file.
func (r *Report) WriteText(w io.Writer, verbose bool) error {
	names := make([]string, len(r.Categories))
	for i, c := range r.Categories {
		names[i] = string(c)
	}

	fmt.Fprintf(w, "macforge verification %s\n", r.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Categories: %s\n\n", strings.Join(names, ", "))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	var current Category
	for _, res := range r.Results {
		if res.Category != current {
			current = res.Category
			fmt.Fprintf(tw, "[%s]\t\t\n", current)
		}
		if res.Status == StatusPass && !verbose {
			fmt.Fprintf(tw, "  %s\t%s\t\n", statusLabel[res.Status], res.Name)
			continue
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", statusLabel[res.Status], res.Name, res.Message)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	s := r.Summary
	fmt.Fprintln(w)
	if s.Empty() {
		fmt.Fprintln(w, "No checks run.")
		return nil
	}
	fmt.Fprintf(w, "Total: %d  Passed: %d  Warnings: %d  Failed: %d  Success rate: %d%%\n",
		s.Total, s.Passed, s.Warned, s.Failed, s.SuccessRate)
	fmt.Fprintf(w, "Overall: %s\n", statusLabel[s.Overall])

	if suggestions := Suggestions(s); len(suggestions) > 0 {
		fmt.Fprintln(w, "\nSuggested fixes:")
		for _, sg := range suggestions {
			if sg.Command == "" {
				fmt.Fprintf(w, "  - %s\n", sg.Item)
				continue
			}
			fmt.Fprintf(w, "  - %s\n    -> %s\n", sg.Item, sg.Command)
		}
	}
	_, err := fmt.Fprintln(w)
	return err
}
