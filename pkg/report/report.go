// Package report writes the timestamped plain-text summary left on the
// Desktop at the end of a setup run.
package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/macforge/macforge/pkg/system"
	"github.com/macforge/macforge/pkg/verify"
)

const (
	filePrefix = "macforge-report-"
	fileSuffix = ".txt"
	stampFmt   = "20060102-150405"
)

// Report is the end-of-run summary.
type Report struct {
	GeneratedAt  time.Time      `json:"generated_at"`
	Facts        *Facts         `json:"facts"`
	Verification *verify.Report `json:"verification,omitempty"`
}

// Build collects facts and combines them with an optional verification
// report.
func Build(ctx context.Context, c *Collector, env system.Environment, verification *verify.Report, runID *string) *Report {
	return &Report{
		GeneratedAt:  time.Now(),
		Facts:        c.Collect(ctx, env, runID),
		Verification: verification,
	}
}

// FileName returns the report file name for t.
func FileName(t time.Time) string {
	return filePrefix + t.Format(stampFmt) + fileSuffix
}

// WriteText renders the report.
func (r *Report) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "macforge setup report\n")
	fmt.Fprintf(w, "Generated: %s\n\n", r.GeneratedAt.Format("2006-01-02 15:04:05"))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if f := r.Facts; f != nil {
		fmt.Fprintln(tw, "System\t")
		fmt.Fprintf(tw, "  Hostname\t%s\n", orDash(f.Env.Hostname))
		fmt.Fprintf(tw, "  macOS\t%s\n", orDash(f.Env.OSVersion))
		fmt.Fprintf(tw, "  Architecture\t%s\n", orDash(string(f.Env.Arch)))
		fmt.Fprintf(tw, "  Homebrew prefix\t%s\n", orDash(f.Env.BrewPrefix))
		fmt.Fprintln(tw, "\t")
		fmt.Fprintln(tw, "Packages\t")
		fmt.Fprintf(tw, "  Formulae\t%d\n", f.Formulae)
		fmt.Fprintf(tw, "  Casks\t%d\n", f.Casks)
		fmt.Fprintln(tw, "\t")
		fmt.Fprintln(tw, "Tools\t")
		for _, t := range f.Tools {
			fmt.Fprintf(tw, "  %s\t%s\n", t.Name, orDash(t.Version))
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	if r.Verification != nil {
		fmt.Fprintln(w)
		if err := r.Verification.WriteText(w, false); err != nil {
			return err
		}
	}
	return nil
}

// Write saves the report in dir and returns its path.
func Write(dir string, r *Report) (string, error) {
	var buf bytes.Buffer
	if err := r.WriteText(&buf); err != nil {
		return "", err
	}
	path := filepath.Join(dir, FileName(r.GeneratedAt))
	if err := system.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("failed to save report: %w", err)
	}
	return path, nil
}

// Purge removes reports in dir generated before now-olderThan. It returns
// the number removed.
func Purge(dir string, olderThan time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read report directory: %w", err)
	}

	cutoff := now.Add(-olderThan)
	var (
		removed int
		errs    []error
	)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		generated, ok := parseFileName(e.Name())
		if !ok || !generated.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

func parseFileName(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
	t, err := time.ParseInLocation(stampFmt, stamp, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
