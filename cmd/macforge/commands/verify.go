package commands

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/macforge/macforge/pkg/modules"
	"github.com/macforge/macforge/pkg/system"
	"github.com/macforge/macforge/pkg/verify"
)

type verifyOptions struct {
	categories []string
	logPath    string
	verbose    bool
	json       bool
}

// verify runs the selected categories against probe, records the report,
// prints it and maps any failed check to exit code 1.
func (a *app) verify(ctx context.Context, out io.Writer, probe verify.Probe, catalog verify.Catalog, opts verifyOptions) error {
	tags := opts.categories
	if len(tags) == 0 {
		tags = a.profile.Verify.Categories
	}
	cats, err := verify.ParseCategories(tags...)
	if err != nil {
		return err
	}

	e := verify.NewEngine(probe, catalog,
		verify.WithConcurrency(a.profile.Verify.Concurrency),
		verify.WithTelemetry(a.telemetry),
		verify.WithLogger(a.logger),
	)
	report, err := e.Verify(ctx, cats)
	if err != nil {
		return err
	}

	if h := a.historyStore(); h != nil {
		if err := report.Record(ctx, h, nil); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to record verification")
		}
	}

	if opts.logPath != "" {
		var buf bytes.Buffer
		if err := report.WriteText(&buf, opts.verbose); err != nil {
			return err
		}
		if err := system.WriteFileAtomic(opts.logPath, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("failed to write verification log: %w", err)
		}
	}

	if opts.json {
		if err := printJSON(out, report); err != nil {
			return err
		}
	} else {
		a.printer.Banner("macforge verify", a.subtitle())
		a.printer.Verification(report)
		if opts.logPath != "" {
			a.printer.Info("Log written to " + opts.logPath)
		}
	}

	if code := report.Summary.ExitCode(); code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}

func newVerifyCommand() *cobra.Command {
	var (
		categories []string
		logPath    string
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the machine against the profile",
		Long: `Run read-only health checks and print a summary with suggested fixes.

Categories:
  core      macOS, Command Line Tools, Homebrew, core commands, network
  packages  configured taps, formulae and casks
  security  FileVault, firewall, Gatekeeper, SIP
  dev       git identity, dev tools, SSH agent and config
  prefs     configured user defaults
  mackup    mackup config and backup location
  state     saved progress and leftover keepalive helpers

Exits 1 when any check fails. Results are recorded in the run history.`,
		Example: `  # Run every category
  macforge verify

  # Security and dev checks only, with details for passing checks
  macforge verify --category security,dev --verbose

  # Keep a plain-text copy
  macforge verify --log ~/verify.txt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(cmd, appOptions{detect: true})
			if err != nil {
				return err
			}
			defer a.close(ctx)

			return a.verify(ctx, cmd.OutOrStdout(),
				system.NewHostProbe(a.runner),
				modules.Catalog(a.store, a.profile, a.env),
				verifyOptions{categories: categories, logPath: logPath, verbose: verbose, json: jsonOutput},
			)
		},
	}

	cmd.Flags().StringSliceVar(&categories, "category", nil, "categories to check (comma separated, default all)")
	cmd.Flags().StringVar(&logPath, "log", "", "also write a plain-text report to this file")

	return cmd
}
