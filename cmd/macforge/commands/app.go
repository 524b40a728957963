package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/macforge/macforge/pkg/config"
	"github.com/macforge/macforge/pkg/console"
	"github.com/macforge/macforge/pkg/engine"
	"github.com/macforge/macforge/pkg/modules"
	"github.com/macforge/macforge/pkg/privilege"
	"github.com/macforge/macforge/pkg/prompt"
	"github.com/macforge/macforge/pkg/providers"
	"github.com/macforge/macforge/pkg/stores"
	"github.com/macforge/macforge/pkg/system"
	"github.com/macforge/macforge/pkg/telemetry"
)

const shutdownTimeout = 5 * time.Second

type appOptions struct {
	assumeDefaults bool

	// detect probes the machine and starts telemetry. Read-only commands
	// such as status skip it.
	detect bool
}

// app holds everything a command needs, built from the profile.
type app struct {
	profile    *config.Profile
	logger     zerolog.Logger
	telemetry  *telemetry.Telemetry
	printer    *console.Printer
	runner     system.Runner
	store      *stores.FileStore
	history    *stores.SQLiteStore
	env        system.Environment
	supervisor *privilege.Supervisor
	gate       *prompt.Gate
}

func newApp(cmd *cobra.Command, opts appOptions) (*app, error) {
	ctx := cmd.Context()

	profile, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(profile.StateDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", profile.StateDir, err)
	}

	a := &app{
		profile: profile,
		logger:  log.Logger,
		printer: console.New(cmd.OutOrStdout(), console.WithVerbose(verbose), console.WithQuiet(jsonOutput)),
	}

	if opts.detect {
		if verbose {
			profile.Telemetry.Logging.Level = "debug"
			if zerolog.GlobalLevel() > zerolog.DebugLevel {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		}
		profile.Telemetry.ServiceVersion = version
		tel, err := telemetry.NewTelemetry(profile.Telemetry)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		a.telemetry = tel
		a.logger = tel.Logger.Zerolog()
	}

	a.runner = system.NewExecRunner(a.logger)
	a.supervisor = privilege.NewSupervisor(a.runner, profile.StateDir,
		privilege.WithInterval(profile.Privilege.KeepaliveInterval),
		privilege.WithLogger(a.logger),
	)
	a.store = stores.NewFileStore(profile.StateDir,
		stores.WithReaper(a.supervisor),
		stores.WithLogger(a.logger),
	)

	history, err := openHistory(ctx, a.store.HistoryPath())
	if err != nil {
		a.logger.Warn().Err(err).Msg("Run history unavailable")
	} else {
		a.history = history
	}

	if opts.detect {
		env, err := system.Detect(ctx, a.runner)
		if err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("failed to detect environment: %w", err)
		}
		env.StateDir = profile.StateDir
		env.DotfilesDir = profile.DotfilesDir
		env.BackupDir = profile.BackupDir
		env.ReportDir = profile.ReportDir
		a.env = env
		a.logger.Debug().
			Str("arch", string(env.Arch)).
			Str("os_version", env.OSVersion).
			Str("brew_prefix", env.BrewPrefix).
			Msg("Environment detected")
	}

	a.gate = prompt.New(
		prompt.WithAssumeDefaults(opts.assumeDefaults || profile.Prompt.AssumeDefaults),
		prompt.WithTimeout(profile.Prompt.Timeout),
		prompt.WithNotifier(a.printer.Info),
	)
	return a, nil
}

func openHistory(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	s, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// close releases privileges, closes the history and flushes telemetry. It
// runs on a fresh context so it completes after an interrupt.
func (a *app) close(ctx context.Context) {
	a.supervisor.Release()

	var errs []error
	if a.history != nil {
		errs = append(errs, a.history.Close())
	}
	if a.telemetry != nil {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		errs = append(errs, a.telemetry.Shutdown(sctx))
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn().Err(err).Msg("Shutdown incomplete")
	}
}

// historyStore returns the history as an interface, nil when unavailable.
func (a *app) historyStore() stores.HistoryStore {
	if a.history == nil {
		return nil
	}
	return a.history
}

func (a *app) deps() *modules.Deps {
	return &modules.Deps{
		Runner:    a.runner,
		Providers: providers.NewSet(a.runner, a.env, a.profile, a.logger),
		Store:     a.store,
		History:   a.historyStore(),
		Telemetry: a.telemetry,
	}
}

func (a *app) subtitle() string {
	if a.env.OSVersion == "" {
		return ""
	}
	return fmt.Sprintf("macOS %s on %s", a.env.OSVersion, a.env.Arch)
}

func (a *app) pipeline(cmd *cobra.Command) *engine.Runner {
	opts := []engine.RunnerOption{
		engine.WithPrivilege(a.supervisor),
		engine.WithPrompter(a.gate),
		engine.WithReporter(a.printer),
		engine.WithLogger(a.logger),
		engine.WithEnvironment(a.env),
		engine.WithProfile(a.profile),
		engine.WithCommandName(cmd.Root().Name()),
	}
	if h := a.historyStore(); h != nil {
		opts = append(opts, engine.WithHistory(h))
	}
	if a.telemetry != nil {
		opts = append(opts, engine.WithTelemetry(a.telemetry))
	}
	if jsonOutput {
		opts = append(opts, engine.WithEventPublisher(newEventStream(cmd.OutOrStdout())))
	}
	return engine.NewRunner(a.store, opts...)
}

// outcomeJSON adds the halting error, which PipelineOutcome omits.
type outcomeJSON struct {
	*engine.PipelineOutcome
	Error string `json:"error,omitempty"`
}

func (a *app) runPipeline(cmd *cobra.Command, mods []engine.Module, opts engine.RunOptions) error {
	outcome, err := a.pipeline(cmd).Run(cmd.Context(), mods, opts)
	if err != nil {
		return err
	}

	if jsonOutput {
		out := outcomeJSON{PipelineOutcome: outcome}
		if outcome.Cause != nil {
			out.Error = outcome.Cause.Error()
		}
		if err := printJSON(cmd.OutOrStdout(), out); err != nil {
			return err
		}
	} else {
		a.printer.Pipeline(outcome)
	}

	if code := outcome.ExitCode(); code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}
