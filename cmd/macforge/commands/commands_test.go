package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macforge/macforge/pkg/config"
	"github.com/macforge/macforge/pkg/console"
	"github.com/macforge/macforge/pkg/engine"
	"github.com/macforge/macforge/pkg/privilege"
	"github.com/macforge/macforge/pkg/prompt"
	"github.com/macforge/macforge/pkg/stores"
	"github.com/macforge/macforge/pkg/system"
	"github.com/macforge/macforge/pkg/system/systemtest"
	"github.com/macforge/macforge/pkg/verify"
)

type testEnv struct {
	stateDir string
	profile  string
}

func setup(t *testing.T) testEnv {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(config.ProfileEnvVar, "")

	stateDir := filepath.Join(home, "state")
	profile := filepath.Join(home, "profile.yaml")
	require.NoError(t, os.WriteFile(profile, []byte("state_dir: "+stateDir+"\n"), 0o600))
	return testEnv{stateDir: stateDir, profile: profile}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand("test", "none", "today")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestModulesCommand(t *testing.T) {
	env := setup(t)

	out, err := execute(t, "modules", "--json", "-c", env.profile)
	require.NoError(t, err)

	var mods []moduleState
	require.NoError(t, json.Unmarshal([]byte(out), &mods))
	require.Len(t, mods, 8)
	assert.Equal(t, "preflight", mods[0].Name)
	assert.True(t, mods[0].Fatal)
	assert.Equal(t, "cleanup", mods[7].Name)
	for _, m := range mods {
		assert.False(t, m.Completed, m.Name)
	}
}

func TestStatusCommand(t *testing.T) {
	env := setup(t)

	store := stores.NewFileStore(env.stateDir)
	session := stores.NewSession()
	session.MarkCompleted("preflight")
	session.MarkCompleted("homebrew")
	require.NoError(t, store.Save(context.Background(), session))

	t.Run("json", func(t *testing.T) {
		out, err := execute(t, "status", "--json", "-c", env.profile)
		require.NoError(t, err)

		var got struct {
			StateDir string        `json:"state_dir"`
			Modules  []moduleState `json:"modules"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.Equal(t, env.stateDir, got.StateDir)
		require.Len(t, got.Modules, 8)
		assert.True(t, got.Modules[0].Completed)
		assert.True(t, got.Modules[1].Completed)
		assert.False(t, got.Modules[2].Completed)
	})

	t.Run("text", func(t *testing.T) {
		out, err := execute(t, "status", "-c", env.profile)
		require.NoError(t, err)
		assert.Contains(t, out, env.stateDir)
		assert.Contains(t, out, "homebrew")
	})
}

func TestResetCommand(t *testing.T) {
	env := setup(t)

	store := stores.NewFileStore(env.stateDir)
	session := stores.NewSession()
	session.MarkCompleted("preflight")
	require.NoError(t, store.Save(context.Background(), session))

	t.Run("declined without a terminal", func(t *testing.T) {
		out, err := execute(t, "reset", "-c", env.profile)
		require.NoError(t, err)
		assert.Contains(t, out, "Reset cancelled")
		assert.FileExists(t, store.CompletedPath())
	})

	t.Run("confirmed", func(t *testing.T) {
		out, err := execute(t, "reset", "--yes", "-c", env.profile)
		require.NoError(t, err)
		assert.Contains(t, out, "Saved progress cleared")
		assert.NoFileExists(t, store.CompletedPath())
		assert.NoFileExists(t, store.SessionPath())
	})
}

func TestHistoryCommand_Empty(t *testing.T) {
	env := setup(t)

	out, err := execute(t, "history", "--json", "-c", env.profile)
	require.NoError(t, err)

	var runs []runJSON
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	assert.Empty(t, runs)

	out, err = execute(t, "history", "-c", env.profile)
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded.")
}

func TestCommandErrors(t *testing.T) {
	env := setup(t)

	t.Run("unknown flag", func(t *testing.T) {
		_, err := execute(t, "status", "--bogus")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown flag")
	})

	t.Run("missing explicit profile", func(t *testing.T) {
		_, err := execute(t, "status", "-c", filepath.Join(env.stateDir, "nope.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read profile")
	})

	t.Run("run needs a module", func(t *testing.T) {
		_, err := execute(t, "run", "-c", env.profile)
		require.Error(t, err)
	})

	t.Run("quick and full together", func(t *testing.T) {
		_, err := execute(t, "cleanup", "--quick", "--full", "-c", env.profile)
		require.Error(t, err)
	})

	t.Run("unknown forced module", func(t *testing.T) {
		_, err := execute(t, "--force", "ssh,bogus", "-c", env.profile)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown module "bogus"`)
		assert.NoFileExists(t, filepath.Join(env.stateDir, stores.HistoryFile))
	})
}

func TestCheckModuleNames(t *testing.T) {
	assert.NoError(t, checkModuleNames(nil))
	assert.NoError(t, checkModuleNames([]string{"preflight", "cleanup"}))

	err := checkModuleNames([]string{"macos", "dotfile"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown module "dotfile"`)
	assert.Contains(t, err.Error(), "dotfiles")
}

// newTestApp builds an app on a temp state directory with a scripted
// runner, plain output and no history.
func newTestApp(t *testing.T, out io.Writer) *app {
	t.Helper()
	saved := jsonOutput
	jsonOutput = false
	t.Cleanup(func() { jsonOutput = saved })

	dir := t.TempDir()
	profile := config.Default()
	profile.StateDir = dir
	runner := systemtest.NewFakeRunner()

	return &app{
		profile:    profile,
		logger:     zerolog.Nop(),
		printer:    console.New(out, console.WithColor(false)),
		runner:     runner,
		store:      stores.NewFileStore(dir),
		supervisor: privilege.NewSupervisor(runner, dir),
		gate:       prompt.New(prompt.WithAssumeDefaults(true)),
	}
}

func testCatalog() verify.Catalog {
	pass := func(msg string) func(context.Context, verify.Probe) (verify.Status, string) {
		return func(context.Context, verify.Probe) (verify.Status, string) { return verify.StatusPass, msg }
	}
	return verify.Catalog{
		verify.CategoryCore: {
			{Name: "macos", Run: pass("macOS 15.1")},
			{Name: "homebrew", Run: pass("installed")},
		},
		verify.CategorySecurity: {
			{Name: "firewall", Run: func(context.Context, verify.Probe) (verify.Status, string) {
				return verify.StatusFail, "firewall disabled"
			}},
		},
	}
}

func TestVerify(t *testing.T) {
	ctx := context.Background()
	host := systemtest.NewFakeRunner()
	hp := system.NewHostProbe(host)

	t.Run("category subset passes", func(t *testing.T) {
		var out bytes.Buffer
		a := newTestApp(t, &out)

		err := a.verify(ctx, &out, hp, testCatalog(), verifyOptions{categories: []string{"core"}})
		require.NoError(t, err)
		assert.Contains(t, out.String(), "homebrew")
		assert.NotContains(t, out.String(), "firewall")
	})

	t.Run("failure exits 1 and writes the log", func(t *testing.T) {
		var out bytes.Buffer
		a := newTestApp(t, &out)
		logPath := filepath.Join(t.TempDir(), "verify.txt")

		err := a.verify(ctx, &out, hp, testCatalog(), verifyOptions{
			categories: []string{"core,security"},
			logPath:    logPath,
		})
		var exit *ExitError
		require.True(t, errors.As(err, &exit), "got %v", err)
		assert.Equal(t, 1, exit.Code)
		assert.Contains(t, out.String(), "Log written to "+logPath)

		data, err := os.ReadFile(logPath)
		require.NoError(t, err)
		log := string(data)
		assert.Contains(t, log, "macforge verification")
		assert.Contains(t, log, "Categories: core, security")
		assert.Regexp(t, `FAIL\s+firewall\s+firewall disabled`, log)
		assert.Contains(t, log, "Overall: FAIL")
	})

	t.Run("json report", func(t *testing.T) {
		var out bytes.Buffer
		a := newTestApp(t, io.Discard)

		err := a.verify(ctx, &out, hp, testCatalog(), verifyOptions{categories: []string{"security"}, json: true})
		var exit *ExitError
		require.True(t, errors.As(err, &exit))

		var report verify.Report
		require.NoError(t, json.Unmarshal(out.Bytes(), &report))
		assert.Equal(t, []verify.Category{verify.CategorySecurity}, report.Categories)
		assert.Equal(t, 1, report.Summary.Failed)
		assert.Equal(t, verify.StatusFail, report.Summary.Overall)
	})

	t.Run("unknown category", func(t *testing.T) {
		a := newTestApp(t, io.Discard)
		err := a.verify(ctx, io.Discard, hp, testCatalog(), verifyOptions{categories: []string{"bogus"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown category "bogus"`)
	})

	assert.Empty(t, host.Calls())
}

// scriptedModule returns a fixed outcome.
type scriptedModule struct {
	spec    engine.ModuleSpec
	outcome engine.Outcome
	runs    int
}

func (m *scriptedModule) Spec() engine.ModuleSpec { return m.spec }

func (m *scriptedModule) Run(context.Context, *engine.RunContext) engine.Outcome {
	m.runs++
	return m.outcome
}

func scripted(ordinal int, name string, fatal bool, outcome engine.Outcome) *scriptedModule {
	return &scriptedModule{
		spec:    engine.ModuleSpec{Ordinal: ordinal, Name: name, Title: name, Fatal: fatal, Idempotent: true},
		outcome: outcome,
	}
}

func pipelineCommand(out io.Writer) *cobra.Command {
	cmd := &cobra.Command{Use: "macforge"}
	cmd.SetOut(out)
	cmd.SetContext(context.Background())
	return cmd
}

func TestRunPipeline(t *testing.T) {
	t.Run("completed with warnings", func(t *testing.T) {
		var out bytes.Buffer
		a := newTestApp(t, &out)
		mods := []engine.Module{
			scripted(1, "preflight", true, engine.Success("ready")),
			scripted(2, "ssh", false, engine.Failure("agent socket missing",
				engine.NewWarningError("agent socket missing", nil).WithRemediation("open -a 1Password"))),
			scripted(3, "macos", false, engine.Warning("2 defaults not applied")),
		}

		err := a.runPipeline(pipelineCommand(&out), mods, engine.RunOptions{Resume: true, Command: "setup"})
		require.NoError(t, err)
		text := out.String()
		assert.Contains(t, text, "Setup complete")
		assert.Contains(t, text, "ssh: agent socket missing")
		assert.Contains(t, text, "→ open -a 1Password")
		assert.Contains(t, text, "macos: 2 defaults not applied")

		session, err := a.store.Load(context.Background())
		require.NoError(t, err)
		assert.True(t, session.IsCompleted("preflight"))
	})

	t.Run("fatal failure halts with exit 1", func(t *testing.T) {
		var out bytes.Buffer
		a := newTestApp(t, &out)
		last := scripted(2, "homebrew", false, engine.Success("installed"))
		mods := []engine.Module{
			scripted(1, "preflight", true, engine.Failure("not macOS", errors.New("unsupported platform"))),
			last,
		}

		err := a.runPipeline(pipelineCommand(&out), mods, engine.RunOptions{Resume: true, Command: "setup"})
		var exit *ExitError
		require.True(t, errors.As(err, &exit), "got %v", err)
		assert.Equal(t, 1, exit.Code)
		assert.Contains(t, out.String(), "Setup halted at preflight")
		assert.Zero(t, last.runs)
	})

	t.Run("resume skips completed modules", func(t *testing.T) {
		var out bytes.Buffer
		a := newTestApp(t, &out)
		session := stores.NewSession()
		session.MarkCompleted("preflight")
		require.NoError(t, a.store.Save(context.Background(), session))

		first := scripted(1, "preflight", true, engine.Success("ready"))
		second := scripted(2, "homebrew", false, engine.Success("installed"))

		err := a.runPipeline(pipelineCommand(&out), []engine.Module{first, second}, engine.RunOptions{Resume: true, Command: "setup"})
		require.NoError(t, err)
		assert.Zero(t, first.runs)
		assert.Equal(t, 1, second.runs)
		assert.Contains(t, out.String(), "1 ran, 1 skipped")
	})
}
