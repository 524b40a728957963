package verify

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macforge/macforge/pkg/config"
	"github.com/macforge/macforge/pkg/stores"
	"github.com/macforge/macforge/pkg/system"
)

// fakeProbe answers from static tables.
type fakeProbe struct {
	mu        sync.Mutex
	files     map[string]bool
	dirs      map[string]bool
	commands  map[string]bool
	processes map[string]bool
	reachable map[string]bool
	outputs   map[string]string
	calls     int
}

func newFakeProbe() *fakeProbe {
	return &fakeProbe{
		files:     map[string]bool{},
		dirs:      map[string]bool{},
		commands:  map[string]bool{},
		processes: map[string]bool{},
		reachable: map[string]bool{},
		outputs:   map[string]string{},
	}
}

func (f *fakeProbe) count() {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
}

func (f *fakeProbe) FileExists(path string) bool       { f.count(); return f.files[path] }
func (f *fakeProbe) DirExists(path string) bool        { f.count(); return f.dirs[path] }
func (f *fakeProbe) CommandAvailable(name string) bool { f.count(); return f.commands[name] }
func (f *fakeProbe) ProcessRunning(_ context.Context, name string) bool {
	f.count()
	return f.processes[name]
}
func (f *fakeProbe) Reachable(_ context.Context, address string) bool {
	f.count()
	return f.reachable[address]
}
func (f *fakeProbe) CommandOutput(_ context.Context, name string, args ...string) (string, error) {
	f.count()
	key := strings.TrimSpace(name + " " + strings.Join(args, " "))
	out, ok := f.outputs[key]
	if !ok {
		return "", fmt.Errorf("%s: exit status 1", key)
	}
	return out, nil
}

func testInputs(t *testing.T) (Inputs, *fakeProbe) {
	t.Helper()
	home := t.TempDir()

	profile := config.Default()
	profile.DotfilesDir = filepath.Join(home, ".dotfiles")
	profile.Homebrew.Formulae = []string{"git", "hashicorp/tap/terraform"}
	profile.Homebrew.Casks = []string{"iterm2"}
	profile.Homebrew.Taps = []string{"hashicorp/tap"}
	profile.SSH.AgentSocket = filepath.Join(home, "agent.sock")
	profile.SSH.ConfigPath = filepath.Join(home, ".ssh", "config")

	env := system.Environment{
		Arch:       system.ArchAppleSilicon,
		HomeDir:    home,
		BrewPrefix: "/opt/homebrew",
		ICloudRoot: filepath.Join(home, "iCloud"),
	}

	probe := newFakeProbe()
	probe.outputs["sw_vers -productVersion"] = "15.1"
	probe.dirs["/Library/Developer/CommandLineTools"] = true
	probe.files["/opt/homebrew/bin/brew"] = true
	for _, c := range []string{"brew", "git", "zsh", "curl", "gh", "jq", "rg", "fzf", "mackup"} {
		probe.commands[c] = true
	}
	probe.reachable["github.com:443"] = true
	probe.outputs["/opt/homebrew/bin/brew list --formula -1"] = "git\nterraform\n"
	probe.outputs["/opt/homebrew/bin/brew list --cask -1"] = ""
	probe.outputs["/opt/homebrew/bin/brew tap"] = "hashicorp/tap\nhomebrew/core\n"
	probe.outputs["/opt/homebrew/bin/brew doctor"] = "Your system is ready to brew."
	probe.outputs["fdesetup status"] = "FileVault is On."
	probe.outputs["/usr/libexec/ApplicationFirewall/socketfilterfw --getglobalstate"] = "Firewall is disabled. (State = 0)"
	probe.outputs["spctl --status"] = "assessments enabled"
	probe.outputs["csrutil status"] = "System Integrity Protection status: enabled."
	probe.files[profile.SSH.AgentSocket] = true
	probe.outputs["grep -i IdentityAgent "+profile.SSH.ConfigPath] = "  IdentityAgent \"~/agent.sock\""
	probe.outputs["git config --global user.name"] = "Dev"

	store := stores.NewFileStore(filepath.Join(home, ".macforge"))
	return Inputs{Profile: profile, Env: env, Modules: []string{"preflight"}, Store: store}, probe
}

func resultsFor(results []CheckResult, category Category) []CheckResult {
	var out []CheckResult
	for _, r := range results {
		if r.Category == category {
			out = append(out, r)
		}
	}
	return out
}

func TestEngine_SubsetMatchesFullRun(t *testing.T) {
	in, probe := testInputs(t)
	engine := NewEngine(probe, DefaultCatalog(in))
	ctx := context.Background()

	only, err := engine.Verify(ctx, []Category{CategorySecurity})
	require.NoError(t, err)
	several, err := engine.Verify(ctx, []Category{CategoryDev, CategorySecurity, CategoryCore})
	require.NoError(t, err)
	all, err := engine.Verify(ctx, nil)
	require.NoError(t, err)

	want := resultsFor(only.Results, CategorySecurity)
	require.NotEmpty(t, want)
	assert.Equal(t, want, resultsFor(several.Results, CategorySecurity))
	assert.Equal(t, want, resultsFor(all.Results, CategorySecurity))
}

func TestEngine_CanonicalOrder(t *testing.T) {
	in, probe := testInputs(t)
	engine := NewEngine(probe, DefaultCatalog(in), WithConcurrency(7))

	report, err := engine.Verify(context.Background(), []Category{CategoryState, CategoryCore, CategoryDev})
	require.NoError(t, err)
	assert.Equal(t, []Category{CategoryCore, CategoryDev, CategoryState}, report.Categories)

	var seen []Category
	for _, r := range report.Results {
		if len(seen) == 0 || seen[len(seen)-1] != r.Category {
			seen = append(seen, r.Category)
		}
	}
	assert.Equal(t, report.Categories, seen)
}

func TestEngine_UnknownCategory(t *testing.T) {
	in, probe := testInputs(t)
	_, err := NewEngine(probe, DefaultCatalog(in)).Verify(context.Background(), []Category{"everything"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown category")
}

func TestEngine_ClassifiesChecks(t *testing.T) {
	in, probe := testInputs(t)
	report, err := NewEngine(probe, DefaultCatalog(in)).
		Verify(context.Background(), []Category{CategoryPackages, CategorySecurity, CategoryDev})
	require.NoError(t, err)

	byName := map[string]CheckResult{}
	for _, r := range report.Results {
		byName[r.Name] = r
	}
	assert.Equal(t, StatusPass, byName["formulae"].Status, byName["formulae"].Message)
	assert.Equal(t, StatusWarn, byName["casks"].Status)
	assert.Equal(t, "missing: iterm2", byName["casks"].Message)
	assert.Equal(t, StatusPass, byName["taps"].Status)
	assert.Equal(t, StatusPass, byName["FileVault"].Status)
	assert.Equal(t, StatusWarn, byName["Firewall"].Status)
	assert.Equal(t, StatusPass, byName["SSH IdentityAgent"].Status)
	assert.Equal(t, StatusPass, byName["git user.name"].Status)
	assert.Equal(t, StatusWarn, byName["git user.email"].Status)
	assert.Equal(t, StatusWarn, byName["dotfiles repository"].Status)

	assert.Equal(t, StatusWarn, report.Summary.Overall)
	assert.Equal(t, 0, report.Summary.ExitCode())
}

func TestEngine_MissingCoreToolFails(t *testing.T) {
	in, probe := testInputs(t)
	delete(probe.commands, "git")

	report, err := NewEngine(probe, DefaultCatalog(in)).Verify(context.Background(), []Category{CategoryCore})
	require.NoError(t, err)
	assert.Equal(t, StatusFail, report.Summary.Overall)
	assert.Equal(t, 1, report.Summary.ExitCode())
	assert.Contains(t, report.Summary.Failures, "git: git command not found")
}

func TestEngine_PanickingCheckFails(t *testing.T) {
	catalog := Catalog{
		CategoryCore: {
			{Name: "boom", Run: func(context.Context, Probe) (Status, string) { panic("bad probe") }},
			{Name: "after", Run: func(context.Context, Probe) (Status, string) { return StatusPass, "" }},
		},
	}
	report, err := NewEngine(newFakeProbe(), catalog).Verify(context.Background(), []Category{CategoryCore})
	require.NoError(t, err)
	require.Len(t, report.Results, 2)
	assert.Equal(t, StatusFail, report.Results[0].Status)
	assert.Contains(t, report.Results[0].Message, "bad probe")
	assert.Equal(t, StatusPass, report.Results[1].Status)
}

func TestEngine_EmptyCatalog(t *testing.T) {
	report, err := NewEngine(newFakeProbe(), Catalog{}).Verify(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, report.Summary.Empty())
	assert.Len(t, report.Categories, len(AllCategories))
}

func TestEngine_StateCategory(t *testing.T) {
	in, probe := testInputs(t)
	ctx := context.Background()

	report, err := NewEngine(probe, DefaultCatalog(in)).Verify(ctx, []Category{CategoryState})
	require.NoError(t, err)
	assert.Equal(t, StatusWarn, report.Summary.Overall)

	s := stores.NewSession()
	s.MarkCompleted("preflight")
	require.NoError(t, in.Store.Save(ctx, s))
	probe.files[in.Store.SessionPath()] = true

	report, err = NewEngine(probe, DefaultCatalog(in)).Verify(ctx, []Category{CategoryState})
	require.NoError(t, err)
	assert.Equal(t, StatusPass, report.Summary.Overall, report.Summary.Warnings)
}

func TestParseCategories(t *testing.T) {
	got, err := ParseCategories("security, core", "dev")
	require.NoError(t, err)
	assert.Equal(t, []Category{CategoryCore, CategorySecurity, CategoryDev}, got)

	all, err := ParseCategories()
	require.NoError(t, err)
	assert.Equal(t, AllCategories, all)

	_, err = ParseCategories("core,bogus")
	assert.Error(t, err)
}

func TestAllOf(t *testing.T) {
	present := map[string]bool{"a": true, "c": true}
	check := AllOf("plugins", []string{"a", "b", "c", "d"}, func(_ context.Context, _ Probe, m string) bool {
		return present[m]
	})

	status, msg := check.Run(context.Background(), newFakeProbe())
	assert.Equal(t, StatusWarn, status)
	assert.Equal(t, "missing: b, d", msg)

	present["b"], present["d"] = true, true
	status, _ = check.Run(context.Background(), newFakeProbe())
	assert.Equal(t, StatusPass, status)
}

func TestReport_WriteText(t *testing.T) {
	a := NewAggregator()
	a.Pass(CategoryCore, "brew", "available")
	a.Fail(CategoryCore, "Xcode Command Line Tools", "not found")
	a.Warn(CategorySecurity, "Firewall", "disabled")

	report := &Report{
		Categories: []Category{CategoryCore, CategorySecurity},
		Results:    a.Results(),
		Summary:    a.Summarize(),
	}
	var buf bytes.Buffer
	require.NoError(t, report.WriteText(&buf, false))

	out := buf.String()
	assert.Contains(t, out, "[core]")
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, out, "Success rate: 33%")
	assert.Contains(t, out, "xcode-select --install")
	assert.Contains(t, out, "socketfilterfw --setglobalstate on")
}

func TestSuggest(t *testing.T) {
	assert.Equal(t, "macforge run homebrew", Suggest("casks: missing: iterm2"))
	assert.Equal(t, "sudo fdesetup enable", Suggest("FileVault: FileVault is Off."))
	assert.Equal(t, "", Suggest("something unrelated"))
}
