package engine

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/macforge/macforge/pkg/stores"
	"github.com/macforge/macforge/pkg/system"
)

// fakeModule is a scripted module for testing.
type fakeModule struct {
	spec  ModuleSpec
	runs  int
	run   func(ctx context.Context, rc *RunContext) Outcome
	order *[]string
}

func (m *fakeModule) Spec() ModuleSpec { return m.spec }

func (m *fakeModule) Run(ctx context.Context, rc *RunContext) Outcome {
	m.runs++
	if m.order != nil {
		*m.order = append(*m.order, m.spec.Name)
	}
	if m.run != nil {
		return m.run(ctx, rc)
	}
	return Success("ok")
}

func newFakeModules(order *[]string, names ...string) []*fakeModule {
	mods := make([]*fakeModule, len(names))
	for i, name := range names {
		mods[i] = &fakeModule{
			spec:  ModuleSpec{Ordinal: i + 1, Name: name, Title: strings.ToUpper(name), Idempotent: true},
			order: order,
		}
	}
	return mods
}

func asModules(mods []*fakeModule) []Module {
	out := make([]Module, len(mods))
	for i, m := range mods {
		out[i] = m
	}
	return out
}

// memoryStore is an in-memory SessionStore.
type memoryStore struct {
	mu      sync.Mutex
	session *stores.Session
	loadErr error
	saves   int
}

func newMemoryStore(completed ...string) *memoryStore {
	s := stores.NewSession()
	for _, c := range completed {
		s.MarkCompleted(c)
	}
	return &memoryStore{session: s}
}

func (m *memoryStore) Load(_ context.Context) (*stores.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return stores.NewSession(), m.loadErr
	}
	return m.session.Clone(), nil
}

func (m *memoryStore) Save(_ context.Context, s *stores.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.session = s.Clone()
	return nil
}

func (m *memoryStore) completed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.session.Completed...)
}

// Mock event publisher for testing
type mockEventPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (m *mockEventPublisher) Publish(_ context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *event)
	return nil
}

func (m *mockEventPublisher) modulesWith(t EventType) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for _, e := range m.events {
		if e.Type == t {
			names = append(names, e.Module)
		}
	}
	return names
}

type mockSupervisor struct {
	escalations int
	releases    int
	err         error
}

func (m *mockSupervisor) Escalate(_ context.Context) error {
	m.escalations++
	return m.err
}

func (m *mockSupervisor) Release() { m.releases++ }

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRunner_EmptyModuleList(t *testing.T) {
	store := newMemoryStore()
	runner := NewRunner(store)

	outcome, err := runner.Run(context.Background(), nil, RunOptions{Resume: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome.Kind != PipelineCompleted {
		t.Errorf("Expected completed, got %s", outcome.Kind)
	}
	if len(outcome.Ran) != 0 || len(outcome.Skipped) != 0 {
		t.Errorf("Expected nothing to run, got ran=%v skipped=%v", outcome.Ran, outcome.Skipped)
	}
	if outcome.ExitCode() != 0 {
		t.Errorf("Expected exit code 0, got %d", outcome.ExitCode())
	}
}

func TestRunner_RunsInOrdinalOrder(t *testing.T) {
	var order []string
	mods := newFakeModules(&order, "preflight", "homebrew", "ssh", "dotfiles")
	publisher := &mockEventPublisher{}
	store := newMemoryStore()
	runner := NewRunner(store, WithEventPublisher(publisher))

	outcome, err := runner.Run(context.Background(), asModules(mods), RunOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []string{"preflight", "homebrew", "ssh", "dotfiles"}
	if !equalStrings(order, want) {
		t.Errorf("Expected run order %v, got %v", want, order)
	}
	if started := publisher.modulesWith(EventTypeModuleStarted); !equalStrings(started, want) {
		t.Errorf("Expected start events %v, got %v", want, started)
	}
	if !equalStrings(outcome.Ran, want) {
		t.Errorf("Expected ran %v, got %v", want, outcome.Ran)
	}
	if !equalStrings(store.completed(), want) {
		t.Errorf("Expected completed %v, got %v", want, store.completed())
	}
}

func TestRunner_FatalFailureHalts(t *testing.T) {
	var order []string
	mods := newFakeModules(&order, "m1", "m2", "m3", "m4", "m5")
	mods[2].spec.Fatal = true
	mods[2].run = func(context.Context, *RunContext) Outcome {
		return Failure("no network", NewFatalError("network unreachable", nil).
			WithCode(ErrCodeNetwork).WithRemediation("networksetup -setairportpower en0 on"))
	}
	store := newMemoryStore()
	runner := NewRunner(store)

	outcome, err := runner.Run(context.Background(), asModules(mods), RunOptions{Resume: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if outcome.Kind != PipelineHalted || outcome.Module != "m3" {
		t.Fatalf("Expected halt at m3, got %s at %q", outcome.Kind, outcome.Module)
	}
	if outcome.ExitCode() == 0 {
		t.Error("Expected non-zero exit code")
	}
	if !IsFatal(outcome.Cause) {
		t.Errorf("Expected fatal cause, got %v", outcome.Cause)
	}
	if mods[3].runs != 0 || mods[4].runs != 0 {
		t.Error("Modules after the halt must not run")
	}
	if !equalStrings(store.completed(), []string{"m1", "m2"}) {
		t.Errorf("Expected completed [m1 m2], got %v", store.completed())
	}

	wantSteps := []string{
		"networksetup -setairportpower en0 on",
		"macforge run m3",
		"macforge --resume",
	}
	if !equalStrings(outcome.Remediation, wantSteps) {
		t.Errorf("Expected remediation %v, got %v", wantSteps, outcome.Remediation)
	}

	// Fix m3 and resume: m1 and m2 are skipped, the rest run.
	mods[2].run = nil
	order = nil
	outcome, err = runner.Run(context.Background(), asModules(mods), RunOptions{Resume: true})
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if outcome.Kind != PipelineCompleted {
		t.Fatalf("Expected completed, got %s", outcome.Kind)
	}
	if !equalStrings(outcome.Skipped, []string{"m1", "m2"}) {
		t.Errorf("Expected skipped [m1 m2], got %v", outcome.Skipped)
	}
	if !equalStrings(order, []string{"m3", "m4", "m5"}) {
		t.Errorf("Expected resumed order [m3 m4 m5], got %v", order)
	}
	if !equalStrings(store.completed(), []string{"m1", "m2", "m3", "m4", "m5"}) {
		t.Errorf("Expected all completed, got %v", store.completed())
	}
}

func TestRunner_ResumeAfterFullRunIsNoop(t *testing.T) {
	var order []string
	mods := newFakeModules(&order, "a", "b", "c")
	store := newMemoryStore()
	runner := NewRunner(store)

	if _, err := runner.Run(context.Background(), asModules(mods), RunOptions{Resume: true}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	before := store.completed()

	order = nil
	outcome, err := runner.Run(context.Background(), asModules(mods), RunOptions{Resume: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(order) != 0 {
		t.Errorf("Expected no modules to run, got %v", order)
	}
	if len(outcome.Skipped) != 3 {
		t.Errorf("Expected 3 skipped, got %v", outcome.Skipped)
	}
	if !equalStrings(store.completed(), before) {
		t.Errorf("Completed set changed: %v -> %v", before, store.completed())
	}
}

func TestRunner_ForceRerun(t *testing.T) {
	var order []string
	mods := newFakeModules(&order, "a", "b", "c")
	store := newMemoryStore("a", "b", "c")
	runner := NewRunner(store)

	outcome, err := runner.Run(context.Background(), asModules(mods),
		RunOptions{Resume: true, ForceRerun: ForceSet("b")})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !equalStrings(order, []string{"b"}) {
		t.Errorf("Expected only b to run, got %v", order)
	}
	if !equalStrings(outcome.Skipped, []string{"a", "c"}) {
		t.Errorf("Expected a and c skipped, got %v", outcome.Skipped)
	}
	if !equalStrings(store.completed(), []string{"a", "b", "c"}) {
		t.Errorf("Completed set should not duplicate, got %v", store.completed())
	}
}

func TestRunner_WithoutResumeRunsEverything(t *testing.T) {
	var order []string
	mods := newFakeModules(&order, "a", "b")
	store := newMemoryStore("a", "b")

	outcome, err := NewRunner(store).Run(context.Background(), asModules(mods), RunOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !equalStrings(order, []string{"a", "b"}) {
		t.Errorf("Expected both to run, got %v", order)
	}
	if len(outcome.Skipped) != 0 {
		t.Errorf("Expected nothing skipped, got %v", outcome.Skipped)
	}
}

func TestRunner_WarningCompletesModule(t *testing.T) {
	mods := newFakeModules(nil, "a", "b")
	mods[0].run = func(context.Context, *RunContext) Outcome {
		return Warning("2 casks failed")
	}
	store := newMemoryStore()

	outcome, err := NewRunner(store).Run(context.Background(), asModules(mods), RunOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome.Kind != PipelineCompleted {
		t.Errorf("Expected completed, got %s", outcome.Kind)
	}
	if len(outcome.Warnings) != 1 || outcome.Warnings[0].Module != "a" {
		t.Errorf("Expected one warning for a, got %+v", outcome.Warnings)
	}
	if !equalStrings(store.completed(), []string{"a", "b"}) {
		t.Errorf("Expected a and b completed, got %v", store.completed())
	}
}

func TestRunner_NonFatalFailureContinues(t *testing.T) {
	var order []string
	mods := newFakeModules(&order, "a", "b", "c")
	mods[1].run = func(context.Context, *RunContext) Outcome {
		return Failure("agent not running", NewWarningError("agent unavailable", nil))
	}
	store := newMemoryStore()

	outcome, err := NewRunner(store).Run(context.Background(), asModules(mods), RunOptions{Resume: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome.Kind != PipelineCompleted {
		t.Fatalf("Expected completed, got %s", outcome.Kind)
	}
	if !equalStrings(order, []string{"a", "b", "c"}) {
		t.Errorf("Expected all modules to run, got %v", order)
	}
	if len(outcome.Warnings) != 1 || outcome.Warnings[0].Status != OutcomeFailure {
		t.Errorf("Expected failure recorded as warning, got %+v", outcome.Warnings)
	}
	if !equalStrings(store.completed(), []string{"a", "c"}) {
		t.Errorf("Failed module must stay incomplete, got %v", store.completed())
	}
}

func TestRunner_WarningKeepsRemediation(t *testing.T) {
	mods := newFakeModules(nil, "ssh", "macos")
	mods[0].run = func(context.Context, *RunContext) Outcome {
		return Failure("SSH agent socket did not appear",
			NewWarningError("agent socket missing", nil).WithRemediation("Enable the SSH agent in 1Password, then run macforge run ssh"))
	}
	mods[1].run = func(context.Context, *RunContext) Outcome {
		return Warning("2 preferences not applied")
	}

	outcome, err := NewRunner(newMemoryStore()).Run(context.Background(), asModules(mods), RunOptions{Resume: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(outcome.Warnings) != 2 {
		t.Fatalf("Expected two warnings, got %+v", outcome.Warnings)
	}
	if got := outcome.Warnings[0].Remediation; got != "Enable the SSH agent in 1Password, then run macforge run ssh" {
		t.Errorf("Expected ssh remediation to be kept, got %q", got)
	}
	if got := outcome.Warnings[1].Remediation; got != "" {
		t.Errorf("Expected no remediation for a plain warning, got %q", got)
	}
}

func TestRunner_PanicBecomesFailure(t *testing.T) {
	mods := newFakeModules(nil, "a", "b")
	mods[0].spec.Fatal = true
	mods[0].run = func(context.Context, *RunContext) Outcome {
		panic("boom")
	}
	store := newMemoryStore()

	outcome, err := NewRunner(store).Run(context.Background(), asModules(mods), RunOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome.Kind != PipelineHalted || outcome.Module != "a" {
		t.Fatalf("Expected halt at a, got %s at %q", outcome.Kind, outcome.Module)
	}
	if !strings.Contains(outcome.Cause.Error(), "boom") {
		t.Errorf("Expected panic value in cause, got %v", outcome.Cause)
	}
	if mods[1].runs != 0 {
		t.Error("Module after a panic must not run")
	}
}

func TestRunner_CancelledBetweenModules(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mods := newFakeModules(nil, "a", "b", "c")
	mods[0].run = func(context.Context, *RunContext) Outcome {
		cancel()
		return Success("done")
	}
	store := newMemoryStore()

	outcome, err := NewRunner(store).Run(ctx, asModules(mods), RunOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome.Kind != PipelineCancelled || outcome.Module != "b" {
		t.Fatalf("Expected cancelled before b, got %s at %q", outcome.Kind, outcome.Module)
	}
	if !errors.Is(outcome.Cause, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", outcome.Cause)
	}
	if !equalStrings(store.completed(), []string{"a"}) {
		t.Errorf("Expected a completed, got %v", store.completed())
	}
	if outcome.ExitCode() == 0 {
		t.Error("Expected non-zero exit code")
	}
}

func TestRunner_SoftLoadErrorUsesDefaults(t *testing.T) {
	var order []string
	mods := newFakeModules(&order, "a")
	store := newMemoryStore("a")
	store.loadErr = stores.ErrSessionUnreadable

	outcome, err := NewRunner(store).Run(context.Background(), asModules(mods), RunOptions{Resume: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !equalStrings(order, []string{"a"}) {
		t.Errorf("Unreadable state should be ignored, got order %v", order)
	}
	if outcome.Kind != PipelineCompleted {
		t.Errorf("Expected completed, got %s", outcome.Kind)
	}
}

func TestRunner_PrivilegeScopedToModule(t *testing.T) {
	mods := newFakeModules(nil, "admin", "plain")
	mods[0].spec.RequiresAdmin = true
	mods[0].run = func(ctx context.Context, rc *RunContext) Outcome {
		if err := rc.Admin.Escalate(ctx); err != nil {
			return Failure("escalation failed", err)
		}
		return Success("escalated")
	}
	var plainErr error
	mods[1].run = func(ctx context.Context, rc *RunContext) Outcome {
		plainErr = rc.Admin.Escalate(ctx)
		return Success("no admin")
	}
	supervisor := &mockSupervisor{}
	store := newMemoryStore()

	outcome, err := NewRunner(store, WithPrivilege(supervisor)).
		Run(context.Background(), asModules(mods), RunOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome.Kind != PipelineCompleted {
		t.Fatalf("Expected completed, got %s", outcome.Kind)
	}
	if supervisor.escalations != 1 {
		t.Errorf("Expected one escalation, got %d", supervisor.escalations)
	}
	// Once per module plus the pipeline-level release.
	if supervisor.releases != 3 {
		t.Errorf("Expected 3 releases, got %d", supervisor.releases)
	}
	if !errors.Is(plainErr, ErrAdminNotDeclared) {
		t.Errorf("Expected ErrAdminNotDeclared, got %v", plainErr)
	}
}

func TestRunner_InvalidModuleList(t *testing.T) {
	mods := newFakeModules(nil, "a", "a")
	_, err := NewRunner(newMemoryStore()).Run(context.Background(), asModules(mods), RunOptions{})
	if err == nil {
		t.Fatal("Expected error for duplicate module names")
	}
}

func TestRunner_PersistsEnvironment(t *testing.T) {
	store := newMemoryStore()
	env := system.Environment{Arch: system.ArchAppleSilicon, OSVersion: "15.1", BrewPrefix: "/opt/homebrew"}

	_, err := NewRunner(store, WithEnvironment(env)).
		Run(context.Background(), asModules(newFakeModules(nil, "a")), RunOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if store.session.Env.Arch != system.ArchAppleSilicon || store.session.Env.OSVersion != "15.1" {
		t.Errorf("Expected environment persisted, got %+v", store.session.Env)
	}
}

func TestRunner_RecordsHistory(t *testing.T) {
	history, err := stores.NewSQLiteStore(stores.Config{Path: filepath.Join(t.TempDir(), stores.HistoryFile)})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := history.Init(ctx); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	if err := history.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	defer history.Close()

	mods := newFakeModules(nil, "a", "b", "c")
	mods[1].spec.Fatal = true
	mods[1].run = func(context.Context, *RunContext) Outcome {
		return Failure("broken", errors.New("broken"))
	}
	store := newMemoryStore("a")

	outcome, err := NewRunner(store, WithHistory(history)).
		Run(ctx, asModules(mods), RunOptions{Resume: true, Command: "setup"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	run, err := history.GetRun(ctx, outcome.RunID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != stores.RunStatusHalted {
		t.Errorf("Expected halted run, got %s", run.Status)
	}
	if run.HaltedModule == nil || *run.HaltedModule != "b" {
		t.Errorf("Expected halted module b, got %v", run.HaltedModule)
	}

	moduleRuns, err := history.ListModuleRuns(ctx, outcome.RunID)
	if err != nil {
		t.Fatalf("ListModuleRuns failed: %v", err)
	}
	if len(moduleRuns) != 2 {
		t.Fatalf("Expected 2 module runs, got %d", len(moduleRuns))
	}
	if moduleRuns[0].Status != stores.ModuleRunSkipped || moduleRuns[1].Status != stores.ModuleRunFailure {
		t.Errorf("Unexpected module statuses: %s, %s", moduleRuns[0].Status, moduleRuns[1].Status)
	}

	events, err := history.GetEvents(ctx, &outcome.RunID, nil, 100, 0)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(events) == 0 {
		t.Error("Expected events to be recorded")
	}
}

// skipRecordFailure fails to record skipped modules.
type skipRecordFailure struct {
	stores.HistoryStore
}

func (h skipRecordFailure) RecordModuleRun(ctx context.Context, run *stores.ModuleRun) error {
	if run.Status == stores.ModuleRunSkipped {
		return errors.New("database is locked")
	}
	return h.HistoryStore.RecordModuleRun(ctx, run)
}

func TestRunner_SkipRecordErrorIsLogged(t *testing.T) {
	history, err := stores.NewSQLiteStore(stores.Config{Path: filepath.Join(t.TempDir(), stores.HistoryFile)})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := history.Init(ctx); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	if err := history.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	defer history.Close()

	var logs bytes.Buffer
	mods := newFakeModules(nil, "a", "b")
	outcome, err := NewRunner(newMemoryStore("a"),
		WithHistory(skipRecordFailure{history}),
		WithLogger(zerolog.New(&logs)),
	).Run(ctx, asModules(mods), RunOptions{Resume: true, Command: "setup"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome.Kind != PipelineCompleted {
		t.Errorf("Expected completed pipeline, got %s", outcome.Kind)
	}
	if !strings.Contains(logs.String(), "Failed to record skipped module") || !strings.Contains(logs.String(), "database is locked") {
		t.Errorf("Expected skip record failure logged, got %q", logs.String())
	}

	moduleRuns, err := history.ListModuleRuns(ctx, outcome.RunID)
	if err != nil {
		t.Fatalf("ListModuleRuns failed: %v", err)
	}
	if len(moduleRuns) != 1 || moduleRuns[0].Module != "b" {
		t.Errorf("Expected only module b recorded, got %+v", moduleRuns)
	}
}
