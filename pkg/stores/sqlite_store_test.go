package stores

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

// setupTestStore creates a file-backed SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), HistoryFile),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), HistoryFile),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tables := []string{"runs", "module_runs", "events", "verifications", "check_results", "facts"}
	for _, table := range tables {
		query := "SELECT COUNT(*) FROM " + table
		var count int
		if err := store.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// Running migrations twice is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Errorf("second migration failed: %v", err)
	}
}

func TestRunLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := &Run{
		Command:   "macforge",
		Status:    RunStatusRunning,
		StartedAt: time.Now(),
	}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	if run.ID == "" {
		t.Fatal("expected run ID to be generated")
	}

	halted := "dotfiles"
	msg := "clone failed"
	if err := store.FinishRun(ctx, run.ID, RunStatusHalted, &halted, &msg); err != nil {
		t.Fatalf("failed to finish run: %v", err)
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got.Status != RunStatusHalted {
		t.Errorf("Expected status %s, got %s", RunStatusHalted, got.Status)
	}
	if got.HaltedModule == nil || *got.HaltedModule != "dotfiles" {
		t.Errorf("Expected halted module dotfiles, got %v", got.HaltedModule)
	}
	if got.CompletedAt == nil {
		t.Error("Expected completed_at to be set")
	}

	if err := store.FinishRun(ctx, "missing", RunStatusCompleted, nil, nil); err == nil {
		t.Error("Expected error finishing unknown run")
	}
	if _, err := store.GetRun(ctx, "missing"); err == nil {
		t.Error("Expected error for unknown run")
	}
}

func TestModuleRunsAndEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := &Run{Command: "macforge", Status: RunStatusRunning, StartedAt: time.Now()}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	now := time.Now()
	for i, name := range []string{"preflight", "homebrew", "ssh"} {
		mr := &ModuleRun{
			RunID:       run.ID,
			Module:      name,
			Ordinal:     i + 1,
			Status:      ModuleRunSuccess,
			StartedAt:   now,
			CompletedAt: now,
		}
		if err := store.RecordModuleRun(ctx, mr); err != nil {
			t.Fatalf("failed to record module run: %v", err)
		}
		if mr.ID == 0 {
			t.Error("Expected module run ID to be assigned")
		}
	}

	results, err := store.ListModuleRuns(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to list module runs: %v", err)
	}
	if len(results) != 3 || results[0].Module != "preflight" || results[2].Module != "ssh" {
		t.Fatalf("unexpected module runs: %+v", results)
	}

	module := "homebrew"
	for _, level := range []EventLevel{EventLevelInfo, EventLevelWarning} {
		ev := &Event{RunID: &run.ID, Module: &module, Type: "module.finished", Level: level, Message: "done"}
		if err := store.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
	}

	warn := EventLevelWarning
	events, err := store.GetEvents(ctx, &run.ID, &warn, 10, 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 warning event, got %d", len(events))
	}

	all, err := store.GetEvents(ctx, nil, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Expected 2 events, got %d", len(all))
	}
}

func TestRecordVerification(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	v := &Verification{
		Categories:  "core,security",
		Total:       3,
		Passed:      2,
		Failed:      1,
		SuccessRate: 66,
		Overall:     "fail",
	}
	checks := []*CheckRecord{
		{Category: "core", Name: "homebrew", Message: "Homebrew installed", Status: "pass"},
		{Category: "core", Name: "git", Message: "git available", Status: "pass"},
		{Category: "security", Name: "filevault", Message: "FileVault disabled", Status: "fail"},
	}
	if err := store.RecordVerification(ctx, v, checks); err != nil {
		t.Fatalf("failed to record verification: %v", err)
	}

	list, err := store.ListVerifications(ctx, 5)
	if err != nil {
		t.Fatalf("failed to list verifications: %v", err)
	}
	if len(list) != 1 || list[0].SuccessRate != 66 {
		t.Fatalf("unexpected verifications: %+v", list)
	}

	records, err := store.ListCheckRecords(ctx, v.ID)
	if err != nil {
		t.Fatalf("failed to list check records: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected 3 check records, got %d", len(records))
	}
	if records[2].Name != "filevault" || records[2].Position != 2 {
		t.Errorf("unexpected order: %+v", records[2])
	}
}

func TestUpsertFact(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.UpsertFact(ctx, &Fact{Namespace: "env", Key: "arch", Value: "intel"}); err != nil {
		t.Fatalf("failed to upsert fact: %v", err)
	}
	if err := store.UpsertFact(ctx, &Fact{Namespace: "env", Key: "arch", Value: "apple_silicon"}); err != nil {
		t.Fatalf("failed to upsert fact: %v", err)
	}

	ns := "env"
	facts, err := store.ListFacts(ctx, &ns)
	if err != nil {
		t.Fatalf("failed to list facts: %v", err)
	}
	if len(facts) != 1 || facts[0].Value != "apple_silicon" {
		t.Fatalf("unexpected facts: %+v", facts)
	}
}

func TestPruneRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	old := &Run{Command: "macforge", Status: RunStatusCompleted, StartedAt: time.Now().Add(-90 * 24 * time.Hour)}
	recent := &Run{Command: "macforge", Status: RunStatusCompleted, StartedAt: time.Now()}
	for _, r := range []*Run{old, recent} {
		if err := store.CreateRun(ctx, r); err != nil {
			t.Fatalf("failed to create run: %v", err)
		}
	}

	n, err := store.PruneRuns(ctx, time.Now().Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("failed to prune runs: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 pruned run, got %d", n)
	}

	runs, err := store.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != recent.ID {
		t.Errorf("unexpected remaining runs: %+v", runs)
	}
}
