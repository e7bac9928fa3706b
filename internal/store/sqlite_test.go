package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"clawconsole/internal/domain"
	"clawconsole/internal/shell"
)

var _ shell.Sink = (*SQLiteStore)(nil)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "audit.db"), testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunMigrations_Idempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if err := RunMigrations(db, testLogger()); err != nil {
		t.Fatalf("first migration failed: %v", err)
	}
	if err := RunMigrations(db, testLogger()); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}

	version, err := GetSchemaVersion(db)
	if err != nil {
		t.Fatal(err)
	}
	if version != schemaVersion {
		t.Errorf("expected schema version %d, got %d", schemaVersion, version)
	}

	for _, table := range []string{"command_history", "shell_audit", "schema_version"} {
		var name string
		if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name); err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestGetSchemaVersion_NoTable(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "empty.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	version, err := GetSchemaVersion(db)
	if err != nil {
		t.Fatal(err)
	}
	if version != 0 {
		t.Errorf("expected version 0 for empty db, got %d", version)
	}
}

func TestSplitSQL(t *testing.T) {
	got := splitSQL("CREATE TABLE a (x INT);\n\n  CREATE INDEX i ON a(x);  ;")
	if len(got) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(got), got)
	}
	if got[1] != "CREATE INDEX i ON a(x)" {
		t.Errorf("statement not trimmed: %q", got[1])
	}
}

func TestRecordResult_RoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	code := 0
	want := domain.CommandResult{
		ID:         "cmd-1",
		Command:    "ls",
		Args:       []string{"-la", "with space"},
		Status:     domain.StatusCompleted,
		ExitCode:   &code,
		Stdout:     "total 0\n",
		DurationMs: 12,
		Timestamp:  time.Now().UTC(),
		Truncated:  true,
	}
	if err := s.RecordResult(ctx, want); err != nil {
		t.Fatalf("RecordResult: %v", err)
	}

	page, err := s.ListHistory(ctx, 1, 10)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if page.Total != 1 || len(page.Items) != 1 {
		t.Fatalf("expected one row, got %+v", page)
	}
	got := page.Items[0]
	if got.ID != want.ID || got.Status != want.Status || got.Stdout != want.Stdout {
		t.Errorf("row mismatch: %+v", got)
	}
	if len(got.Args) != 2 || got.Args[1] != "with space" {
		t.Errorf("args: %v", got.Args)
	}
	if got.ExitCode == nil || *got.ExitCode != 0 {
		t.Errorf("exit code: %v", got.ExitCode)
	}
	if !got.Truncated || got.Killed || got.TimedOut {
		t.Errorf("flags: truncated=%v killed=%v timedOut=%v", got.Truncated, got.Killed, got.TimedOut)
	}
}

func TestRecordResult_NilExitCode(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	err := s.RecordResult(ctx, domain.CommandResult{
		ID: "blocked-1", Command: "sudo", Status: domain.StatusFailed, Stderr: "blocked",
	})
	if err != nil {
		t.Fatal(err)
	}
	page, _ := s.ListHistory(ctx, 1, 10)
	if page.Items[0].ExitCode != nil {
		t.Error("expected nil exit code to survive storage")
	}
	if page.Items[0].Args == nil || len(page.Items[0].Args) != 0 {
		t.Errorf("nil args should be stored as an empty list, got %#v", page.Items[0].Args)
	}
}

func TestListHistory_NewestFirstPaginated(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		s.RecordResult(ctx, domain.CommandResult{
			ID:        fmt.Sprintf("cmd-%d", i),
			Command:   "echo",
			Status:    domain.StatusCompleted,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}

	page, err := s.ListHistory(ctx, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 5 || page.TotalPages != 3 {
		t.Errorf("page meta: %+v", page)
	}
	if len(page.Items) != 2 || page.Items[0].ID != "cmd-2" || page.Items[1].ID != "cmd-1" {
		t.Errorf("page 2 items: %+v", page.Items)
	}
}

func TestList_HugePageNumber(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	s.RecordResult(ctx, domain.CommandResult{ID: "only", Command: "ls", Status: domain.StatusCompleted, Timestamp: time.Now().UTC()})
	s.RecordAudit(ctx, domain.ShellAuditEntry{ID: "a1", Command: "ls", Outcome: domain.OutcomeAllowed, Timestamp: time.Now().UTC()})

	hist, err := s.ListHistory(ctx, math.MaxInt, 20)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(hist.Items) != 0 || hist.Total != 1 {
		t.Errorf("history page: %+v", hist)
	}
	audit, err := s.ListAudit(ctx, "", math.MaxInt, 20)
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(audit.Items) != 0 || audit.Total != 1 {
		t.Errorf("audit page: %+v", audit)
	}
}

func TestListAudit_FilterByOutcome(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	dur := int64(40)
	code := 1
	entries := []domain.ShellAuditEntry{
		{ID: "a1", Command: "rm", Args: []string{"-rf", "/"}, Outcome: domain.OutcomeBlocked, Reason: "Command contains blocked pattern: rm -rf"},
		{ID: "a2", Command: "ls", Outcome: domain.OutcomeAllowed, DurationMs: &dur},
		{ID: "a3", Command: "false", Outcome: domain.OutcomeFailed, ExitCode: &code, DurationMs: &dur},
		{ID: "a4", Command: "sudo", Outcome: domain.OutcomeBlocked},
	}
	for i, e := range entries {
		e.Timestamp = time.Now().UTC().Add(time.Duration(i) * time.Second)
		if err := s.RecordAudit(ctx, e); err != nil {
			t.Fatalf("RecordAudit: %v", err)
		}
	}

	all, err := s.ListAudit(ctx, "", 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if all.Total != 4 || all.Items[0].ID != "a4" {
		t.Errorf("all: total=%d first=%s", all.Total, all.Items[0].ID)
	}

	blocked, err := s.ListAudit(ctx, domain.OutcomeBlocked, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if blocked.Total != 2 {
		t.Fatalf("blocked total: got %d", blocked.Total)
	}
	if blocked.Items[1].Reason == "" || len(blocked.Items[1].Args) != 2 {
		t.Errorf("blocked entry lost fields: %+v", blocked.Items[1])
	}

	failed, _ := s.ListAudit(ctx, domain.OutcomeFailed, 1, 10)
	if failed.Total != 1 {
		t.Fatalf("failed total: got %d", failed.Total)
	}
	f := failed.Items[0]
	if f.ExitCode == nil || *f.ExitCode != 1 || f.DurationMs == nil || *f.DurationMs != 40 {
		t.Errorf("failed entry: %+v", f)
	}
}

func TestPrune_RemovesOldRows(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	recent := time.Now().UTC()
	s.RecordResult(ctx, domain.CommandResult{ID: "old", Command: "ls", Status: domain.StatusCompleted, Timestamp: old})
	s.RecordResult(ctx, domain.CommandResult{ID: "new", Command: "ls", Status: domain.StatusCompleted, Timestamp: recent})
	s.RecordAudit(ctx, domain.ShellAuditEntry{ID: "old", Command: "ls", Outcome: domain.OutcomeAllowed, Timestamp: old})

	removed, err := s.Prune(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Errorf("removed: got %d, want 2", removed)
	}
	page, _ := s.ListHistory(ctx, 1, 10)
	if page.Total != 1 || page.Items[0].ID != "new" {
		t.Errorf("remaining history: %+v", page.Items)
	}
}

func TestNormalizePage(t *testing.T) {
	if p, l := normalizePage(0, 0); p != 1 || l != defaultPageLimit {
		t.Errorf("defaults: page=%d limit=%d", p, l)
	}
	if _, l := normalizePage(1, 10_000); l != maxPageLimit {
		t.Errorf("limit should clamp to %d, got %d", maxPageLimit, l)
	}
}
