package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"hangulkey/internal/escalation"
	"hangulkey/internal/keycode"
)

func openTestStore(t *testing.T, maxEntries int) *Store {
	t.Helper()
	s, err := OpenWithLimit(filepath.Join(t.TempDir(), "history.db"), maxEntries)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var tick int
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return s
}

func TestOpenAndClose(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestOpenCreatesDirectory(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "subdir", "nested", "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()
}

func TestPing(t *testing.T) {
	s := openTestStore(t, 0)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestCloseNilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close on nil db should not error: %v", err)
	}
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Record(context.Background(), "enable", keycode.DefaultSource, nil); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	n, err := s.Count(context.Background())
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 operation after reopen, got %d", n)
	}
}

func TestRecordOutcomes(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()
	caps, _ := keycode.Lookup("caps-lock")

	denied := fmt.Errorf("install: %w", escalation.ErrPermissionDenied)
	stepFailure := &escalation.Error{Op: escalation.OpInstall, Step: 3, Name: "mv", Code: 3, Err: escalation.ErrPrivilegedExecutionFailed}

	records := []struct {
		kind string
		src  keycode.Descriptor
		err  error
	}{
		{"enable", keycode.DefaultSource, nil},
		{"enable", keycode.DefaultSource, denied},
		{"set-key", caps, stepFailure},
		{"disable", caps, errors.New("boom")},
	}
	for _, r := range records {
		if err := s.Record(ctx, r.kind, r.src, r.err); err != nil {
			t.Fatalf("Record(%s) failed: %v", r.kind, err)
		}
	}

	ops, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(ops) != 4 {
		t.Fatalf("expected 4 operations, got %d", len(ops))
	}

	// Newest first.
	want := []struct {
		kind    string
		outcome Outcome
		step    int
	}{
		{"disable", OutcomeFailure, 0},
		{"set-key", OutcomeFailure, 3},
		{"enable", OutcomeDenied, 0},
		{"enable", OutcomeSuccess, 0},
	}
	for i, w := range want {
		if ops[i].Kind != w.kind || ops[i].Outcome != w.outcome || ops[i].FailedStep != w.step {
			t.Errorf("op %d: expected %s/%s/%d, got %s/%s/%d",
				i, w.kind, w.outcome, w.step, ops[i].Kind, ops[i].Outcome, ops[i].FailedStep)
		}
	}

	if ops[1].SourceUsage != caps.UsageCode || ops[1].SourceName != caps.DisplayName {
		t.Errorf("source not stored: %+v", ops[1])
	}
	if ops[3].Error != "" {
		t.Errorf("successful operation should have no error, got %q", ops[3].Error)
	}
	if ops[0].Error != "boom" {
		t.Errorf("expected error text boom, got %q", ops[0].Error)
	}
	if !ops[3].Succeeded() || ops[2].Succeeded() {
		t.Error("Succeeded does not match outcome")
	}
	if !ops[0].At.After(ops[1].At) {
		t.Error("timestamps should be preserved")
	}
}

func TestRecentLimit(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		s.Record(ctx, "enable", keycode.DefaultSource, nil)
	}

	ops, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(ops) != 2 {
		t.Errorf("expected 2 operations, got %d", len(ops))
	}

	ops, err = s.Recent(ctx, 0)
	if err != nil || ops != nil {
		t.Errorf("Recent(0) should return nothing, got %v %v", ops, err)
	}
}

func TestSince(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s.Record(ctx, "enable", keycode.DefaultSource, nil)
	}
	all, _ := s.Recent(ctx, 10)

	ops, err := s.Since(ctx, all[1].At)
	if err != nil {
		t.Fatalf("Since failed: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("expected 2 operations, got %d", len(ops))
	}
	if ops[0].ID != all[1].ID {
		t.Error("Since should return oldest first")
	}
}

func TestLastSuccess(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()

	op, err := s.LastSuccess(ctx, "enable")
	if err != nil {
		t.Fatalf("LastSuccess failed: %v", err)
	}
	if op != nil {
		t.Errorf("expected nil on empty store, got %+v", op)
	}

	s.Record(ctx, "enable", keycode.DefaultSource, nil)
	s.Record(ctx, "enable", keycode.DefaultSource, errors.New("later failure"))
	s.Record(ctx, "disable", keycode.DefaultSource, nil)

	op, err = s.LastSuccess(ctx, "enable")
	if err != nil {
		t.Fatalf("LastSuccess failed: %v", err)
	}
	if op == nil || op.Outcome != OutcomeSuccess || op.Kind != "enable" {
		t.Errorf("unexpected last success: %+v", op)
	}
}

func TestRetentionBound(t *testing.T) {
	s := openTestStore(t, 3)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		if err := s.Record(ctx, "enable", keycode.DefaultSource, nil); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 retained operations, got %d", n)
	}

	ops, _ := s.Recent(ctx, 10)
	if ops[len(ops)-1].ID != 5 {
		t.Errorf("expected oldest retained ID 5, got %d", ops[len(ops)-1].ID)
	}
}

func TestPrune(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		s.Record(ctx, "disable", keycode.DefaultSource, nil)
	}
	removed, err := s.Prune(ctx, 1)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 3 {
		t.Errorf("expected 3 removed, got %d", removed)
	}
}

func TestSchema(t *testing.T) {
	s := openTestStore(t, 0)

	status, err := s.Schema()
	if err != nil {
		t.Fatalf("Schema failed: %v", err)
	}
	if status.CurrentVersion != status.LatestVersion {
		t.Errorf("expected fully migrated, got %d of %d", status.CurrentVersion, status.LatestVersion)
	}
	if len(status.Pending) != 0 {
		t.Errorf("expected no pending migrations, got %v", status.Pending)
	}
}

func TestSchemaReportsPendingOnOldDatabase(t *testing.T) {
	s := openTestStore(t, 0)
	if _, err := s.db.Exec("DELETE FROM schema_migrations WHERE version = 2"); err != nil {
		t.Fatalf("delete migration record: %v", err)
	}

	status, err := s.Schema()
	if err != nil {
		t.Fatalf("Schema failed: %v", err)
	}
	if status.CurrentVersion != 1 || len(status.Pending) != 1 || status.Pending[0].Version != 2 {
		t.Errorf("expected version 1 with migration 2 pending, got %+v", status)
	}
}
