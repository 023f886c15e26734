package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/vminit/pkg/engine"
)

// setupTestJournal creates a migrated journal in a temporary directory.
func setupTestJournal(t *testing.T) *Journal {
	t.Helper()

	j, err := Open(context.Background(), JournalConfig{
		Path: filepath.Join(t.TempDir(), "journal.db"),
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournalRequiresPath(t *testing.T) {
	if _, err := NewJournal(JournalConfig{}, zerolog.Nop()); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestJournalLifecycle(t *testing.T) {
	j := setupTestJournal(t)
	ctx := context.Background()

	if err := j.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	// Migrating twice is a no-op.
	if err := j.Migrate(ctx); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}
}

func TestJournalRuns(t *testing.T) {
	j := setupTestJournal(t)
	ctx := context.Background()

	run, err := j.StartRun(ctx, "vm-1")
	if err != nil {
		t.Fatalf("failed to start run: %v", err)
	}
	if run.Status != RunStatusRunning {
		t.Errorf("expected status running, got %s", run.Status)
	}

	got, err := j.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got.VMID != "vm-1" || got.CompletedAt != nil || got.Error != nil {
		t.Errorf("unexpected run: %+v", got)
	}

	if err := j.FinishRun(ctx, run.ID, RunStatusFailed, errors.New("boom")); err != nil {
		t.Fatalf("failed to finish run: %v", err)
	}

	got, err = j.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got.Status != RunStatusFailed {
		t.Errorf("expected status failed, got %s", got.Status)
	}
	if got.Error == nil || *got.Error != "boom" {
		t.Errorf("expected error boom, got %v", got.Error)
	}
	if got.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}

	if err := j.FinishRun(ctx, "missing", RunStatusSucceeded, nil); err == nil {
		t.Error("expected error finishing unknown run")
	}
	if _, err := j.GetRun(ctx, "missing"); err == nil {
		t.Error("expected error getting unknown run")
	}
}

func TestJournalListRuns(t *testing.T) {
	j := setupTestJournal(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		run, err := j.StartRun(ctx, "vm")
		if err != nil {
			t.Fatalf("failed to start run: %v", err)
		}
		ids = append(ids, run.ID)
		time.Sleep(2 * time.Millisecond)
	}

	runs, err := j.ListRuns(ctx, 2, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != ids[2] {
		t.Errorf("expected newest run first, got %s", runs[0].ID)
	}
}

func TestJournalAttempts(t *testing.T) {
	j := setupTestJournal(t)
	ctx := context.Background()

	run, err := j.StartRun(ctx, "vm")
	if err != nil {
		t.Fatalf("failed to start run: %v", err)
	}

	obs := j.Observer(ctx, run.ID)
	obs.BackendAttempt(engine.CapabilityUser, "useradd", 15*time.Millisecond, errors.New("exit 9"))
	obs.BackendAttempt(engine.CapabilityUser, "adduser", 5*time.Millisecond, nil)

	attempts, err := j.ListAttempts(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to list attempts: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(attempts))
	}
	if attempts[0].Backend != "useradd" || attempts[0].Succeeded || attempts[0].Error == nil {
		t.Errorf("unexpected first attempt: %+v", attempts[0])
	}
	if attempts[0].Duration != 15 {
		t.Errorf("expected 15ms, got %d", attempts[0].Duration)
	}
	if attempts[1].Backend != "adduser" || !attempts[1].Succeeded || attempts[1].Error != nil {
		t.Errorf("unexpected second attempt: %+v", attempts[1])
	}
}
