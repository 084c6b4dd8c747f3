package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/camppoia/leozera/internal/database"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Open("sqlite3", filepath.Join(t.TempDir(), "scheduler_test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestGetRun_NotFound(t *testing.T) {
	s := newTestStore(t)

	run, err := s.GetRun(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("GetRun error: %v", err)
	}
	if run != nil {
		t.Errorf("expected nil run, got %+v", run)
	}
}

func TestCreateAndFinishRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 1, 15, 13, 0, 0, 0, time.UTC)

	run := &Run{Job: "appointments", Trigger: TriggerInterval, StartedAt: started, Status: StatusRunning}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if run.ID == "" {
		t.Fatal("CreateRun did not assign an id")
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil || got == nil {
		t.Fatalf("GetRun = %v, %v", got, err)
	}
	if got.Status != StatusRunning || got.CompletedAt != nil {
		t.Errorf("running run = %+v", got)
	}

	done := started.Add(1500 * time.Millisecond)
	run.CompletedAt = &done
	run.Duration = 1500 * time.Millisecond
	run.Status = StatusCompleted
	run.Result = "scanned=3 sent=1"
	if err := s.FinishRun(ctx, run); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	got, _ = s.GetRun(ctx, run.ID)
	if got.Status != StatusCompleted || got.Result != "scanned=3 sent=1" {
		t.Errorf("finished run = %+v", got)
	}
	if got.Duration != 1500*time.Millisecond || got.DurationMillis() != 1500 {
		t.Errorf("duration = %s", got.Duration)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(done.Truncate(time.Second)) {
		t.Errorf("completed_at = %v", got.CompletedAt)
	}
	if !got.StartedAt.Equal(started) || got.Trigger != TriggerInterval {
		t.Errorf("started_at %v trigger %q", got.StartedAt, got.Trigger)
	}
}

func TestListRuns_NewestFirstAndFiltered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 15, 13, 0, 0, 0, time.UTC)

	for i, job := range []string{"appointments", "trial_expiry", "appointments"} {
		r := &Run{Job: job, Trigger: TriggerInterval, StartedAt: base.Add(time.Duration(i) * time.Minute), Status: StatusCompleted}
		if err := s.CreateRun(ctx, r); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}

	all, err := s.ListRuns(ctx, "", 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(all) != 3 || !all[0].StartedAt.After(all[1].StartedAt) {
		t.Fatalf("ListRuns(all) = %d runs, not newest first", len(all))
	}

	appts, _ := s.ListRuns(ctx, "appointments", 0)
	if len(appts) != 2 {
		t.Errorf("ListRuns(appointments) = %d runs, want 2", len(appts))
	}
	one, _ := s.ListRuns(ctx, "", 1)
	if len(one) != 1 || one[0].Job != "appointments" {
		t.Errorf("ListRuns(limit 1) = %+v", one)
	}
}

func TestInterruptDangling(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 15, 13, 0, 0, 0, time.UTC)

	dangling := &Run{Job: "appointments", Trigger: TriggerInterval, StartedAt: now, Status: StatusRunning}
	finished := &Run{Job: "appointments", Trigger: TriggerInterval, StartedAt: now, Status: StatusCompleted}
	s.CreateRun(ctx, dangling)
	s.CreateRun(ctx, finished)

	n, err := s.InterruptDangling(ctx, now.Add(time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("InterruptDangling = %d, %v; want 1", n, err)
	}
	got, _ := s.GetRun(ctx, dangling.ID)
	if got.Status != StatusInterrupted || got.CompletedAt == nil {
		t.Errorf("dangling run = %+v", got)
	}
	got, _ = s.GetRun(ctx, finished.ID)
	if got.Status != StatusCompleted {
		t.Errorf("finished run status changed to %q", got.Status)
	}
}

func TestNextRun(t *testing.T) {
	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		after time.Time
		every time.Duration
		want  time.Time
	}{
		{"before base", base.Add(-time.Minute), 5 * time.Minute, base},
		{"at base", base, 5 * time.Minute, base.Add(5 * time.Minute)},
		{"mid interval", base.Add(7 * time.Minute), 5 * time.Minute, base.Add(10 * time.Minute)},
		{"on a tick", base.Add(10 * time.Minute), 5 * time.Minute, base.Add(15 * time.Minute)},
		{"no interval", base, 0, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextRun(base, tt.after, tt.every); !got.Equal(tt.want) {
				t.Errorf("NextRun = %v, want %v", got, tt.want)
			}
		})
	}
}
