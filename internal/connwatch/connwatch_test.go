package connwatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func fastBackoff() Backoff {
	return Backoff{
		Initial:  time.Millisecond,
		Max:      4 * time.Millisecond,
		Poll:     5 * time.Millisecond,
		Retries:  4,
		Deadline: 50 * time.Millisecond,
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

type transitions struct {
	mu  sync.Mutex
	log []bool
}

func (tr *transitions) record(_ string, ready bool, _ error) {
	tr.mu.Lock()
	tr.log = append(tr.log, ready)
	tr.mu.Unlock()
}

func (tr *transitions) snapshot() []bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]bool(nil), tr.log...)
}

func TestBackoffDefaults(t *testing.T) {
	t.Parallel()
	got := Backoff{Poll: time.Second}.withDefaults()
	if got.Poll != time.Second {
		t.Errorf("Poll = %v, want explicit 1s kept", got.Poll)
	}
	if got.Initial != 2*time.Second || got.Max != time.Minute || got.Retries != 6 {
		t.Errorf("defaults = %+v", got)
	}
}

func TestWatcher_ReadyImmediately(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var tr transitions
	m := NewManager(fastBackoff(), tr.record, slog.Default())
	w := m.Watch(ctx, "waha", func(context.Context) error { return nil })

	waitFor(t, w.Ready)
	st := w.Status()
	if st.LastError != "" || st.Since.IsZero() {
		t.Errorf("status = %+v", st)
	}
	if got := tr.snapshot(); len(got) != 1 || !got[0] {
		t.Errorf("transitions = %v, want [true]", got)
	}
	if !m.Healthy() {
		t.Error("Healthy() = false")
	}
}

func TestWatcher_DownThenRecovers(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var failing atomic.Bool
	failing.Store(true)
	probe := func(context.Context) error {
		if failing.Load() {
			return errors.New("session STOPPED")
		}
		return nil
	}

	var tr transitions
	m := NewManager(fastBackoff(), tr.record, nil)
	w := m.Watch(ctx, "waha", probe)

	waitFor(t, func() bool { return w.Status().LastError != "" })
	if m.Healthy() {
		t.Error("Healthy() = true while probe fails")
	}

	failing.Store(false)
	waitFor(t, w.Ready)

	failing.Store(true)
	waitFor(t, func() bool { return !w.Ready() })

	got := tr.snapshot()
	want := []bool{false, true, false}
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestWatcher_ProbeDeadline(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewManager(fastBackoff(), nil, nil)
	w := m.Watch(ctx, "database", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	waitFor(t, func() bool { return w.Status().LastError != "" })
	if w.Ready() {
		t.Error("hung probe reported ready")
	}
}

func TestManager_StatusAndWait(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())

	m := NewManager(fastBackoff(), nil, nil)
	a := m.Watch(ctx, "waha", func(context.Context) error { return nil })
	if again := m.Watch(ctx, "waha", func(context.Context) error { return errors.New("x") }); again != a {
		t.Error("second Watch of the same name created a new watcher")
	}
	m.Watch(ctx, "database", func(context.Context) error { return errors.New("locked") })

	waitFor(t, func() bool {
		st := m.Status()
		return st["waha"].Ready && st["database"].LastError != ""
	})
	if len(m.Status()) != 2 {
		t.Errorf("Status() = %v", m.Status())
	}

	cancel()
	done := make(chan struct{})
	go func() {
		m.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after cancel")
	}
}
