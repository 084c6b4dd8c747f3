package appointments

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/camppoia/leozera/internal/database"
)

var saoPaulo = time.FixedZone("BRT", -3*3600)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Open("sqlite3", filepath.Join(t.TempDir(), "appointments.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(db, saoPaulo)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, saoPaulo)
}

func create(t *testing.T, s *Store, a *Appointment) *Appointment {
	t.Helper()
	if a.UserID == "" {
		a.UserID = "u1"
	}
	if err := s.Create(context.Background(), a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return a
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	a := create(t, s, &Appointment{Date: date(2026, 1, 15), StartTime: "14:00", EndTime: "16:00", Title: "Dentista"})

	got, err := s.Get(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil")
	}
	if got.Status != StatusPending {
		t.Errorf("status = %q, want %q", got.Status, StatusPending)
	}
	if got.Reminder12hSent || got.Reminder1hSent || got.ConfirmationSent || got.ConfirmationPending || got.UserConfirmed {
		t.Errorf("new appointment has a flag set: %+v", got)
	}
	if !got.Date.Equal(date(2026, 1, 15)) {
		t.Errorf("date = %v, want 2026-01-15", got.Date)
	}

	start, err := got.StartsAt()
	if err != nil {
		t.Fatalf("StartsAt: %v", err)
	}
	if want := time.Date(2026, 1, 15, 17, 0, 0, 0, time.UTC); !start.Equal(want) {
		t.Errorf("StartsAt = %v, want %v", start.UTC(), want)
	}
}

func TestFindBySlot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := create(t, s, &Appointment{Date: date(2026, 1, 15), StartTime: "14:00", EndTime: "16:00"})

	got, _ := s.FindBySlot(ctx, "u1", date(2026, 1, 15), "14:00", "16:00")
	if got == nil || got.ID != a.ID {
		t.Errorf("exact slot lookup = %v, want %s", got, a.ID)
	}
	got, _ = s.FindBySlot(ctx, "u1", date(2026, 1, 15), "14:00", "")
	if got == nil || got.ID != a.ID {
		t.Errorf("start-only lookup = %v, want %s", got, a.ID)
	}
	got, _ = s.FindBySlot(ctx, "u1", date(2026, 1, 15), "14:00", "15:00")
	if got != nil {
		t.Errorf("wrong end lookup = %v, want nil", got.ID)
	}
	got, _ = s.FindBySlot(ctx, "u2", date(2026, 1, 15), "14:00", "")
	if got != nil {
		t.Error("slot lookup leaked another user's appointment")
	}
}

// The slot check is advisory: Create itself never rejects a duplicate.
func TestCreate_DuplicateSlotNotEnforced(t *testing.T) {
	s := newTestStore(t)
	create(t, s, &Appointment{Date: date(2026, 1, 15), StartTime: "14:00", EndTime: "15:00"})
	create(t, s, &Appointment{Date: date(2026, 1, 15), StartTime: "14:00", EndTime: "15:00"})

	list, _ := s.ListRange(context.Background(), "u1", date(2026, 1, 15), date(2026, 1, 15))
	if len(list) != 2 {
		t.Errorf("appointments in slot = %d, want 2", len(list))
	}
}

func TestListRange_Ordered(t *testing.T) {
	s := newTestStore(t)
	create(t, s, &Appointment{Date: date(2026, 1, 16), StartTime: "09:00", EndTime: "10:00", Title: "c"})
	create(t, s, &Appointment{Date: date(2026, 1, 15), StartTime: "14:00", EndTime: "15:00", Title: "b"})
	create(t, s, &Appointment{Date: date(2026, 1, 15), StartTime: "08:00", EndTime: "09:00", Title: "a"})
	create(t, s, &Appointment{Date: date(2026, 1, 20), StartTime: "08:00", EndTime: "09:00", Title: "out"})

	list, err := s.ListRange(context.Background(), "u1", date(2026, 1, 15), date(2026, 1, 16))
	if err != nil {
		t.Fatalf("ListRange: %v", err)
	}
	var titles string
	for _, a := range list {
		titles += a.Title
	}
	if titles != "abc" {
		t.Errorf("order = %q, want %q", titles, "abc")
	}
}

func TestSetFlagIfUnset_OnlyOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := create(t, s, &Appointment{Date: date(2026, 1, 15), StartTime: "14:00", EndTime: "15:00"})

	first, err := s.SetFlagIfUnset(ctx, a.ID, FlagReminder12h)
	if err != nil || !first {
		t.Fatalf("first SetFlagIfUnset = %v, %v; want true, nil", first, err)
	}
	second, err := s.SetFlagIfUnset(ctx, a.ID, FlagReminder12h)
	if err != nil || second {
		t.Errorf("second SetFlagIfUnset = %v, %v; want false, nil", second, err)
	}

	if _, err := s.SetFlagIfUnset(ctx, a.ID, Flag("status")); err == nil {
		t.Error("SetFlagIfUnset accepted an arbitrary column")
	}
}

func TestSetFlagIfUnset_Concurrent(t *testing.T) {
	s := newTestStore(t)
	a := create(t, s, &Appointment{Date: date(2026, 1, 15), StartTime: "14:00", EndTime: "15:00"})

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.SetFlagIfUnset(context.Background(), a.ID, FlagReminder1h)
			if err != nil {
				t.Errorf("SetFlagIfUnset: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("flag flipped by %d callers, want exactly 1", wins.Load())
	}
}

func TestConfirmationFlow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := create(t, s, &Appointment{Date: date(2026, 1, 15), StartTime: "14:00", EndTime: "15:00"})

	ok, err := s.RequestConfirmation(ctx, a.ID, "a1b2c3")
	if err != nil || !ok {
		t.Fatalf("RequestConfirmation = %v, %v", ok, err)
	}
	ok, _ = s.RequestConfirmation(ctx, a.ID, "ffffff")
	if ok {
		t.Fatal("second RequestConfirmation should not overwrite the code")
	}

	if got, _ := s.FindPendingByCode(ctx, "u2", "a1b2c3"); got != nil {
		t.Error("FindPendingByCode matched another user's code")
	}
	got, _ := s.FindPendingByCode(ctx, "u1", "a1b2c3")
	if got == nil {
		t.Fatal("FindPendingByCode returned nil")
	}

	ok, err = s.Confirm(ctx, got.ID)
	if err != nil || !ok {
		t.Fatalf("Confirm = %v, %v", ok, err)
	}
	ok, _ = s.Confirm(ctx, got.ID)
	if ok {
		t.Error("second Confirm should not apply")
	}

	after, _ := s.Get(ctx, a.ID)
	if after.Status != StatusConfirmed || !after.UserConfirmed || after.ConfirmationPending || after.ConfirmedAt == nil {
		t.Errorf("after confirm: status=%q confirmed=%v pending=%v at=%v",
			after.Status, after.UserConfirmed, after.ConfirmationPending, after.ConfirmedAt)
	}
	if got, _ := s.FindPendingByCode(ctx, "u1", "a1b2c3"); got != nil {
		t.Error("code still pending after confirmation")
	}
}

func TestCancelPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := create(t, s, &Appointment{Date: date(2026, 1, 15), StartTime: "14:00", EndTime: "15:00"})

	if ok, _ := s.CancelPending(ctx, a.ID); ok {
		t.Fatal("CancelPending applied without a pending confirmation")
	}
	s.RequestConfirmation(ctx, a.ID, "abc123")
	if ok, err := s.CancelPending(ctx, a.ID); err != nil || !ok {
		t.Fatalf("CancelPending = %v, %v", ok, err)
	}
	got, _ := s.Get(ctx, a.ID)
	if got.Status != StatusCancelled || got.ConfirmationPending {
		t.Errorf("after cancel: status=%q pending=%v", got.Status, got.ConfirmationPending)
	}
}

func TestCandidates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	today := date(2026, 1, 15)

	pending := create(t, s, &Appointment{Date: today, StartTime: "20:00", EndTime: "21:00"})
	past := create(t, s, &Appointment{Date: date(2026, 1, 10), StartTime: "20:00", EndTime: "21:00"})
	cancelled := create(t, s, &Appointment{Date: today, StartTime: "21:00", EndTime: "22:00"})
	s.RequestConfirmation(ctx, cancelled.ID, "x")
	s.CancelPending(ctx, cancelled.ID)
	confirmed := create(t, s, &Appointment{Date: today, StartTime: "22:00", EndTime: "23:00"})
	s.RequestConfirmation(ctx, confirmed.ID, "y")
	s.Confirm(ctx, confirmed.ID)

	twelve, err := s.ListTwelveHourCandidates(ctx, today)
	if err != nil {
		t.Fatal(err)
	}
	ids := map[string]bool{}
	for _, a := range twelve {
		ids[a.ID] = true
	}
	if !ids[pending.ID] || !ids[confirmed.ID] || ids[cancelled.ID] || ids[past.ID] {
		t.Errorf("12h candidates = %v", ids)
	}

	one, _ := s.ListOneHourCandidates(ctx, today)
	if len(one) != 1 || one[0].ID != confirmed.ID {
		t.Errorf("1h candidates = %d, want only the confirmed appointment", len(one))
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := create(t, s, &Appointment{Date: date(2026, 1, 15), StartTime: "14:00", EndTime: "15:00"})

	if err := s.Delete(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.Get(ctx, a.ID); got != nil {
		t.Error("appointment still present after Delete")
	}
	if err := s.Delete(ctx, a.ID); err != nil {
		t.Errorf("deleting a missing id: %v", err)
	}
}

func TestDisplayTitle(t *testing.T) {
	tests := []struct {
		a    Appointment
		want string
	}{
		{Appointment{Title: "T", Description: "D"}, "T"},
		{Appointment{Description: "D"}, "D"},
		{Appointment{}, "Compromisso"},
	}
	for _, tt := range tests {
		if got := tt.a.DisplayTitle(); got != tt.want {
			t.Errorf("DisplayTitle() = %q, want %q", got, tt.want)
		}
	}
}

// The slot check in the create tool is a separate read before the
// insert; the table itself accepts two appointments in one slot.
func TestCreate_SameSlotNotConstrained(t *testing.T) {
	s := newTestStore(t)
	day := date(2026, 2, 3)
	create(t, s, &Appointment{Date: day, StartTime: "09:00", EndTime: "10:00", Title: "Contador"})
	create(t, s, &Appointment{Date: day, StartTime: "09:00", EndTime: "10:00", Title: "Banco"})

	got, err := s.ListRange(context.Background(), "u1", day, day)
	if err != nil {
		t.Fatalf("ListRange: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("appointments in slot = %d, want 2", len(got))
	}
	if a, err := s.FindBySlot(context.Background(), "u1", day, "09:00", ""); err != nil || a == nil {
		t.Errorf("FindBySlot = %v, %v", a, err)
	}
}
