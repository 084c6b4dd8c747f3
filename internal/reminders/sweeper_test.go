package reminders

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/camppoia/leozera/internal/appointments"
	"github.com/camppoia/leozera/internal/database"
	"github.com/camppoia/leozera/internal/events"
	"github.com/camppoia/leozera/internal/users"
)

var brt = time.FixedZone("BRT", -3*3600)

// now is 2026-01-15 10:00 in São Paulo.
var now = time.Date(2026, 1, 15, 10, 0, 0, 0, brt)

type sent struct {
	phone string
	text  string
}

type fakeSender struct {
	mu   sync.Mutex
	msgs []sent
	err  error
}

func (f *fakeSender) Send(_ context.Context, phone, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, sent{phone, text})
	return nil
}

func (f *fakeSender) sent() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.msgs...)
}

type fixture struct {
	appts  *appointments.Store
	users  *users.Store
	sender *fakeSender
	sw     *Sweeper
	bus    *events.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open("sqlite3", filepath.Join(t.TempDir(), "leozera.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	appts, err := appointments.NewStore(db, brt)
	if err != nil {
		t.Fatalf("appointments store: %v", err)
	}
	us, err := users.NewStore(db)
	if err != nil {
		t.Fatalf("users store: %v", err)
	}
	f := &fixture{appts: appts, users: us, sender: &fakeSender{}, bus: events.New()}
	f.sw = NewSweeper(appts, us, f.sender, Options{
		PlansLink: "https://leozera.example/planos",
		Events:    f.bus,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:       func() time.Time { return now },
	})
	return f
}

func (f *fixture) user(t *testing.T, u *users.User) *users.User {
	t.Helper()
	if err := f.users.Create(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func (f *fixture) appointment(t *testing.T, userID string, day time.Time, start string) *appointments.Appointment {
	t.Helper()
	a := &appointments.Appointment{UserID: userID, Date: day, StartTime: start, EndTime: "", Title: "Dentista"}
	if err := f.appts.Create(context.Background(), a); err != nil {
		t.Fatalf("create appointment: %v", err)
	}
	return a
}

// confirm walks a through the confirmation flow so it counts as confirmed.
func (f *fixture) confirm(t *testing.T, a *appointments.Appointment) {
	t.Helper()
	ctx := context.Background()
	if ok, err := f.appts.RequestConfirmation(ctx, a.ID, "abc123"); err != nil || !ok {
		t.Fatalf("RequestConfirmation = %v, %v", ok, err)
	}
	if ok, err := f.appts.Confirm(ctx, a.ID); err != nil || !ok {
		t.Fatalf("Confirm = %v, %v", ok, err)
	}
}

func (f *fixture) get(t *testing.T, id string) *appointments.Appointment {
	t.Helper()
	a, err := f.appts.Get(context.Background(), id)
	if err != nil || a == nil {
		t.Fatalf("Get(%s) = %v, %v", id, a, err)
	}
	return a
}

func day(d int) time.Time { return time.Date(2026, 1, d, 0, 0, 0, 0, brt) }

func TestSweepTwelveHour_ConfirmedSendsReminderOnce(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, &users.User{Name: "Ana", Phone: "11987654321"})
	a := f.appointment(t, u.ID, day(15), "18:30")
	f.confirm(t, a)

	r, err := f.sw.SweepTwelveHour(context.Background())
	if err != nil {
		t.Fatalf("SweepTwelveHour: %v", err)
	}
	if r.Sent != 1 || r.Failed != 0 {
		t.Errorf("report = %+v, want 1 sent", r)
	}
	msgs := f.sender.sent()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(msgs))
	}
	want := "🔔 Lembrete!\nEm 12 horas você tem o compromisso:\n\n📅 Dentista\n🕒 15/01/2026 às 18:30"
	if msgs[0].phone != "11987654321" || msgs[0].text != want {
		t.Errorf("message = %+v", msgs[0])
	}
	if !f.get(t, a.ID).Reminder12hSent {
		t.Error("12h flag not set")
	}

	// A second pass finds nothing left to send.
	r, _ = f.sw.SweepTwelveHour(context.Background())
	if r.Sent != 0 || len(f.sender.sent()) != 1 {
		t.Errorf("second sweep sent again: %+v", r)
	}
}

func TestSweepTwelveHour_UnconfirmedAsksForConfirmation(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, &users.User{Name: "Ana", Phone: "11987654321"})
	a := f.appointment(t, u.ID, day(15), "14:00")

	r, err := f.sw.SweepTwelveHour(context.Background())
	if err != nil {
		t.Fatalf("SweepTwelveHour: %v", err)
	}
	if r.Sent != 1 {
		t.Fatalf("report = %+v, want 1 sent", r)
	}

	got := f.get(t, a.ID)
	if !got.ConfirmationSent || !got.ConfirmationPending {
		t.Errorf("confirmation flags = sent %v pending %v", got.ConfirmationSent, got.ConfirmationPending)
	}
	if len(got.ConfirmationCode) != codeLength {
		t.Errorf("code = %q, want %d hex digits", got.ConfirmationCode, codeLength)
	}
	text := f.sender.sent()[0].text
	for _, want := range []string{
		"Você confirma este compromisso?",
		"🕒 15/01/2026 às 14:00",
		"CONFIRMAR " + got.ConfirmationCode,
		"CANCELAR " + got.ConfirmationCode,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("confirmation text missing %q:\n%s", want, text)
		}
	}
	if got.Reminder12hSent {
		t.Error("12h flag set for an unconfirmed appointment")
	}

	pending, err := f.appts.FindPendingByCode(context.Background(), u.ID, got.ConfirmationCode)
	if err != nil || pending == nil || pending.ID != a.ID {
		t.Errorf("FindPendingByCode = %v, %v", pending, err)
	}
}

func TestSweepTwelveHour_OutsideWindow(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, &users.User{Name: "Ana", Phone: "11987654321"})
	past := f.appointment(t, u.ID, day(15), "09:00")
	far := f.appointment(t, u.ID, day(16), "08:00")
	f.confirm(t, past)
	f.confirm(t, far)

	r, err := f.sw.SweepTwelveHour(context.Background())
	if err != nil {
		t.Fatalf("SweepTwelveHour: %v", err)
	}
	if r.Scanned != 2 || r.Skipped != 2 || r.Sent != 0 {
		t.Errorf("report = %+v, want 2 scanned 2 skipped", r)
	}
	if f.get(t, past.ID).Reminder12hSent || f.get(t, far.ID).Reminder12hSent {
		t.Error("flag set outside the window")
	}
}

func TestSweepTwelveHour_MalformedStartSkipped(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, &users.User{Name: "Ana", Phone: "11987654321"})
	f.appointment(t, u.ID, day(15), "25h")

	r, err := f.sw.SweepTwelveHour(context.Background())
	if err != nil {
		t.Fatalf("SweepTwelveHour: %v", err)
	}
	if r.Skipped != 1 || len(f.sender.sent()) != 0 {
		t.Errorf("report = %+v", r)
	}
}

func TestSweepOneHour(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, &users.User{Name: "Ana", Phone: "11987654321"})
	soon := f.appointment(t, u.ID, day(15), "10:45")
	later := f.appointment(t, u.ID, day(15), "11:30")
	unconfirmed := f.appointment(t, u.ID, day(15), "10:30")
	f.confirm(t, soon)
	f.confirm(t, later)

	r, err := f.sw.SweepOneHour(context.Background())
	if err != nil {
		t.Fatalf("SweepOneHour: %v", err)
	}
	if r.Sent != 1 || r.Scanned != 2 {
		t.Errorf("report = %+v, want 2 scanned 1 sent", r)
	}
	want := "🔔 Lembrete!\nSeu compromisso começa em 1 hora:\n\n📅 Dentista\n🕒 10:45"
	if msgs := f.sender.sent(); len(msgs) != 1 || msgs[0].text != want {
		t.Errorf("sent = %+v", msgs)
	}
	if !f.get(t, soon.ID).Reminder1hSent || f.get(t, later.ID).Reminder1hSent || f.get(t, unconfirmed.ID).Reminder1hSent {
		t.Error("1h flags wrong")
	}
}

func TestSweepAppointments_Combined(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, &users.User{Name: "Ana", Phone: "11987654321"})
	a := f.appointment(t, u.ID, day(15), "10:30")
	f.confirm(t, a)

	r, err := f.sw.SweepAppointments(context.Background())
	if err != nil {
		t.Fatalf("SweepAppointments: %v", err)
	}
	// Both the 12h and the 1h reminder are due for an appointment 30
	// minutes out.
	if r.Sent != 2 {
		t.Errorf("report = %+v, want 2 sent", r)
	}
}

func TestSweep_ConcurrentRunsSendOnce(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, &users.User{Name: "Ana", Phone: "11987654321"})
	a := f.appointment(t, u.ID, day(15), "16:00")
	f.confirm(t, a)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.sw.SweepTwelveHour(context.Background()); err != nil {
				t.Errorf("SweepTwelveHour: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := len(f.sender.sent()); n != 1 {
		t.Errorf("sent %d reminders across concurrent sweeps, want 1", n)
	}
}

func TestSweep_SendFailureNotRetried(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, &users.User{Name: "Ana", Phone: "11987654321"})
	a := f.appointment(t, u.ID, day(15), "16:00")
	f.confirm(t, a)

	f.sender.err = errors.New("gateway down")
	r, err := f.sw.SweepTwelveHour(context.Background())
	if err != nil {
		t.Fatalf("SweepTwelveHour: %v", err)
	}
	if r.Failed != 1 {
		t.Errorf("report = %+v, want 1 failed", r)
	}
	if !f.get(t, a.ID).Reminder12hSent {
		t.Error("flag cleared after a failed send")
	}

	f.sender.err = nil
	f.sw.SweepTwelveHour(context.Background())
	if n := len(f.sender.sent()); n != 0 {
		t.Errorf("failed reminder resent %d times", n)
	}
}

func TestSweep_NoPhoneLeavesFlagUnset(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, &users.User{Name: "Sem Telefone"})
	a := f.appointment(t, u.ID, day(15), "16:00")
	f.confirm(t, a)

	r, err := f.sw.SweepTwelveHour(context.Background())
	if err != nil {
		t.Fatalf("SweepTwelveHour: %v", err)
	}
	if r.Skipped != 1 || r.Sent != 0 {
		t.Errorf("report = %+v", r)
	}
	if f.get(t, a.ID).Reminder12hSent {
		t.Error("flag set without a phone to send to")
	}
}

func TestSweep_PublishesEvents(t *testing.T) {
	f := newFixture(t)
	ch := f.bus.Subscribe(16)
	defer f.bus.Unsubscribe(ch)

	u := f.user(t, &users.User{Name: "Ana", Phone: "11987654321"})
	a := f.appointment(t, u.ID, day(15), "16:00")
	f.confirm(t, a)
	f.sw.SweepTwelveHour(context.Background())

	var kinds []string
	for len(ch) > 0 {
		ev := <-ch
		if ev.Source != events.SourceReminders {
			t.Errorf("source = %q", ev.Source)
		}
		kinds = append(kinds, ev.Kind)
	}
	if len(kinds) != 2 || kinds[0] != events.KindReminderSent || kinds[1] != events.KindSweepComplete {
		t.Errorf("kinds = %v", kinds)
	}
}

func TestSweepTrialExpiry(t *testing.T) {
	f := newFixture(t)
	yesterday := now.Add(-24 * time.Hour)
	tomorrow := now.Add(24 * time.Hour)
	expired := f.user(t, &users.User{Name: "Ana", Phone: "11987654321", Plan: users.PlanTrial, PlanExpiresAt: &yesterday})
	f.user(t, &users.User{Name: "Bia", Phone: "11911112222", Plan: users.PlanTrial, PlanExpiresAt: &tomorrow})

	r, err := f.sw.SweepTrialExpiry(context.Background())
	if err != nil {
		t.Fatalf("SweepTrialExpiry: %v", err)
	}
	if r.Scanned != 1 || r.Downgraded != 1 || r.Sent != 1 {
		t.Errorf("report = %+v", r)
	}
	msgs := f.sender.sent()
	if len(msgs) != 1 || msgs[0].phone != "11987654321" || !strings.Contains(msgs[0].text, "https://leozera.example/planos") {
		t.Errorf("sent = %+v", msgs)
	}

	got, _ := f.users.FindByID(context.Background(), expired.ID)
	if got.Plan != users.PlanNone || !got.TrialNotified || got.PaymentStatus != users.PaymentExpired {
		t.Errorf("user after expiry = %+v", got)
	}

	r, _ = f.sw.SweepTrialExpiry(context.Background())
	if r.Scanned != 0 || len(f.sender.sent()) != 1 {
		t.Errorf("second sweep = %+v", r)
	}
}

func TestSweepTrialExpiry_DowngradesWhenSendFails(t *testing.T) {
	f := newFixture(t)
	yesterday := now.Add(-24 * time.Hour)
	u := f.user(t, &users.User{Name: "Ana", Phone: "11987654321", Plan: users.PlanTrial, PlanExpiresAt: &yesterday})
	f.sender.err = errors.New("gateway down")

	r, err := f.sw.SweepTrialExpiry(context.Background())
	if err != nil {
		t.Fatalf("SweepTrialExpiry: %v", err)
	}
	if r.Downgraded != 1 || r.Failed != 1 {
		t.Errorf("report = %+v", r)
	}
	got, _ := f.users.FindByID(context.Background(), u.ID)
	if got.Plan != users.PlanNone || !got.TrialNotified {
		t.Errorf("user = %+v", got)
	}
}

func TestSweepPlanExpiry_Silent(t *testing.T) {
	f := newFixture(t)
	lastWeek := now.Add(-7 * 24 * time.Hour)
	nextMonth := now.Add(30 * 24 * time.Hour)
	lapsed := f.user(t, &users.User{Name: "Ana", Phone: "11987654321", Plan: users.PlanMonthly, PlanExpiresAt: &lastWeek})
	current := f.user(t, &users.User{Name: "Bia", Phone: "11911112222", Plan: users.PlanAnnual, PlanExpiresAt: &nextMonth})

	r, err := f.sw.SweepPlanExpiry(context.Background())
	if err != nil {
		t.Fatalf("SweepPlanExpiry: %v", err)
	}
	if r.Downgraded != 1 || r.Sent != 0 || len(f.sender.sent()) != 0 {
		t.Errorf("report = %+v, sent %d", r, len(f.sender.sent()))
	}
	got, _ := f.users.FindByID(context.Background(), lapsed.ID)
	if got.Plan != users.PlanNone || got.SubscriptionStatus != users.SubscriptionInactive || got.DowngradedAt == nil {
		t.Errorf("lapsed user = %+v", got)
	}
	got, _ = f.users.FindByID(context.Background(), current.ID)
	if got.Plan != users.PlanAnnual {
		t.Errorf("current user plan = %q", got.Plan)
	}
}

func TestSendConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, &users.User{Name: "Ana", Phone: "11987654321"})
	a := f.appointment(t, u.ID, day(20), "09:00")

	ok, err := f.sw.SendConfirmation(ctx, a.ID)
	if err != nil || !ok {
		t.Fatalf("SendConfirmation = %v, %v", ok, err)
	}
	if !strings.Contains(f.sender.sent()[0].text, "🕒 20/01/2026 às 09:00") {
		t.Errorf("text = %q", f.sender.sent()[0].text)
	}

	ok, err = f.sw.SendConfirmation(ctx, a.ID)
	if err != nil || ok {
		t.Errorf("second SendConfirmation = %v, %v; want false, nil", ok, err)
	}

	if _, err := f.sw.SendConfirmation(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id error = %v, want ErrNotFound", err)
	}
}

func TestNewCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		c := newCode()
		if len(c) != codeLength || strings.Trim(c, "0123456789abcdef") != "" {
			t.Fatalf("newCode() = %q", c)
		}
		seen[c] = true
	}
	if len(seen) < 45 {
		t.Errorf("only %d distinct codes in 50", len(seen))
	}
}
