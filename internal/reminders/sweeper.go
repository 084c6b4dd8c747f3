// Package reminders runs the periodic sweeps that notify users about
// upcoming appointments and lapse expired subscriptions.
//
// Every notification is preceded by a conditional store update that
// flips its flag only if still unset; the message is sent only when
// that update reports a change. Overlapping sweeps therefore never send
// the same notification twice. A failed send is not retried: delivery is
// at most once.
package reminders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/camppoia/leozera/internal/appointments"
	"github.com/camppoia/leozera/internal/dates"
	"github.com/camppoia/leozera/internal/events"
	"github.com/camppoia/leozera/internal/users"
)

// Notification windows before an appointment starts.
const (
	TwelveHourWindow = 12 * time.Hour
	OneHourWindow    = time.Hour
)

// ErrNotFound is returned by SendConfirmation for an unknown
// appointment id.
var ErrNotFound = errors.New("appointment not found")

// Sender delivers a text message to a national phone number.
type Sender interface {
	Send(ctx context.Context, phone, text string) error
}

// AppointmentStore is the subset of the appointment store the sweeps use.
type AppointmentStore interface {
	Get(ctx context.Context, id string) (*appointments.Appointment, error)
	ListTwelveHourCandidates(ctx context.Context, from time.Time) ([]*appointments.Appointment, error)
	ListOneHourCandidates(ctx context.Context, from time.Time) ([]*appointments.Appointment, error)
	SetFlagIfUnset(ctx context.Context, id string, flag appointments.Flag) (bool, error)
	RequestConfirmation(ctx context.Context, id, code string) (bool, error)
}

// Directory is the subset of the user directory the sweeps use.
type Directory interface {
	FindByID(ctx context.Context, id string) (*users.User, error)
	ListExpiredTrials(ctx context.Context, now time.Time) ([]*users.User, error)
	MarkTrialExpired(ctx context.Context, id string, at time.Time) (bool, error)
	ListExpiredPlans(ctx context.Context, now time.Time) ([]*users.User, error)
	Downgrade(ctx context.Context, id string, at time.Time) (bool, error)
}

// SweepReport counts what one sweep did.
type SweepReport struct {
	Scanned    int
	Sent       int
	Downgraded int
	Skipped    int // out of window, already handled, or no phone
	Failed     int // lookup, update or send errors
}

func (r *SweepReport) add(o SweepReport) {
	r.Scanned += o.Scanned
	r.Sent += o.Sent
	r.Downgraded += o.Downgraded
	r.Skipped += o.Skipped
	r.Failed += o.Failed
}

// Options configures a Sweeper.
type Options struct {
	PlansLink string
	Events    *events.Bus
	Logger    *slog.Logger
	Now       func() time.Time
}

// Sweeper runs the reminder and expiry sweeps.
type Sweeper struct {
	appts     AppointmentStore
	users     Directory
	sender    Sender
	plansLink string
	events    *events.Bus
	logger    *slog.Logger
	now       func() time.Time
}

// NewSweeper creates a sweeper.
func NewSweeper(appts AppointmentStore, dir Directory, sender Sender, opts Options) *Sweeper {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Sweeper{
		appts:     appts,
		users:     dir,
		sender:    sender,
		plansLink: opts.PlansLink,
		events:    opts.Events,
		logger:    opts.Logger,
		now:       opts.Now,
	}
}

// SweepAppointments runs the confirmation/12h sweep and then the 1h
// sweep, returning their combined report.
func (s *Sweeper) SweepAppointments(ctx context.Context) (SweepReport, error) {
	total, err := s.SweepTwelveHour(ctx)
	if err != nil {
		return total, err
	}
	one, err := s.SweepOneHour(ctx)
	total.add(one)
	return total, err
}

// SweepTwelveHour handles appointments starting within 12 hours: a
// confirmed appointment gets its 12h reminder, an unconfirmed one a
// confirmation request with a fresh code.
func (s *Sweeper) SweepTwelveHour(ctx context.Context) (SweepReport, error) {
	now := s.now()
	candidates, err := s.appts.ListTwelveHourCandidates(ctx, dates.Midnight(now))
	if err != nil {
		return SweepReport{}, fmt.Errorf("list 12h candidates: %w", err)
	}

	var r SweepReport
	for _, a := range candidates {
		if ctx.Err() != nil {
			break
		}
		r.Scanned++
		s.twelveHour(ctx, a, now, &r)
	}
	s.finish("appointments_12h", r)
	return r, ctx.Err()
}

func (s *Sweeper) twelveHour(ctx context.Context, a *appointments.Appointment, now time.Time, r *SweepReport) {
	log := s.logger.With("sweep", "appointments_12h", "appointment_id", a.ID, "user_id", a.UserID)

	start, ok := s.inWindow(a, now, TwelveHourWindow, log)
	if !ok {
		r.Skipped++
		return
	}
	phone, ok := s.phoneFor(ctx, a.UserID, log, r)
	if !ok {
		return
	}

	day := dates.FormatDate(start)
	if a.Confirmed() {
		flipped, err := s.appts.SetFlagIfUnset(ctx, a.ID, appointments.FlagReminder12h)
		if err != nil {
			log.Error("flag 12h reminder failed", "error", err)
			r.Failed++
			return
		}
		if !flipped {
			r.Skipped++
			return
		}
		s.deliver(ctx, phone, twelveHourReminder(a.DisplayTitle(), day, a.StartTime), a.ID, "reminder_12h", log, r)
		return
	}

	code := newCode()
	flipped, err := s.appts.RequestConfirmation(ctx, a.ID, code)
	if err != nil {
		log.Error("flag confirmation request failed", "error", err)
		r.Failed++
		return
	}
	if !flipped {
		r.Skipped++
		return
	}
	s.deliver(ctx, phone, confirmationRequest(a.DisplayTitle(), day, a.StartTime, code), a.ID, "confirmation", log, r)
}

// SweepOneHour sends the 1h reminder for confirmed appointments
// starting within the hour.
func (s *Sweeper) SweepOneHour(ctx context.Context) (SweepReport, error) {
	now := s.now()
	candidates, err := s.appts.ListOneHourCandidates(ctx, dates.Midnight(now))
	if err != nil {
		return SweepReport{}, fmt.Errorf("list 1h candidates: %w", err)
	}

	var r SweepReport
	for _, a := range candidates {
		if ctx.Err() != nil {
			break
		}
		r.Scanned++
		log := s.logger.With("sweep", "appointments_1h", "appointment_id", a.ID, "user_id", a.UserID)

		if _, ok := s.inWindow(a, now, OneHourWindow, log); !ok {
			r.Skipped++
			continue
		}
		phone, ok := s.phoneFor(ctx, a.UserID, log, &r)
		if !ok {
			continue
		}
		flipped, err := s.appts.SetFlagIfUnset(ctx, a.ID, appointments.FlagReminder1h)
		if err != nil {
			log.Error("flag 1h reminder failed", "error", err)
			r.Failed++
			continue
		}
		if !flipped {
			r.Skipped++
			continue
		}
		s.deliver(ctx, phone, oneHourReminder(a.DisplayTitle(), a.StartTime), a.ID, "reminder_1h", log, &r)
	}
	s.finish("appointments_1h", r)
	return r, ctx.Err()
}

// SweepTrialExpiry downgrades lapsed trials and tells each user once.
// The downgrade stands even when the notice cannot be delivered.
func (s *Sweeper) SweepTrialExpiry(ctx context.Context) (SweepReport, error) {
	now := s.now()
	expired, err := s.users.ListExpiredTrials(ctx, now)
	if err != nil {
		return SweepReport{}, fmt.Errorf("list expired trials: %w", err)
	}

	var r SweepReport
	for _, u := range expired {
		if ctx.Err() != nil {
			break
		}
		r.Scanned++
		log := s.logger.With("sweep", "trial_expiry", "user_id", u.ID)

		marked, err := s.users.MarkTrialExpired(ctx, u.ID, now)
		if err != nil {
			log.Error("mark trial expired failed", "error", err)
			r.Failed++
			continue
		}
		if !marked {
			r.Skipped++
			continue
		}
		r.Downgraded++
		log.Info("trial expired")

		if u.Phone == "" {
			log.Warn("user has no phone, trial notice not sent")
			continue
		}
		if err := s.sender.Send(ctx, u.Phone, trialExpired(s.plansLink)); err != nil {
			log.Warn("trial notice failed", "error", err)
			r.Failed++
			continue
		}
		r.Sent++
	}
	s.finish("trial_expiry", r)
	return r, ctx.Err()
}

// SweepPlanExpiry silently downgrades every plan past its expiry.
func (s *Sweeper) SweepPlanExpiry(ctx context.Context) (SweepReport, error) {
	now := s.now()
	expired, err := s.users.ListExpiredPlans(ctx, now)
	if err != nil {
		return SweepReport{}, fmt.Errorf("list expired plans: %w", err)
	}

	var r SweepReport
	for _, u := range expired {
		if ctx.Err() != nil {
			break
		}
		r.Scanned++
		changed, err := s.users.Downgrade(ctx, u.ID, now)
		if err != nil {
			s.logger.Error("downgrade failed", "sweep", "plan_expiry", "user_id", u.ID, "error", err)
			r.Failed++
			continue
		}
		if !changed {
			r.Skipped++
			continue
		}
		r.Downgraded++
		s.logger.Info("plan downgraded", "sweep", "plan_expiry", "user_id", u.ID, "plan", u.Plan)
	}
	s.finish("plan_expiry", r)
	return r, ctx.Err()
}

// SendConfirmation requests confirmation of one pending appointment
// outside the sweep cadence. It reports false when the appointment is
// not pending, was already asked, or its user has no phone.
func (s *Sweeper) SendConfirmation(ctx context.Context, appointmentID string) (bool, error) {
	a, err := s.appts.Get(ctx, appointmentID)
	if err != nil {
		return false, fmt.Errorf("load appointment %s: %w", appointmentID, err)
	}
	if a == nil {
		return false, ErrNotFound
	}
	if a.Status != appointments.StatusPending || a.ConfirmationSent {
		return false, nil
	}

	u, err := s.users.FindByID(ctx, a.UserID)
	if err != nil {
		return false, fmt.Errorf("load user %s: %w", a.UserID, err)
	}
	if u == nil || u.Phone == "" {
		return false, nil
	}

	code := newCode()
	flipped, err := s.appts.RequestConfirmation(ctx, a.ID, code)
	if err != nil {
		return false, err
	}
	if !flipped {
		return false, nil
	}

	day := ""
	if start, err := a.StartsAt(); err == nil {
		day = dates.FormatDate(start)
	}
	if err := s.sender.Send(ctx, u.Phone, confirmationRequest(a.DisplayTitle(), day, a.StartTime, code)); err != nil {
		return false, fmt.Errorf("send confirmation for %s: %w", a.ID, err)
	}
	s.publish(events.KindReminderSent, map[string]any{"appointment_id": a.ID, "kind": "confirmation"})
	s.logger.Info("confirmation requested on demand", "appointment_id", a.ID, "user_id", a.UserID)
	return true, nil
}

// inWindow reports whether a starts after now and within window.
func (s *Sweeper) inWindow(a *appointments.Appointment, now time.Time, window time.Duration, log *slog.Logger) (time.Time, bool) {
	start, err := a.StartsAt()
	if err != nil {
		log.Warn("appointment has a malformed start time", "start", a.StartTime, "error", err)
		return time.Time{}, false
	}
	until := start.Sub(now)
	if until <= 0 || until > window {
		return start, false
	}
	return start, true
}

// phoneFor loads the user's phone, counting the outcome in r when it
// cannot be used.
func (s *Sweeper) phoneFor(ctx context.Context, userID string, log *slog.Logger, r *SweepReport) (string, bool) {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		log.Error("user lookup failed", "error", err)
		r.Failed++
		return "", false
	}
	if u == nil || u.Phone == "" {
		log.Warn("appointment owner has no phone")
		r.Skipped++
		return "", false
	}
	return u.Phone, true
}

func (s *Sweeper) deliver(ctx context.Context, phone, text, appointmentID, kind string, log *slog.Logger, r *SweepReport) {
	if err := s.sender.Send(ctx, phone, text); err != nil {
		log.Warn("notification failed", "kind", kind, "error", err)
		r.Failed++
		return
	}
	r.Sent++
	s.publish(events.KindReminderSent, map[string]any{"appointment_id": appointmentID, "kind": kind})
	log.Info("notification sent", "kind", kind)
}

func (s *Sweeper) finish(sweep string, r SweepReport) {
	s.publish(events.KindSweepComplete, map[string]any{
		"sweep":      sweep,
		"scanned":    r.Scanned,
		"sent":       r.Sent,
		"downgraded": r.Downgraded,
		"skipped":    r.Skipped,
		"failed":     r.Failed,
	})
	if r.Scanned > 0 {
		s.logger.Info("sweep complete", "sweep", sweep,
			"scanned", r.Scanned, "sent", r.Sent, "downgraded", r.Downgraded,
			"skipped", r.Skipped, "failed", r.Failed)
	}
}

func (s *Sweeper) publish(kind string, data map[string]any) {
	s.events.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceReminders,
		Kind:      kind,
		Data:      data,
	})
}
