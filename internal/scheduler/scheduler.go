package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/camppoia/leozera/internal/config"
	"github.com/camppoia/leozera/internal/events"
)

// DefaultRunTimeout bounds a single run fired by the interval timer.
const DefaultRunTimeout = 5 * time.Minute

// ErrUnknownJob is returned by Trigger for a name that was never added.
var ErrUnknownJob = errors.New("unknown job")

// Scheduler fires registered jobs on their intervals. Runs of the same
// job may overlap; jobs must be safe to run concurrently.
type Scheduler struct {
	logger     *slog.Logger
	store      *Store
	events     *events.Bus
	runTimeout time.Duration

	mu      sync.Mutex
	jobs    map[string]*Job
	timers  map[string]*time.Timer // job name -> timer
	started time.Time
	running bool
	wg      sync.WaitGroup
}

// New creates a scheduler. A nil store disables run history.
func New(logger *slog.Logger, store *Store, bus *events.Bus) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger:     logger,
		store:      store,
		events:     bus,
		runTimeout: DefaultRunTimeout,
		jobs:       make(map[string]*Job),
		timers:     make(map[string]*time.Timer),
	}
}

// Add registers job. A job added while the scheduler runs is scheduled
// immediately.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("job needs a name and a run func")
	}
	if job.Every <= 0 {
		return fmt.Errorf("job %s: interval must be positive, got %s", job.Name, job.Every)
	}

	s.mu.Lock()
	if _, dup := s.jobs[job.Name]; dup {
		s.mu.Unlock()
		return fmt.Errorf("job %s already registered", job.Name)
	}
	j := job
	s.jobs[j.Name] = &j
	running := s.running
	s.mu.Unlock()

	if running {
		s.schedule(&j, time.Now())
	}
	return nil
}

// Start arms the timer of every job. The first run of each job happens
// one interval after Start.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.started = time.Now()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	if s.store != nil {
		n, err := s.store.InterruptDangling(ctx, time.Now())
		if err != nil {
			s.logger.Error("failed to close dangling runs", "error", err)
		} else if n > 0 {
			s.logger.Info("closed runs interrupted by a previous stop", "runs", n)
		}
	}

	for _, j := range jobs {
		s.schedule(j, time.Now())
	}
	s.logger.Info("scheduler started", "jobs", len(jobs))
	return nil
}

// Stop cancels all timers and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	for name, timer := range s.timers {
		timer.Stop()
		delete(s.timers, name)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Trigger runs job name once, now, outside its interval, and waits for
// it to finish.
func (s *Scheduler) Trigger(ctx context.Context, name string) (*Run, error) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	if ok {
		s.wg.Add(1)
	}
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	defer s.wg.Done()
	return s.execute(ctx, j, TriggerManual)
}

// Jobs returns the registered job names, sorted.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for n := range s.jobs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Runs returns recent run history, newest first.
func (s *Scheduler) Runs(ctx context.Context, job string, limit int) ([]*Run, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.ListRuns(ctx, job, limit)
}

// Stats returns scheduler statistics.
func (s *Scheduler) Stats() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]any{
		"running":       s.running,
		"jobs":          len(s.jobs),
		"active_timers": len(s.timers),
	}
}

// schedule arms the timer for the next tick of j after now.
func (s *Scheduler) schedule(j *Job, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}

	next := NextRun(s.started, now, j.Every)
	delay := next.Sub(now)
	if delay < 0 {
		delay = 0
	}
	if timer, exists := s.timers[j.Name]; exists {
		timer.Stop()
	}
	s.timers[j.Name] = time.AfterFunc(delay, func() { s.onFire(j) })

	s.logger.Log(context.Background(), config.LevelTrace, "job scheduled", "job", j.Name, "next", next)
}

// onFire re-arms the timer before running so a slow run never delays
// the next tick.
func (s *Scheduler) onFire(j *Job) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	s.schedule(j, time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
	defer cancel()
	if _, err := s.execute(ctx, j, TriggerInterval); err != nil {
		s.logger.Error("job run failed", "job", j.Name, "error", err)
	}
}

// execute performs one run of j and records it.
func (s *Scheduler) execute(ctx context.Context, j *Job, trigger TriggerKind) (*Run, error) {
	run := &Run{
		ID:        NewID(),
		Job:       j.Name,
		Trigger:   trigger,
		StartedAt: time.Now(),
		Status:    StatusRunning,
	}
	if s.store != nil {
		if err := s.store.CreateRun(ctx, run); err != nil {
			s.logger.Error("failed to record run start", "job", j.Name, "error", err)
		}
	}
	s.publish(events.KindJobFired, map[string]any{"job": j.Name, "run_id": run.ID, "trigger": string(trigger)})
	s.logger.Debug("job started", "job", j.Name, "run_id", run.ID, "trigger", trigger)

	summary, runErr := j.Run(ctx)

	completed := time.Now()
	run.CompletedAt = &completed
	run.Duration = completed.Sub(run.StartedAt)
	if runErr != nil {
		run.Status = StatusFailed
		run.Result = runErr.Error()
	} else {
		run.Status = StatusCompleted
		run.Result = summary
	}

	if s.store != nil {
		// The run context may be cancelled or expired by now.
		if err := s.store.FinishRun(context.WithoutCancel(ctx), run); err != nil {
			s.logger.Error("failed to record run result", "job", j.Name, "run_id", run.ID, "error", err)
		}
	}
	s.publish(events.KindJobComplete, map[string]any{
		"job":         j.Name,
		"run_id":      run.ID,
		"status":      string(run.Status),
		"duration_ms": run.Duration.Milliseconds(),
	})
	s.logger.Info("job run completed",
		"job", j.Name,
		"run_id", run.ID,
		"status", run.Status,
		"duration", run.Duration,
	)
	return run, runErr
}

func (s *Scheduler) publish(kind string, data map[string]any) {
	s.events.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceScheduler,
		Kind:      kind,
		Data:      data,
	})
}
