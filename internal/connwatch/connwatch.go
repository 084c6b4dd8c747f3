// Package connwatch tracks the health of the services Leozera depends
// on: the WAHA session that carries WhatsApp traffic and the database.
//
// A Watcher probes one service. While the service has never answered it
// retries with exponential backoff; afterwards it polls at a fixed
// interval and reports up/down transitions.
package connwatch

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ProbeFunc returns nil when the service is usable.
type ProbeFunc func(ctx context.Context) error

// Backoff controls probe timing.
type Backoff struct {
	Initial  time.Duration // first retry delay while never connected
	Max      time.Duration // ceiling for the retry delay
	Poll     time.Duration // interval once connected or retries exhausted
	Retries  int           // startup attempts before falling back to Poll
	Deadline time.Duration // per-probe timeout
}

// DefaultBackoff retries after 2s, 4s, 8s ... up to 60s, six times,
// then polls every minute.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:  2 * time.Second,
		Max:      time.Minute,
		Poll:     time.Minute,
		Retries:  6,
		Deadline: 10 * time.Second,
	}
}

func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.Initial <= 0 {
		b.Initial = d.Initial
	}
	if b.Max <= 0 {
		b.Max = d.Max
	}
	if b.Poll <= 0 {
		b.Poll = d.Poll
	}
	if b.Retries <= 0 {
		b.Retries = d.Retries
	}
	if b.Deadline <= 0 {
		b.Deadline = d.Deadline
	}
	return b
}

// Status is the JSON view of one service.
type Status struct {
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check,omitzero"`
	LastError string    `json:"last_error,omitempty"`
	Since     time.Time `json:"since,omitzero"`
}

// Watcher probes a single service in the background.
type Watcher struct {
	name     string
	probe    ProbeFunc
	backoff  Backoff
	onChange func(name string, ready bool, err error)
	logger   *slog.Logger

	mu     sync.Mutex
	status Status

	done chan struct{}
}

// Ready reports whether the last probe succeeded.
func (w *Watcher) Ready() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status.Ready
}

// Status returns a snapshot of the service health.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	delay := w.backoff.Initial
	for attempt := 1; attempt <= w.backoff.Retries; attempt++ {
		if w.check(ctx) {
			break
		}
		if attempt == w.backoff.Retries {
			w.logger.Warn("service unreachable at startup, polling", "service", w.name, "attempts", attempt)
			break
		}
		if !sleep(ctx, delay) {
			return
		}
		delay = min(delay*2, w.backoff.Max)
	}

	ticker := time.NewTicker(w.backoff.Poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

// check runs one probe, records it and fires onChange on transitions.
func (w *Watcher) check(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, w.backoff.Deadline)
	err := w.probe(pctx)
	cancel()
	if ctx.Err() != nil {
		return false
	}

	now := time.Now()
	w.mu.Lock()
	was := w.status.Ready
	w.status.Ready = err == nil
	w.status.LastCheck = now
	w.status.LastError = ""
	if err != nil {
		w.status.LastError = err.Error()
	}
	changed := was != w.status.Ready || w.status.Since.IsZero()
	if changed {
		w.status.Since = now
	}
	w.mu.Unlock()

	if changed {
		if err == nil {
			w.logger.Info("service ready", "service", w.name)
		} else {
			w.logger.Warn("service down", "service", w.name, "error", err)
		}
		if w.onChange != nil {
			w.onChange(w.name, err == nil, err)
		}
	} else if err != nil {
		w.logger.Debug("service still down", "service", w.name, "error", err)
	}
	return err == nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Manager owns the watchers for every monitored service.
type Manager struct {
	backoff  Backoff
	onChange func(name string, ready bool, err error)
	logger   *slog.Logger

	mu       sync.RWMutex
	watchers map[string]*Watcher
}

// NewManager creates a manager. onChange, when non-nil, is called
// synchronously from the watcher goroutine on every transition.
func NewManager(backoff Backoff, onChange func(name string, ready bool, err error), logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		backoff:  backoff.withDefaults(),
		onChange: onChange,
		logger:   logger,
		watchers: make(map[string]*Watcher),
	}
}

// Watch starts probing a service until ctx is cancelled. Watching a
// name twice returns the existing watcher.
func (m *Manager) Watch(ctx context.Context, name string, probe ProbeFunc) *Watcher {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.watchers[name]; ok {
		return w
	}
	w := &Watcher{
		name:     name,
		probe:    probe,
		backoff:  m.backoff,
		onChange: m.onChange,
		logger:   m.logger,
		done:     make(chan struct{}),
	}
	m.watchers[name] = w
	go w.run(ctx)
	return w
}

// Status returns the health of every watched service keyed by name.
func (m *Manager) Status() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Status, len(m.watchers))
	for name, w := range m.watchers {
		out[name] = w.Status()
	}
	return out
}

// Healthy reports whether every watched service is ready.
func (m *Manager) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, w := range m.watchers {
		if !w.Ready() {
			return false
		}
	}
	return true
}

// Wait blocks until every watcher goroutine has exited.
func (m *Manager) Wait() {
	m.mu.RLock()
	ws := make([]*Watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		ws = append(ws, w)
	}
	m.mu.RUnlock()
	for _, w := range ws {
		<-w.done
	}
}
