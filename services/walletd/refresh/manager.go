// Package refresh reloads the contract registry on a fixed interval.
package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"tronnode/registry"
)

// Refresher reloads the contract registry.
type Refresher interface {
	RefreshContracts(ctx context.Context) (registry.RefreshReport, error)
}

// Run describes a completed refresh.
type Run struct {
	ID       string
	Started  time.Time
	Duration time.Duration
	Report   registry.RefreshReport
	Err      error
}

// Manager drives periodic registry refreshes. Tick may also be called directly,
// for example from an admin endpoint; runs never overlap.
type Manager struct {
	refresher Refresher
	interval  time.Duration
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
	once      sync.Once

	runMu sync.Mutex
	mu    sync.RWMutex
	last  *Run
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger installs a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithTimeout bounds each refresh run.
func WithTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		m.timeout = timeout
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// New constructs a manager.
func New(refresher Refresher, interval time.Duration, opts ...Option) (*Manager, error) {
	if refresher == nil {
		return nil, fmt.Errorf("refresher required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	mgr := &Manager{
		refresher: refresher,
		interval:  interval,
		timeout:   time.Minute,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(mgr)
		}
	}
	return mgr, nil
}

// Run refreshes immediately and then on every interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("manager not configured")
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.once.Do(func() {
		m.logger.Info("contract refresh started", slog.Duration("interval", m.interval))
	})
	for {
		if run := m.Tick(ctx); run.Err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick performs a single refresh and records it as the last run.
func (m *Manager) Tick(ctx context.Context) Run {
	if m == nil {
		return Run{Err: fmt.Errorf("manager not configured")}
	}
	m.runMu.Lock()
	defer m.runMu.Unlock()

	run := Run{ID: uuid.NewString(), Started: m.now()}
	runCtx := ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	run.Report, run.Err = m.refresher.RefreshContracts(runCtx)
	run.Duration = m.now().Sub(run.Started)
	if run.Err != nil {
		m.logger.Error("contract refresh run failed", slog.String("run_id", run.ID), slog.Any("error", run.Err))
	} else {
		m.logger.Debug("contract refresh run finished",
			slog.String("run_id", run.ID),
			slog.Int("applied", len(run.Report.Applied)),
			slog.Int("failed", len(run.Report.Failures)))
	}

	m.mu.Lock()
	m.last = &run
	m.mu.Unlock()
	return run
}

// Last returns the most recent run, if any.
func (m *Manager) Last() (Run, bool) {
	if m == nil {
		return Run{}, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.last == nil {
		return Run{}, false
	}
	return *m.last, true
}
