package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler runs one named job immediately on Start and then every interval
// until Stop.
type Scheduler struct {
	name     string
	interval time.Duration
	job      func(context.Context) error

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	statusMu sync.Mutex
	lastRun  time.Time
	lastErr  error
	runs     int64
}

type Status struct {
	Name    string    `json:"name"`
	Running bool      `json:"running"`
	Runs    int64     `json:"runs"`
	LastRun time.Time `json:"lastRun,omitzero"`
	LastErr string    `json:"lastError,omitempty"`
}

func New(name string, interval time.Duration, job func(context.Context) error) (*Scheduler, error) {
	if name == "" {
		return nil, errors.New("name must not be empty")
	}
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if job == nil {
		return nil, errors.New("job must not be nil")
	}
	return &Scheduler{
		name:     name,
		interval: interval,
		job:      job,
		done:     make(chan struct{}),
	}, nil
}

func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		slog.Info("job scheduled", "job", s.name, "interval", s.interval.String())

		s.safeRun(ctx)

		for {
			select {
			case <-ctx.Done():
				slog.Info("job stopping", "job", s.name)
				return
			case <-ticker.C:
				s.safeRun(ctx)
			}
		}
	}()

	return true
}

func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.running.Store(false)

	slog.Info("job stopped", "job", s.name)
	return true
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) Status() Status {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	st := Status{
		Name:    s.name,
		Running: s.running.Load(),
		Runs:    s.runs,
		LastRun: s.lastRun,
	}
	if s.lastErr != nil {
		st.LastErr = s.lastErr.Error()
	}
	return st
}

func (s *Scheduler) safeRun(ctx context.Context) {
	start := time.Now()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				slog.Error("job panic recovered", "job", s.name, "panic", r)
			}
		}()
		err = s.job(ctx)
	}()

	s.statusMu.Lock()
	s.lastRun = start
	s.lastErr = err
	s.runs++
	s.statusMu.Unlock()

	if err != nil {
		slog.Warn("job run failed", "job", s.name, "err", err, "duration_ms", time.Since(start).Milliseconds())
		return
	}
	slog.Debug("job run completed", "job", s.name, "duration_ms", time.Since(start).Milliseconds())
}
