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

// Job is one unit of periodic work.
type Job func(ctx context.Context) error

// Run describes the most recent execution of a job.
type Run struct {
	StartedAt  time.Time `json:"startedAt"`
	DurationMs int64     `json:"durationMs"`
	Err        string    `json:"error,omitempty"`
}

type Scheduler struct {
	name     string
	interval time.Duration
	job      Job
	logger   *slog.Logger

	running atomic.Bool
	last    atomic.Pointer[Run]

	// runMu keeps ticks and manual runs from overlapping.
	runMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(name string, interval time.Duration, job Job, logger *slog.Logger) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if job == nil {
		return nil, errors.New("job must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		name:     name,
		interval: interval,
		job:      job,
		logger:   logger.With("scheduler", name),
		done:     make(chan struct{}),
	}, nil
}

// Start runs the job immediately and then every interval until Stop. It
// returns false if already running.
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

		s.logger.Info("scheduler started", "interval", s.interval.String())

		_ = s.safeRun(ctx)

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("scheduler stopping")
				return
			case <-ticker.C:
				_ = s.safeRun(ctx)
			}
		}
	}()

	return true
}

// Stop cancels the running job and waits for the loop to exit.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.running.Store(false)

	s.logger.Info("scheduler stopped")
	return true
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

// RunNow executes the job once on the caller's goroutine, whether or not
// the loop is running.
func (s *Scheduler) RunNow(ctx context.Context) error {
	return s.safeRun(ctx)
}

// LastRun returns the most recent execution, if any.
func (s *Scheduler) LastRun() (Run, bool) {
	r := s.last.Load()
	if r == nil {
		return Run{}, false
	}
	return *r, true
}

func (s *Scheduler) safeRun(ctx context.Context) (err error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler job panic recovered", "panic", r)
			err = fmt.Errorf("job panicked: %v", r)
		}

		run := &Run{StartedAt: start, DurationMs: time.Since(start).Milliseconds()}
		if err != nil {
			run.Err = err.Error()
			s.logger.Error("scheduler job failed", "error", err, "duration_ms", run.DurationMs)
		} else {
			s.logger.Debug("scheduler job completed", "duration_ms", run.DurationMs)
		}
		s.last.Store(run)
	}()

	return s.job(ctx)
}
