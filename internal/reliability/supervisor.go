package reliability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrMaxRestarts is returned when a supervised task exhausts its restarts
var ErrMaxRestarts = errors.New("reliability: maximum restarts exceeded")

// Supervisor keeps a long-running task alive. When the task fails it is
// restarted after an exponentially growing, capped delay.
type Supervisor struct {
	backoff     RetryPolicy
	startDelay  time.Duration
	resetAfter  time.Duration
	maxRestarts int64
	stopOn      func(error) bool
	logger      *slog.Logger

	restarts atomic.Int64
	mu       sync.Mutex
	lastErr  error
}

// SupervisorOption configures a Supervisor
type SupervisorOption func(*Supervisor)

// WithBackoff sets the delay policy between restarts
func WithBackoff(policy RetryPolicy) SupervisorOption {
	return func(s *Supervisor) {
		s.backoff = policy
	}
}

// WithStartDelay delays the first run
func WithStartDelay(delay time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		s.startDelay = delay
	}
}

// WithResetAfter resets the backoff once a run has lasted at least d
func WithResetAfter(d time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		s.resetAfter = d
	}
}

// WithMaxRestarts bounds the number of restarts; zero means unlimited
func WithMaxRestarts(n int) SupervisorOption {
	return func(s *Supervisor) {
		s.maxRestarts = int64(n)
	}
}

// WithStopOn makes the supervisor give up on errors for which fn returns true
func WithStopOn(fn func(error) bool) SupervisorOption {
	return func(s *Supervisor) {
		s.stopOn = fn
	}
}

// WithSupervisorLogger sets the logger
func WithSupervisorLogger(logger *slog.Logger) SupervisorOption {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSupervisor creates a supervisor restarting after 5s, doubling up to 1m
func NewSupervisor(opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		backoff:    NewExponentialBackoff(5*time.Second, time.Minute, 2.0, 0),
		resetAfter: time.Minute,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Restarts returns how many times a task has been restarted
func (s *Supervisor) Restarts() int64 {
	return s.restarts.Load()
}

// LastError returns the error of the most recent failed run
func (s *Supervisor) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Run calls fn until it returns nil, fails permanently, runs out of restarts
// or ctx is cancelled, in which case ctx.Err() is returned.
func (s *Supervisor) Run(ctx context.Context, name string, fn func(context.Context) error) error {
	logger := s.logger.With("task", name)

	if s.startDelay > 0 {
		if err := sleep(ctx, s.startDelay); err != nil {
			return err
		}
	}

	attempt := 0
	for {
		started := time.Now()
		err := fn(ctx)

		if ctx.Err() != nil {
			logger.Info("supervised task stopped", "reason", ctx.Err())
			return ctx.Err()
		}
		if err == nil {
			logger.Info("supervised task finished")
			return nil
		}

		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()

		if !isRetryableError(err) || (s.stopOn != nil && s.stopOn(err)) {
			logger.Error("supervised task failed permanently", "error", err)
			return err
		}
		if s.maxRestarts > 0 && s.restarts.Load() >= s.maxRestarts {
			logger.Error("supervised task exhausted its restarts", "restarts", s.restarts.Load(), "error", err)
			return fmt.Errorf("%w: %w", ErrMaxRestarts, err)
		}

		if s.resetAfter > 0 && time.Since(started) >= s.resetAfter {
			attempt = 0
		}
		delay := s.backoff.NextDelay(attempt)
		attempt++

		logger.Warn("supervised task failed, restarting",
			"error", err,
			"restarts", s.restarts.Load(),
			"retryIn", delay)

		if err := sleep(ctx, delay); err != nil {
			return err
		}
		s.restarts.Add(1)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
