package reliability

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastBackoff() *ExponentialBackoff {
	eb := NewExponentialBackoff(time.Millisecond, 4*time.Millisecond, 2.0, 0)
	eb.Jitter = false
	return eb
}

func TestSupervisor(t *testing.T) {
	t.Run("restarts failed task and counts restarts", func(t *testing.T) {
		s := NewSupervisor(WithBackoff(fastBackoff()))

		var calls int32
		err := s.Run(context.Background(), "consumer", func(ctx context.Context) error {
			if atomic.AddInt32(&calls, 1) <= 3 {
				return errors.New("channel closed")
			}
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
		assert.Equal(t, int64(3), s.Restarts())
		assert.EqualError(t, s.LastError(), "channel closed")
	})

	t.Run("returns context error on cancellation", func(t *testing.T) {
		s := NewSupervisor(WithBackoff(fastBackoff()))
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan error, 1)
		go func() {
			done <- s.Run(ctx, "consumer", func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			})
		}()

		cancel()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(time.Second):
			t.Fatal("supervisor did not stop")
		}
		assert.Zero(t, s.Restarts())
	})

	t.Run("cancellation during backoff", func(t *testing.T) {
		eb := NewExponentialBackoff(time.Hour, time.Hour, 2.0, 0)
		s := NewSupervisor(WithBackoff(eb))
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := s.Run(ctx, "consumer", func(context.Context) error {
			return errors.New("boom")
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Zero(t, s.Restarts())
	})

	t.Run("stops on permanent errors", func(t *testing.T) {
		s := NewSupervisor(WithBackoff(fastBackoff()))

		var calls int32
		err := s.Run(context.Background(), "consumer", func(context.Context) error {
			atomic.AddInt32(&calls, 1)
			return Permanent(errors.New("invalid configuration"))
		})

		assert.EqualError(t, err, "invalid configuration")
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("stops when StopOn matches", func(t *testing.T) {
		fatal := errors.New("closed")
		s := NewSupervisor(
			WithBackoff(fastBackoff()),
			WithStopOn(func(err error) bool { return errors.Is(err, fatal) }),
		)

		err := s.Run(context.Background(), "consumer", func(context.Context) error {
			return fatal
		})
		assert.ErrorIs(t, err, fatal)
		assert.Zero(t, s.Restarts())
	})

	t.Run("bounded restarts", func(t *testing.T) {
		s := NewSupervisor(WithBackoff(fastBackoff()), WithMaxRestarts(2))

		var calls int32
		err := s.Run(context.Background(), "consumer", func(context.Context) error {
			atomic.AddInt32(&calls, 1)
			return errors.New("boom")
		})

		assert.ErrorIs(t, err, ErrMaxRestarts)
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
		assert.Equal(t, int64(2), s.Restarts())
	})

	t.Run("start delay", func(t *testing.T) {
		s := NewSupervisor(WithStartDelay(20 * time.Millisecond))

		start := time.Now()
		err := s.Run(context.Background(), "consumer", func(context.Context) error { return nil })
		require.NoError(t, err)
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	})

	t.Run("defaults", func(t *testing.T) {
		s := NewSupervisor()
		eb, ok := s.backoff.(*ExponentialBackoff)
		require.True(t, ok)
		assert.Equal(t, 5*time.Second, eb.InitialInterval)
		assert.Equal(t, time.Minute, eb.MaxInterval)
		assert.Equal(t, 2.0, eb.Multiplier)
		assert.Zero(t, s.maxRestarts)
	})
}
