package rabbitmq

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingResponses(t *testing.T) {
	t.Run("resolve completes the waiter and removes the entry", func(t *testing.T) {
		r := NewPendingResponses()

		waiter, err := r.Register("c1")
		require.NoError(t, err)
		assert.True(t, r.Has("c1"))
		assert.Equal(t, 1, r.Len())

		assert.True(t, r.Resolve("c1", map[string]any{"ok": true}))
		assert.Equal(t, map[string]any{"ok": true}, <-waiter)
		assert.False(t, r.Has("c1"))
		assert.Zero(t, r.Len())
	})

	t.Run("resolves at most once", func(t *testing.T) {
		r := NewPendingResponses()
		waiter, err := r.Register("c1")
		require.NoError(t, err)

		assert.True(t, r.Resolve("c1", map[string]any{"n": 1}))
		assert.False(t, r.Resolve("c1", map[string]any{"n": 2}))

		assert.Equal(t, map[string]any{"n": 1}, <-waiter)
		select {
		case extra := <-waiter:
			t.Fatalf("unexpected second completion: %v", extra)
		default:
		}
	})

	t.Run("unknown ids are not resolved", func(t *testing.T) {
		r := NewPendingResponses()
		assert.False(t, r.Resolve("missing", nil))
		assert.False(t, r.Remove("missing"))
	})

	t.Run("rejects duplicate and empty ids", func(t *testing.T) {
		r := NewPendingResponses()
		_, err := r.Register("c1")
		require.NoError(t, err)

		_, err = r.Register("c1")
		assert.ErrorIs(t, err, ErrDuplicateCorrelationID)

		_, err = r.Register("")
		assert.ErrorIs(t, err, ErrEmptyCorrelationID)
	})

	t.Run("removed entries are never completed", func(t *testing.T) {
		r := NewPendingResponses()
		waiter, err := r.Register("c1")
		require.NoError(t, err)

		assert.True(t, r.Remove("c1"))
		assert.False(t, r.Resolve("c1", map[string]any{}))
		assert.Empty(t, waiter)

		// the id can be reused once free
		_, err = r.Register("c1")
		assert.NoError(t, err)
	})

	t.Run("concurrent resolvers complete once", func(t *testing.T) {
		r := NewPendingResponses()
		const ids = 50
		waiters := make([]<-chan map[string]any, ids)
		for i := range ids {
			w, err := r.Register(fmt.Sprintf("c%d", i))
			require.NoError(t, err)
			waiters[i] = w
		}

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := range ids {
			for range 4 {
				wg.Add(1)
				go func(id string) {
					defer wg.Done()
					if r.Resolve(id, map[string]any{"id": id}) {
						wins.Add(1)
					}
				}(fmt.Sprintf("c%d", i))
			}
		}
		wg.Wait()

		assert.Equal(t, int32(ids), wins.Load())
		assert.Zero(t, r.Len())
		for i, w := range waiters {
			assert.Equal(t, fmt.Sprintf("c%d", i), (<-w)["id"])
		}
	})

	t.Run("stats report the oldest entry", func(t *testing.T) {
		r := NewPendingResponses()
		assert.Equal(t, RegistryStats{}, r.Stats())

		_, err := r.Register("old")
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond)
		_, err = r.Register("new")
		require.NoError(t, err)

		stats := r.Stats()
		assert.Equal(t, 2, stats.Pending)
		assert.GreaterOrEqual(t, stats.Oldest, 10*time.Millisecond)
	})
}
