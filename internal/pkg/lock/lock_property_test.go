package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// hold takes userID's lock in the background and keeps it until release is
// called. It returns once the lock is held.
func hold(t *testing.T, ul *UserLock, userID int64) (release func()) {
	t.Helper()
	acquired := make(chan struct{})
	done := make(chan struct{})
	finished := make(chan error, 1)
	go func() {
		finished <- ul.WithLockContext(context.Background(), userID, time.Second, func() error {
			close(acquired)
			<-done
			return nil
		})
	}()
	select {
	case <-acquired:
	case err := <-finished:
		t.Fatalf("failed to hold lock: %v", err)
	}
	return func() {
		close(done)
		require.NoError(t, <-finished)
	}
}

// TestWithLockContextSerialisesProperty checks that concurrent read-modify-write
// updates of a decimal balance under WithLockContext match sequential execution.
func TestWithLockContextSerialisesProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		initial := decimal.New(rapid.Int64Range(0, 1000000).Draw(t, "initialCents"), -2)
		numOps := rapid.IntRange(2, 25).Draw(t, "numOps")
		userID := rapid.Int64Range(1, 1000000).Draw(t, "userID")

		amounts := make([]decimal.Decimal, numOps)
		expected := initial
		for i := range amounts {
			amounts[i] = decimal.New(rapid.Int64Range(-5000, 5000).Draw(t, "amountCents"), -2)
			expected = expected.Add(amounts[i])
		}

		ul := NewUserLock()
		balance := initial
		var inside, maxInside atomic.Int32
		var wg sync.WaitGroup
		wg.Add(numOps)
		for _, amount := range amounts {
			go func(amount decimal.Decimal) {
				defer wg.Done()
				err := ul.WithLockContext(context.Background(), userID, time.Minute, func() error {
					n := inside.Add(1)
					for {
						m := maxInside.Load()
						if n <= m || maxInside.CompareAndSwap(m, n) {
							break
						}
					}
					current := balance
					balance = current.Add(amount)
					inside.Add(-1)
					return nil
				})
				if err != nil {
					panic(err)
				}
			}(amount)
		}
		wg.Wait()

		if !balance.Equal(expected) {
			t.Fatalf("balance %s, want %s", balance, expected)
		}
		if maxInside.Load() != 1 {
			t.Fatalf("%d holders at once", maxInside.Load())
		}
		if n := ul.pending(); n != 0 {
			t.Fatalf("%d slots left after all work finished", n)
		}
	})
}

// TestUsersLockIndependentlyProperty checks that holding one user's lock never
// blocks another user.
func TestUsersLockIndependentlyProperty(t *testing.T) {
	ul := NewUserLock()
	rapid.Check(t, func(rt *rapid.T) {
		numUsers := rapid.IntRange(2, 10).Draw(rt, "numUsers")
		held := rapid.Int64Range(1, int64(numUsers)).Draw(rt, "held")

		release := hold(t, ul, held)
		defer release()

		for uid := int64(1); uid <= int64(numUsers); uid++ {
			if uid == held {
				continue
			}
			ran := false
			err := ul.WithLockContext(context.Background(), uid, 50*time.Millisecond, func() error {
				ran = true
				return nil
			})
			if err != nil || !ran {
				rt.Fatalf("user %d blocked by user %d: %v", uid, held, err)
			}
		}
	})
}

func TestWithLockContextTimesOut(t *testing.T) {
	ul := NewUserLock()
	release := hold(t, ul, 7)

	called := false
	err := ul.WithLockContext(context.Background(), 7, 20*time.Millisecond, func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.False(t, called)

	release()
	assert.Equal(t, 0, ul.pending())

	err = ul.WithLockContext(context.Background(), 7, time.Second, func() error {
		called = true
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, called)
}

func TestWithLockContextCancelled(t *testing.T) {
	ul := NewUserLock()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ul.WithLockContext(ctx, 1, time.Second, func() error {
		t.Fatal("fn must not run on a cancelled context")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWithLockContextCancelledWhileWaiting(t *testing.T) {
	ul := NewUserLock()
	release := hold(t, ul, 3)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := ul.WithLockContext(ctx, 3, 0, func() error {
		t.Fatal("fn must not run while another request holds the lock")
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithLockContextReturnsFnError(t *testing.T) {
	ul := NewUserLock()
	boom := assert.AnError
	err := ul.WithLockContext(context.Background(), 9, time.Second, func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, ul.pending())
}
