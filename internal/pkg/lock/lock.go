// Package lock provides in-process per-user locking.
// The HTTP API and the bot take it around user-scoped calls so that a user
// spamming requests queues in memory instead of piling up on the wallet row.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"task-reward-engine/internal/metrics"
)

// ErrLockTimeout is returned when another request for the same user holds the
// lock longer than the caller is willing to wait.
var ErrLockTimeout = errors.New("user request already in progress")

// slot is a one-token semaphore shared by everyone queued on a user.
type slot struct {
	token chan struct{}
	refs  int
}

// UserLock serialises work per user. Slots are dropped once nobody holds or
// waits for them.
type UserLock struct {
	mu    sync.Mutex
	slots map[int64]*slot
}

// NewUserLock creates a new UserLock instance.
func NewUserLock() *UserLock {
	return &UserLock{slots: make(map[int64]*slot)}
}

func (ul *UserLock) join(userID int64) *slot {
	ul.mu.Lock()
	defer ul.mu.Unlock()
	s, ok := ul.slots[userID]
	if !ok {
		s = &slot{token: make(chan struct{}, 1)}
		ul.slots[userID] = s
	}
	s.refs++
	return s
}

func (ul *UserLock) leave(userID int64, s *slot) {
	ul.mu.Lock()
	defer ul.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(ul.slots, userID)
	}
}

// WithLockContext runs fn while holding the user's lock. It returns
// ErrLockTimeout if the lock is not acquired within timeout, or the context
// error if ctx ends first. A non-positive timeout waits on ctx alone.
func (ul *UserLock) WithLockContext(ctx context.Context, userID int64, timeout time.Duration, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s := ul.join(userID)
	defer ul.leave(userID, s)

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	start := time.Now()
	select {
	case s.token <- struct{}{}:
	case <-expired:
		metrics.UserLockWait.WithLabelValues("timeout").Observe(time.Since(start).Seconds())
		return ErrLockTimeout
	case <-ctx.Done():
		metrics.UserLockWait.WithLabelValues("cancelled").Observe(time.Since(start).Seconds())
		return ctx.Err()
	}
	metrics.UserLockWait.WithLabelValues("acquired").Observe(time.Since(start).Seconds())
	defer func() { <-s.token }()

	return fn()
}

// pending returns the number of users with a held or awaited lock.
func (ul *UserLock) pending() int {
	ul.mu.Lock()
	defer ul.mu.Unlock()
	return len(ul.slots)
}
