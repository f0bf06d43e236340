// Package concurrency bounds the number of simultaneous streaming requests a
// single user may have in flight.
package concurrency

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Limiter tracks active streaming slots per user. Non-streaming requests
// never touch the slot table.
type Limiter struct {
	maxConcurrent int
	logger        *zap.Logger

	mu     sync.Mutex
	active map[string]int
}

// New creates a Limiter admitting up to maxConcurrent simultaneous streams
// per user.
func New(maxConcurrent int, logger *zap.Logger) *Limiter {
	return &Limiter{
		maxConcurrent: maxConcurrent,
		logger:        logger,
		active:        make(map[string]int),
	}
}

// Acquire attempts to reserve a streaming slot for userID. Non-streaming
// requests always succeed without touching the table.
func (l *Limiter) Acquire(userID string, isStreaming bool) bool {
	if !isStreaming {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	current := l.active[userID]
	if current >= l.maxConcurrent {
		l.logger.Warn("concurrency limit exceeded",
			zap.String("user_id", userID),
			zap.Int("current", current),
			zap.Int("max", l.maxConcurrent),
		)
		return false
	}
	l.active[userID] = current + 1
	return true
}

// Release gives back a streaming slot for userID. Releasing a slot that was
// never acquired (e.g. for a non-streaming request) is a no-op; releasing
// one for a user with no recorded active streams is a logged warning, not
// an error.
func (l *Limiter) Release(userID string, isStreaming bool) {
	if !isStreaming {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.active[userID]
	if !ok || current <= 0 {
		l.logger.Warn("release called with no active slot", zap.String("user_id", userID))
		return
	}
	if current == 1 {
		delete(l.active, userID)
		return
	}
	l.active[userID] = current - 1
}

// ActiveCount returns the current in-flight stream count for userID.
func (l *Limiter) ActiveCount(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active[userID]
}

// UserStats is a point-in-time snapshot for one user, used by the admin
// introspection endpoint.
type UserStats struct {
	UserID string
	Active int
}

// Stats returns per-user active-stream counts plus the total, in
// deterministic user_id order.
func (l *Limiter) Stats() (perUser []UserStats, total int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	perUser = make([]UserStats, 0, len(l.active))
	for userID, count := range l.active {
		perUser = append(perUser, UserStats{UserID: userID, Active: count})
		total += count
	}
	sort.Slice(perUser, func(i, j int) bool { return perUser[i].UserID < perUser[j].UserID })
	return perUser, total
}

// Scope acquires a slot and returns a release function that is safe to call
// exactly once, regardless of which exit path (normal completion, error,
// cancellation) triggers it. ok reports whether the slot was admitted; when
// ok is false the returned release is a no-op and need not be deferred.
func (l *Limiter) Scope(userID string, isStreaming bool) (release func(), ok bool) {
	if !l.Acquire(userID, isStreaming) {
		return func() {}, false
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.Release(userID, isStreaming) })
	}, true
}
