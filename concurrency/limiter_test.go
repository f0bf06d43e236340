package concurrency

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestLimiter_NonStreamingAlwaysAdmitted(t *testing.T) {
	l := New(1, zap.NewNop())
	assert.True(t, l.Acquire("alice", false))
	assert.True(t, l.Acquire("alice", false))
	assert.Equal(t, 0, l.ActiveCount("alice"))
}

func TestLimiter_StreamingBoundedByMax(t *testing.T) {
	l := New(2, zap.NewNop())
	assert.True(t, l.Acquire("alice", true))
	assert.True(t, l.Acquire("alice", true))
	assert.False(t, l.Acquire("alice", true))
	assert.Equal(t, 2, l.ActiveCount("alice"))
}

func TestLimiter_ReleaseEvictsAtZero(t *testing.T) {
	l := New(2, zap.NewNop())
	l.Acquire("alice", true)
	l.Release("alice", true)
	assert.Equal(t, 0, l.ActiveCount("alice"))

	_, total := l.Stats()
	assert.Equal(t, 0, total)
}

func TestLimiter_ReleaseOnAbsentEntryIsSafe(t *testing.T) {
	l := New(2, zap.NewNop())
	assert.NotPanics(t, func() { l.Release("nobody", true) })
}

func TestLimiter_ReleaseNonStreamingIsNoOp(t *testing.T) {
	l := New(2, zap.NewNop())
	l.Acquire("alice", true)
	l.Release("alice", false)
	assert.Equal(t, 1, l.ActiveCount("alice"))
}

func TestLimiter_PerUserIsolation(t *testing.T) {
	l := New(1, zap.NewNop())
	assert.True(t, l.Acquire("alice", true))
	assert.True(t, l.Acquire("bob", true))
	assert.False(t, l.Acquire("alice", true))
}

func TestLimiter_Scope_ReleasesExactlyOnce(t *testing.T) {
	l := New(1, zap.NewNop())

	release, ok := l.Scope("alice", true)
	assert.True(t, ok)
	assert.Equal(t, 1, l.ActiveCount("alice"))

	release()
	release() // second call must not double-release
	assert.Equal(t, 0, l.ActiveCount("alice"))
}

func TestLimiter_Scope_RejectedWhenFull(t *testing.T) {
	l := New(1, zap.NewNop())
	_, _ = l.Scope("alice", true)

	release, ok := l.Scope("alice", true)
	assert.False(t, ok)
	release() // no-op, must not panic or affect state
	assert.Equal(t, 1, l.ActiveCount("alice"))
}

func TestLimiter_ConcurrentAcquireRelease(t *testing.T) {
	l := New(10, zap.NewNop())
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, ok := l.Scope("alice", true)
			if ok {
				release()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, l.ActiveCount("alice"))
}

func TestLimiter_Stats(t *testing.T) {
	l := New(5, zap.NewNop())
	l.Acquire("alice", true)
	l.Acquire("bob", true)
	l.Acquire("bob", true)

	perUser, total := l.Stats()
	assert.Equal(t, 3, total)
	assert.Len(t, perUser, 2)
}
