package quota

import (
	"context"
	"sync"
	"time"
)

// MemoryCounter is the dev-mode backend used when no durable store is
// configured: a single mutex-protected map keyed by user_id, cleared
// whenever the observed UTC day rolls over.
type MemoryCounter struct {
	mu        sync.Mutex
	counts    map[string]int
	lastReset string
	now       func() time.Time
}

// NewMemoryCounter creates an empty in-memory counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		counts: make(map[string]int),
		now:    time.Now,
	}
}

func (c *MemoryCounter) maybeReset() {
	today := todayUTC(c.now())
	if c.lastReset != today {
		c.counts = make(map[string]int)
		c.lastReset = today
	}
}

func (c *MemoryCounter) CheckAndIncrement(_ context.Context, userID string, limit int) (Decision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.maybeReset()
	c.counts[userID]++
	count := c.counts[userID]

	return Decision{
		Allowed:   count <= limit,
		Remaining: remaining(limit, count),
		ResetAt:   nextUTCMidnight(c.now()),
	}, nil
}

func (c *MemoryCounter) Status(_ context.Context, userID string, limit int) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.maybeReset()
	count := c.counts[userID]

	return Status{
		Current:   count,
		Remaining: remaining(limit, count),
		ResetAt:   nextUTCMidnight(c.now()),
	}, nil
}

func (c *MemoryCounter) Reset(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, userID)
	return nil
}
