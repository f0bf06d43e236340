// Package circuitbreaker implements a three-state circuit breaker guarding
// calls to the upstream LLM proxy.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is one of the three breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config controls the failure threshold and recovery timing of a breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips the
	// breaker from closed to open.
	FailureThreshold int

	// RecoveryTimeout is how long the breaker stays open before a probe is
	// admitted in the half-open state.
	RecoveryTimeout time.Duration

	// HalfOpenMaxProbes bounds the number of concurrent in-flight probes
	// the breaker admits while half-open.
	HalfOpenMaxProbes int

	// OnStateChange, if set, is invoked (asynchronously) on every transition.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns the breaker defaults used when a registry creates a
// breaker lazily.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:  5,
		RecoveryTimeout:   60 * time.Second,
		HalfOpenMaxProbes: 3,
	}
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 60 * time.Second
	}
	if c.HalfOpenMaxProbes <= 0 {
		c.HalfOpenMaxProbes = 3
	}
	return c
}

// ErrOpen is returned by CanExecute (and Do) when the breaker is open or its
// half-open probe budget is exhausted.
var ErrOpen = errors.New("circuit breaker open")

// Breaker is a single named three-state circuit breaker.
type Breaker struct {
	name   string
	config Config
	logger *zap.Logger

	mu               sync.Mutex
	state            State
	consecutiveFails int
	lastFailureTime  time.Time
	halfOpenInFlight int
}

// New creates a breaker in the closed state.
func New(name string, config Config, logger *zap.Logger) *Breaker {
	return &Breaker{
		name:   name,
		config: config.withDefaults(),
		logger: logger,
		state:  Closed,
	}
}

// State returns the current state under lock.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats is a point-in-time snapshot of a breaker's state, exposed via the
// admin introspection endpoint.
type Stats struct {
	Name                string
	State               State
	ConsecutiveFailures int
	LastFailureTime      time.Time
	HalfOpenInFlight     int
}

// Stats returns a snapshot of the breaker's fields.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:                b.name,
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFails,
		LastFailureTime:      b.lastFailureTime,
		HalfOpenInFlight:     b.halfOpenInFlight,
	}
}

// CanExecute reports whether a call may proceed right now. It is also where
// the time-driven open→half_open transition happens, so every caller must
// consult it immediately before attempting the call. On success it returns
// a release function the caller must invoke exactly once with the outcome.
func (b *Breaker) CanExecute() (release func(success bool), err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return b.releaseFunc(), nil

	case Open:
		if time.Since(b.lastFailureTime) >= b.config.RecoveryTimeout {
			b.setState(HalfOpen)
			b.halfOpenInFlight = 0
		} else {
			return nil, ErrOpen
		}
		fallthrough

	case HalfOpen:
		if b.halfOpenInFlight >= b.config.HalfOpenMaxProbes {
			return nil, ErrOpen
		}
		b.halfOpenInFlight++
		return b.releaseFunc(), nil
	}

	return nil, fmt.Errorf("circuit breaker %q: unknown state %v", b.name, b.state)
}

func (b *Breaker) releaseFunc() func(success bool) {
	return func(success bool) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if success {
			b.onSuccess()
		} else {
			b.onFailure()
		}
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess() {
	switch b.state {
	case Closed:
		b.consecutiveFails = 0
	case HalfOpen:
		b.setState(Closed)
		b.consecutiveFails = 0
		b.halfOpenInFlight = 0
	case Open:
		b.logger.Warn("circuit breaker received success while open", zap.String("breaker", b.name))
	}
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure() {
	b.consecutiveFails++
	b.lastFailureTime = time.Now()

	switch b.state {
	case Closed:
		if b.consecutiveFails >= b.config.FailureThreshold {
			b.logger.Warn("circuit breaker tripped",
				zap.String("breaker", b.name),
				zap.Int("consecutive_failures", b.consecutiveFails),
			)
			b.setState(Open)
		}
	case HalfOpen:
		b.logger.Warn("circuit breaker probe failed, reopening",
			zap.String("breaker", b.name),
		)
		b.setState(Open)
		b.halfOpenInFlight = 0
	case Open:
		b.logger.Warn("circuit breaker received failure while open", zap.String("breaker", b.name))
	}
}

// setState must be called with b.mu held.
func (b *Breaker) setState(to State) {
	from := b.state
	b.state = to
	if b.config.OnStateChange != nil {
		name, cb := b.name, b.config.OnStateChange
		go cb(name, from, to)
	}
}

// Reset forces the breaker back to closed and zeros its counters, regardless
// of current state. Used by the admin reset endpoint.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	from := b.state
	b.state = Closed
	b.consecutiveFails = 0
	b.halfOpenInFlight = 0
	if b.config.OnStateChange != nil && from != Closed {
		name, cb := b.name, b.config.OnStateChange
		go cb(name, from, Closed)
	}
}

// Do runs fn under the breaker: it consults CanExecute, invokes fn if
// admitted, and records the outcome: every non-nil error from fn counts as
// a breaker failure. Callers that want certain errors to NOT count against
// the breaker (e.g. client errors) should instead call CanExecute directly.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	release, err := b.CanExecute()
	if err != nil {
		return err
	}
	err = fn(ctx)
	release(err == nil)
	return err
}
