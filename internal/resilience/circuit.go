package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	// BreakerClosed lets requests flow.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects requests immediately.
	BreakerOpen
	// BreakerHalfOpen lets one probe request through to test recovery.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen is returned when a call is rejected without being run.
var ErrBreakerOpen = eris.New("resilience: circuit open")

// BreakerConfig controls when the breaker opens and recovers.
type BreakerConfig struct {
	// FailureThreshold is the consecutive failure count that opens the
	// circuit. Default 5.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before a probe is
	// allowed. Default 30s.
	ResetTimeout time.Duration

	// ShouldTrip decides whether an error counts toward the threshold.
	// Defaults to IsTransient, so client errors like bad credentials
	// never open the circuit.
	ShouldTrip func(err error) bool
}

// Breaker guards one external service. Safe for concurrent use.
type Breaker struct {
	cfg BreakerConfig

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time

	now func() time.Time
}

// NewBreaker creates a breaker, filling config defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.ShouldTrip == nil {
		cfg.ShouldTrip = IsTransient
	}
	return &Breaker{cfg: cfg, state: BreakerClosed, now: time.Now}
}

// State reports the effective state, accounting for an elapsed reset
// timeout on an open circuit.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return BreakerHalfOpen
	}
	return b.state
}

// Execute runs fn unless the circuit is open.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err)
	return err
}

// ExecuteVal is Execute for functions that return a value.
func ExecuteVal[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.allow(); err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	b.record(err)
	return val, err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return ErrBreakerOpen
		}
		b.state = BreakerHalfOpen
		return nil
	default:
		return nil
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || !b.cfg.ShouldTrip(err) {
		if b.state == BreakerHalfOpen {
			b.state = BreakerClosed
		}
		b.failures = 0
		return
	}

	b.failures++
	b.openedAt = b.now()
	// Any failure in half-open reopens; in closed the threshold applies.
	if b.state == BreakerHalfOpen || b.failures >= b.cfg.FailureThreshold {
		b.state = BreakerOpen
	}
}
