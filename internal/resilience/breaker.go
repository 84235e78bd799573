package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// BreakerState is the current mode of a circuit breaker.
type BreakerState int

const (
	// BreakerClosed lets calls through normally.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls until the cooldown elapses.
	BreakerOpen
	// BreakerHalfOpen lets a single probe through to test recovery.
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
	}
	return "unknown"
}

// ErrBreakerOpen is returned when a call is rejected without being attempted.
var ErrBreakerOpen = eris.New("circuit breaker is open")

// BreakerConfig controls when a Breaker trips and recovers.
type BreakerConfig struct {
	// TripAfter is the consecutive-failure count that opens the circuit.
	// Default: 5.
	TripAfter int

	// Cooldown is how long the circuit stays open before a probe is
	// allowed. Default: 30s.
	Cooldown time.Duration

	// Countable decides which errors count toward tripping. Defaults to
	// every non-nil error.
	Countable func(err error) bool

	// OnStateChange observes transitions, for logging.
	OnStateChange func(from, to BreakerState)
}

// Breaker is a consecutive-failure circuit breaker guarding one provider.
type Breaker struct {
	cfg BreakerConfig

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool

	now func() time.Time // injectable for tests
}

// NewBreaker creates a breaker with defaults applied.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.TripAfter <= 0 {
		cfg.TripAfter = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{cfg: cfg, state: BreakerClosed, now: time.Now}
}

// Call runs fn through the breaker bc. An open circuit rejects immediately
// with ErrBreakerOpen. In half-open, only one probe is in flight at a time;
// concurrent callers are rejected until the probe settles.
func Call[T any](ctx context.Context, bc *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := bc.admit(); err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	bc.settle(err)
	return val, err
}

// Run is Call for functions with no result.
func (bc *Breaker) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Call(ctx, bc, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// State reports the effective state, accounting for an elapsed cooldown.
func (bc *Breaker) State() BreakerState {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if bc.state == BreakerOpen && bc.now().Sub(bc.openedAt) >= bc.cfg.Cooldown {
		return BreakerHalfOpen
	}
	return bc.state
}

// Failures returns the consecutive-failure count, for observability.
func (bc *Breaker) Failures() int {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.failures
}

// Reset forces the breaker closed.
func (bc *Breaker) Reset() {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.shift(BreakerClosed)
	bc.failures = 0
	bc.probing = false
}

func (bc *Breaker) admit() error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	switch bc.state {
	case BreakerOpen:
		if bc.now().Sub(bc.openedAt) < bc.cfg.Cooldown {
			return ErrBreakerOpen
		}
		bc.shift(BreakerHalfOpen)
		fallthrough
	case BreakerHalfOpen:
		if bc.probing {
			return ErrBreakerOpen
		}
		bc.probing = true
	}
	return nil
}

func (bc *Breaker) settle(err error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	countable := bc.cfg.Countable
	if countable == nil {
		countable = func(e error) bool { return e != nil }
	}

	if err == nil || !countable(err) {
		if bc.state == BreakerHalfOpen {
			bc.shift(BreakerClosed)
		}
		bc.failures = 0
		bc.probing = false
		return
	}

	bc.failures++
	bc.openedAt = bc.now()
	bc.probing = false

	switch bc.state {
	case BreakerClosed:
		if bc.failures >= bc.cfg.TripAfter {
			bc.shift(BreakerOpen)
		}
	case BreakerHalfOpen:
		// A failed probe reopens the circuit for a full cooldown.
		bc.shift(BreakerOpen)
	}
}

func (bc *Breaker) shift(to BreakerState) {
	from := bc.state
	if from == to {
		return
	}
	bc.state = to
	if bc.cfg.OnStateChange != nil {
		bc.cfg.OnStateChange(from, to)
	}
}
