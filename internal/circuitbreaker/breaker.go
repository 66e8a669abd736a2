// Package circuitbreaker guards the primary ledger store: after a run
// of failures the breaker opens and reads are served from the degraded
// local tier until the store recovers.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Allow while the breaker rejects calls.
var ErrOpen = errors.New("circuit breaker open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type Config struct {
	// FailureThreshold is the consecutive-failure count that opens
	// the breaker. Default 5.
	FailureThreshold int
	// SuccessThreshold is the successes required in half-open before
	// closing again. Default 2.
	SuccessThreshold int
	// OpenFor is how long the breaker stays open before probing.
	// Default 30s.
	OpenFor time.Duration
	// OnStateChange, if set, is called outside internal hot paths but
	// under the breaker lock; keep it fast.
	OnStateChange func(from, to State)
	// Now is an injectable clock for tests.
	Now func() time.Time
}

type Breaker struct {
	mu sync.Mutex

	state     State
	failures  int
	successes int
	openedAt  time.Time

	failureThreshold int
	successThreshold int
	openFor          time.Duration
	onStateChange    func(from, to State)
	now              func() time.Time
}

func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{
		state:            StateClosed,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		openFor:          cfg.OpenFor,
		onStateChange:    cfg.OnStateChange,
		now:              cfg.Now,
	}
}

// Allow reports whether a call may proceed. An open breaker whose
// window has elapsed transitions to half-open and lets the probe
// through.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) > b.openFor {
			b.transition(StateHalfOpen)
		} else {
			return ErrOpen
		}
	}
	return nil
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state == StateHalfOpen {
		b.successes++
		if b.successes >= b.successThreshold {
			b.transition(StateClosed)
		}
	}
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.successes = 0
	switch b.state {
	case StateHalfOpen:
		b.open()
	case StateClosed:
		if b.failures >= b.failureThreshold {
			b.open()
		}
	}
}

// State returns the current state, promoting an expired open window to
// half-open first.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.now().Sub(b.openedAt) > b.openFor {
		b.transition(StateHalfOpen)
	}
	return b.state
}

func (b *Breaker) open() {
	b.openedAt = b.now()
	b.transition(StateOpen)
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.successes = 0
	if to == StateClosed {
		b.failures = 0
	}
	if b.onStateChange != nil {
		b.onStateChange(from, to)
	}
}
