// Package breaker implements a three-state circuit breaker guarding a single
// downstream dependency.
//
// A Breaker starts Closed and counts failures. Once the count reaches the
// threshold it opens and Allow rejects every call until ResetTimeout has
// elapsed since the last failure. The first Allow after that moves it to
// HalfOpen and admits exactly one trial; concurrent callers are rejected
// until the trial reports Success (back to Closed) or Failure (back to Open
// with a fresh failure clock).
package breaker

import (
	"sync"
	"time"

	"github.com/Togather-Foundation/passvault/internal/metrics"
)

// State is the breaker position.
type State int

const (
	Closed State = iota
	HalfOpen
	Open
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case HalfOpen:
		return "half_open"
	case Open:
		return "open"
	default:
		return "unknown"
	}
}

const (
	DefaultThreshold    = 5
	DefaultResetTimeout = 15 * time.Second
)

// Config configures a Breaker. Zero values take the defaults.
type Config struct {
	Name         string
	Threshold    int
	ResetTimeout time.Duration
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Snapshot is a point-in-time copy of breaker state, safe to serialize.
type Snapshot struct {
	Name           string    `json:"name"`
	State          string    `json:"state"`
	Failures       int       `json:"failures"`
	LastFailure    time.Time `json:"lastFailure,omitzero"`
	Threshold      int       `json:"threshold"`
	ResetTimeoutMs int64     `json:"resetTimeoutMs"`
}

// Breaker is safe for concurrent use.
type Breaker struct {
	name         string
	threshold    int
	resetTimeout time.Duration
	now          func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	trialOut    bool
	trialSeq    uint64
}

// New returns a closed breaker.
func New(cfg Config) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultResetTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	b := &Breaker{
		name:         cfg.Name,
		threshold:    cfg.Threshold,
		resetTimeout: cfg.ResetTimeout,
		now:          cfg.Now,
	}
	metrics.BreakerState.WithLabelValues(b.name).Set(float64(Closed))
	return b
}

// Permit is an admission handed out by Acquire. A permit granted while the
// breaker was Closed carries no trial and releases nothing.
type Permit struct {
	trial uint64
}

// Allow reports whether a call may be attempted now. Callers that may need
// to give back an unused half-open trial use Acquire instead.
func (b *Breaker) Allow() bool {
	_, ok := b.Acquire()
	return ok
}

// Acquire admits a call. In HalfOpen it hands out the single trial slot;
// callers that are admitted must follow up with exactly one of Success,
// Failure or Release.
func (b *Breaker) Acquire() (Permit, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return Permit{}, true
	case Open:
		if b.now().Sub(b.lastFailure) < b.resetTimeout {
			return Permit{}, false
		}
		b.transition(HalfOpen)
		return b.grantTrial(), true
	case HalfOpen:
		if b.trialOut {
			return Permit{}, false
		}
		return b.grantTrial(), true
	}
	return Permit{}, false
}

// grantTrial must be called with mu held.
func (b *Breaker) grantTrial() Permit {
	b.trialSeq++
	b.trialOut = true
	return Permit{trial: b.trialSeq}
}

// Success resets the failure count and closes the breaker.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.trialOut = false
	if b.state != Closed {
		b.transition(Closed)
	}
}

// Failure counts a failure. A failed half-open trial reopens immediately;
// in Closed the breaker opens once the threshold is reached.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()
	b.trialOut = false

	switch b.state {
	case HalfOpen:
		b.transition(Open)
	case Closed:
		if b.failures >= b.threshold {
			b.transition(Open)
		}
	}
}

// Release returns a half-open trial slot that was never used, for example
// because the call was abandoned before reaching the network. It records no
// outcome and is a no-op unless p is the permit holding the current trial.
func (b *Breaker) Release(p Permit) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p.trial == 0 || b.state != HalfOpen || !b.trialOut || p.trial != b.trialSeq {
		return
	}
	b.trialOut = false
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.lastFailure = time.Time{}
	b.trialOut = false
	if b.state != Closed {
		b.transition(Closed)
	}
}

// State returns the current state without triggering the Open to HalfOpen
// transition.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a copy of the current state for health reporting.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:           b.name,
		State:          b.state.String(),
		Failures:       b.failures,
		LastFailure:    b.lastFailure,
		Threshold:      b.threshold,
		ResetTimeoutMs: b.resetTimeout.Milliseconds(),
	}
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) {
	b.state = to
	metrics.BreakerState.WithLabelValues(b.name).Set(float64(to))
	metrics.BreakerTransitions.WithLabelValues(b.name, to.String()).Inc()
}
