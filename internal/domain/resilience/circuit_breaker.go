// Package resilience implements per-service circuit breaking with jittered
// exponential-backoff retry, generalized into an explicit keyed registry
// so any named downstream service can be isolated, not just an LLM
// provider.
package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the circuit breaker's state machine position.
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
		return "half_open"
	default:
		return "unknown"
	}
}

// Open is the sentinel error returned when acquisition is refused because
// the circuit is open.
type Open struct {
	Service         string
	RemainingSeconds float64
}

func (e *Open) Error() string {
	return fmt.Sprintf("circuit open for %q, retry in %.1fs", e.Service, e.RemainingSeconds)
}

// IsOpen reports whether err is (or wraps) a circuit-Open error.
func IsOpen(err error) bool {
	var o *Open
	return errors.As(err, &o)
}

// Config holds the tunables for one circuit breaker. Zero values fall back
// to the package defaults (5 failures / 60s cooldown).
type Config struct {
	FailThreshold int
	CooldownSec   float64
}

const (
	DefaultFailThreshold = 5
	DefaultCooldownSec   = 60.0
	// successThreshold in half-open: two consecutive successes close the
	// circuit.
	successThreshold = 2
)

// CircuitBreaker is a single named service's failure-isolation state
// machine. Exported fields are avoided in favor of an explicit
// mutex-guarded struct.
type CircuitBreaker struct {
	mu               sync.Mutex
	service          string
	state            State
	failureCount     int
	successCount     int
	failThreshold    int
	cooldownSec      float64
	lastFailureTime  time.Time
}

func newCircuitBreaker(service string, cfg Config) *CircuitBreaker {
	ft := cfg.FailThreshold
	if ft <= 0 {
		ft = DefaultFailThreshold
	}
	cd := cfg.CooldownSec
	if cd <= 0 {
		cd = DefaultCooldownSec
	}
	return &CircuitBreaker{
		service:       service,
		state:         StateClosed,
		failThreshold: ft,
		cooldownSec:   cd,
	}
}

func (cb *CircuitBreaker) cooldownElapsed() bool {
	return time.Since(cb.lastFailureTime).Seconds() >= cb.cooldownSec
}

// Acquire returns nil if a call is permitted, or a *Open error carrying the
// remaining cooldown if the circuit is open and the cooldown has not yet
// elapsed. The acquiring call that finds the cooldown elapsed moves the
// circuit to half-open (on that call, not on a timer) and is let through;
// every call is let through while half-open.
func (cb *CircuitBreaker) Acquire() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if cb.cooldownElapsed() {
			cb.state = StateHalfOpen
			cb.successCount = 0
			return nil
		}
		remaining := cb.cooldownSec - time.Since(cb.lastFailureTime).Seconds()
		if remaining < 0 {
			remaining = 0
		}
		return &Open{Service: cb.service, RemainingSeconds: remaining}
	case StateHalfOpen:
		return nil
	}
	return nil
}

// RecordSuccess records a successful call. In half-open, two consecutive
// successes close the circuit. In closed, each success decays the failure
// counter toward zero (slow self-healing), matching the source's decrement
// rule.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= successThreshold {
			cb.state = StateClosed
			cb.failureCount = 0
			cb.successCount = 0
		}
	case StateClosed:
		if cb.failureCount > 0 {
			cb.failureCount--
		}
	}
}

// RecordFailure records a failed call. Any failure while half-open
// immediately reopens the circuit. In closed, it opens once the failure
// counter (which each success decrements) reaches failThreshold.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailureTime = time.Now()

	if cb.state == StateHalfOpen {
		cb.state = StateOpen
		cb.successCount = 0
		return
	}
	if cb.state == StateClosed && cb.failureCount >= cb.failThreshold {
		cb.state = StateOpen
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// TimeUntilRetry returns the remaining cooldown in seconds, 0 if not open.
func (cb *CircuitBreaker) TimeUntilRetry() float64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateOpen {
		return 0
	}
	remaining := cb.cooldownSec - time.Since(cb.lastFailureTime).Seconds()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reset force-closes the circuit.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failureCount = 0
	cb.successCount = 0
}

// Registry is the process-wide keyed collection of circuit breakers,
// guarded by its own mutex so concurrent callers can safely look up or
// create a breaker for any given key. Constructed once at startup and
// handed to the entry point, replacing the source's module-level
// singleton map per the core's "singletons → explicit dependency objects"
// design note.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	circuits map[string]*CircuitBreaker
}

// NewRegistry constructs a registry whose breakers all share the given
// default configuration (per-service overrides can be added later if a
// caller needs them; nothing here requires per-service distinct
// thresholds).
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, circuits: make(map[string]*CircuitBreaker)}
}

// Get returns the named service's circuit breaker, creating it on first use.
func (r *Registry) Get(service string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.circuits[service]
	if !ok {
		cb = newCircuitBreaker(service, r.cfg)
		r.circuits[service] = cb
	}
	return cb
}

// AllStates returns a snapshot of every known service's current state, keyed
// by service name.
func (r *Registry) AllStates() map[string]State {
	r.mu.Lock()
	services := make([]*CircuitBreaker, 0, len(r.circuits))
	for _, cb := range r.circuits {
		services = append(services, cb)
	}
	r.mu.Unlock()

	out := make(map[string]State, len(services))
	for _, cb := range services {
		out[cb.service] = cb.State()
	}
	return out
}

// ResetAll force-closes every known circuit breaker.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	services := make([]*CircuitBreaker, 0, len(r.circuits))
	for _, cb := range r.circuits {
		services = append(services, cb)
	}
	r.mu.Unlock()
	for _, cb := range services {
		cb.Reset()
	}
}
