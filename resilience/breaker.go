// Package resilience provides per-service circuit breaking for the
// orchestration engine.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// CircuitState represents the current state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state. Calls pass through.
	CircuitClosed CircuitState = iota
	// CircuitOpen indicates the circuit has tripped. Calls are rejected.
	CircuitOpen
	// CircuitHalfOpen indicates the circuit is testing whether the service
	// has recovered.
	CircuitHalfOpen
)

// String returns a human-readable representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ErrCircuitOpen is returned when the circuit breaker is in the open state
// and refuses to execute the call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config holds the parameters for a circuit breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures required to
	// trip the circuit from closed to open. Defaults to 5.
	FailureThreshold int `json:"failureThreshold" yaml:"failureThreshold"`

	// SuccessThreshold is the number of consecutive successes in the
	// half-open state required to close the circuit. Defaults to 1.
	SuccessThreshold int `json:"successThreshold" yaml:"successThreshold"`

	// Timeout is the duration the circuit stays open before transitioning
	// to half-open to test recovery. Defaults to 30 seconds.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// MaxConcurrent is the maximum number of concurrent probe calls allowed
	// in the half-open state. Defaults to 1.
	MaxConcurrent int `json:"maxConcurrent" yaml:"maxConcurrent"`
}

// withDefaults returns a copy of the config with zero-value fields replaced
// by sensible defaults.
func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 1
	}
	return c
}

// CircuitBreaker implements the circuit breaker pattern for protecting calls
// to a single service.
type CircuitBreaker struct {
	config          Config
	state           CircuitState
	failures        int
	successes       int
	lastFailureTime time.Time
	halfOpenCount   int
	mu              sync.RWMutex
	onStateChange   func(from, to CircuitState)
	// now is a function that returns the current time, injectable for testing.
	now func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration.
func NewCircuitBreaker(config Config) *CircuitBreaker {
	config = config.withDefaults()
	return &CircuitBreaker{
		config: config,
		state:  CircuitClosed,
		now:    time.Now,
	}
}

// OnStateChange registers a callback invoked whenever the circuit transitions
// between states. The callback is called while the breaker's lock is held,
// so it must not call back into the breaker.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to CircuitState)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Execute runs fn through the circuit breaker. If the circuit is open, it
// returns ErrCircuitOpen without invoking fn. In the half-open state it
// limits concurrency to MaxConcurrent. Success and failure are recorded
// automatically based on the error returned by fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.Allow(); err != nil {
		return err
	}

	err := fn(ctx)
	if err != nil {
		cb.RecordFailure()
	} else {
		cb.RecordSuccess()
	}
	return err
}

// Allow checks whether a call should proceed, returning ErrCircuitOpen when
// it must not. A nil return reserves a half-open probe slot when applicable;
// the caller must follow up with exactly one RecordSuccess or RecordFailure.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil

	case CircuitOpen:
		// Check if the timeout has elapsed; if so, transition to half-open.
		if cb.now().Sub(cb.lastFailureTime) >= cb.config.Timeout {
			cb.transitionTo(CircuitHalfOpen)
			cb.halfOpenCount++
			return nil
		}
		return ErrCircuitOpen

	case CircuitHalfOpen:
		if cb.halfOpenCount >= cb.config.MaxConcurrent {
			return ErrCircuitOpen
		}
		cb.halfOpenCount++
		return nil

	default:
		return ErrCircuitOpen
	}
}

// State returns the current state of the circuit breaker. If the circuit is
// open and the timeout has elapsed, this will report HalfOpen (but does not
// transition -- that occurs on the next Allow call).
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if cb.state == CircuitOpen && cb.now().Sub(cb.lastFailureTime) >= cb.config.Timeout {
		return CircuitHalfOpen
	}
	return cb.state
}

// Reset manually resets the circuit breaker to the closed state, clearing
// all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	old := cb.state
	cb.state = CircuitClosed
	cb.failures = 0
	cb.successes = 0
	cb.halfOpenCount = 0

	if old != CircuitClosed && cb.onStateChange != nil {
		cb.onStateChange(old, CircuitClosed)
	}
}

// RecordSuccess records a successful operation. Recording a success never
// re-opens a closed breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failures = 0 // reset consecutive failure count

	case CircuitHalfOpen:
		cb.successes++
		cb.halfOpenCount--
		if cb.halfOpenCount < 0 {
			cb.halfOpenCount = 0
		}
		if cb.successes >= cb.config.SuccessThreshold {
			cb.transitionTo(CircuitClosed)
		}

	case CircuitOpen:
		// Should not happen in normal flow, but handle gracefully.
	}
}

// RecordFailure records a failed operation.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.lastFailureTime = cb.now()
			cb.transitionTo(CircuitOpen)
		}

	case CircuitHalfOpen:
		cb.halfOpenCount--
		if cb.halfOpenCount < 0 {
			cb.halfOpenCount = 0
		}
		cb.lastFailureTime = cb.now()
		cb.transitionTo(CircuitOpen)

	case CircuitOpen:
		cb.lastFailureTime = cb.now()
	}
}

// transitionTo changes the circuit state and fires the callback. Caller must
// hold cb.mu.
func (cb *CircuitBreaker) transitionTo(newState CircuitState) {
	old := cb.state
	if old == newState {
		return
	}
	cb.state = newState
	cb.failures = 0
	cb.successes = 0
	cb.halfOpenCount = 0

	if cb.onStateChange != nil {
		cb.onStateChange(old, newState)
	}
}

// Counts returns the current failure and success counters (useful for
// diagnostics and testing).
func (cb *CircuitBreaker) Counts() (failures, successes int) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures, cb.successes
}

// --- Bank ---

// Bank manages one circuit breaker per service, created lazily with shared
// defaults.
type Bank struct {
	defaults Config
	logger   *slog.Logger

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	onChange func(service string, from, to CircuitState)
}

// NewBank creates an empty bank. New breakers inherit defaults.
func NewBank(defaults Config, logger *slog.Logger) *Bank {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bank{
		defaults: defaults.withDefaults(),
		logger:   logger,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// OnStateChange registers a callback invoked on every breaker transition in
// the bank, tagged with the service name. Set it before breakers are
// exercised; the callback runs with the transitioning breaker's lock held
// and must not call back into it.
func (b *Bank) OnStateChange(fn func(service string, from, to CircuitState)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = fn
}

// Breaker returns the breaker for a service, creating it on first use.
func (b *Bank) Breaker(service string) *CircuitBreaker {
	b.mu.RLock()
	cb, ok := b.breakers[service]
	b.mu.RUnlock()
	if ok {
		return cb
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.breakers[service]; ok {
		return cb
	}

	cb = NewCircuitBreaker(b.defaults)
	if fn := b.onChange; fn != nil {
		cb.OnStateChange(func(from, to CircuitState) {
			fn(service, from, to)
		})
	}
	b.breakers[service] = cb
	b.logger.Debug("Circuit breaker created", "service", service)
	return cb
}

// CanExecute reports whether calls to a service would currently be allowed.
// Unlike Allow it neither transitions the breaker nor reserves a probe slot.
func (b *Bank) CanExecute(service string) bool {
	return b.Breaker(service).State() != CircuitOpen
}

// Allow checks the service's breaker before a call. See CircuitBreaker.Allow.
func (b *Bank) Allow(service string) error {
	return b.Breaker(service).Allow()
}

// RecordSuccess records a successful call against the service's breaker.
func (b *Bank) RecordSuccess(service string) {
	b.Breaker(service).RecordSuccess()
}

// RecordFailure records a failed call against the service's breaker.
func (b *Bank) RecordFailure(service string) {
	b.Breaker(service).RecordFailure()
}

// State returns the current state of the service's breaker. Services never
// called report closed.
func (b *Bank) State(service string) CircuitState {
	b.mu.RLock()
	cb, ok := b.breakers[service]
	b.mu.RUnlock()
	if !ok {
		return CircuitClosed
	}
	return cb.State()
}

// States returns a snapshot of the state of every breaker in the bank.
func (b *Bank) States() map[string]CircuitState {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]CircuitState, len(b.breakers))
	for name, cb := range b.breakers {
		out[name] = cb.State()
	}
	return out
}

// StateCounts returns the number of breakers in each state, keyed by the
// state's string form.
func (b *Bank) StateCounts() map[string]int {
	counts := make(map[string]int, 3)
	for _, state := range b.States() {
		counts[state.String()]++
	}
	return counts
}

// ResetAll resets every breaker in the bank to the closed state.
func (b *Bank) ResetAll() {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, cb := range b.breakers {
		cb.Reset()
	}
}
