// Package circuitbreaker isolates calls to unreliable external
// dependencies behind per-dependency state machines.
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/Nicouicich/savium-backend-sub002/internal/common/errors"
	"github.com/Nicouicich/savium-backend-sub002/internal/common/logging"
)

// State represents the current state of the circuit breaker
type State int

const (
	// StateClosed means the circuit breaker is closed and allowing requests through
	StateClosed State = iota
	// StateOpen means the circuit breaker is open and rejecting requests
	StateOpen
	// StateHalfOpen means the circuit breaker is testing if the dependency has recovered
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

// Config holds the configuration for a circuit breaker
type Config struct {
	// FailureThreshold is the number of failures that opens the circuit
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before a trial call is allowed
	RecoveryTimeout time.Duration
	// SuccessThreshold is the number of consecutive trial successes needed to close the circuit
	SuccessThreshold int
	// Timeout bounds each wrapped call; exceeding it counts as a failure
	Timeout time.Duration
}

// DefaultConfig returns the generic external-API configuration
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		RecoveryTimeout:  120 * time.Second,
		SuccessThreshold: 3,
		Timeout:          10 * time.Second,
	}
}

// Operation is a call routed through a breaker. The context carries the
// breaker's timeout, so a well-behaved operation stops when it fires.
type Operation func(ctx context.Context) (interface{}, error)

// Fallback produces a substitute result when the operation fails or the
// circuit is open.
type Fallback func(ctx context.Context) (interface{}, error)

// Breaker is a per-dependency circuit breaker. All mutable state is
// guarded by the mutex; the state-machine invariants only hold if every
// Execute call goes through it.
type Breaker struct {
	name   string
	config Config

	mu              sync.Mutex
	state           State
	failureCount    int64
	successCount    int64
	timeoutCount    int64
	totalRequests   int64
	lastFailureTime time.Time
	nextRetryTime   time.Time

	onStateChange func(name string, from, to State)
	failureHook   func(name string)
	logger        logging.Logger
	now           func() time.Time
}

// New creates a breaker in the closed state
func New(name string, config Config, logger logging.Logger) *Breaker {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Breaker{
		name:   name,
		config: config,
		state:  StateClosed,
		logger: logger,
		now:    time.Now,
	}
}

// Name returns the breaker's dependency name
func (b *Breaker) Name() string {
	return b.name
}

// OnStateChange sets a callback invoked on every state transition
func (b *Breaker) OnStateChange(fn func(name string, from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

// OnFailure sets a callback invoked on every counted failure,
// dispatched on its own goroutine like the state-change hook.
func (b *Breaker) OnFailure(fn func(name string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureHook = fn
}

// Execute routes a call through the breaker.
//
// When the circuit is open and the recovery timeout has not elapsed the
// operation is never invoked: the fallback result is returned if one is
// given, otherwise a circuit-open error. Otherwise the operation races
// the configured timeout; a timeout is a failure like any other. On
// failure with a fallback, a successful fallback result is returned;
// if the fallback also fails, the operation's original error is
// returned, never the fallback's.
func (b *Breaker) Execute(ctx context.Context, op Operation, fallback Fallback) (interface{}, error) {
	if err := b.beforeCall(); err != nil {
		if fallback != nil {
			if value, fbErr := fallback(ctx); fbErr == nil {
				return value, nil
			}
		}
		return nil, err
	}

	value, err := b.call(ctx, op)
	if err != nil {
		b.onFailure(apperrors.IsType(err, apperrors.ErrTypeTimeout))
		if fallback != nil {
			if fbValue, fbErr := fallback(ctx); fbErr == nil {
				return fbValue, nil
			}
		}
		return nil, err
	}

	b.onSuccess()
	return value, nil
}

// beforeCall counts the attempt and decides whether it may proceed,
// handling the lazy OPEN -> HALF_OPEN transition.
func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRequests++

	if b.state == StateOpen {
		if b.now().After(b.nextRetryTime) {
			b.setState(StateHalfOpen)
			b.successCount = 0
			return nil
		}
		return apperrors.CircuitOpenError(b.name)
	}

	return nil
}

// call races the operation against the configured timeout. The timeout
// context is handed to the operation so cancellation propagates; an
// operation that ignores it keeps running after the race is lost and is
// abandoned.
func (b *Breaker) call(ctx context.Context, op Operation) (interface{}, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	type outcome struct {
		value interface{}
		err   error
	}

	done := make(chan outcome, 1)
	go func() {
		value, err := op(callCtx)
		done <- outcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		return out.value, out.err
	case <-callCtx.Done():
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, apperrors.TimeoutError(b.name)
		}
		return nil, callCtx.Err()
	}
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failureCount = 0
		// successCount is only consulted in half-open but stays
		// observable through stats
		b.successCount++
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= int64(b.config.SuccessThreshold) {
			b.setState(StateClosed)
			b.failureCount = 0
			b.successCount = 0
		}
	}
}

func (b *Breaker) onFailure(isTimeout bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	if isTimeout {
		b.timeoutCount++
	}
	b.lastFailureTime = b.now()

	if b.failureHook != nil {
		go b.failureHook(b.name)
	}

	switch b.state {
	case StateClosed:
		if b.failureCount >= int64(b.config.FailureThreshold) {
			b.setState(StateOpen)
			b.nextRetryTime = b.now().Add(b.config.RecoveryTimeout)
		}
	case StateHalfOpen:
		// One failed trial call sends us straight back
		b.setState(StateOpen)
		b.nextRetryTime = b.now().Add(b.config.RecoveryTimeout)
		b.successCount = 0
	}
}

// setState changes state and fires the hook. Callers hold the mutex;
// the hook runs on its own goroutine so it can't deadlock back into the
// breaker.
func (b *Breaker) setState(newState State) {
	oldState := b.state
	b.state = newState

	if b.onStateChange != nil && oldState != newState {
		go b.onStateChange(b.name, oldState, newState)
	}
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ForceOpen trips the breaker open with a fresh retry deadline.
// Maintenance hook for taking a dependency out of rotation.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.setState(StateOpen)
	b.lastFailureTime = b.now()
	b.nextRetryTime = b.now().Add(b.config.RecoveryTimeout)
}

// Reset forces the breaker closed and zeroes all counters
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.setState(StateClosed)
	b.failureCount = 0
	b.successCount = 0
	b.timeoutCount = 0
	b.totalRequests = 0
	b.lastFailureTime = time.Time{}
	b.nextRetryTime = time.Time{}
}

// Stats is a read-only snapshot of a breaker
type Stats struct {
	Name            string     `json:"name"`
	State           string     `json:"state"`
	FailureCount    int64      `json:"failure_count"`
	SuccessCount    int64      `json:"success_count"`
	TimeoutCount    int64      `json:"timeout_count"`
	TotalRequests   int64      `json:"total_requests"`
	LastFailureTime *time.Time `json:"last_failure_time,omitempty"`
	NextRetryTime   *time.Time `json:"next_retry_time,omitempty"`
	Config          Config     `json:"config"`
}

// Stats returns the current snapshot
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := Stats{
		Name:          b.name,
		State:         b.state.String(),
		FailureCount:  b.failureCount,
		SuccessCount:  b.successCount,
		TimeoutCount:  b.timeoutCount,
		TotalRequests: b.totalRequests,
		Config:        b.config,
	}

	if !b.lastFailureTime.IsZero() {
		t := b.lastFailureTime
		stats.LastFailureTime = &t
	}
	if !b.nextRetryTime.IsZero() {
		t := b.nextRetryTime
		stats.NextRetryTime = &t
	}

	return stats
}
