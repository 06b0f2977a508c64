// Package circuit provides a circuit breaker guarding the luckycoin services'
// dependencies: the ledger endpoint behind the gateway, Postgres, Redis and
// Kafka.
package circuit

import (
	"context"
	"sync"
	"time"

	"github.com/luckycoin-meme/luckycoin/pkg/errors"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed - requests are allowed
	StateClosed State = iota
	// StateOpen - requests are rejected
	StateOpen
	// StateHalfOpen - limited requests probe for recovery
	StateHalfOpen
)

// String returns string representation of the state
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

// Config holds circuit breaker configuration
type Config struct {
	Name            string        // Dependency name, reported in open-circuit errors
	MaxFailures     int           // Failures before opening
	SuccessRequired int           // Successes required to close from half-open
	Timeout         time.Duration // Open duration before probing
	ResetTimeout    time.Duration // Failure count window in closed state
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Name:            "default",
		MaxFailures:     5,
		SuccessRequired: 3,
		Timeout:         30 * time.Second,
		ResetTimeout:    60 * time.Second,
	}
}

// Breaker implements the circuit breaker pattern. Ledger and validation
// errors are the callee answering, so they count as successes.
type Breaker struct {
	config *Config
	now    func() time.Time
	mutex  sync.RWMutex

	state         State
	failures      int
	successes     int
	rejected      uint64
	lastFailTime  time.Time
	lastResetTime time.Time
}

// New creates a new circuit breaker
func New(config *Config) *Breaker {
	if config == nil {
		config = DefaultConfig()
	}

	cb := &Breaker{
		config: config,
		now:    time.Now,
		state:  StateClosed,
	}
	cb.lastResetTime = cb.now()
	return cb
}

// IsOpen reports whether err was returned by a breaker refusing a call
func IsOpen(err error) bool {
	ctx := errors.GetContext(err)
	_, ok := ctx["breaker"]
	return ok && errors.IsType(err, errors.ErrorTypeNetwork)
}

// Execute runs fn with circuit breaker protection
func (cb *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := ExecuteWithResult(ctx, cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// ExecuteWithResult runs fn with circuit breaker protection and returns its result
func ExecuteWithResult[T any](ctx context.Context, cb *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if !cb.allowRequest() {
		return zero, errors.New(errors.ErrorTypeNetwork, "circuit_breaker",
			"circuit breaker is open").
			WithContext("breaker", cb.config.Name).
			WithContext("state", cb.GetState().String())
	}

	result, err := fn(ctx)
	cb.recordResult(err)
	return result, err
}

func (cb *Breaker) allowRequest() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := cb.now()

	switch cb.state {
	case StateClosed:
		if now.Sub(cb.lastResetTime) > cb.config.ResetTimeout {
			cb.failures = 0
			cb.lastResetTime = now
		}
		return true

	case StateOpen:
		if now.Sub(cb.lastFailTime) > cb.config.Timeout {
			cb.state = StateHalfOpen
			cb.successes = 0
			return true
		}
		cb.rejected++
		return false

	case StateHalfOpen:
		return true

	default:
		return false
	}
}

// countsAsFailure keeps deterministic rejections from tripping the breaker
func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	return !errors.IsType(err, errors.ErrorTypeLedger) && !errors.IsType(err, errors.ErrorTypeValidation)
}

func (cb *Breaker) recordResult(err error) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if countsAsFailure(err) {
		cb.failures++
		cb.lastFailTime = cb.now()

		switch {
		case cb.state == StateClosed && cb.failures >= cb.config.MaxFailures:
			cb.state = StateOpen
			cb.successes = 0
		case cb.state == StateHalfOpen:
			cb.state = StateOpen
			cb.successes = 0
		}
		return
	}

	cb.successes++
	if cb.state == StateHalfOpen && cb.successes >= cb.config.SuccessRequired {
		cb.state = StateClosed
		cb.failures = 0
		cb.successes = 0
		cb.lastResetTime = cb.now()
	}
}

// GetState returns the current state of the circuit breaker
func (cb *Breaker) GetState() State {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()
	return cb.state
}

// Stats represents circuit breaker statistics
type Stats struct {
	Name         string
	State        State
	Failures     int
	Successes    int
	Rejected     uint64
	LastFailTime time.Time
}

// GetStats returns statistics about the circuit breaker
func (cb *Breaker) GetStats() Stats {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()

	return Stats{
		Name:         cb.config.Name,
		State:        cb.state,
		Failures:     cb.failures,
		Successes:    cb.successes,
		Rejected:     cb.rejected,
		LastFailTime: cb.lastFailTime,
	}
}

// Reset manually resets the circuit breaker to closed state
func (cb *Breaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
	cb.lastResetTime = cb.now()
}
