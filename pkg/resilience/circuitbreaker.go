// Package resilience wraps calls to optional or flaky dependencies: a
// circuit breaker, exponential-backoff retry and a context timeout.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	qerrors "github.com/Adithya-Monish-Kumar-K/querycore/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/logger"
)

// ErrCircuitOpen is the cause of every rejected call. The returned error
// also matches qerrors.ErrNetwork so HTTP callers report 503.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = [...]string{"closed", "open", "half-open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// CircuitBreakerConfig controls when the breaker trips and how it probes
// for recovery. Zero fields take defaults.
type CircuitBreakerConfig struct {
	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before probing.
	ResetTimeout time.Duration
	// HalfOpenProbes calls may be in flight while half-open.
	HalfOpenProbes int
	// IsFailure decides which errors count against the dependency. Nil
	// counts Transient errors only, so a bad request or a cancelled
	// caller never trips the circuit.
	IsFailure func(error) bool
	// OnStateChange runs with the breaker's lock held and must not call
	// back into it.
	OnStateChange func(name string, to State)
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenProbes <= 0 {
		c.HalfOpenProbes = 1
	}
	if c.IsFailure == nil {
		c.IsFailure = Transient
	}
	return c
}

// Counts is a snapshot of the breaker's bookkeeping.
type Counts struct {
	State    State
	Failures int
	Rejected uint64
	OpenedAt time.Time
}

// CircuitBreaker stops calling a dependency after repeated failures and
// lets a limited number of probes through once ResetTimeout has passed.
type CircuitBreaker struct {
	name   string
	cfg    CircuitBreakerConfig
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	probes   int
	rejected uint64
	openedAt time.Time
}

func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:   name,
		cfg:    cfg.withDefaults(),
		logger: logger.WithComponent("circuit-breaker").With("name", name),
		now:    time.Now,
	}
}

// Execute runs fn unless the circuit is open. A done ctx is reported
// without calling fn and without touching the failure count.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", cb.name, err)
	}
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Counts{State: cb.state, Failures: cb.failures, Rejected: cb.rejected, OpenedAt: cb.openedAt}
}

// Reset closes the circuit and forgets past failures.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed)
	cb.logger.Info("circuit manually reset")
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		wait := cb.cfg.ResetTimeout - cb.now().Sub(cb.openedAt)
		if wait > 0 {
			cb.rejected++
			return qerrors.Wrap(qerrors.ErrNetwork, ErrCircuitOpen,
				fmt.Sprintf("%s unavailable, retry in %s", cb.name, wait.Round(time.Millisecond)))
		}
		cb.transition(StateHalfOpen)
		cb.logger.Info("circuit half-open, probing", "after", cb.cfg.ResetTimeout)
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.cfg.HalfOpenProbes {
			cb.rejected++
			return qerrors.Wrap(qerrors.ErrNetwork, ErrCircuitOpen, cb.name+" probe already in flight")
		}
		cb.probes++
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	failed := err != nil && cb.cfg.IsFailure(err)

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case !failed && cb.state == StateHalfOpen:
		cb.transition(StateClosed)
		cb.logger.Info("circuit closed, dependency recovered")
	case !failed:
		cb.failures = 0
	case cb.state == StateHalfOpen:
		cb.failures++
		cb.transition(StateOpen)
		cb.logger.Warn("circuit re-opened, probe failed", "error", err)
	default:
		cb.failures++
		if cb.state == StateClosed && cb.failures >= cb.cfg.FailureThreshold {
			cb.transition(StateOpen)
			cb.logger.Warn("circuit opened",
				"consecutive_failures", cb.failures,
				"threshold", cb.cfg.FailureThreshold,
				"error", err,
			)
		}
	}
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to State) {
	cb.probes = 0
	switch to {
	case StateOpen:
		cb.openedAt = cb.now()
	case StateClosed:
		cb.failures = 0
	}
	if cb.state == to {
		return
	}
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, to)
	}
}
