package circuitbreaker

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State represents the state of a circuit breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config tunes when a breaker opens and how it probes for recovery
type Config struct {
	Name string
	// MaxFailures consecutive failures open the circuit
	MaxFailures uint32
	// ResetTimeout is how long the circuit stays open before probing
	ResetTimeout time.Duration
	// HalfOpenProbes successful probes close the circuit again
	HalfOpenProbes uint32
}

// CircuitBreaker stops calling a failing dependency, such as the media
// connection endpoint, until it has had time to recover
type CircuitBreaker struct {
	cfg    Config
	logger *logrus.Logger
	now    func() time.Time

	mu          sync.Mutex
	state       State
	failures    uint32
	probes      uint32
	successes   uint32
	requests    uint64
	lastFailure time.Time
}

// New creates a breaker; zero config fields take conservative defaults
func New(cfg Config, logger *logrus.Logger) *CircuitBreaker {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenProbes == 0 {
		cfg.HalfOpenProbes = 1
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &CircuitBreaker{cfg: cfg, logger: logger, now: time.Now, state: StateClosed}
}

// Execute runs fn unless the circuit is open. Context cancellation of the
// caller is not counted as a dependency failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.allow() {
		return &OpenError{Name: cb.cfg.Name, State: cb.State()}
	}

	err := fn(ctx)
	switch {
	case err == nil:
		cb.onSuccess()
	case ctx.Err() != nil && stderrors.Is(err, ctx.Err()):
		cb.release()
	default:
		cb.onFailure()
	}
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.advance()
	switch cb.state {
	case StateClosed:
		cb.requests++
		return true
	case StateHalfOpen:
		if cb.probes >= cb.cfg.HalfOpenProbes {
			return false
		}
		cb.probes++
		cb.requests++
		return true
	}
	return false
}

// advance moves an open circuit to half-open once the reset timeout passed
func (cb *CircuitBreaker) advance() {
	if cb.state == StateOpen && cb.now().Sub(cb.lastFailure) >= cb.cfg.ResetTimeout {
		cb.state = StateHalfOpen
		cb.probes = 0
		cb.successes = 0
		cb.logger.WithFields(logrus.Fields{
			"circuit_breaker": cb.cfg.Name,
			"state":           StateHalfOpen.String(),
		}).Info("Circuit breaker probing for recovery")
	}
}

func (cb *CircuitBreaker) onSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.cfg.HalfOpenProbes {
			cb.state = StateClosed
			cb.failures = 0
			cb.logger.WithFields(logrus.Fields{
				"circuit_breaker": cb.cfg.Name,
				"state":           StateClosed.String(),
			}).Info("Circuit breaker closed after successful recovery")
		}
	case StateClosed:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = cb.now()
	if cb.state == StateHalfOpen || cb.failures >= cb.cfg.MaxFailures {
		cb.state = StateOpen
		cb.logger.WithFields(logrus.Fields{
			"circuit_breaker": cb.cfg.Name,
			"failures":        cb.failures,
			"state":           StateOpen.String(),
		}).Warn("Circuit breaker opened due to failures")
	}
}

// release returns a half-open probe slot without judging the dependency
func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.probes > 0 {
		cb.probes--
	}
}

// State returns the current state, moving open to half-open when due
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance()
	return cb.state
}

// Stats is a snapshot of breaker counters
type Stats struct {
	Name        string
	State       State
	Failures    uint32
	Requests    uint64
	LastFailure time.Time
}

func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Stats{
		Name:        cb.cfg.Name,
		State:       cb.state,
		Failures:    cb.failures,
		Requests:    cb.requests,
		LastFailure: cb.lastFailure,
	}
}

// OpenError is returned without calling the dependency while the circuit is open
type OpenError struct {
	Name  string
	State State
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is %s", e.Name, e.State)
}

// IsOpenError reports whether err was produced by an open circuit
func IsOpenError(err error) bool {
	var openErr *OpenError
	return stderrors.As(err, &openErr)
}
