package circuitbreaker

import (
	"fmt"
	"sync"
	"time"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "Closed"
	case Open:
		return "Open"
	case HalfOpen:
		return "HalfOpen"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Config tunes the breaker's thresholds
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
}

// DefaultConfig returns the stock breaker thresholds
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 3,
		Timeout:          30 * time.Second,
	}
}

// Breaker guards one inference provider. CanExecute answers whether a call
// may proceed; RecordSuccess/RecordFailure drive the state machine.
type Breaker interface {
	CanExecute() bool
	RecordSuccess()
	RecordFailure()
	GetState() State
	Reset()
}

// MemoryBreaker is a process-local circuit breaker. It suits single-process
// desktop deployments where breaker state need not be shared.
type MemoryBreaker struct {
	mu          sync.Mutex
	serviceName string
	config      Config

	state        State
	failureCount int
	successCount int
	lastFailure  time.Time
}

// NewMemoryBreaker creates a closed in-memory breaker for a provider
func NewMemoryBreaker(serviceName string, config Config) *MemoryBreaker {
	return &MemoryBreaker{serviceName: serviceName, config: config}
}

// CanExecute reports whether a call may proceed, transitioning Open→HalfOpen
// after the timeout elapses.
func (b *MemoryBreaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed, HalfOpen:
		return true
	case Open:
		if time.Since(b.lastFailure) > b.config.Timeout {
			b.state = HalfOpen
			b.successCount = 0
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess resets the failure count and closes a half-open breaker once
// enough successes accumulate.
func (b *MemoryBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0
	if b.state == HalfOpen {
		b.successCount++
		if b.successCount >= b.config.SuccessThreshold {
			b.state = Closed
			b.successCount = 0
		}
	}
}

// RecordFailure counts a failure, opening the breaker at the threshold or on
// any half-open failure.
func (b *MemoryBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailure = time.Now()

	if (b.state == Closed && b.failureCount >= b.config.FailureThreshold) || b.state == HalfOpen {
		b.state = Open
		b.successCount = 0
	}
}

// GetState returns the current breaker state
func (b *MemoryBreaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker closed
func (b *MemoryBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failureCount = 0
	b.successCount = 0
}
