package control

import (
	"sync"
	"time"
)

type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitBreaker trips after Threshold consecutive failures of one error
// class and lets a single probe through once Cooldown has elapsed.
// Safe for concurrent use.
type CircuitBreaker struct {
	Threshold int
	Cooldown  time.Duration

	mu          sync.Mutex
	state       CircuitState
	failures    map[string]int
	openedAt    time.Time
	openedClass string
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		Threshold: threshold,
		Cooldown:  cooldown,
		state:     CircuitClosed,
		failures:  map[string]int{},
	}
}

func (c *CircuitBreaker) State() CircuitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Allow reports whether a call may proceed at now. probe is true when this
// call moved the breaker from open to half-open.
func (c *CircuitBreaker) Allow(now time.Time) (allowed, probe bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case CircuitOpen:
		if now.Sub(c.openedAt) < c.Cooldown {
			return false, false
		}
		c.state = CircuitHalfOpen
		return true, true
	default:
		return true, false
	}
}

// RecordSuccess closes the breaker. It returns true if the breaker was not
// already closed.
func (c *CircuitBreaker) RecordSuccess() (recovered bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	recovered = c.state != CircuitClosed
	c.state = CircuitClosed
	c.openedClass = ""
	clear(c.failures)
	return recovered
}

// RecordFailure counts a failure in errClass. It returns true if this
// failure tripped the breaker open.
func (c *CircuitBreaker) RecordFailure(errClass string, now time.Time) (opened bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if errClass == "" {
		errClass = "unknown"
	}
	switch c.state {
	case CircuitOpen:
		c.failures[errClass]++
		return false
	case CircuitHalfOpen:
		c.trip(errClass, now)
		return true
	}
	c.failures[errClass]++
	if c.failures[errClass] < c.Threshold {
		return false
	}
	c.trip(errClass, now)
	return true
}

func (c *CircuitBreaker) trip(errClass string, now time.Time) {
	c.state = CircuitOpen
	c.openedAt = now
	c.openedClass = errClass
}

// Failures returns the consecutive failure count for errClass.
func (c *CircuitBreaker) Failures(errClass string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures[errClass]
}

func (c *CircuitBreaker) OpenedClass() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openedClass
}
