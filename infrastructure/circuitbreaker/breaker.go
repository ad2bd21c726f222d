// Package circuitbreaker guards outbound calls to source platforms and collaborator services.
package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the state of a breaker.
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

// Config configures a breaker.
type Config struct {
	// FailureThreshold is the number of consecutive counted failures that opens the circuit.
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes that closes it again.
	SuccessThreshold int
	// Timeout is how long the circuit stays open before probing.
	Timeout time.Duration
	// Counts decides which errors count as failures. Nil counts every error.
	Counts func(error) bool
	// OnStateChange is called with the breaker name on every transition.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig opens after five failures and needs two half-open successes to close.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          time.Minute,
	}
}

// Breaker implements the circuit breaker pattern.
type Breaker struct {
	name   string
	config Config

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
	now       func() time.Time
}

// New creates a breaker. Zero config values fall back to DefaultConfig.
func New(name string, config Config) *Breaker {
	def := DefaultConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = def.SuccessThreshold
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	return &Breaker{name: name, config: config, state: StateClosed, now: time.Now}
}

// Execute runs fn unless the circuit is open.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn()
	b.after(err)
	return err
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return nil
	}

	elapsed := b.now().Sub(b.openedAt)
	if elapsed < b.config.Timeout {
		return fmt.Errorf("%w: %s retries in %v", ErrCircuitOpen, b.name, b.config.Timeout-elapsed)
	}
	b.transition(StateHalfOpen)
	return nil
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil && (b.config.Counts == nil || b.config.Counts(err)) {
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.config.FailureThreshold {
			b.openedAt = b.now()
			b.transition(StateOpen)
		}
		return
	}

	b.failures = 0
	if b.state == StateHalfOpen {
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.transition(StateClosed)
		}
	}
}

func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.failures = 0
	b.successes = 0
	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, from, to)
	}
}

// Set hands out one breaker per key (for example per host) sharing a config.
type Set struct {
	config   Config
	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewSet creates an empty breaker set.
func NewSet(config Config) *Set {
	return &Set{config: config, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for key, creating it on first use.
func (s *Set) Get(key string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[key]
	if !ok {
		b = New(key, s.config)
		s.breakers[key] = b
	}
	return b
}
