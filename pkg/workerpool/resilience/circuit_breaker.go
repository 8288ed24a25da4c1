package resilience

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrBreakerOpen is returned while the breaker is open.
	ErrBreakerOpen = errors.New("resilience: circuit breaker is open")
	// ErrBreakerBusy is returned in half-open state once the probe budget is used.
	ErrBreakerBusy = errors.New("resilience: too many calls in half-open state")
)

// BreakerState is one of closed, open or half-open.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	Name             string
	FailureThreshold int           // open after N consecutive failures
	SuccessThreshold int           // close after N consecutive half-open successes
	Timeout          time.Duration // how long to stay open before probing
	HalfOpenMaxCalls int           // concurrent probe budget in half-open
	OnStateChange    func(from, to BreakerState)
}

// CircuitBreaker implements the standard closed/open/half-open state
// machine. All state is guarded by one mutex; Call holds it only around
// bookkeeping, never while fn runs.
type CircuitBreaker struct {
	cfg BreakerConfig

	mu               sync.Mutex
	state            BreakerState
	consecutiveFails int
	halfOpenHits     int
	halfOpenCalls    int
	totalFailures    int64
	totalSuccesses   int64
	openedAt         time.Time
}

// NewCircuitBreaker creates a breaker in the closed state.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}
	return &CircuitBreaker{cfg: cfg, state: BreakerClosed}
}

// Call runs fn under breaker protection.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if err := cb.before(); err != nil {
		return err
	}

	err := fn()
	cb.after(err)
	return err
}

// before admits or rejects a call and accounts for half-open probes.
func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerOpen:
		if time.Since(cb.openedAt) < cb.cfg.Timeout {
			return ErrBreakerOpen
		}
		cb.transition(BreakerHalfOpen)
		fallthrough
	case BreakerHalfOpen:
		if cb.halfOpenCalls >= cb.cfg.HalfOpenMaxCalls {
			return ErrBreakerBusy
		}
		cb.halfOpenCalls++
	}
	return nil
}

func (cb *CircuitBreaker) after(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == BreakerHalfOpen {
		cb.halfOpenCalls--
	}

	if err != nil {
		cb.totalFailures++
		cb.consecutiveFails++
		switch cb.state {
		case BreakerHalfOpen:
			cb.transition(BreakerOpen)
		case BreakerClosed:
			if cb.consecutiveFails >= cb.cfg.FailureThreshold {
				cb.transition(BreakerOpen)
			}
		}
		return
	}

	cb.totalSuccesses++
	cb.consecutiveFails = 0
	if cb.state == BreakerHalfOpen {
		cb.halfOpenHits++
		if cb.halfOpenHits >= cb.cfg.SuccessThreshold {
			cb.transition(BreakerClosed)
		}
	}
}

// transition switches state; caller holds cb.mu.
func (cb *CircuitBreaker) transition(to BreakerState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to

	switch to {
	case BreakerOpen:
		cb.openedAt = time.Now()
		cb.halfOpenHits = 0
	case BreakerClosed, BreakerHalfOpen:
		cb.consecutiveFails = 0
		cb.halfOpenHits = 0
		cb.halfOpenCalls = 0
	}

	if cb.cfg.OnStateChange != nil {
		go cb.cfg.OnStateChange(from, to)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(BreakerClosed)
	cb.totalFailures = 0
	cb.totalSuccesses = 0
}

// BreakerMetrics is a snapshot of breaker counters.
type BreakerMetrics struct {
	Name             string       `json:"name"`
	State            BreakerState `json:"state"`
	Failures         int64        `json:"failures"`
	Successes        int64        `json:"successes"`
	ConsecutiveFails int          `json:"consecutive_fails"`
}

// Metrics returns a snapshot of breaker counters.
func (cb *CircuitBreaker) Metrics() BreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerMetrics{
		Name:             cb.cfg.Name,
		State:            cb.state,
		Failures:         cb.totalFailures,
		Successes:        cb.totalSuccesses,
		ConsecutiveFails: cb.consecutiveFails,
	}
}

// BreakerGroup lazily creates one breaker per key, sharing a config.
type BreakerGroup struct {
	cfg      BreakerConfig
	breakers sync.Map // map[string]*CircuitBreaker
}

// NewBreakerGroup creates an empty group.
func NewBreakerGroup(cfg BreakerConfig) *BreakerGroup {
	return &BreakerGroup{cfg: cfg}
}

// Get returns the breaker for key, creating it on first use.
func (g *BreakerGroup) Get(key string) *CircuitBreaker {
	if cb, ok := g.breakers.Load(key); ok {
		return cb.(*CircuitBreaker)
	}
	cfg := g.cfg
	cfg.Name = key
	cb, _ := g.breakers.LoadOrStore(key, NewCircuitBreaker(cfg))
	return cb.(*CircuitBreaker)
}

// All returns every breaker in the group keyed by name.
func (g *BreakerGroup) All() map[string]*CircuitBreaker {
	out := make(map[string]*CircuitBreaker)
	g.breakers.Range(func(k, v interface{}) bool {
		out[k.(string)] = v.(*CircuitBreaker)
		return true
	})
	return out
}
