package circuitbreaker

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrOpen is returned by Admit while the circuit is open or while every
	// half-open trial permit is taken.
	ErrOpen = errors.New("circuit breaker is open")
)

type Config struct {
	WindowSize            int           // Outcomes kept in the ring buffer. Default: 10
	MinimumCalls          int           // Outcomes needed before rates are evaluated. Default: WindowSize/2+1
	FailureRateThreshold  float64       // Percent. Default: 50
	SlowCallRateThreshold float64       // Percent. Default: 50
	SlowCallDuration      time.Duration // Default: 5 seconds
	WaitDuration          time.Duration // How long to stay open. Default: 30 seconds
	HalfOpenCalls         int           // Trial calls allowed in half-open. Default: 5
}

func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.WindowSize <= 0 {
		c.WindowSize = 10
	}
	if c.MinimumCalls <= 0 {
		c.MinimumCalls = c.WindowSize/2 + 1
	}
	if c.MinimumCalls > c.WindowSize {
		c.MinimumCalls = c.WindowSize
	}
	if c.FailureRateThreshold <= 0 {
		c.FailureRateThreshold = 50
	}
	if c.SlowCallRateThreshold <= 0 {
		c.SlowCallRateThreshold = 50
	}
	if c.SlowCallDuration <= 0 {
		c.SlowCallDuration = 5 * time.Second
	}
	if c.WaitDuration <= 0 {
		c.WaitDuration = 30 * time.Second
	}
	if c.HalfOpenCalls <= 0 {
		c.HalfOpenCalls = 5
	}
	return c
}

// StateChangeFunc observes transitions. It is called without the breaker
// lock held.
type StateChangeFunc func(name string, from, to State)

// Implements a count-based circuit breaker for one upstream
type CircuitBreaker struct {
	name     string
	cfg      Config
	now      func() time.Time
	onChange []StateChangeFunc

	mu              sync.Mutex
	state           State
	generation      uint64
	window          *outcomeWindow
	openedAt        time.Time
	lastStateChange time.Time

	// half-open trial accounting
	trialsIssued    int
	trialsCompleted int
	trialsSlow      int
}

type transition struct {
	from, to State
}

func newBreaker(name string, cfg Config, now func() time.Time, onChange []StateChangeFunc) *CircuitBreaker {
	cfg = cfg.withDefaults()
	return &CircuitBreaker{
		name:            name,
		cfg:             cfg,
		now:             now,
		onChange:        onChange,
		state:           StateClosed,
		window:          newOutcomeWindow(cfg.WindowSize),
		lastStateChange: now(),
	}
}

// New builds a standalone breaker. Most callers go through a Registry.
func New(name string, cfg Config) *CircuitBreaker {
	return newBreaker(name, cfg, time.Now, nil)
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Admit asks for permission to call the upstream. The returned permit must
// be completed with exactly one of Success, Failure or Release.
func (cb *CircuitBreaker) Admit() (*Permit, error) {
	cb.mu.Lock()

	var changed *transition
	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.cfg.WaitDuration {
			cb.mu.Unlock()
			return nil, ErrOpen
		}
		changed = cb.setState(StateHalfOpen)
	}

	if cb.state == StateHalfOpen {
		if cb.trialsIssued >= cb.cfg.HalfOpenCalls {
			cb.mu.Unlock()
			cb.notify(changed)
			return nil, ErrOpen
		}
		cb.trialsIssued++
	}

	permit := &Permit{breaker: cb, generation: cb.generation}
	cb.mu.Unlock()

	cb.notify(changed)
	return permit, nil
}

func (cb *CircuitBreaker) record(generation uint64, failed bool, duration time.Duration) {
	slow := duration > cb.cfg.SlowCallDuration

	cb.mu.Lock()
	if generation != cb.generation {
		// issued under an earlier state; stale
		cb.mu.Unlock()
		return
	}

	var changed *transition
	switch cb.state {
	case StateClosed:
		cb.window.add(failed, slow)
		if cb.window.count >= cb.cfg.MinimumCalls &&
			(cb.window.failureRate() >= cb.cfg.FailureRateThreshold ||
				cb.window.slowCallRate() >= cb.cfg.SlowCallRateThreshold) {
			changed = cb.setState(StateOpen)
		}
	case StateHalfOpen:
		cb.trialsCompleted++
		if slow {
			cb.trialsSlow++
		}
		switch {
		case failed:
			changed = cb.setState(StateOpen)
		case cb.trialsCompleted >= cb.cfg.HalfOpenCalls:
			if rate(cb.trialsSlow, cb.trialsCompleted) >= cb.cfg.SlowCallRateThreshold {
				changed = cb.setState(StateOpen)
			} else {
				changed = cb.setState(StateClosed)
			}
		}
	}
	cb.mu.Unlock()

	cb.notify(changed)
}

func (cb *CircuitBreaker) release(generation uint64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if generation == cb.generation && cb.state == StateHalfOpen && cb.trialsIssued > 0 {
		cb.trialsIssued--
	}
}

// setState must be called with mu held.
func (cb *CircuitBreaker) setState(newState State) *transition {
	if cb.state == newState {
		return nil
	}

	old := cb.state
	now := cb.now()
	cb.state = newState
	cb.lastStateChange = now
	cb.generation++
	cb.trialsIssued, cb.trialsCompleted, cb.trialsSlow = 0, 0, 0

	switch newState {
	case StateOpen:
		cb.openedAt = now
	case StateClosed:
		cb.window.reset()
	}

	return &transition{from: old, to: newState}
}

func (cb *CircuitBreaker) notify(t *transition) {
	if t == nil {
		return
	}
	for _, fn := range cb.onChange {
		fn(cb.name, t.from, t.to)
	}
}

// Returns the current state. An open breaker whose wait has elapsed still
// reports open until the next Admit.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	changed := cb.setState(StateClosed)
	if changed == nil {
		cb.window.reset()
		cb.generation++
		cb.lastStateChange = cb.now()
	}
	cb.mu.Unlock()

	cb.notify(changed)
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	Name            string    `json:"name"`
	State           State     `json:"state"`
	BufferedCalls   int       `json:"buffered_calls"`
	FailedCalls     int       `json:"failed_calls"`
	SlowCalls       int       `json:"slow_calls"`
	FailureRate     float64   `json:"failure_rate"`
	SlowCallRate    float64   `json:"slow_call_rate"`
	LastStateChange time.Time `json:"last_state_change"`
}

func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Snapshot{
		Name:            cb.name,
		State:           cb.state,
		BufferedCalls:   cb.window.count,
		FailedCalls:     cb.window.failures,
		SlowCalls:       cb.window.slows,
		FailureRate:     cb.window.failureRate(),
		SlowCallRate:    cb.window.slowCallRate(),
		LastStateChange: cb.lastStateChange,
	}
}

// Permit is one admitted call. Only the first completion counts.
type Permit struct {
	breaker    *CircuitBreaker
	generation uint64
	done       atomic.Bool
}

// Success records a completed call, including upstream 4xx answers.
func (p *Permit) Success(duration time.Duration) {
	if p.done.CompareAndSwap(false, true) {
		p.breaker.record(p.generation, false, duration)
	}
}

// Failure records a transport error, timeout or 5xx answer.
func (p *Permit) Failure(duration time.Duration) {
	if p.done.CompareAndSwap(false, true) {
		p.breaker.record(p.generation, true, duration)
	}
}

// Release gives the permit back without recording an outcome. Used for
// cancelled calls and caller mistakes.
func (p *Permit) Release() {
	if p.done.CompareAndSwap(false, true) {
		p.breaker.release(p.generation)
	}
}
