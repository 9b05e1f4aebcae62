package circuitbreaker

type State int

const (
	// StateClosed - normal operation, requests pass through
	StateClosed State = iota

	// StateOpen - circuit is open, requests fail immediately
	StateOpen

	// StateHalfOpen - testing if service recovered, allow limited requests
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

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// outcomeWindow is a count-based ring buffer of the last size call outcomes.
type outcomeWindow struct {
	failed   []bool
	slow     []bool
	next     int
	count    int
	failures int
	slows    int
}

func newOutcomeWindow(size int) *outcomeWindow {
	return &outcomeWindow{
		failed: make([]bool, size),
		slow:   make([]bool, size),
	}
}

func (w *outcomeWindow) add(failed, slow bool) {
	if w.count == len(w.failed) {
		// evict the oldest outcome
		if w.failed[w.next] {
			w.failures--
		}
		if w.slow[w.next] {
			w.slows--
		}
	} else {
		w.count++
	}

	w.failed[w.next] = failed
	w.slow[w.next] = slow
	if failed {
		w.failures++
	}
	if slow {
		w.slows++
	}
	w.next = (w.next + 1) % len(w.failed)
}

func (w *outcomeWindow) reset() {
	for i := range w.failed {
		w.failed[i] = false
		w.slow[i] = false
	}
	w.next, w.count, w.failures, w.slows = 0, 0, 0, 0
}

func (w *outcomeWindow) failureRate() float64 {
	return rate(w.failures, w.count)
}

func (w *outcomeWindow) slowCallRate() float64 {
	return rate(w.slows, w.count)
}

func rate(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) * 100 / float64(total)
}
