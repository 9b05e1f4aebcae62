package loadbalancer

import "sync"

// LeastConnections picks the target with the fewest in-flight requests.
// Ties go to the earliest target in the list.
type LeastConnections struct {
	mu       sync.Mutex
	inflight map[string]int
}

func NewLeastConnections() *LeastConnections {
	return &LeastConnections{inflight: make(map[string]int)}
}

func (l *LeastConnections) Next(targets []string) string {
	if len(targets) == 0 {
		return ""
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	selected := targets[0]
	for _, target := range targets[1:] {
		if l.inflight[target] < l.inflight[selected] {
			selected = target
		}
	}
	return selected
}

func (l *LeastConnections) Acquire(target string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inflight[target]++
}

func (l *LeastConnections) Release(target string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inflight[target] > 1 {
		l.inflight[target]--
	} else {
		delete(l.inflight, target)
	}
}

// InFlight returns the current count for target.
func (l *LeastConnections) InFlight(target string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inflight[target]
}

func (l *LeastConnections) Name() string {
	return LeastConnectionsName
}
