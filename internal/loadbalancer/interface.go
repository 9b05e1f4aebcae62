// Package loadbalancer picks one target out of an upstream's healthy targets.
package loadbalancer

type Strategy interface {
	// Next selects a target, or "" when targets is empty
	Next(targets []string) string

	Name() string
}

// Tracker is implemented by strategies that need to know when a request to
// a target starts and ends.
type Tracker interface {
	Acquire(target string)
	Release(target string)
}
