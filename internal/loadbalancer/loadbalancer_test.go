package loadbalancer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var targets = []string{"http://order-1:8083", "http://order-2:8083", "http://order-3:8083"}

func TestNewStrategy(t *testing.T) {
	for name, want := range map[string]string{
		"":                  RoundRobinName,
		"round_robin":       RoundRobinName,
		"round-robin":       RoundRobinName,
		"random":            RandomName,
		"least_connections": LeastConnectionsName,
		"least-connections": LeastConnectionsName,
	} {
		s, err := NewStrategy(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, s.Name())
	}

	_, err := NewStrategy("weighted")
	assert.Error(t, err)
}

func TestStrategies_EmptyTargets(t *testing.T) {
	for _, s := range []Strategy{NewRoundRobin(), NewRandom(), NewLeastConnections()} {
		assert.Equal(t, "", s.Next(nil), s.Name())
	}
}

func TestRoundRobin_Cycles(t *testing.T) {
	rr := NewRoundRobin()
	var got []string
	for i := 0; i < 6; i++ {
		got = append(got, rr.Next(targets))
	}
	assert.Equal(t, append(append([]string{}, targets...), targets...), got)
}

func TestRoundRobin_ConcurrentDistribution(t *testing.T) {
	rr := NewRoundRobin()

	var mu sync.Mutex
	counts := make(map[string]int)
	var wg sync.WaitGroup
	for i := 0; i < 300; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			target := rr.Next(targets)
			mu.Lock()
			counts[target]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, target := range targets {
		assert.Equal(t, 100, counts[target], target)
	}
}

func TestRandom_StaysWithinTargets(t *testing.T) {
	r := NewRandom()
	for i := 0; i < 100; i++ {
		assert.Contains(t, targets, r.Next(targets))
	}
}

func TestLeastConnections_PrefersIdleTarget(t *testing.T) {
	lc := NewLeastConnections()
	var _ Tracker = lc

	assert.Equal(t, targets[0], lc.Next(targets))

	lc.Acquire(targets[0])
	lc.Acquire(targets[1])
	assert.Equal(t, targets[2], lc.Next(targets))

	lc.Acquire(targets[2])
	lc.Acquire(targets[2])
	lc.Release(targets[0])
	assert.Equal(t, targets[0], lc.Next(targets))
	assert.Equal(t, 0, lc.InFlight(targets[0]))
	assert.Equal(t, 2, lc.InFlight(targets[2]))

	lc.Release(targets[0])
	assert.Equal(t, 0, lc.InFlight(targets[0]), "release never goes negative")
}
