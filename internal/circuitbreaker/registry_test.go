package circuitbreaker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CreatesLazilyAndReuses(t *testing.T) {
	r := NewRegistry(Config{})

	_, ok := r.Lookup("order-service")
	assert.False(t, ok)

	a := r.Get("order-service")
	b := r.Get("order-service")
	assert.Same(t, a, b)

	_, ok = r.Lookup("order-service")
	assert.True(t, ok)
}

func TestRegistry_BreakersAreIndependent(t *testing.T) {
	r := NewRegistry(Config{})

	restaurants := r.Get("restaurant-service")
	for i := 0; i < 6; i++ {
		p, err := restaurants.Admit()
		require.NoError(t, err)
		p.Failure(time.Millisecond)
	}
	assert.Equal(t, StateOpen, restaurants.State())

	_, err := r.Get("order-service").Admit()
	assert.NoError(t, err)
}

func TestRegistry_ConcurrentGetReturnsOneBreaker(t *testing.T) {
	r := NewRegistry(Config{})

	var wg sync.WaitGroup
	got := make([]*CircuitBreaker, 64)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = r.Get("user-service")
		}(i)
	}
	wg.Wait()

	for _, cb := range got {
		assert.Same(t, got[0], cb)
	}
	assert.Len(t, r.Snapshots(), 1)
}

func TestRegistry_SnapshotsSortedByName(t *testing.T) {
	r := NewRegistry(Config{})
	r.Get("user-service")
	r.Get("delivery-service")
	r.Get("order-service")

	snaps := r.Snapshots()
	require.Len(t, snaps, 3)
	assert.Equal(t, "delivery-service", snaps[0].Name)
	assert.Equal(t, "order-service", snaps[1].Name)
	assert.Equal(t, "user-service", snaps[2].Name)
	assert.Equal(t, StateClosed, snaps[0].State)
}

func TestRegistry_Reset(t *testing.T) {
	r := NewRegistry(Config{})
	assert.False(t, r.Reset("missing"))

	cb := r.Get("delivery-service")
	for i := 0; i < 6; i++ {
		p, err := cb.Admit()
		require.NoError(t, err)
		p.Failure(time.Millisecond)
	}
	require.Equal(t, StateOpen, cb.State())

	assert.True(t, r.Reset("delivery-service"))
	assert.Equal(t, StateClosed, cb.State())
}

func TestRegistry_StateChangeHook(t *testing.T) {
	clock := newFakeClock()

	type change struct {
		name     string
		from, to State
	}
	var (
		mu      sync.Mutex
		changes []change
	)
	r := NewRegistry(Config{}, WithClock(clock.Now), WithStateChangeHook(func(name string, from, to State) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, change{name, from, to})
	}))

	cb := r.Get("order-service")
	for i := 0; i < 6; i++ {
		call(t, cb, true, time.Millisecond)
	}
	clock.Advance(30 * time.Second)
	for i := 0; i < 5; i++ {
		call(t, cb, false, time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []change{
		{"order-service", StateClosed, StateOpen},
		{"order-service", StateOpen, StateHalfOpen},
		{"order-service", StateHalfOpen, StateClosed},
	}, changes)
}

func TestRegistry_HookMayReadBreaker(t *testing.T) {
	var r *Registry
	var seen []State
	r = NewRegistry(Config{}, WithStateChangeHook(func(name string, _, _ State) {
		cb, _ := r.Lookup(name)
		seen = append(seen, cb.State())
	}))

	cb := r.Get("user-service")
	for i := 0; i < 6; i++ {
		call(t, cb, true, time.Millisecond)
	}
	assert.Equal(t, []State{StateOpen}, seen)
}
