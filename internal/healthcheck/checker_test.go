package healthcheck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func backend(t *testing.T, healthy *atomic.Bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/actuator/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestChecker_TargetsStartHealthy(t *testing.T) {
	c := NewChecker(Config{Upstream: "order-service", Targets: []string{"http://a", "http://b"}}, zaptest.NewLogger(t))

	assert.Equal(t, []string{"http://a", "http://b"}, c.HealthyTargets())
	assert.Equal(t, Healthy, c.OverallHealth())
}

func TestChecker_MarksUnhealthyAfterMaxFailures(t *testing.T) {
	var upHealthy, downHealthy atomic.Bool
	upHealthy.Store(true)
	up := backend(t, &upHealthy)
	down := backend(t, &downHealthy)

	core, logs := observer.New(zap.InfoLevel)
	c := NewChecker(Config{
		Upstream:    "order-service",
		Targets:     []string{up.URL, down.URL},
		MaxFailures: 2,
		Timeout:     time.Second,
	}, zap.New(core))

	ctx := context.Background()
	c.CheckAll(ctx)
	assert.Len(t, c.HealthyTargets(), 2, "one failure is tolerated")

	c.CheckAll(ctx)
	assert.Equal(t, []string{up.URL}, c.HealthyTargets())
	assert.Equal(t, Degraded, c.OverallHealth())
	assert.Equal(t, 1, logs.FilterMessage("target marked unhealthy").Len())

	statuses := c.Statuses()
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].IsHealthy)
	assert.False(t, statuses[1].IsHealthy)
	assert.Equal(t, 2, statuses[1].FailureCount)
}

func TestChecker_RecoversOnSuccess(t *testing.T) {
	var healthy atomic.Bool
	srv := backend(t, &healthy)

	c := NewChecker(Config{Upstream: "user-service", Targets: []string{srv.URL}, MaxFailures: 1}, zaptest.NewLogger(t))

	c.CheckAll(context.Background())
	assert.Empty(t, c.HealthyTargets())
	assert.Equal(t, Unhealthy, c.OverallHealth())

	healthy.Store(true)
	c.CheckAll(context.Background())
	assert.Equal(t, []string{srv.URL}, c.HealthyTargets())
	assert.Equal(t, 0, c.Statuses()[0].FailureCount)
}

func TestChecker_UnreachableTargetFails(t *testing.T) {
	c := NewChecker(Config{
		Upstream:    "delivery-service",
		Targets:     []string{"http://127.0.0.1:1"},
		MaxFailures: 1,
		Timeout:     200 * time.Millisecond,
	}, zaptest.NewLogger(t))

	c.CheckAll(context.Background())
	assert.Empty(t, c.HealthyTargets())
}

func TestChecker_StartAndStop(t *testing.T) {
	var probes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probes.Add(1)
	}))
	defer srv.Close()

	c := NewChecker(Config{Upstream: "user-service", Targets: []string{srv.URL}, Interval: 10 * time.Millisecond}, zaptest.NewLogger(t))
	c.Start(context.Background())
	c.Start(context.Background())

	assert.Eventually(t, func() bool { return probes.Load() >= 3 }, time.Second, 5*time.Millisecond)

	c.Stop()
	c.Stop()
	<-c.done
}

func TestChecker_StartDoesNotWaitForProbes(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c := NewChecker(Config{Upstream: "order-service", Targets: []string{srv.URL}, Timeout: 5 * time.Second}, zaptest.NewLogger(t))

	started := make(chan struct{})
	go func() {
		c.Start(context.Background())
		close(started)
	}()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("Start blocked on a hanging probe")
	}
	assert.Equal(t, []string{srv.URL}, c.HealthyTargets())
	c.Stop()
}

func TestHealthStatus_String(t *testing.T) {
	assert.Equal(t, "healthy", Healthy.String())
	assert.Equal(t, "degraded", Degraded.String())
	assert.Equal(t, "unhealthy", Unhealthy.String())
}
