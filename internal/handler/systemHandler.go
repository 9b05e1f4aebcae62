package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/aman-churiwal/delivery-gateway/internal/circuitbreaker"
	"github.com/aman-churiwal/delivery-gateway/internal/healthcheck"
	"github.com/aman-churiwal/delivery-gateway/internal/proxy"
	"github.com/aman-churiwal/delivery-gateway/internal/routing"
	"github.com/gin-gonic/gin"
)

// Pinger is a dependency the gateway needs to be up.
type Pinger interface {
	Ping(ctx context.Context) error
}

const (
	StatusUp       = "UP"
	StatusDown     = "DOWN"
	StatusDegraded = "DEGRADED"
)

const pingTimeout = 2 * time.Second

// Handles system-related endpoints
type SystemHandler struct {
	dependencies map[string]Pinger
	proxies      map[string]*proxy.Proxy
	breakers     *circuitbreaker.Registry
	table        *routing.Table
}

// NewSystemHandler wires the health and admin endpoints. Nil dependencies
// are skipped.
func NewSystemHandler(dependencies map[string]Pinger, proxies map[string]*proxy.Proxy, breakers *circuitbreaker.Registry, table *routing.Table) *SystemHandler {
	deps := make(map[string]Pinger, len(dependencies))
	for name, p := range dependencies {
		if p != nil {
			deps[name] = p
		}
	}
	return &SystemHandler{
		dependencies: deps,
		proxies:      proxies,
		breakers:     breakers,
		table:        table,
	}
}

type ComponentHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type UpstreamHealth struct {
	Status         healthcheck.HealthStatus `json:"status"`
	CircuitBreaker circuitbreaker.State     `json:"circuit_breaker"`
	Targets        []healthcheck.Status     `json:"targets"`
}

type HealthResponse struct {
	Status       string                     `json:"status"`
	Timestamp    time.Time                  `json:"timestamp"`
	Dependencies map[string]ComponentHealth `json:"dependencies"`
	Upstreams    map[string]UpstreamHealth  `json:"upstreams"`
}

// Health handles GET /health and /actuator/health. A failed dependency
// answers 503; unhealthy upstreams or open breakers only degrade the status.
func (h *SystemHandler) Health(c *gin.Context) {
	resp := HealthResponse{
		Status:       StatusUp,
		Timestamp:    time.Now().UTC(),
		Dependencies: make(map[string]ComponentHealth, len(h.dependencies)),
		Upstreams:    make(map[string]UpstreamHealth, len(h.proxies)),
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), pingTimeout)
	defer cancel()

	for name, dep := range h.dependencies {
		if err := dep.Ping(ctx); err != nil {
			resp.Dependencies[name] = ComponentHealth{Status: StatusDown, Error: err.Error()}
			resp.Status = StatusDown
			continue
		}
		resp.Dependencies[name] = ComponentHealth{Status: StatusUp}
	}

	for name, p := range h.proxies {
		upstream := UpstreamHealth{
			Status:  p.OverallHealth(),
			Targets: p.HealthStatuses(),
		}
		if cb, ok := h.breakers.Lookup(name); ok {
			upstream.CircuitBreaker = cb.State()
		}
		resp.Upstreams[name] = upstream

		if resp.Status == StatusUp && (upstream.Status != healthcheck.Healthy || upstream.CircuitBreaker != circuitbreaker.StateClosed) {
			resp.Status = StatusDegraded
		}
	}

	status := http.StatusOK
	if resp.Status == StatusDown {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

// Returns the status of all circuit breakers
func (h *SystemHandler) CircuitBreakers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"config":           h.breakers.Config(),
		"circuit_breakers": h.breakers.Snapshots(),
	})
}

// Manually resets a circuit breaker
func (h *SystemHandler) ResetCircuitBreaker(c *gin.Context) {
	name := c.Param("name")

	if !h.breakers.Reset(name) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":  "Circuit breaker not found",
			"status": http.StatusNotFound,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  "Circuit breaker reset successfully",
		"upstream": name,
	})
}

type RouteView struct {
	routing.Rule
	Chain   []string `json:"chain"`
	Targets []string `json:"targets,omitempty"`
}

// Routes handles GET /admin/routes, listing rules in match order. chain
// reports the filters compiled for each route.
func (h *SystemHandler) Routes(chain func(route string) []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		rules := h.table.Rules()
		views := make([]RouteView, 0, len(rules))
		for _, r := range rules {
			view := RouteView{Rule: r, Chain: chain(r.Name)}
			if p, ok := h.proxies[r.Upstream]; ok {
				view.Targets = p.Targets()
			}
			views = append(views, view)
		}

		c.JSON(http.StatusOK, gin.H{"routes": views})
	}
}
