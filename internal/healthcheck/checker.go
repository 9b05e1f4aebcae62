// Package healthcheck probes upstream targets and tracks which of them may
// receive traffic.
package healthcheck

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Performs health checks on the targets of one upstream
type Checker struct {
	upstream    string
	targets     []string
	endpoint    string
	interval    time.Duration
	timeout     time.Duration
	maxFailures int
	client      *http.Client
	logger      *zap.Logger

	mu           sync.RWMutex
	healthStatus map[string]*Status
	healthy      []string

	startOnce sync.Once
	stopOnce  sync.Once
	stopChan  chan struct{}
	done      chan struct{}
}

type Config struct {
	Upstream    string
	Targets     []string
	Endpoint    string        // Health check path. Default: /actuator/health
	Interval    time.Duration // How often to check. Default: 10s
	Timeout     time.Duration // Per-probe timeout. Default: 5s
	MaxFailures int           // Consecutive failures before marking unhealthy. Default: 3
	Client      *http.Client
}

func NewChecker(cfg Config, logger *zap.Logger) *Checker {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "/actuator/health"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Checker{
		upstream:     cfg.Upstream,
		targets:      append([]string(nil), cfg.Targets...),
		endpoint:     cfg.Endpoint,
		interval:     cfg.Interval,
		timeout:      cfg.Timeout,
		maxFailures:  cfg.MaxFailures,
		client:       cfg.Client,
		logger:       logger.With(zap.String("upstream", cfg.Upstream)),
		healthStatus: make(map[string]*Status, len(cfg.Targets)),
		stopChan:     make(chan struct{}),
		done:         make(chan struct{}),
	}

	now := time.Now()
	for _, target := range c.targets {
		// assume healthy until proven otherwise
		c.healthStatus[target] = &Status{Target: target, IsHealthy: true, LastCheck: now}
	}
	c.healthy = append([]string(nil), c.targets...)

	return c
}

// Start probes in the background: one round immediately, then every
// interval until Stop is called or ctx is done. It does not block on probes.
func (c *Checker) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		c.logger.Info("starting health checks",
			zap.Int("targets", len(c.targets)),
			zap.Duration("interval", c.interval),
		)

		go func() {
			defer close(c.done)

			c.CheckAll(ctx)

			ticker := time.NewTicker(c.interval)
			defer ticker.Stop()

			for {
				select {
				case <-ticker.C:
					c.CheckAll(ctx)
				case <-c.stopChan:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	})
}

// Stop ends periodic probing. Safe to call more than once.
func (c *Checker) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})
}

// CheckAll probes every target once, concurrently.
func (c *Checker) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, target := range c.targets {
		wg.Add(1)
		go func(t string) {
			defer wg.Done()
			c.checkTarget(ctx, t)
		}(target)
	}
	wg.Wait()

	c.updateHealthyTargets()
}

func (c *Checker) checkTarget(ctx context.Context, target string) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := strings.TrimRight(target, "/") + c.endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.recordFailure(target, err)
		return
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.recordFailure(target, err)
		return
	}
	defer resp.Body.Close()

	// Consider 2xx and 3xx as healthy
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		c.recordSuccess(target)
	} else {
		c.recordFailure(target, nil, zap.Int("status", resp.StatusCode))
	}
}

func (c *Checker) recordSuccess(target string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	status := c.healthStatus[target]
	status.LastCheck = now
	status.LastSuccess = now
	status.FailureCount = 0

	if !status.IsHealthy {
		c.logger.Info("target is healthy again", zap.String("target", target))
		status.IsHealthy = true
	}
}

func (c *Checker) recordFailure(target string, err error, fields ...zap.Field) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	status := c.healthStatus[target]
	status.LastCheck = now
	status.LastFailure = now
	status.FailureCount++

	if status.IsHealthy && status.FailureCount >= c.maxFailures {
		fields = append(fields,
			zap.String("target", target),
			zap.Int("failures", status.FailureCount),
		)
		if err != nil {
			fields = append(fields, zap.Error(err))
		}
		c.logger.Warn("target marked unhealthy", fields...)
		status.IsHealthy = false
	}
}

func (c *Checker) updateHealthyTargets() {
	c.mu.Lock()
	defer c.mu.Unlock()

	healthy := make([]string, 0, len(c.targets))
	for _, target := range c.targets {
		if c.healthStatus[target].IsHealthy {
			healthy = append(healthy, target)
		}
	}
	c.healthy = healthy
}

// Returns only healthy targets
func (c *Checker) HealthyTargets() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// copy to prevent external modification
	targets := make([]string, len(c.healthy))
	copy(targets, c.healthy)
	return targets
}

func (c *Checker) Targets() []string {
	return append([]string(nil), c.targets...)
}

// Statuses returns a copy of every target's status in configuration order.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Status, 0, len(c.targets))
	for _, target := range c.targets {
		out = append(out, *c.healthStatus[target])
	}
	return out
}

func (c *Checker) OverallHealth() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch {
	case len(c.healthy) == 0:
		return Unhealthy
	case len(c.healthy) < len(c.targets):
		return Degraded
	default:
		return Healthy
	}
}
