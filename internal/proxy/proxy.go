// Package proxy forwards requests to the targets of one upstream service.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aman-churiwal/delivery-gateway/internal/healthcheck"
	"github.com/aman-churiwal/delivery-gateway/internal/loadbalancer"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var ErrNoHealthyTarget = errors.New("no healthy target available")

// Proxy forwards to one upstream, balancing across its healthy targets.
type Proxy struct {
	name          string
	targets       []string
	proxies       map[string]*httputil.ReverseProxy
	loadBalancer  loadbalancer.Strategy
	healthChecker *healthcheck.Checker
	logger        *zap.Logger
}

type Config struct {
	Name                 string
	Targets              []string
	LoadBalancerStrategy string
	// ResponseHeaderTimeout bounds the wait for upstream response headers.
	ResponseHeaderTimeout time.Duration
	// HealthCheck enables periodic probing when non-nil. Targets and
	// Upstream are filled in from this config.
	HealthCheck *healthcheck.Config
	// Transport overrides the outbound transport.
	Transport http.RoundTripper
}

func New(cfg Config, logger *zap.Logger) (*Proxy, error) {
	if len(cfg.Targets) == 0 {
		return nil, fmt.Errorf("upstream %s: at least one target is required", cfg.Name)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("upstream", cfg.Name))

	lb, err := loadbalancer.NewStrategy(cfg.LoadBalancerStrategy)
	if err != nil {
		return nil, err
	}

	transport := cfg.Transport
	if transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.ResponseHeaderTimeout = cfg.ResponseHeaderTimeout
		t.MaxIdleConnsPerHost = 100
		transport = t
	}

	p := &Proxy{
		name:         cfg.Name,
		proxies:      make(map[string]*httputil.ReverseProxy, len(cfg.Targets)),
		loadBalancer: lb,
		logger:       logger,
	}

	for _, raw := range cfg.Targets {
		raw = strings.TrimRight(strings.TrimSpace(raw), "/")
		target, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("upstream %s: invalid target %q: %w", cfg.Name, raw, err)
		}
		if target.Scheme == "" || target.Host == "" {
			return nil, fmt.Errorf("upstream %s: target %q must be an absolute URL", cfg.Name, raw)
		}
		if _, dup := p.proxies[raw]; dup {
			continue
		}

		p.targets = append(p.targets, raw)
		p.proxies[raw] = newReverseProxy(target, transport)
	}

	if cfg.HealthCheck != nil {
		hc := *cfg.HealthCheck
		hc.Upstream = cfg.Name
		hc.Targets = p.targets
		p.healthChecker = healthcheck.NewChecker(hc, logger)
	}

	logger.Info("proxy initialized",
		zap.Strings("targets", p.targets),
		zap.String("strategy", lb.Name()),
		zap.Bool("health_checks", p.healthChecker != nil),
	)

	return p, nil
}

func newReverseProxy(target *url.URL, transport http.RoundTripper) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		Transport:     transport,
		FlushInterval: -1,
		ModifyResponse: func(resp *http.Response) error {
			if out := outcomeFrom(resp.Request.Context()); out != nil {
				out.Status = resp.StatusCode
				out.Duration = time.Since(out.start)
			}
			return nil
		},
		// The caller answers transport failures; nothing is written here.
		ErrorHandler: func(_ http.ResponseWriter, r *http.Request, err error) {
			if out := outcomeFrom(r.Context()); out != nil {
				out.Err = err
				out.Duration = time.Since(out.start)
			}
		},
	}
}

func (p *Proxy) Name() string {
	return p.name
}

func (p *Proxy) Targets() []string {
	return append([]string(nil), p.targets...)
}

// Select picks a healthy target.
func (p *Proxy) Select() (string, error) {
	candidates := p.targets
	if p.healthChecker != nil {
		candidates = p.healthChecker.HealthyTargets()
	}

	target := p.loadBalancer.Next(candidates)
	if target == "" {
		return "", ErrNoHealthyTarget
	}
	return target, nil
}

// Outcome describes one forwarded call.
type Outcome struct {
	Target string
	// Status is the upstream status code, 0 when no response arrived.
	Status int
	// Err is the transport error, if any. The response is untouched when set.
	Err error
	// Duration is measured until response headers or the transport error.
	Duration time.Duration
	// CallerError reports that the failure was caused by the inbound request
	// itself, e.g. its body could not be read.
	CallerError bool

	start time.Time
}

// Reached reports whether the upstream answered.
func (o *Outcome) Reached() bool {
	return o.Status != 0
}

type outcomeKey struct{}

func outcomeFrom(ctx context.Context) *Outcome {
	out, _ := ctx.Value(outcomeKey{}).(*Outcome)
	return out
}

// Forward proxies the request to target. The upstream response, including
// protocol upgrades, is streamed to c.Writer. On a transport error nothing
// is written and out.Err is set. out is filled in even if the response copy
// aborts with a panic.
func (p *Proxy) Forward(c *gin.Context, target string, out *Outcome) {
	rp, ok := p.proxies[target]
	if !ok {
		out.Target = target
		out.Err = fmt.Errorf("unknown target %s", target)
		return
	}

	if tracker, ok := p.loadBalancer.(loadbalancer.Tracker); ok {
		tracker.Acquire(target)
		defer tracker.Release(target)
	}

	out.Target = target
	out.start = time.Now()

	// ReverseProxy falls back to CloseNotify when the context has no Done
	// channel, which gin's writer cannot serve for every wrapped writer.
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	req := c.Request.WithContext(context.WithValue(ctx, outcomeKey{}, out))
	var body *trackedBody
	if req.Body != nil && req.Body != http.NoBody {
		body = &trackedBody{ReadCloser: req.Body}
		req.Body = body
	}

	rp.ServeHTTP(c.Writer, req)

	if out.Err != nil && body != nil && body.failed() {
		out.CallerError = true
	}
}

// trackedBody remembers read errors on the inbound body so they can be told
// apart from upstream failures.
type trackedBody struct {
	io.ReadCloser

	mu  sync.Mutex
	err error
}

func (b *trackedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err != nil && err != io.EOF {
		b.mu.Lock()
		b.err = err
		b.mu.Unlock()
	}
	return n, err
}

func (b *trackedBody) failed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err != nil
}

// IsTimeout reports whether err is a timeout.
func IsTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Start begins health checking, if enabled.
func (p *Proxy) Start(ctx context.Context) {
	if p.healthChecker != nil {
		p.healthChecker.Start(ctx)
	}
}

// Stops the health checker
func (p *Proxy) Stop() {
	if p.healthChecker != nil {
		p.healthChecker.Stop()
	}
}

// HealthStatuses returns per-target status. Without health checks every
// target is reported healthy.
func (p *Proxy) HealthStatuses() []healthcheck.Status {
	if p.healthChecker != nil {
		return p.healthChecker.Statuses()
	}
	out := make([]healthcheck.Status, 0, len(p.targets))
	for _, t := range p.targets {
		out = append(out, healthcheck.Status{Target: t, IsHealthy: true})
	}
	return out
}

func (p *Proxy) OverallHealth() healthcheck.HealthStatus {
	if p.healthChecker != nil {
		return p.healthChecker.OverallHealth()
	}
	return healthcheck.Healthy
}
