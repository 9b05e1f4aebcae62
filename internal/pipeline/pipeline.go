// Package pipeline runs every proxied request through authentication, rate
// limiting and circuit breaking before forwarding it upstream.
package pipeline

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/aman-churiwal/delivery-gateway/internal/apperror"
	"github.com/aman-churiwal/delivery-gateway/internal/auth"
	"github.com/aman-churiwal/delivery-gateway/internal/circuitbreaker"
	"github.com/aman-churiwal/delivery-gateway/internal/metrics"
	"github.com/aman-churiwal/delivery-gateway/internal/middleware"
	"github.com/aman-churiwal/delivery-gateway/internal/proxy"
	"github.com/aman-churiwal/delivery-gateway/internal/ratelimit"
	"github.com/aman-churiwal/delivery-gateway/internal/routing"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Exchange is the per-request state shared by the filters of one chain.
type Exchange struct {
	Route routing.Rule
	// Path is the cleaned request path used for routing.
	Path string
	// Identity is the authenticated subject, empty on public routes.
	Identity string
	Claims   *auth.Claims
	// ForwardedUserID is an inbound X-User-Id from a trusted network.
	ForwardedUserID string
	RateLimit       *ratelimit.Decision
	Permit          *circuitbreaker.Permit
	Logger          *zap.Logger
}

type Config struct {
	Table           *routing.Table
	Upstreams       map[string]*proxy.Proxy
	Validator       *auth.Validator
	PublicPaths     routing.PublicPaths
	Limiter         ratelimit.Limiter
	Breakers        *circuitbreaker.Registry
	TrustedNetworks []*net.IPNet
	Metrics         *metrics.Metrics
	Logger          *zap.Logger
}

// Pipeline is the gateway's catch-all handler.
type Pipeline struct {
	table     *routing.Table
	chains    map[string][]Filter
	upstreams map[string]*proxy.Proxy
	trusted   []*net.IPNet
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// New compiles one filter chain per route. Every non-local route must have
// an upstream proxy.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Table == nil {
		return nil, errors.New("pipeline: route table is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	authFilter := NewAuthFilter(cfg.Validator, cfg.PublicPaths)
	rateLimitFilter := NewRateLimitFilter(cfg.Limiter, cfg.Metrics)
	breakerFilter := NewBreakerFilter(cfg.Breakers)

	chains := make(map[string][]Filter)
	for _, rule := range cfg.Table.Rules() {
		if rule.Local {
			continue
		}
		if _, ok := cfg.Upstreams[rule.Upstream]; !ok {
			return nil, fmt.Errorf("pipeline: route %q: no proxy for upstream %q", rule.Name, rule.Upstream)
		}

		var chain []Filter
		if rule.Filters.Authenticate {
			if cfg.Validator == nil {
				return nil, fmt.Errorf("pipeline: route %q needs a token validator", rule.Name)
			}
			chain = append(chain, authFilter)
		}
		if rule.Filters.RateLimit {
			if cfg.Limiter == nil {
				return nil, fmt.Errorf("pipeline: route %q needs a rate limiter", rule.Name)
			}
			chain = append(chain, rateLimitFilter)
		}
		if rule.Filters.CircuitBreak {
			if cfg.Breakers == nil {
				return nil, fmt.Errorf("pipeline: route %q needs a breaker registry", rule.Name)
			}
			chain = append(chain, breakerFilter)
		}
		chains[rule.Name] = chain
	}

	return &Pipeline{
		table:     cfg.Table,
		chains:    chains,
		upstreams: cfg.Upstreams,
		trusted:   cfg.TrustedNetworks,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}, nil
}

// Chain returns the names of the filters compiled for a route.
func (p *Pipeline) Chain(route string) []string {
	names := make([]string, 0, len(p.chains[route]))
	for _, f := range p.chains[route] {
		names = append(names, f.Name())
	}
	return names
}

// Handle runs the request through its route's chain and forwards it.
func (p *Pipeline) Handle(c *gin.Context) {
	path := routing.CleanPath(c.Request.URL.Path)
	logger := p.logger.With(
		zap.String("request_id", c.GetString(middleware.RequestIDKey)),
		zap.String("method", c.Request.Method),
		zap.String("path", path),
	)

	rule, ok := p.table.Resolve(path)
	if !ok || rule.Local {
		p.reject(c, logger, "", apperror.RouteNotFound("Route not found"))
		return
	}

	c.Set(middleware.RouteKey, rule.Name)
	c.Set(middleware.UpstreamKey, rule.Upstream)
	c.Request.URL.Path = path
	c.Request.URL.RawPath = ""

	ex := &Exchange{
		Route:  rule,
		Path:   path,
		Logger: logger.With(zap.String("route", rule.Name)),
	}

	if inbound := c.GetHeader(UserIDHeader); inbound != "" {
		if p.isTrusted(c.RemoteIP()) {
			ex.ForwardedUserID = inbound
		} else {
			c.Request.Header.Del(UserIDHeader)
		}
	}

	for _, f := range p.chains[rule.Name] {
		if err := f.Apply(c, ex); err != nil {
			p.reject(c, ex.Logger, rule.Name, err)
			return
		}
	}

	p.forward(c, ex)
}

func (p *Pipeline) forward(c *gin.Context, ex *Exchange) {
	upstream := p.upstreams[ex.Route.Upstream]

	target, err := upstream.Select()
	if err != nil {
		if ex.Permit != nil {
			ex.Permit.Release()
		}
		p.reject(c, ex.Logger, ex.Route.Name, apperror.UpstreamUnavailable("No healthy backend servers available", err))
		return
	}
	c.Set(middleware.BackendKey, target)

	out := &proxy.Outcome{}
	defer p.settle(c, ex, out)

	upstream.Forward(c, target, out)

	if out.Reached() {
		c.Writer.WriteHeaderNow()
		return
	}

	if out.Err == nil {
		return
	}

	if c.Request.Context().Err() != nil {
		ex.Logger.Debug("client went away before upstream answered",
			zap.String("target", target),
			zap.Error(out.Err),
		)
		c.Abort()
		return
	}

	p.reject(c, ex.Logger.With(zap.String("target", target)), ex.Route.Name,
		apperror.Internal("An error occurred in the API Gateway", out.Err))
}

// settle reports the forwarded call's outcome to the breaker.
func (p *Pipeline) settle(c *gin.Context, ex *Exchange, out *proxy.Outcome) {
	label := "success"
	permit := ex.Permit

	switch {
	case out.Err == nil && !out.Reached():
		label = ""
		if permit != nil {
			permit.Release()
		}
	case out.Err != nil && (out.CallerError || c.Request.Context().Err() != nil):
		label = "cancelled"
		if permit != nil {
			permit.Release()
		}
	case out.Err != nil:
		label = "error"
		if proxy.IsTimeout(out.Err) {
			label = "timeout"
		}
		if permit != nil {
			permit.Failure(out.Duration)
		}
	case out.Status >= 500:
		label = "server_error"
		if permit != nil {
			permit.Failure(out.Duration)
		}
	default:
		if permit != nil {
			permit.Success(out.Duration)
		}
	}

	if label != "" && p.metrics != nil {
		p.metrics.UpstreamDuration.WithLabelValues(ex.Route.Upstream, label).Observe(out.Duration.Seconds())
	}
}

func (p *Pipeline) reject(c *gin.Context, logger *zap.Logger, route string, err error) {
	appErr := apperror.From(err)

	if appErr.Kind == apperror.KindInternal {
		logger.Error("request failed", zap.Error(appErr))
	} else {
		logger.Info("request rejected",
			zap.String("kind", string(appErr.Kind)),
			zap.Int("status", appErr.Status()),
			zap.Error(appErr.Unwrap()),
		)
		if p.metrics != nil {
			if reason := rejectionReason(appErr); reason != "" {
				p.metrics.Reject(route, reason)
			}
		}
	}

	writeError(c, appErr)
}

func (p *Pipeline) isTrusted(remoteIP string) bool {
	ip := net.ParseIP(remoteIP)
	if ip == nil {
		return false
	}
	for _, n := range p.trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ParseTrustedNetworks parses CIDRs or bare addresses.
func ParseTrustedNetworks(values []string) ([]*net.IPNet, error) {
	var nets []*net.IPNet
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if !strings.Contains(v, "/") {
			ip := net.ParseIP(v)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted network %q", v)
			}
			bits := 128
			if ip.To4() != nil {
				ip = ip.To4()
				bits = 32
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(v)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted network %q: %w", v, err)
		}
		nets = append(nets, n)
	}
	return nets, nil
}
