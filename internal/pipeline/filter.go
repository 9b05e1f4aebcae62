package pipeline

import (
	"errors"
	"strconv"

	"github.com/aman-churiwal/delivery-gateway/internal/apperror"
	"github.com/aman-churiwal/delivery-gateway/internal/auth"
	"github.com/aman-churiwal/delivery-gateway/internal/circuitbreaker"
	"github.com/aman-churiwal/delivery-gateway/internal/metrics"
	"github.com/aman-churiwal/delivery-gateway/internal/middleware"
	"github.com/aman-churiwal/delivery-gateway/internal/ratelimit"
	"github.com/aman-churiwal/delivery-gateway/internal/routing"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const UserIDHeader = "X-User-Id"

// Filter is one pipeline stage. Apply returns nil to continue; any error
// ends the request with the error's classification.
type Filter interface {
	Name() string
	Apply(c *gin.Context, ex *Exchange) error
}

// AuthFilter requires a valid bearer token outside the public paths and
// forwards the caller's identity.
type AuthFilter struct {
	validator *auth.Validator
	public    routing.PublicPaths
}

func NewAuthFilter(validator *auth.Validator, public routing.PublicPaths) *AuthFilter {
	return &AuthFilter{validator: validator, public: public}
}

func (f *AuthFilter) Name() string { return "auth" }

func (f *AuthFilter) Apply(c *gin.Context, ex *Exchange) error {
	if f.public.Contains(ex.Path) {
		return nil
	}

	header := c.GetHeader("Authorization")
	if header == "" {
		return apperror.Unauthorized("Authorization header required", nil)
	}

	claims, err := f.validator.Validate(header)
	if err != nil {
		return apperror.Unauthorized("Invalid or expired token", err)
	}

	ex.Identity = claims.Identity()
	ex.Claims = claims
	c.Request.Header.Set(UserIDHeader, ex.Identity)
	c.Set(middleware.UserIDKey, ex.Identity)
	return nil
}

// RateLimitFilter counts the request against the caller's window. A
// degraded counter store admits the request.
type RateLimitFilter struct {
	limiter ratelimit.Limiter
	metrics *metrics.Metrics
}

func NewRateLimitFilter(limiter ratelimit.Limiter, m *metrics.Metrics) *RateLimitFilter {
	return &RateLimitFilter{limiter: limiter, metrics: m}
}

func (f *RateLimitFilter) Name() string { return "ratelimit" }

func (f *RateLimitFilter) Apply(c *gin.Context, ex *Exchange) error {
	key := ratelimit.Key(ex.Identity, ex.ForwardedUserID, c.ClientIP())

	decision, err := f.limiter.Admit(c.Request.Context(), key)
	if err != nil {
		var appErr *apperror.Error
		if !errors.As(err, &appErr) || appErr.Kind != apperror.KindDependencyDegraded {
			return err
		}
		ex.Logger.Warn("rate limiter degraded",
			zap.String("key", key),
			zap.Error(appErr.Err),
		)
		if f.metrics != nil {
			f.metrics.RateLimiterDegraded.Inc()
		}
	}
	ex.RateLimit = &decision

	c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

	if !decision.Allowed {
		c.Header("Retry-After", strconv.Itoa(decision.RetryAfter()))
		return apperror.RateLimited("Rate limit exceeded")
	}
	return nil
}

// BreakerFilter takes a permit from the upstream's circuit breaker.
type BreakerFilter struct {
	breakers *circuitbreaker.Registry
}

func NewBreakerFilter(breakers *circuitbreaker.Registry) *BreakerFilter {
	return &BreakerFilter{breakers: breakers}
}

func (f *BreakerFilter) Name() string { return "circuitbreaker" }

func (f *BreakerFilter) Apply(c *gin.Context, ex *Exchange) error {
	permit, err := f.breakers.Get(ex.Route.Upstream).Admit()
	if err != nil {
		return apperror.UpstreamUnavailable("Service temporarily unavailable", err)
	}
	ex.Permit = permit
	return nil
}

// rejectionReason labels a rejection for metrics.
func rejectionReason(err *apperror.Error) string {
	switch err.Kind {
	case apperror.KindAuthentication:
		return metrics.ReasonUnauthorized
	case apperror.KindRateLimited:
		return metrics.ReasonRateLimited
	case apperror.KindRouteNotFound:
		return metrics.ReasonNoRoute
	case apperror.KindUpstreamUnavailable:
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return metrics.ReasonCircuitOpen
		}
		return metrics.ReasonNoHealthyTarget
	}
	return ""
}

func writeError(c *gin.Context, err *apperror.Error) {
	c.AbortWithStatusJSON(err.Status(), err.Body())
}
