package middleware

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/aman-churiwal/delivery-gateway/internal/apperror"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const maxTrackedClients = 10000

// ClientThrottle is an in-process token bucket per client IP. It guards the
// gateway's own endpoints; proxied traffic is limited by the shared window
// counter instead.
type ClientThrottle struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*rate.Limiter
}

func NewClientThrottle(perSecond float64, burst int) *ClientThrottle {
	if burst <= 0 {
		burst = 1
	}
	return &ClientThrottle{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		clients: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether the client may proceed now.
func (t *ClientThrottle) Allow(clientIP string) bool {
	t.mu.Lock()
	limiter, ok := t.clients[clientIP]
	if !ok {
		if len(t.clients) >= maxTrackedClients {
			t.clients = make(map[string]*rate.Limiter)
		}
		limiter = rate.NewLimiter(t.limit, t.burst)
		t.clients[clientIP] = limiter
	}
	t.mu.Unlock()

	return limiter.Allow()
}

// Middleware rejects clients that exceed their bucket with 429.
func (t *ClientThrottle) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !t.Allow(c.ClientIP()) {
			appErr := apperror.RateLimited("Rate limit exceeded")
			c.Header("Retry-After", strconv.Itoa(t.retryAfter()))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, appErr.Body())
			return
		}
		c.Next()
	}
}

func (t *ClientThrottle) retryAfter() int {
	if t.limit <= 0 || t.limit >= 1 {
		return 1
	}
	return int(1/float64(t.limit) + 0.999)
}
