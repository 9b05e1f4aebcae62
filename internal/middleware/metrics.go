package middleware

import (
	"strconv"
	"time"

	"github.com/aman-churiwal/delivery-gateway/internal/metrics"
	"github.com/gin-gonic/gin"
)

// Instrument records request counts and durations labelled by route. Requests
// that matched no route are labelled "unmatched".
func Instrument(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.GetString(RouteKey)
		if route == "" {
			route = c.FullPath()
		}
		if route == "" {
			route = "unmatched"
		}

		m.Requests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
