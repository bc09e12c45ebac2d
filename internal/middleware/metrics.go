package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"agility-sync/internal/metrics"
)

// Metrics records request count and latency for endpoint. gin's response
// writer already tracks the status code, so no wrapper is needed.
func Metrics(endpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		statusStr := strconv.Itoa(c.Writer.Status())
		metrics.HTTPRequestsTotal.WithLabelValues(endpoint, statusStr).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(endpoint, statusStr).Observe(duration)
	}
}
