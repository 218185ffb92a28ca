package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
)

// HTTPMetricsMiddleware records request counts, latencies, and sizes for
// every route. Unmatched requests are labeled by raw URL path.
func HTTPMetricsMiddleware(collector *MetricsCollector) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		requestSize := c.Request.ContentLength

		c.Next()

		collector.RecordHTTPRequest(
			c.Request.Method,
			path,
			c.Writer.Status(),
			time.Since(start),
			requestSize,
			int64(c.Writer.Size()),
		)
	}
}
