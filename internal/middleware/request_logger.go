// Package middleware holds gin middleware shared by the control API.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
)

// RequestLogger logs each request with method, path, status and timing.
// Health probes and the state websocket are skipped; the probe fires
// every few seconds and the socket stays open for hours.
func RequestLogger(logger hclog.Logger) gin.HandlerFunc {
	logger = logger.Named("http")
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if path == "/health" || path == "/rist/ws" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		status := c.Writer.Status()
		fields := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration", duration.String(),
			"ip", c.ClientIP(),
		}
		if query := c.Request.URL.RawQuery; query != "" {
			fields = append(fields, "query", query)
		}

		switch {
		case status >= 500:
			logger.Error("request failed", fields...)
		case status >= 400:
			logger.Warn("request rejected", fields...)
		default:
			logger.Debug("request served", fields...)
		}
	}
}

// ErrorLogger surfaces handler errors that were attached to the gin
// context but not otherwise reported.
func ErrorLogger(logger hclog.Logger) gin.HandlerFunc {
	logger = logger.Named("http")
	return func(c *gin.Context) {
		c.Next()

		for _, err := range c.Errors {
			logger.Error("handler error",
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"error", err.Error(),
			)
		}
	}
}
