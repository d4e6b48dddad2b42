// Package middleware - structured_logger.go logs one zerolog event per
// HTTP request: method, path, status, duration, request id,
// and the authenticated user when a session has been attached to the
// gin context.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/relaygate/gateway/internal/logger"
)

// StructuredLogger logs every request at INFO/WARN/ERROR depending on the
// response status.
func StructuredLogger() gin.HandlerFunc {
	return StructuredLoggerWithConfigFunc(DefaultStructuredLoggerConfig())
}

// StructuredLoggerConfig customizes which paths and fields are logged.
type StructuredLoggerConfig struct {
	SkipPaths       []string
	SkipHealthCheck bool
	LogQuery        bool
	LogUserAgent    bool
}

// DefaultStructuredLoggerConfig skips /healthz and logs query string and
// user agent.
func DefaultStructuredLoggerConfig() StructuredLoggerConfig {
	return StructuredLoggerConfig{
		SkipHealthCheck: true,
		LogQuery:        true,
		LogUserAgent:    true,
	}
}

// StructuredLoggerWithConfigFunc builds a logger middleware from config.
func StructuredLoggerWithConfigFunc(config StructuredLoggerConfig) gin.HandlerFunc {
	skip := make(map[string]bool, len(config.SkipPaths)+1)
	for _, path := range config.SkipPaths {
		skip[path] = true
	}
	if config.SkipHealthCheck {
		skip["/healthz"] = true
	}

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if skip[path] {
			c.Next()
			return
		}

		start := time.Now()
		raw := c.Request.URL.RawQuery
		c.Next()
		duration := time.Since(start)
		status := c.Writer.Status()

		ev := eventForStatus(status).
			Str("requestId", GetRequestID(c)).
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", duration)

		if config.LogQuery && raw != "" {
			ev = ev.Str("query", raw)
		}
		if config.LogUserAgent {
			ev = ev.Str("userAgent", c.Request.UserAgent())
		}
		if userID, ok := c.Get("userID"); ok {
			ev = ev.Interface("userId", userID)
		}
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", c.Errors.String())
		}
		ev.Msg("http request")
	}
}

func eventForStatus(status int) *zerolog.Event {
	l := logger.HTTP()
	switch {
	case status >= 500:
		return l.Error()
	case status >= 400:
		return l.Warn()
	default:
		return l.Info()
	}
}
