package api

import (
	"log/slog"
	"net/http"
	"time"

	"marketdata-core/internal/logger"

	"github.com/gin-gonic/gin"
)

// requestIDMiddleware echoes or assigns X-Request-ID and carries it on the
// request context for logging.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeaderKey)
		if requestID == "" {
			requestID = logger.NewTraceID()
		}
		c.Header(RequestIDHeaderKey, requestID)
		c.Set(RequestIDContextKey, requestID)
		c.Request = c.Request.WithContext(logger.WithTraceID(c.Request.Context(), requestID))
		c.Next()
	}
}

// accessLogMiddleware writes one structured line per request.
func accessLogMiddleware(l *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []any{
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.String("query", c.Request.URL.RawQuery),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
			slog.String("client_ip", c.ClientIP()),
		}
		attrs = append(attrs, logger.LogWithTrace(c.Request.Context())...)
		l.Info("api request", attrs...)
	}
}

// metricsMiddleware reports route, status and latency through h.OnRequest.
func (h *Handler) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if h.OnRequest == nil {
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		h.OnRequest(route, c.Writer.Status(), time.Since(start).Seconds())
	}
}

// corsMiddleware allows any origin.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		c.Header("Access-Control-Expose-Headers", RequestIDHeaderKey)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
