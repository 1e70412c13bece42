// File: internal/common/context_keys.go
package common

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// RequestIDHeader is the header name for the request ID
	RequestIDHeader = "X-Request-ID"
	// RequestIDKey is the gin context key for the request ID
	RequestIDKey = "requestID"
	// LoggerKey is the gin context key for the request-scoped logger
	LoggerKey = "logger"
	// SessionCookieName is the cookie that identifies a browser to the in-flight guard
	SessionCookieName = "portal_sid"
)

// GetRequestID returns the request ID set by the logging middleware, or "".
func GetRequestID(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}

// LoggerFromContext returns the request-scoped logger, or nil when the
// logging middleware did not run.
func LoggerFromContext(c *gin.Context) *zap.Logger {
	val, exists := c.Get(LoggerKey)
	if !exists {
		return nil
	}
	logger, ok := val.(*zap.Logger)
	if !ok {
		return nil
	}
	return logger
}
