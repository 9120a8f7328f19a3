package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/meghashyamc/esgateway/config"
	"github.com/meghashyamc/esgateway/logger"
	"golang.org/x/time/rate"
)

const (
	HeaderRequestID = "X-Request-ID"

	contextKeyRequestID = "request_id"
)

// requestIDMiddleware keeps a caller supplied request id or assigns a new one.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if len(requestID) == 0 {
			requestID = uuid.NewString()
		}
		c.Set(contextKeyRequestID, requestID)
		c.Writer.Header().Set(HeaderRequestID, requestID)
		c.Next()
	}
}

func loggingMiddleware(logger logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", c.GetString(contextKeyRequestID),
		)
	}
}

// rateLimitMiddleware applies one token bucket to all requests. A zero rate
// turns it off.
func rateLimitMiddleware(logger logger.Logger, cfg *config.Config) gin.HandlerFunc {
	rps, burst := cfg.GetRateLimit()
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	logger.Info("rate limiting enabled", "rps", rps, "burst", burst)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			logger.Warn("rate limit exceeded", "path", c.Request.URL.Path, "request_id", c.GetString(contextKeyRequestID))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"status":   http.StatusTooManyRequests,
				"response": "too many requests, slow down",
			})
			return
		}
		c.Next()
	}
}

// _CORSMiddleware starts with _ so that it is not imported outside of the server package.
func _CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, Authentication, accept, origin, Cache-Control, X-Requested-With, X-Request-ID") // nolint:lll
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		c.Writer.Header().Set("Access-Control-Expose-Headers", HeaderRequestID)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)

			return
		}

		c.Next()
	}
}
