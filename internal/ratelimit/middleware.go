// middleware.go: Gin middleware binding the admission service to HTTP
package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// ContextUserIDKey is where the host's auth middleware leaves the resolved
// caller id. Absent or empty means an anonymous caller keyed by client IP.
const ContextUserIDKey = "userID"

// Middleware gates every request through the admission service. Admitted
// requests proceed with X-RateLimit-Limit / X-RateLimit-Remaining headers;
// denied ones get a 429 with a stable machine-readable code and, when the
// denial stems from an active block, X-RateLimit-Retry-After.
func Middleware(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := CheckRequest{
			Identity: c.GetString(ContextUserIDKey),
			Method:   c.Request.Method,
			Path:     c.Request.URL.Path,
		}
		if req.Identity == "" {
			req.Identity = c.ClientIP()
			req.Anonymous = true
		}

		dec := svc.Check(c.Request.Context(), req)

		if dec.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(dec.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
		}
		if !dec.Allowed {
			cause := ErrLimitExceeded
			if dec.Code == CodeIdentityBlocked {
				cause = ErrBlocked
			}
			// Attach the semantic error for the request logger's error trail.
			_ = c.Error(cause)
			if dec.RetryAfter > 0 {
				c.Header("X-RateLimit-Retry-After", strconv.Itoa(int(dec.RetryAfter.Seconds())))
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
				"code":  dec.Code,
			})
			return
		}

		c.Next()

		// Outcome tracking covers what the wrapped handler actually did,
		// so it runs on completion, off the critical path.
		svc.RecordOutcome(req.Identity, Outcome{
			Status: c.Writer.Status(),
			At:     time.Now(),
		})
	}
}
