package http

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ritwikmohanty/aegis-audit-sub001/internal/domain"
)

// Route identifiers used as rate-limit bucket keys. Submission shares one
// budget per submitter; read routes are keyed per client address.
const (
	routeRunsSubmit = "runs:submit"
	routeRunsRead   = "runs:read"
	routeTrailRead  = "trail:read"
	routeTopicsRead = "topics:read"
)

// enforceRateLimit checks the caller's budget for a route and writes the 429
// response itself when the budget is exhausted. Returns false when the
// handler must stop. An empty subject falls back to the client IP.
func (s *Server) enforceRateLimit(c *gin.Context, routeID, subject string) bool {
	if s.rateLimiter == nil || s.rateLimitRequests <= 0 {
		return true
	}
	if subject == "" {
		subject = c.ClientIP()
	}
	key := fmt.Sprintf("subject:%s:endpoint:%s", subject, routeID)
	decision, err := s.rateLimiter.Allow(c.Request.Context(), key, s.rateLimitRequests, s.rateLimitWindow)
	if err != nil {
		s.logger.Warn("rate limiter unavailable", "route", routeID, "error", err)
		if s.rateLimitFailClosed {
			writeErrorCode(c, http.StatusTooManyRequests, "RATE_LIMIT_UNAVAILABLE", "rate limiter unavailable")
			return false
		}
		return true
	}
	writeRateLimitHeaders(c, decision)
	if !decision.Allowed {
		writeErrorCode(c, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
		return false
	}
	return true
}

func writeRateLimitHeaders(c *gin.Context, decision domain.RateLimitDecision) {
	if decision.Limit > 0 {
		c.Header("RateLimit-Limit", strconv.Itoa(decision.Limit))
	}
	if decision.Remaining >= 0 {
		c.Header("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	}
	if !decision.ResetAt.IsZero() {
		c.Header("RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
	}
	if !decision.Allowed {
		retryAfter := int(decision.RetryAfter(time.Now()).Seconds())
		if retryAfter < 0 {
			retryAfter = 0
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))
	}
}
