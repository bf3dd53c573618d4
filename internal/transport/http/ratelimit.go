package http

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/astro-web3/projecthub-auth/internal/ratelimit"
	"github.com/astro-web3/projecthub-auth/pkg/logger"
	"github.com/gin-gonic/gin"
)

// loginRateLimit throttles credential guessing per client IP. A nil limiter
// disables it. The client IP honors forwarding headers only from the
// engine's trusted proxies.
func loginRateLimit(limiter *ratelimit.Limiter) gin.HandlerFunc {
	if limiter == nil {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		ip := c.ClientIP()
		ok, wait := limiter.Reserve(ip)
		if !ok {
			logger.WarnContext(c.Request.Context(), "login rate limit exceeded", slog.String("client_ip", ip))
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			abortWithError(c, http.StatusTooManyRequests, CodeRateLimited, "too many login attempts")
			return
		}
		c.Next()
	}
}
