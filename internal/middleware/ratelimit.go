package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-gateway/internal/config"
	"github.com/stemsi/exam-gateway/internal/response"
)

// RateLimiter is a fixed-window limiter keyed by applicant. Counters live in
// Redis so every gateway instance shares them.
type RateLimiter struct {
	rdb      *redis.Client
	log      zerolog.Logger
	rate     int           // Requests per interval
	interval time.Duration // Window length
	now      func() time.Time
}

// NewRateLimiter creates a RateLimiter (e.g., 120 submissions per minute).
func NewRateLimiter(rdb *redis.Client, rate int, interval time.Duration, log zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		rdb:      rdb,
		log:      log.With().Str("component", "rate_limiter").Logger(),
		rate:     rate,
		interval: interval,
		now:      time.Now,
	}
}

// Middleware returns a Gin middleware that rate-limits requests per user.
// It must run after RequireJWT. A Redis failure lets the request through.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil || rl.rate <= 0 {
			c.Next()
			return
		}

		window := rl.now().UnixNano() / int64(rl.interval)
		key := config.CacheKey.SubmitRateKey(claims.UserID, window)

		ctx := c.Request.Context()
		pipe := rl.rdb.TxPipeline()
		incr := pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, rl.interval)
		if _, err := pipe.Exec(ctx); err != nil {
			rl.log.Warn().Err(err).Int("user_id", claims.UserID).Msg("Rate limit check failed, allowing request")
			c.Next()
			return
		}

		count := incr.Val()
		remaining := int64(rl.rate) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.rate))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(rl.rate) {
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}
