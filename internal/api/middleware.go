package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/behzadon/livepoll/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	DefaultRateLimit  = 1000
	DefaultRateWindow = time.Minute
	DefaultBurstLimit = 50
	cleanupWindow     = time.Hour
)

type RateLimitOptions struct {
	Requests int
	Window   time.Duration
	Burst    int
}

// RateLimiter guards the mutating routes with a fixed-window limit and a
// per-second burst limit, both keyed by client IP and route. With a nil
// Redis client both middlewares pass everything through.
type RateLimiter struct {
	redis  RedisClient
	opts   RateLimitOptions
	logger *zap.Logger
	now    func() time.Time
}

func NewRateLimiter(redis RedisClient, opts RateLimitOptions, logger *zap.Logger) *RateLimiter {
	if opts.Requests <= 0 {
		opts.Requests = DefaultRateLimit
	}
	if opts.Window < time.Second {
		opts.Window = DefaultRateWindow
	}
	if opts.Burst <= 0 {
		opts.Burst = DefaultBurstLimit
	}
	return &RateLimiter{
		redis:  redis,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

func (rl *RateLimiter) enabled() bool {
	return rl != nil && rl.redis != nil
}

func (rl *RateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.enabled() {
			c.Next()
			return
		}

		client := c.ClientIP()
		key := "rate_limit:" + client + ":" + c.FullPath()
		windowKey := key + ":window"
		countKey := key + ":count"

		ctx := c.Request.Context()
		now := rl.now().Unix()
		windowSecs := int64(rl.opts.Window / time.Second)

		pipe := rl.redis.Pipeline()
		getCount := pipe.Get(ctx, countKey)
		getWindow := pipe.Get(ctx, windowKey)

		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			rl.logger.Error("failed to get rate limit info",
				zap.Error(err),
				zap.String("client", client),
				zap.String("path", c.FullPath()),
			)
			c.JSON(http.StatusInternalServerError, gin.H{
				"status":  "error",
				"message": "Rate limit check failed",
			})
			c.Abort()
			return
		}

		count := 0
		window := now
		if countStr, err := getCount.Result(); err == nil {
			if count, err = strconv.Atoi(countStr); err != nil {
				rl.logger.Error("failed to parse count",
					zap.Error(err),
					zap.String("count", countStr),
				)
			}
		}
		if windowStr, err := getWindow.Result(); err == nil {
			if window, err = strconv.ParseInt(windowStr, 10, 64); err != nil {
				rl.logger.Error("failed to parse window",
					zap.Error(err),
					zap.String("window", windowStr),
				)
				window = now
			}
		}

		pipe = rl.redis.Pipeline()
		if now-window >= windowSecs {
			count = 0
			window = now
			pipe.Set(ctx, countKey, 0, cleanupWindow)
		}

		if count >= rl.opts.Requests {
			metrics.RateLimited.WithLabelValues("window").Inc()
			c.Header("Retry-After", strconv.FormatInt(window+windowSecs-now, 10))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"status":  "error",
				"message": "Rate limit exceeded",
			})
			c.Abort()
			return
		}

		pipe.Incr(ctx, countKey)
		pipe.Set(ctx, windowKey, window, cleanupWindow)
		if _, err := pipe.Exec(ctx); err != nil {
			rl.logger.Error("failed to update rate limit",
				zap.Error(err),
				zap.String("client", client),
				zap.String("path", c.FullPath()),
			)
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.opts.Requests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(rl.opts.Requests-count-1))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(window+windowSecs, 10))

		c.Next()
	}
}

func (rl *RateLimiter) BurstLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.enabled() {
			c.Next()
			return
		}

		client := c.ClientIP()
		key := "burst_limit:" + client + ":" + c.FullPath()
		ctx := c.Request.Context()

		count, err := rl.redis.Incr(ctx, key).Result()
		if err != nil {
			rl.logger.Error("failed to increment burst limit",
				zap.Error(err),
				zap.String("client", client),
				zap.String("path", c.FullPath()),
			)
			c.JSON(http.StatusInternalServerError, gin.H{
				"status":  "error",
				"message": "Burst limit check failed",
			})
			c.Abort()
			return
		}

		if count == 1 {
			if err := rl.redis.Expire(ctx, key, time.Second).Err(); err != nil {
				rl.logger.Error("failed to set burst limit expiry",
					zap.Error(err),
					zap.String("client", client),
				)
			}
		}

		if count > int64(rl.opts.Burst) {
			metrics.RateLimited.WithLabelValues("burst").Inc()
			c.JSON(http.StatusTooManyRequests, gin.H{
				"status":  "error",
				"message": "Burst limit exceeded",
			})
			c.Abort()
			return
		}

		c.Header("X-BurstLimit-Limit", strconv.Itoa(rl.opts.Burst))
		c.Header("X-BurstLimit-Remaining", strconv.FormatInt(int64(rl.opts.Burst)-count, 10))

		c.Next()
	}
}
