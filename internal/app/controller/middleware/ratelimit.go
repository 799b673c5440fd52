/**
 * 中间件:限流
 * @description: 基于令牌桶按客户端IP限流，突发容量与速率均来自配置
 * @func:
 */
package middleware

import (
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"neocontroller/internal/apperr"
	"neocontroller/internal/config"
	"neocontroller/internal/pkg/utils"
)

// RateLimit 按客户端IP维护独立的令牌桶，跳过配置中列出的路径
func RateLimit(cfg config.RateLimitConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}

	limiters := &limiterRegistry{
		byKey: make(map[string]*rate.Limiter),
		rps:   rate.Limit(cfg.RequestsPerSecond),
		burst: cfg.BurstSize,
	}

	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		key := utils.GetClientIP(c)
		if !limiters.forKey(key).Allow() {
			limitErr := apperr.ErrServiceUnavailable.WithDetails("rate limit exceeded")
			if cfg.StatusCode > 0 {
				limitErr.HTTPStatus = cfg.StatusCode
			}
			AbortWithError(c, limitErr)
			return
		}
		c.Next()
	}
}

type limiterRegistry struct {
	mu    sync.Mutex
	byKey map[string]*rate.Limiter
	rps   rate.Limit
	burst int
}

func (r *limiterRegistry) forKey(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.byKey[key]
	if !ok {
		l = rate.NewLimiter(r.rps, r.burst)
		r.byKey[key] = l
	}
	return l
}
