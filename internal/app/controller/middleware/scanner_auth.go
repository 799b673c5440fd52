/**
 * 中间件:扫描器面认证
 * @description: 可选的静态Bearer令牌校验，供内部可信的扫描调度系统调用扫描面接口
 * @func:
 */
package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"

	"neocontroller/internal/apperr"
	"neocontroller/internal/config"
)

// ScannerAuth 当配置要求时校验静态共享令牌，否则放行
func ScannerAuth(cfg config.ScannerConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.RequireBearer {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			AbortWithError(c, apperr.ErrUnauthorized.WithDetails("missing scanner bearer token"))
			return
		}
		token := strings.TrimPrefix(header, bearerPrefix)
		if subtle.ConstantTimeCompare([]byte(token), []byte(cfg.BearerToken)) != 1 {
			AbortWithError(c, apperr.ErrUnauthorized.WithDetails("invalid scanner bearer token"))
			return
		}
		c.Next()
	}
}
