/**
 * 中间件:请求体大小限制
 * @description: 防止单个上报请求（如批量结果）无界增长占满内存
 * @func:
 */
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// BodyLimit 包裹请求体为一个受限的Reader，超出上限时后续的Bind会返回错误
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
