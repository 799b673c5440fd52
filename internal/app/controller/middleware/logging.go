/**
 * 中间件:请求日志与恢复
 * @description: 为每个请求分配request_id，记录访问日志，并在panic时恢复并返回标准错误信封
 * @func:
 */
package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"neocontroller/internal/apperr"
	"neocontroller/internal/pkg/logger"
	"neocontroller/internal/pkg/utils"
)

const requestIDHeader = "X-Request-ID"

// RequestID 为每个请求分配唯一ID，写入响应头和上下文，供日志与错误信封串联
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(requestIDHeader)
		if reqID == "" {
			reqID = utils.GenerateUUID()
		}
		c.Set("request_id", reqID)
		c.Writer.Header().Set(requestIDHeader, reqID)
		c.Next()
	}
}

// AccessLog 记录标准访问日志
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		requestID, _ := c.Get("request_id")
		reqID, _ := requestID.(string)
		actorID, _ := c.Get("agent_id")
		id, _ := actorID.(string)
		logger.LogHTTPRequest(c.Request, c.Writer.Status(), time.Since(start), reqID, id)
	}
}

// Recovery 捕获handler中的panic，记录日志并返回标准错误信封，而不是让连接被reset
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				requestID, _ := c.Get("request_id")
				reqID, _ := requestID.(string)

				var err error
				switch v := r.(type) {
				case error:
					err = v
				default:
					err = fmt.Errorf("panic: %v", v)
				}
				actorID, _ := c.Get("agent_id")
				id, _ := actorID.(string)
				logger.LogError(err, reqID, id, utils.GetClientIP(c), c.Request.URL.Path, c.Request.Method, map[string]interface{}{
					"panic": r,
				})
				AbortWithError(c, apperr.ErrInternal)
			}
		}()
		c.Next()
	}
}
