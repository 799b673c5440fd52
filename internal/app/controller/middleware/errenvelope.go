/**
 * 中间件:错误信封
 * @description: 将服务层返回的apperr.Error统一映射为标准错误信封响应
 * @func:
 */
package middleware

import (
	"github.com/gin-gonic/gin"

	"neocontroller/internal/apperr"
	"neocontroller/internal/model/httpresp"
)

// AbortWithError 将err映射为标准错误信封并终止请求链
// 非apperr.Error的错误一律当作内部错误处理，避免向调用方泄露实现细节
func AbortWithError(c *gin.Context, err error) {
	requestID, _ := c.Get("request_id")
	reqID, _ := requestID.(string)

	appErr, ok := apperr.As(err)
	if !ok {
		appErr = apperr.ErrInternal.WithCause(err)
	}

	c.AbortWithStatusJSON(appErr.HTTPStatus, httpresp.NewErrorResponse(appErr.Code, appErr.Message, reqID, appErr.Details))
}
