/**
 * 中间件:管理面认证
 * @description: 校验管理接口请求头中的API密钥，密钥仅以Argon2id哈希持久化
 * @func:
 */
package middleware

import (
	"github.com/gin-gonic/gin"

	"neocontroller/internal/apperr"
	"neocontroller/internal/config"
	"neocontroller/internal/pkg/auth"
)

// AdminKeyLookup 通过密钥哈希查找对应的管理员身份标识；返回空字符串表示未找到
type AdminKeyLookup func(c *gin.Context, key string) (subject string, err error)

// AdminAuth 校验管理面API密钥
// 密钥必须先经由AdminKeyLookup比对存量哈希，中间件本身不持有任何密钥状态
func AdminAuth(cfg config.AdminAuthConfig, lookup AdminKeyLookup) gin.HandlerFunc {
	headerName := cfg.HeaderName
	if headerName == "" {
		headerName = "X-Admin-Api-Key"
	}

	return func(c *gin.Context) {
		key := c.GetHeader(headerName)
		if key == "" {
			AbortWithError(c, apperr.ErrUnauthorized.WithDetails("missing admin api key"))
			return
		}

		subject, err := lookup(c, key)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if subject == "" {
			AbortWithError(c, apperr.ErrUnauthorized.WithDetails("invalid admin api key"))
			return
		}

		c.Set("admin_subject", subject)
		c.Next()
	}
}

// VerifyAdminKey 是lookup实现的通用组成部分：对候选哈希列表逐一做常量时间比较
func VerifyAdminKey(manager *auth.APIKeyManager, key string, candidates map[string]string) (string, error) {
	for subject, hash := range candidates {
		ok, err := manager.VerifyAPIKey(key, hash)
		if err != nil {
			continue
		}
		if ok {
			return subject, nil
		}
	}
	return "", nil
}
