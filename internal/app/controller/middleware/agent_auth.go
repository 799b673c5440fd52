/**
 * 中间件:Agent面认证
 * @description: 校验Agent携带的长期Bearer JWT，或在mTLS模式下校验客户端证书，
 *   将AgentID写入上下文供后续handler使用
 * @func:
 */
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"neocontroller/internal/apperr"
	"neocontroller/internal/config"
	"neocontroller/internal/pkg/auth"
)

const bearerPrefix = "Bearer "

// AgentAuth 根据配置的Mode在bearer_jwt与mtls之间选择校验方式
func AgentAuth(cfg config.AgentAuthConfig, jwtManager *auth.AgentJWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch cfg.Mode {
		case "mtls":
			agentID := extractAgentIDFromClientCert(c)
			if agentID == "" {
				AbortWithError(c, apperr.ErrUnauthorized.WithDetails("client certificate did not present a valid agent identity"))
				return
			}
			c.Set("agent_id", agentID)
			c.Next()
		default: // bearer_jwt
			header := c.GetHeader("Authorization")
			if !strings.HasPrefix(header, bearerPrefix) {
				AbortWithError(c, apperr.ErrUnauthorized.WithDetails("missing agent bearer token"))
				return
			}
			tokenString := strings.TrimPrefix(header, bearerPrefix)
			claims, err := jwtManager.ValidateToken(tokenString)
			if err != nil {
				AbortWithError(c, apperr.ErrUnauthorized.WithCause(err).WithDetails("invalid or expired agent token"))
				return
			}
			c.Set("agent_id", claims.AgentID)
			c.Set("agent_hostname", claims.Hostname)
			c.Next()
		}
	}
}

// extractAgentIDFromClientCert 从经过TLS终止的客户端证书中提取AgentID
// 约定AgentID出现在证书主题的CommonName中，由证书签发流程保证与注册记录一致
func extractAgentIDFromClientCert(c *gin.Context) string {
	if c.Request.TLS == nil || len(c.Request.TLS.PeerCertificates) == 0 {
		return ""
	}
	return c.Request.TLS.PeerCertificates[0].Subject.CommonName
}

// AgentIDFromContext 读取当前请求已认证的AgentID
func AgentIDFromContext(c *gin.Context) string {
	v, _ := c.Get("agent_id")
	id, _ := v.(string)
	return id
}
