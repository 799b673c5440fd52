// agent_jwt.go
// 该文件定义 Agent 专属的 JWT 相关内容，包括 Claims 结构体和 JWT 管理器
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AgentClaims 定义 Agent 专属的 JWT Claims
// 区别于用户系统的 Claims，这里只包含 Agent 及其宿主机的身份信息
type AgentClaims struct {
	AgentID  string `json:"agent_id"`  // Agent UUID
	Hostname string `json:"hostname"`  // 机器主机名
	jwt.RegisteredClaims
}

// AgentJWTManager 签发和校验Agent长期令牌
// 控制器不通过任何接口下发令牌：Agent用同一共享密钥自行签发，之后每次心跳/上报都以Bearer方式携带
type AgentJWTManager struct {
	secretKey   []byte
	issuer      string
	tokenTTL    time.Duration
	clockSkew   time.Duration
}

// NewAgentJWTManager 创建Agent JWT管理器
func NewAgentJWTManager(secretKey, issuer string, tokenTTL, clockSkew time.Duration) *AgentJWTManager {
	return &AgentJWTManager{
		secretKey: []byte(secretKey),
		issuer:    issuer,
		tokenTTL:  tokenTTL,
		clockSkew: clockSkew,
	}
}

// IssueToken 用共享密钥为给定的agent_id签发与Agent自签格式相同的长期令牌，不要求该Agent已注册
func (m *AgentJWTManager) IssueToken(agentID, hostname string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(m.tokenTTL)
	claims := &AgentClaims{
		AgentID:  agentID,
		Hostname: hostname,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   agentID,
			Audience:  []string{"neoctl-agent"},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now.Add(-m.clockSkew)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateToken 校验Agent携带的Bearer令牌，返回其中的身份声明
func (m *AgentJWTManager) ValidateToken(tokenString string) (*AgentClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AgentClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secretKey, nil
	}, jwt.WithLeeway(m.clockSkew))

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*AgentClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid agent token")
	}
	if claims.AgentID == "" {
		return nil, errors.New("agent token missing agent_id")
	}
	return claims, nil
}
