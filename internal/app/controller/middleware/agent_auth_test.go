package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"neocontroller/internal/config"
	"neocontroller/internal/pkg/auth"
)

func newBearerAuthRouter(jwtManager *auth.AgentJWTManager) *gin.Engine {
	r := gin.New()
	r.Use(AgentAuth(config.AgentAuthConfig{Mode: "bearer_jwt"}, jwtManager))
	r.GET("/agents/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"agent_id": AgentIDFromContext(c)})
	})
	return r
}

func TestAgentAuth_RejectsMissingBearerHeader(t *testing.T) {
	jwtManager := auth.NewAgentJWTManager("secret", "neocontroller", time.Hour, 0)
	r := newBearerAuthRouter(jwtManager)

	req := httptest.NewRequest(http.MethodGet, "/agents/ping", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAgentAuth_RejectsTokenFromDifferentSecret(t *testing.T) {
	issuer := auth.NewAgentJWTManager("secret-a", "neocontroller", time.Hour, 0)
	verifier := auth.NewAgentJWTManager("secret-b", "neocontroller", time.Hour, 0)
	r := newBearerAuthRouter(verifier)

	token, _, err := issuer.IssueToken("agent-1", "host-1")
	assert.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/agents/ping", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAgentAuth_AllowsValidSelfSignedToken(t *testing.T) {
	jwtManager := auth.NewAgentJWTManager("shared-fleet-secret", "neocontroller", time.Hour, 0)
	r := newBearerAuthRouter(jwtManager)

	token, _, err := jwtManager.IssueToken("brand-new-agent", "host-1")
	assert.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/agents/ping", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "brand-new-agent")
}

func TestAgentAuth_MTLSModeRejectsWithoutClientCert(t *testing.T) {
	r := gin.New()
	r.Use(AgentAuth(config.AgentAuthConfig{Mode: "mtls"}, nil))
	r.GET("/agents/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/agents/ping", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
