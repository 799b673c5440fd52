/**
 * 路由:引擎装配
 * @description: 组装Gin引擎并挂载Admin/Agent/Scanner三个互不信任接入面的路由分组
 * @func:
 */
package router

import (
	"github.com/gin-gonic/gin"

	"neocontroller/internal/app/controller/handler"
	"neocontroller/internal/app/controller/middleware"
	"neocontroller/internal/config"
	"neocontroller/internal/pkg/auth"
)

// Handlers 聚合装配路由所需的全部处理器
type Handlers struct {
	Agent   *handler.AgentHandler
	Scanner *handler.ScannerHandler
	Admin   *handler.AdminHandler
	Health  *handler.HealthHandler
}

// Router 包裹Gin引擎
type Router struct {
	engine *gin.Engine
}

// New 构建完整的路由引擎
func New(cfg *config.Config, h Handlers, jwtManager *auth.AgentJWTManager, adminLookup middleware.AdminKeyLookup) *Router {
	gin.SetMode(cfg.Server.Mode)
	engine := gin.New()

	const maxRequestBodyBytes = 10 << 20 // 10 MB, per the result-batch oversize rejection rule

	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.AccessLog(),
		middleware.CORS(cfg.Security.CORS),
		middleware.RateLimit(cfg.Security.RateLimit),
		middleware.BodyLimit(maxRequestBodyBytes),
	)

	engine.GET("/healthz", h.Health.Liveness)
	engine.GET("/readyz", h.Health.Readiness)
	engine.GET("/health/alive", h.Health.Liveness)
	engine.GET("/health/ready", h.Health.Readiness)
	engine.GET("/health/started", h.Health.Liveness)

	registerAgentRoutes(engine, cfg, h.Agent, jwtManager)
	registerScannerRoutes(engine, cfg, h.Scanner)
	registerAdminRoutes(engine, cfg, h.Admin, adminLookup)

	return &Router{engine: engine}
}

// GetEngine 返回底层Gin引擎供HTTP服务器挂载
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
