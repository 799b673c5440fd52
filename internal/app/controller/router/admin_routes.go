/**
 * 路由:管理面
 * @description: 运维对Agent舰队与配置版本的管理端点，全部要求管理面API密钥
 * @func:
 */
package router

import (
	"github.com/gin-gonic/gin"

	"neocontroller/internal/app/controller/handler"
	"neocontroller/internal/app/controller/middleware"
	"neocontroller/internal/config"
)

func registerAdminRoutes(engine *gin.Engine, cfg *config.Config, h *handler.AdminHandler, lookup middleware.AdminKeyLookup) {
	group := engine.Group("/api/v1/admin")
	group.Use(middleware.AdminAuth(cfg.Security.AdminAuth, lookup))

	group.GET("/agents", h.ListAgents)
	group.PATCH("/agents", h.PatchAgents)
	group.POST("/agents/delete", h.DeleteAgents)
	group.GET("/agents/:agent_id", h.GetAgent)
	group.GET("/agents/:agent_id/config", h.GetEffectiveConfig)
	group.PUT("/agents/:agent_id/config", h.SetAgentConfigOverride)

	group.GET("/scan-agent-config", h.GetGlobalConfig)
	group.PUT("/scan-agent-config", h.PublishGlobalConfig)

	group.GET("/installers", h.ListInstallers)
}
