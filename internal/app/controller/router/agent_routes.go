/**
 * 路由:Agent面
 * @description: 面向NAT'd Agent舰队的心跳、任务收发与配置拉取端点，整组要求Bearer JWT/mTLS，
 *   未知agent_id在心跳时自动创建而非独立注册
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

func registerAgentRoutes(engine *gin.Engine, cfg *config.Config, h *handler.AgentHandler, jwtManager *auth.AgentJWTManager) {
	group := engine.Group("/api/v1/agents")
	group.Use(middleware.AgentAuth(cfg.Security.AgentAuth, jwtManager))

	group.POST("/heartbeat", h.Heartbeat)
	group.GET("/config", h.GetConfig)
	group.GET("/jobs", h.ListJobs)
	group.POST("/jobs/:job_id/running", h.MarkJobRunning)
	group.POST("/jobs/:job_id/results", h.SubmitResults)
	group.POST("/jobs/:job_id/complete", h.CompleteJob)
}
