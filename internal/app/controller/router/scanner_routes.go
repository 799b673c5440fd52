/**
 * 路由:扫描器面
 * @description: 供上游漏洞管理系统发起扫描、查询进度与拉取结果，可选的静态Bearer令牌校验
 * @func:
 */
package router

import (
	"github.com/gin-gonic/gin"

	"neocontroller/internal/app/controller/handler"
	"neocontroller/internal/app/controller/middleware"
	"neocontroller/internal/config"
)

func registerScannerRoutes(engine *gin.Engine, cfg *config.Config, h *handler.ScannerHandler) {
	group := engine.Group("/scans")
	group.Use(middleware.ScannerAuth(cfg.Security.Scanner))

	group.POST("", h.CreateScan)
	group.GET("", h.ListScans)
	group.GET("/preferences", h.Preferences)
	group.POST("/:scan_id", h.Action)
	group.GET("/:scan_id/status", h.GetScanStatus)
	group.GET("/:scan_id/results", h.ListResults)
	group.DELETE("/:scan_id", h.CancelScan)
}
