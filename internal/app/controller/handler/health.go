/**
 * 处理器:健康检查
 * @description: 面向负载均衡器/编排系统的存活与就绪探针
 * @func:
 */
package handler

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// HealthHandler 暴露存活与就绪探针
type HealthHandler struct {
	db *gorm.DB
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

// Liveness 始终返回200，仅用于确认进程仍在响应
func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}

// Readiness 校验数据库连接是否可用
func (h *HealthHandler) Readiness(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err != nil || sqlDB.Ping() != nil {
		c.JSON(503, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(200, gin.H{"status": "ready"})
}
