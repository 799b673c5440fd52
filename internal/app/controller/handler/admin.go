/**
 * 处理器:管理面
 * @description: 供运维人员查询/批量管理Agent舰队、发布全局配置及设置按Agent覆盖的HTTP入口
 * @func:
 */
package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"neocontroller/internal/app/controller/middleware"
	"neocontroller/internal/apperr"
	agentmodel "neocontroller/internal/model/agent"
	configmodel "neocontroller/internal/model/agentconfig"
	agentrepo "neocontroller/internal/repo/mysql/agent"
	installerrepo "neocontroller/internal/repo/mysql/installer"
	"neocontroller/internal/service/configsvc"
	"neocontroller/internal/service/registry"
)

// AdminHandler 聚合管理面涉及的所有用例
type AdminHandler struct {
	registry   registry.Service
	config     configsvc.Service
	installers installerrepo.Repository
}

// NewAdminHandler 创建管理面处理器
func NewAdminHandler(reg registry.Service, cfgSvc configsvc.Service, installers installerrepo.Repository) *AdminHandler {
	return &AdminHandler{registry: reg, config: cfgSvc, installers: installers}
}

// ListAgents 分页列出Agent舰队，支持按状态与标签过滤
func (h *AdminHandler) ListAgents(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	filter := agentrepo.ListFilter{
		Status:   agentmodel.AgentStatus(c.Query("status")),
		Tag:      c.Query("tag"),
		Page:     page,
		PageSize: pageSize,
	}

	agents, total, err := h.registry.List(c.Request.Context(), filter)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(200, gin.H{"agents": agents, "total": total})
}

// GetAgent 返回单个Agent的详情
func (h *AdminHandler) GetAgent(c *gin.Context) {
	a, err := h.registry.Get(c.Request.Context(), c.Param("agent_id"))
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(200, a)
}

type bulkPatchAgentsRequest struct {
	AgentIDs       []string `json:"agent_ids" binding:"required"`
	Authorized     *bool    `json:"authorized"`
	UpdateToLatest *bool    `json:"update_to_latest"`
}

// PatchAgents 批量部分更新: authorized(授权门禁)与update_to_latest(自更新标记)
// authorize()与register_or_refresh()互不干扰: 这里从不触碰declared attrs或心跳时间
func (h *AdminHandler) PatchAgents(c *gin.Context) {
	var req bulkPatchAgentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, apperr.ErrValidation.WithCause(err))
		return
	}
	if req.Authorized == nil && req.UpdateToLatest == nil {
		middleware.AbortWithError(c, apperr.ErrValidation.WithDetails("at least one of authorized/update_to_latest is required"))
		return
	}

	var updated int64
	if req.Authorized != nil {
		n, err := h.registry.BulkAuthorize(c.Request.Context(), req.AgentIDs, *req.Authorized)
		if err != nil {
			middleware.AbortWithError(c, err)
			return
		}
		updated = n
	}
	if req.UpdateToLatest != nil {
		n, err := h.registry.BulkSetUpdateToLatest(c.Request.Context(), req.AgentIDs, *req.UpdateToLatest)
		if err != nil {
			middleware.AbortWithError(c, err)
			return
		}
		updated = n
	}
	c.JSON(200, gin.H{"updated": updated})
}

type bulkDeleteAgentsRequest struct {
	AgentIDs []string `json:"agent_ids" binding:"required"`
}

// DeleteAgents 批量软删除，仍在轮询的Agent在下次心跳收到终态信号后停止
func (h *AdminHandler) DeleteAgents(c *gin.Context) {
	var req bulkDeleteAgentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, apperr.ErrValidation.WithCause(err))
		return
	}
	n, err := h.registry.BulkTombstone(c.Request.Context(), req.AgentIDs)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(200, gin.H{"deleted": n})
}

type publishConfigRequest struct {
	Document    configmodel.Document `json:"document" binding:"required"`
	PublishedBy string               `json:"published_by"`
}

// PublishGlobalConfig 发布一个新的全局配置版本 (PUT /scan-agent-config)
func (h *AdminHandler) PublishGlobalConfig(c *gin.Context) {
	var req publishConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, apperr.ErrValidation.WithCause(err))
		return
	}

	version, err := h.config.PublishGlobal(c.Request.Context(), req.Document, req.PublishedBy)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(201, gin.H{"version": version})
}

// GetGlobalConfig 返回当前生效的全局配置版本 (GET /scan-agent-config)
func (h *AdminHandler) GetGlobalConfig(c *gin.Context) {
	latest, err := h.config.LatestGlobal(c.Request.Context())
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(200, gin.H{"version": latest.Version, "document": latest.Document})
}

type setOverrideRequest struct {
	Document  configmodel.Document `json:"document" binding:"required"`
	UpdatedBy string               `json:"updated_by"`
}

// SetAgentConfigOverride 设置或替换单个Agent的配置覆盖
func (h *AdminHandler) SetAgentConfigOverride(c *gin.Context) {
	var req setOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, apperr.ErrValidation.WithCause(err))
		return
	}

	if err := h.config.SetOverride(c.Request.Context(), c.Param("agent_id"), req.Document, req.UpdatedBy); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.Status(204)
}

// GetEffectiveConfig 返回某个Agent当前生效的合并配置，供运维排障
func (h *AdminHandler) GetEffectiveConfig(c *gin.Context) {
	effective, err := h.config.Effective(c.Request.Context(), c.Param("agent_id"))
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(200, gin.H{"version": effective.Version, "document": effective.Document})
}

// ListInstallers 返回可分发的Agent安装包目录
func (h *AdminHandler) ListInstallers(c *gin.Context) {
	rows, err := h.installers.List(c.Request.Context())
	if err != nil {
		middleware.AbortWithError(c, apperr.ErrInternal.WithCause(err))
		return
	}
	c.JSON(200, gin.H{"count": len(rows), "installers": rows})
}
