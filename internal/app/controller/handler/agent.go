/**
 * 处理器:Agent面
 * @description: 心跳自动注册、任务认领/上报与配置拉取的HTTP入口
 * @func:
 */
package handler

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"neocontroller/internal/app/controller/middleware"
	"neocontroller/internal/apperr"
	"neocontroller/internal/config"
	"neocontroller/internal/service/configsvc"
	"neocontroller/internal/service/dispatcher"
	"neocontroller/internal/service/ingestor"
	"neocontroller/internal/service/registry"
)

// AgentHandler 聚合Agent面涉及的所有用例
type AgentHandler struct {
	registry   registry.Service
	dispatcher dispatcher.Service
	ingestor   ingestor.Service
	config     configsvc.Service
	heartbeat  time.Duration
}

// NewAgentHandler 创建Agent面处理器
func NewAgentHandler(reg registry.Service, disp dispatcher.Service, ing ingestor.Service, cfgSvc configsvc.Service, ctl config.ControllerConfig) *AgentHandler {
	return &AgentHandler{registry: reg, dispatcher: disp, ingestor: ing, config: cfgSvc, heartbeat: ctl.HeartbeatInterval}
}

type heartbeatRequest struct {
	Hostname          string   `json:"hostname" binding:"required"`
	IPAddresses       []string `json:"ip_addresses"`
	OperatingSystem   string   `json:"operating_system"`
	Architecture      string   `json:"architecture"`
	AgentVersion      string   `json:"agent_version"`
	UpdaterVersion    string   `json:"updater_version"`
	Capabilities      []string `json:"capabilities"`
	ConfigVersionSeen int64    `json:"config_version_seen"`
}

// Heartbeat 是Agent身份的唯一入口: agent_id首次出现即自动创建(authorized=false)，
// 之后每次心跳刷新声明属性、推进存活状态，从不在这里改变授权
func (h *AgentHandler) Heartbeat(c *gin.Context) {
	agentID := middleware.AgentIDFromContext(c)
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, apperr.ErrValidation.WithCause(err))
		return
	}

	result, err := h.registry.RegisterOrRefresh(c.Request.Context(), agentID, registry.DeclaredAttrs{
		Hostname:        req.Hostname,
		IPAddresses:     req.IPAddresses,
		OperatingSystem: req.OperatingSystem,
		Architecture:    req.Architecture,
		AgentVersion:    req.AgentVersion,
		UpdaterVersion:  req.UpdaterVersion,
		Capabilities:    req.Capabilities,
	}, req.ConfigVersionSeen)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	a := result.Agent
	if a.IsTerminal() {
		c.JSON(200, gin.H{"status": "deregistered", "authorized": false})
		return
	}

	needsUpdate, err := h.config.NeedsUpdate(c.Request.Context(), agentID, req.ConfigVersionSeen)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"status":                    "accepted",
		"authorized":                a.Authorized,
		"config_updated":            needsUpdate,
		"next_heartbeat_in_seconds": int(h.heartbeat.Seconds()),
	})
}

// ListJobs 返回最多limit个已认领的Job；只有已授权且online的Agent才会认领，
// 未授权(或未知、非online)的Agent永远得到空列表
func (h *AgentHandler) ListJobs(c *gin.Context) {
	agentID := middleware.AgentIDFromContext(c)
	a, err := h.registry.Get(c.Request.Context(), agentID)
	if err != nil {
		if appErr, ok := apperr.As(err); !ok || appErr.Code != apperr.ErrNotFound.Code {
			middleware.AbortWithError(c, err)
			return
		}
	}
	if a == nil || !a.CanReceiveJobs() {
		c.JSON(200, gin.H{"jobs": []interface{}{}})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "1"))
	if limit < 1 {
		limit = 1
	}

	jobs, err := h.dispatcher.ClaimNext(c.Request.Context(), agentID, limit, h.visibilityLease(c.Request.Context(), agentID))
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(200, gin.H{"jobs": jobs})
}

// visibilityLease 返回认领租约时长: 2倍该Agent当前生效的心跳间隔，取不到时退化为静态配置
func (h *AgentHandler) visibilityLease(ctx context.Context, agentID string) time.Duration {
	interval := h.heartbeat
	if h.config != nil {
		if effective, err := h.config.Effective(ctx, agentID); err == nil && effective != nil {
			if v, ok := effective.Document["heartbeat.interval_in_seconds"]; ok {
				if seconds, ok := v.(float64); ok && seconds > 0 {
					interval = time.Duration(seconds) * time.Second
				}
			}
		}
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return 2 * interval
}

// MarkJobRunning 标记一个已认领的Job进入运行状态
func (h *AgentHandler) MarkJobRunning(c *gin.Context) {
	jobID := c.Param("job_id")
	if err := h.dispatcher.MarkRunning(c.Request.Context(), jobID); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.Status(204)
}

type submitResultsRequest struct {
	BatchSequence int64                  `json:"batch_sequence" binding:"required,min=1"`
	Results       []ingestor.ResultInput `json:"results" binding:"required"`
}

// SubmitResults 接受一批中间结果，将Job推进到running并延长租约
// batch_sequence由Agent自行编号，重复提交同一序号是幂等的；MarkRunning在Job已经running时
// 是空操作，因此同一Job的第二批及之后的提交不会因为迁移已经发生过而报冲突
func (h *AgentHandler) SubmitResults(c *gin.Context) {
	jobID := c.Param("job_id")
	agentID := middleware.AgentIDFromContext(c)

	var req submitResultsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, apperr.ErrValidation.WithCause(err))
		return
	}

	if _, err := h.ingestor.Ingest(c.Request.Context(), ingestor.IngestRequest{JobID: jobID, AgentID: agentID, BatchSequence: req.BatchSequence, Results: req.Results}); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	if err := h.dispatcher.MarkRunning(c.Request.Context(), jobID); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.Status(202)
}

type completeJobRequest struct {
	Outcome string                  `json:"outcome" binding:"required,oneof=completed failed"`
	Reason  string                  `json:"reason"`
	Results []ingestor.ResultInput  `json:"results"`
}

// CompleteJob 是finalize的唯一入口: outcome=completed要求Job已处于running(首次submit会将其推进到running)，
// outcome=failed可以直接调用；对已终态Job的第二次finalize返回CONFLICT(already_finalized)，状态不变
func (h *AgentHandler) CompleteJob(c *gin.Context) {
	jobID := c.Param("job_id")
	agentID := middleware.AgentIDFromContext(c)

	var req completeJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, apperr.ErrValidation.WithCause(err))
		return
	}

	if len(req.Results) > 0 {
		// finalize附带的收尾结果不属于常规批次序列，使用固定的哨兵序号，
		// 与SubmitResults的正数batch_sequence不会冲突
		if _, err := h.ingestor.Ingest(c.Request.Context(), ingestor.IngestRequest{JobID: jobID, AgentID: agentID, BatchSequence: -1, Results: req.Results}); err != nil {
			middleware.AbortWithError(c, err)
			return
		}
	}

	var err error
	if req.Outcome == "failed" {
		err = h.dispatcher.Fail(c.Request.Context(), jobID, req.Reason)
	} else {
		err = h.dispatcher.Complete(c.Request.Context(), jobID)
	}
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.Status(204)
}

// GetConfig 返回Agent当前应采用的合并配置快照
func (h *AgentHandler) GetConfig(c *gin.Context) {
	agentID := middleware.AgentIDFromContext(c)
	effective, err := h.config.Effective(c.Request.Context(), agentID)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(200, gin.H{"version": effective.Version, "document": effective.Document})
}
