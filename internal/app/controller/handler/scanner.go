/**
 * 处理器:扫描器面
 * @description: 供内部扫描调度系统发起扫描、查询进度与拉取结果的HTTP入口
 * @func:
 */
package handler

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"neocontroller/internal/app/controller/middleware"
	"neocontroller/internal/apperr"
	scanmodel "neocontroller/internal/model/scan"
	"neocontroller/internal/service/coordinator"
	"neocontroller/internal/service/ingestor"
)

// ScannerHandler 聚合扫描器面涉及的所有用例
type ScannerHandler struct {
	coordinator coordinator.Service
	ingestor    ingestor.Service
}

// NewScannerHandler 创建扫描器面处理器
func NewScannerHandler(coord coordinator.Service, ing ingestor.Service) *ScannerHandler {
	return &ScannerHandler{coordinator: coord, ingestor: ing}
}

type createScanRequest struct {
	Name      string               `json:"name" binding:"required"`
	Target    scanmodel.TargetSpec `json:"target" binding:"required"`
	AgentIDs  []string             `json:"agent_ids" binding:"required,min=1"`
	CreatedBy string               `json:"created_by"`
}

// CreateScan 创建一次新扫描，展开为每个目标Agent一个Job
func (h *ScannerHandler) CreateScan(c *gin.Context) {
	var req createScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, apperr.ErrValidation.WithCause(err))
		return
	}

	sc, err := h.coordinator.CreateScan(c.Request.Context(), coordinator.CreateScanRequest{
		Name:      req.Name,
		Target:    req.Target,
		AgentIDs:  req.AgentIDs,
		CreatedBy: req.CreatedBy,
	})
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(201, gin.H{
		"scan_id":         sc.ScanID,
		"status":          sc.Status,
		"agents_assigned": sc.TotalJobs,
	})
}

type scanActionRequest struct {
	Action string `json:"action" binding:"required,oneof=start stop"`
}

// Action 处理POST /scans/{id}上携带的action参数: start无操作(创建即已排队), stop等价于取消
func (h *ScannerHandler) Action(c *gin.Context) {
	var req scanActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, apperr.ErrValidation.WithCause(err))
		return
	}
	if req.Action == "stop" {
		if err := h.coordinator.CancelScan(c.Request.Context(), c.Param("scan_id")); err != nil {
			middleware.AbortWithError(c, err)
			return
		}
	}
	c.Status(204)
}

// GetScanStatus 返回一次扫描的聚合状态与按Agent汇总的进度
func (h *ScannerHandler) GetScanStatus(c *gin.Context) {
	sc, err := h.coordinator.GetScan(c.Request.Context(), c.Param("scan_id"))
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	progress := 0
	if sc.TotalJobs > 0 {
		progress = 100 * sc.TerminalJobs / sc.TotalJobs
	}
	c.JSON(200, gin.H{
		"scan_id":          sc.ScanID,
		"status":           sc.Status,
		"progress":         progress,
		"agents_total":     sc.TotalJobs,
		"agents_completed": sc.SucceededJobs,
		"agents_failed":    sc.FailedJobs,
	})
}

// ListScans 分页列出扫描，为运维排障补充的读接口
func (h *ScannerHandler) ListScans(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	scans, total, err := h.coordinator.ListScans(c.Request.Context(), page, pageSize)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(200, gin.H{"scans": scans, "total": total})
}

// CancelScan 取消一次尚未终止的扫描
func (h *ScannerHandler) CancelScan(c *gin.Context) {
	if err := h.coordinator.CancelScan(c.Request.Context(), c.Param("scan_id")); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.Status(204)
}

const defaultResultRange = "0-49"

// parseRange解析形如"a-b"的闭区间(0起始，含两端)，转换为offset/limit；
// 缺省或格式不合法时退化为defaultResultRange
func parseRange(raw string) (offset, limit int) {
	if raw == "" {
		raw = defaultResultRange
	}
	parts := strings.SplitN(raw, "-", 2)
	if len(parts) != 2 {
		return parseRange(defaultResultRange)
	}
	from, errFrom := strconv.Atoi(parts[0])
	to, errTo := strconv.Atoi(parts[1])
	if errFrom != nil || errTo != nil || from < 0 || to < from {
		return parseRange(defaultResultRange)
	}
	return from, to - from + 1
}

// ListResults 按range=a-b返回某次扫描已采集的发现窗口
func (h *ScannerHandler) ListResults(c *gin.Context) {
	offset, limit := parseRange(c.Query("range"))

	results, total, err := h.ingestor.ListByScan(c.Request.Context(), c.Param("scan_id"), offset, limit)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(200, gin.H{"results": results, "total": total})
}

// Preferences 返回创建扫描时可用的枚举选项目录
func (h *ScannerHandler) Preferences(c *gin.Context) {
	c.JSON(200, gin.H{
		"scan_types":     []string{"full", "quick", "vuln"},
		"threat_labels":  []string{"Log", "Low", "Medium", "High", "Critical"},
		"severity_range": gin.H{"min": 0.0, "max": 10.0},
	})
}
