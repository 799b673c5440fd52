/**
 * 服务:扫描协调器
 * @description: 将一次扫描请求展开为若干Agent级Job，并在Job上报进度时聚合出扫描的终态
 * @func:
 */
package coordinator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"neocontroller/internal/apperr"
	jobmodel "neocontroller/internal/model/job"
	scanmodel "neocontroller/internal/model/scan"
	agentrepo "neocontroller/internal/repo/mysql/agent"
	jobrepo "neocontroller/internal/repo/mysql/job"
	scanrepo "neocontroller/internal/repo/mysql/scan"
	readyqueue "neocontroller/internal/repo/redis"
	"neocontroller/internal/pkg/utils"
)

// oidPattern matches the dotted-decimal object identifier format used by VT selections,
// e.g. "1.3.6.1.4.1.25623.1.0.10662".
var oidPattern = regexp.MustCompile(`^\d+(\.\d+)+$`)

// recognizedScanTypes is the enumerated catalog also served by GET /scans/preferences.
var recognizedScanTypes = map[string]bool{"full": true, "quick": true, "vuln": true}

// CreateScanRequest 描述一次由Scanner发起的扫描请求
type CreateScanRequest struct {
	Name      string
	Target    scanmodel.TargetSpec
	AgentIDs  []string // 显式指定的目标Agent集合，必须非空
	CreatedBy string
}

// Service 定义扫描协调器对外暴露的用例
type Service interface {
	CreateScan(ctx context.Context, req CreateScanRequest) (*scanmodel.Scan, error)
	GetScan(ctx context.Context, scanID string) (*scanmodel.Scan, error)
	ListScans(ctx context.Context, page, pageSize int) ([]*scanmodel.Scan, int64, error)
	CancelScan(ctx context.Context, scanID string) error
	OnJobTerminal(ctx context.Context, scanID string) error
}

type service struct {
	scanRepo  scanrepo.Repository
	jobRepo   jobrepo.Repository
	agentRepo agentrepo.Repository
	queue     readyqueue.ReadyQueue
}

// NewService 创建扫描协调器服务
func NewService(scanRepo scanrepo.Repository, jobRepo jobrepo.Repository, agentRepo agentrepo.Repository, queue readyqueue.ReadyQueue) Service {
	return &service{scanRepo: scanRepo, jobRepo: jobRepo, agentRepo: agentRepo, queue: queue}
}

// CreateScan 原子性地创建一个扫描并为其展开出恰好一个Job每个目标Agent
// fan-out: 1 scan -> N jobs，每个(scan,agent)组合最多一行Job，重复调用不会产生重复Job
func (s *service) CreateScan(ctx context.Context, req CreateScanRequest) (*scanmodel.Scan, error) {
	if req.Name == "" {
		return nil, apperr.ErrValidation.WithDetails("name is required")
	}
	if err := validateTarget(req.Target); err != nil {
		return nil, err
	}
	if len(req.AgentIDs) == 0 {
		return nil, apperr.ErrValidation.WithDetails("agent_ids is required")
	}

	agentIDs, err := s.resolveTargetAgents(ctx, req)
	if err != nil {
		return nil, err
	}

	scanID := utils.GenerateUUID()
	sc := &scanmodel.Scan{
		ScanID:    scanID,
		Name:      req.Name,
		Target:    req.Target,
		Status:    scanmodel.ScanStatusPending,
		TotalJobs: len(agentIDs),
		CreatedBy: req.CreatedBy,
	}
	if err := s.scanRepo.Create(ctx, sc); err != nil {
		return nil, apperr.ErrInternal.WithCause(err)
	}

	jobs := make([]*jobmodel.Job, 0, len(agentIDs))
	for _, agentID := range agentIDs {
		jobs = append(jobs, &jobmodel.Job{
			JobID:   utils.GenerateUUID(),
			ScanID:  scanID,
			AgentID: agentID,
			Status:  jobmodel.JobStatusQueued,
			Payload: jobmodel.Payload{
				Hosts:        req.Target.Hosts,
				VTOIDs:       req.Target.VTOIDs,
				ScanType:     req.Target.ScanType,
				ConfigRef:    req.Target.ConfigRef,
				ExtraOptions: req.Target.ExtraOptions,
			},
			VisibleAt: time.Now(),
		})
	}
	if err := s.jobRepo.CreateBatch(ctx, jobs); err != nil {
		return nil, apperr.ErrInternal.WithCause(err)
	}

	for _, j := range jobs {
		if err := s.queue.Push(ctx, j.AgentID, j.JobID); err != nil {
			// 就绪队列只是加速器，推送失败不影响权威状态：Dispatcher仍能通过NextQueued兜底发现该Job
			continue
		}
	}

	if err := s.scanRepo.MarkStarted(ctx, scanID); err != nil {
		return nil, apperr.ErrInternal.WithCause(err)
	}
	sc.Status = scanmodel.ScanStatusRunning

	return sc, nil
}

// validateTarget 校验VT OID的点分十进制格式与扫描类型是否在枚举目录内
// 校验失败时整次扫描被原子拒绝，绝不产生部分创建
func validateTarget(t scanmodel.TargetSpec) error {
	if t.ScanType != "" && !recognizedScanTypes[t.ScanType] {
		return apperr.ErrValidation.WithDetails(fmt.Sprintf("unrecognized scan_type %q", t.ScanType))
	}
	var bad []string
	for _, oid := range t.VTOIDs {
		if !oidPattern.MatchString(oid) {
			bad = append(bad, oid)
		}
	}
	if len(bad) > 0 {
		return apperr.ErrValidation.WithDetails(fmt.Sprintf("malformed VT OID(s): %s", strings.Join(bad, ", ")))
	}
	return nil
}

// resolveTargetAgents 校验显式指定的AgentIDs集合
// 任何一个未知/未授权/已tombstone都导致整次扫描被原子拒绝，绝不做部分展开
func (s *service) resolveTargetAgents(ctx context.Context, req CreateScanRequest) ([]string, error) {
	ids := make([]string, 0, len(req.AgentIDs))
	var ineligible []string
	for _, id := range req.AgentIDs {
		a, err := s.agentRepo.GetByAgentID(ctx, id)
		if err != nil {
			return nil, apperr.ErrInternal.WithCause(err)
		}
		if a == nil || a.IsTerminal() || !a.CanReceiveJobs() {
			ineligible = append(ineligible, id)
			continue
		}
		ids = append(ids, id)
	}
	if len(ineligible) > 0 {
		return nil, apperr.ErrValidation.WithDetails(fmt.Sprintf("agent(s) unknown, unauthorized or tombstoned: %s", strings.Join(ineligible, ", ")))
	}
	return ids, nil
}

func (s *service) GetScan(ctx context.Context, scanID string) (*scanmodel.Scan, error) {
	sc, err := s.scanRepo.GetByScanID(ctx, scanID)
	if err != nil {
		return nil, apperr.ErrInternal.WithCause(err)
	}
	if sc == nil {
		return nil, apperr.ErrNotFound.WithDetails("scan not found")
	}
	return sc, nil
}

func (s *service) ListScans(ctx context.Context, page, pageSize int) ([]*scanmodel.Scan, int64, error) {
	scans, total, err := s.scanRepo.List(ctx, page, pageSize)
	if err != nil {
		return nil, 0, apperr.ErrInternal.WithCause(err)
	}
	return scans, total, nil
}

// CancelScan 取消一次尚未终止的扫描，并级联取消其名下所有未到达终态的Job
func (s *service) CancelScan(ctx context.Context, scanID string) error {
	ok, err := s.scanRepo.Cancel(ctx, scanID)
	if err != nil {
		return apperr.ErrInternal.WithCause(err)
	}
	if !ok {
		return apperr.ErrConflict.WithDetails("scan is already terminal")
	}
	if _, err := s.jobRepo.CancelByScan(ctx, scanID); err != nil {
		return apperr.ErrInternal.WithCause(err)
	}
	return nil
}

// OnJobTerminal 重新计算某次扫描的进度，并在所有Job都到达终态时执行终态判定
// 终止规则：至少一个Job成功则整体completed，否则failed
func (s *service) OnJobTerminal(ctx context.Context, scanID string) error {
	total, terminal, succeeded, failed, err := s.jobRepo.CountByScan(ctx, scanID)
	if err != nil {
		return apperr.ErrInternal.WithCause(err)
	}

	if err := s.scanRepo.UpdateProgress(ctx, scanID, int(total), int(terminal), int(succeeded), int(failed)); err != nil {
		return apperr.ErrInternal.WithCause(err)
	}

	if terminal < total || total == 0 {
		return nil
	}

	finalStatus := scanmodel.ScanStatusFailed
	if succeeded > 0 {
		finalStatus = scanmodel.ScanStatusCompleted
	}

	if _, err := s.scanRepo.FinishIfTerminal(ctx, scanID, finalStatus); err != nil {
		return apperr.ErrInternal.WithCause(err)
	}
	return nil
}
