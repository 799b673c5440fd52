/**
 * 服务:Agent注册表
 * @description: 处理Agent的首次心跳自动注册、声明属性刷新、生命周期查询与管理员操作
 * @func:
 */
package registry

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"neocontroller/internal/apperr"
	agentmodel "neocontroller/internal/model/agent"
	"neocontroller/internal/pkg/logger"
	agentrepo "neocontroller/internal/repo/mysql/agent"
	jobrepo "neocontroller/internal/repo/mysql/job"
)

// DeclaredAttrs 是Agent每次心跳携带的自描述信息，register_or_refresh据此创建或刷新记录
type DeclaredAttrs struct {
	Hostname        string
	IPAddresses     []string
	OperatingSystem string
	Architecture    string
	AgentVersion    string
	UpdaterVersion  string
	Capabilities    []string
}

// RefreshResult 携带 register_or_refresh 的结果，供心跳处理器组装响应
type RefreshResult struct {
	Agent       *agentmodel.Agent
	NewlyCreated bool
}

// Service 定义Agent注册表对外暴露的用例
type Service interface {
	// RegisterOrRefresh 是心跳的唯一入口：agent_id首次出现时以authorized=false/pending创建，
	// 已存在时刷新声明属性并推进心跳时间，从不在这里改变authorized
	RegisterOrRefresh(ctx context.Context, agentID string, attrs DeclaredAttrs, configVersionSeen int64) (*RefreshResult, error)
	Get(ctx context.Context, agentID string) (*agentmodel.Agent, error)
	List(ctx context.Context, filter agentrepo.ListFilter) ([]*agentmodel.Agent, int64, error)
	Authorize(ctx context.Context, agentID string, authorized bool) error
	BulkAuthorize(ctx context.Context, agentIDs []string, authorized bool) (int64, error)
	BulkSetUpdateToLatest(ctx context.Context, agentIDs []string, updateToLatest bool) (int64, error)
	Tombstone(ctx context.Context, agentID string) error
	BulkTombstone(ctx context.Context, agentIDs []string) (int64, error)
}

type service struct {
	repo agentrepo.Repository
	jobs jobrepo.Repository
}

// NewService 创建Agent注册表服务
func NewService(repo agentrepo.Repository, jobs jobrepo.Repository) Service {
	return &service{repo: repo, jobs: jobs}
}

// RegisterOrRefresh 实现spec的register_or_refresh契约
// 新Agent: 以pending/authorized=false创建，绝不因为收到心跳就自动授权
// 已知Agent: 覆盖声明属性、推进心跳时间；若已授权且此前非online则迁移为online；
// tombstoned的Agent仍然刷新心跳但返回给调用方，由处理器决定回送终态信号
func (s *service) RegisterOrRefresh(ctx context.Context, agentID string, attrs DeclaredAttrs, configVersionSeen int64) (*RefreshResult, error) {
	if agentID == "" {
		return nil, apperr.ErrValidation.WithDetails("agent_id is required")
	}

	existing, err := s.repo.GetByAgentID(ctx, agentID)
	if err != nil {
		return nil, apperr.ErrInternal.WithCause(err)
	}

	now := time.Now()

	if existing == nil {
		a := &agentmodel.Agent{
			AgentID:         agentID,
			Hostname:        attrs.Hostname,
			IPAddresses:     agentmodel.StringSlice(attrs.IPAddresses),
			OperatingSystem: attrs.OperatingSystem,
			Architecture:    attrs.Architecture,
			AgentVersion:    attrs.AgentVersion,
			UpdaterVersion:  attrs.UpdaterVersion,
			Capabilities:    agentmodel.StringSlice(attrs.Capabilities),
			Status:          agentmodel.AgentStatusPending,
			Authorized:      false,
			RegisteredAt:    now,
			LastHeartbeatAt: &now,
		}
		if err := s.repo.Create(ctx, a); err != nil {
			return nil, apperr.ErrInternal.WithCause(err)
		}
		logger.LogSystemEvent("registry", "agent_auto_created", "unknown agent_id created on first heartbeat", logrus.InfoLevel, map[string]interface{}{
			"agent_id": agentID,
			"hostname": attrs.Hostname,
		})
		return &RefreshResult{Agent: a, NewlyCreated: true}, nil
	}

	if err := s.repo.UpdateDeclaredAttrs(ctx, agentID, agentrepo.DeclaredAttrs{
		Hostname:        attrs.Hostname,
		IPAddresses:     agentmodel.StringSlice(attrs.IPAddresses),
		OperatingSystem: attrs.OperatingSystem,
		Architecture:    attrs.Architecture,
		AgentVersion:    attrs.AgentVersion,
		UpdaterVersion:  attrs.UpdaterVersion,
		Capabilities:    agentmodel.StringSlice(attrs.Capabilities),
	}); err != nil {
		return nil, apperr.ErrInternal.WithCause(err)
	}
	if err := s.repo.UpdateHeartbeat(ctx, agentID, now, configVersionSeen); err != nil {
		return nil, apperr.ErrInternal.WithCause(err)
	}

	existing.Hostname = attrs.Hostname
	existing.LastHeartbeatAt = &now
	existing.ConfigVersionSeen = configVersionSeen

	if existing.Authorized && !existing.IsTerminal() && existing.Status != agentmodel.AgentStatusOnline {
		if _, err := s.repo.UpdateStatus(ctx, agentID, "", agentmodel.AgentStatusOnline); err != nil {
			return nil, apperr.ErrInternal.WithCause(err)
		}
		existing.Status = agentmodel.AgentStatusOnline
	}
	if err := s.repo.ResetMissedHeartbeats(ctx, agentID); err != nil {
		return nil, apperr.ErrInternal.WithCause(err)
	}

	return &RefreshResult{Agent: existing, NewlyCreated: false}, nil
}

func (s *service) Get(ctx context.Context, agentID string) (*agentmodel.Agent, error) {
	a, err := s.repo.GetByAgentID(ctx, agentID)
	if err != nil {
		return nil, apperr.ErrInternal.WithCause(err)
	}
	if a == nil {
		return nil, apperr.ErrNotFound.WithDetails("agent not found")
	}
	return a, nil
}

func (s *service) List(ctx context.Context, filter agentrepo.ListFilter) ([]*agentmodel.Agent, int64, error) {
	agents, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, apperr.ErrInternal.WithCause(err)
	}
	return agents, total, nil
}

// Authorize 是管理面唯一能改变authorized的路径，与心跳完全解耦
func (s *service) Authorize(ctx context.Context, agentID string, authorized bool) error {
	a, err := s.repo.GetByAgentID(ctx, agentID)
	if err != nil {
		return apperr.ErrInternal.WithCause(err)
	}
	if a == nil {
		return apperr.ErrNotFound.WithDetails("agent not found")
	}
	n, err := s.repo.BulkSetAuthorized(ctx, []string{agentID}, authorized)
	if err != nil {
		return apperr.ErrInternal.WithCause(err)
	}
	if n == 0 {
		return apperr.ErrNotFound.WithDetails("agent not found")
	}
	logger.LogAuditOperation("admin", "", "agent_authorize", agentID, "success", "", "", "", map[string]interface{}{
		"authorized": authorized,
	})
	return nil
}

func (s *service) BulkAuthorize(ctx context.Context, agentIDs []string, authorized bool) (int64, error) {
	n, err := s.repo.BulkSetAuthorized(ctx, agentIDs, authorized)
	if err != nil {
		return 0, apperr.ErrInternal.WithCause(err)
	}
	return n, nil
}

func (s *service) BulkSetUpdateToLatest(ctx context.Context, agentIDs []string, updateToLatest bool) (int64, error) {
	n, err := s.repo.BulkSetUpdateToLatest(ctx, agentIDs, updateToLatest)
	if err != nil {
		return 0, apperr.ErrInternal.WithCause(err)
	}
	return n, nil
}

// Tombstone 软删除一个Agent，其名下未到达终态的Job作为副作用一并被取消，
// 使正在认领该Job的Agent之后的提交收到NOT_FOUND而非继续被接受
func (s *service) Tombstone(ctx context.Context, agentID string) error {
	a, err := s.repo.GetByAgentID(ctx, agentID)
	if err != nil {
		return apperr.ErrInternal.WithCause(err)
	}
	if a == nil {
		return apperr.ErrNotFound.WithDetails("agent not found")
	}
	if err := s.repo.Tombstone(ctx, agentID); err != nil {
		return apperr.ErrInternal.WithCause(err)
	}
	if _, err := s.jobs.CancelByAgent(ctx, agentID); err != nil {
		return apperr.ErrInternal.WithCause(err)
	}
	return nil
}

func (s *service) BulkTombstone(ctx context.Context, agentIDs []string) (int64, error) {
	n, err := s.repo.BulkTombstone(ctx, agentIDs)
	if err != nil {
		return 0, apperr.ErrInternal.WithCause(err)
	}
	for _, agentID := range agentIDs {
		if _, err := s.jobs.CancelByAgent(ctx, agentID); err != nil {
			logger.LogError(err, "", "", "", "registry", "bulk_tombstone_cancel_jobs", map[string]interface{}{"agent_id": agentID})
		}
	}
	return n, nil
}
