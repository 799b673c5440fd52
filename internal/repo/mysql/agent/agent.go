/**
 * 仓储:Agent
 * @description: Agent注册表的持久化访问，封装状态机迁移与心跳更新
 * @func:
 */
package agent

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	agentmodel "neocontroller/internal/model/agent"
)

// Repository 定义Agent注册表的数据访问接口
type Repository interface {
	Create(ctx context.Context, a *agentmodel.Agent) error
	GetByAgentID(ctx context.Context, agentID string) (*agentmodel.Agent, error)
	List(ctx context.Context, filter ListFilter) ([]*agentmodel.Agent, int64, error)
	UpdateDeclaredAttrs(ctx context.Context, agentID string, attrs DeclaredAttrs) error
	UpdateHeartbeat(ctx context.Context, agentID string, at time.Time, configVersionSeen int64) error
	UpdateStatus(ctx context.Context, agentID string, from, to agentmodel.AgentStatus) (bool, error)
	ResetMissedHeartbeats(ctx context.Context, agentID string) error
	ListStaleOnline(ctx context.Context, cutoff time.Time) ([]*agentmodel.Agent, error)
	ListStaleOffline(ctx context.Context, cutoff time.Time) ([]*agentmodel.Agent, error)
	Tombstone(ctx context.Context, agentID string) error
	BulkSetAuthorized(ctx context.Context, agentIDs []string, authorized bool) (int64, error)
	BulkSetUpdateToLatest(ctx context.Context, agentIDs []string, updateToLatest bool) (int64, error)
	BulkTombstone(ctx context.Context, agentIDs []string) (int64, error)
}

// DeclaredAttrs 是Agent每次心跳重新声明的自身属性，注册表原样覆盖，从不影响授权状态
type DeclaredAttrs struct {
	Hostname        string
	IPAddresses     agentmodel.StringSlice
	OperatingSystem string
	Architecture    string
	AgentVersion    string
	UpdaterVersion  string
	Capabilities    agentmodel.StringSlice
}

// ListFilter 支持按状态与标签筛选Agent列表
type ListFilter struct {
	Status   agentmodel.AgentStatus
	Tag      string
	Page     int
	PageSize int
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository 创建基于GORM的Agent仓储
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Create(ctx context.Context, a *agentmodel.Agent) error {
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *gormRepository) GetByAgentID(ctx context.Context, agentID string) (*agentmodel.Agent, error) {
	var a agentmodel.Agent
	err := r.db.WithContext(ctx).Where("agent_id = ?", agentID).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *gormRepository) List(ctx context.Context, filter ListFilter) ([]*agentmodel.Agent, int64, error) {
	query := r.db.WithContext(ctx).Model(&agentmodel.Agent{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Tag != "" {
		query = query.Where("tags LIKE ?", "%"+filter.Tag+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, pageSize := filter.Page, filter.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}

	var agents []*agentmodel.Agent
	err := query.Order("last_heartbeat_at DESC, agent_id").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&agents).Error
	if err != nil {
		return nil, 0, err
	}
	return agents, total, nil
}

// UpdateDeclaredAttrs 覆盖Agent每次心跳重新声明的自身属性，从不触碰authorized/status
func (r *gormRepository) UpdateDeclaredAttrs(ctx context.Context, agentID string, attrs DeclaredAttrs) error {
	return r.db.WithContext(ctx).Model(&agentmodel.Agent{}).
		Where("agent_id = ?", agentID).
		Updates(map[string]interface{}{
			"hostname":         attrs.Hostname,
			"ip_addresses":     attrs.IPAddresses,
			"operating_system": attrs.OperatingSystem,
			"architecture":     attrs.Architecture,
			"agent_version":    attrs.AgentVersion,
			"updater_version":  attrs.UpdaterVersion,
			"capabilities":     attrs.Capabilities,
		}).Error
}

// UpdateHeartbeat 更新心跳时间并清零错过计数，同时记录Agent已确认的配置版本
// last_heartbeat_at单调不减: 仅当新时间晚于已记录值(或尚无记录)才写入，乱序到达的并发心跳不会使其倒退
func (r *gormRepository) UpdateHeartbeat(ctx context.Context, agentID string, at time.Time, configVersionSeen int64) error {
	return r.db.WithContext(ctx).Model(&agentmodel.Agent{}).
		Where("agent_id = ? AND (last_heartbeat_at IS NULL OR last_heartbeat_at < ?)", agentID, at).
		Updates(map[string]interface{}{
			"last_heartbeat_at":   at,
			"missed_heartbeats":   0,
			"config_version_seen": configVersionSeen,
		}).Error
}

// UpdateStatus 执行一次CAS状态迁移，返回是否真正发生了迁移
// from为空字符串时表示不校验来源状态，直接强制写入
func (r *gormRepository) UpdateStatus(ctx context.Context, agentID string, from, to agentmodel.AgentStatus) (bool, error) {
	query := r.db.WithContext(ctx).Model(&agentmodel.Agent{}).Where("agent_id = ?", agentID)
	if from != "" {
		query = query.Where("status = ?", from)
	}
	result := query.Update("status", to)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *gormRepository) ResetMissedHeartbeats(ctx context.Context, agentID string) error {
	return r.db.WithContext(ctx).Model(&agentmodel.Agent{}).
		Where("agent_id = ?", agentID).
		Update("missed_heartbeats", 0).Error
}

// ListStaleOnline 找出online状态但心跳已超过截止时间的Agent，供存活扫描将其标记offline
func (r *gormRepository) ListStaleOnline(ctx context.Context, cutoff time.Time) ([]*agentmodel.Agent, error) {
	var agents []*agentmodel.Agent
	err := r.db.WithContext(ctx).
		Where("status = ?", agentmodel.AgentStatusOnline).
		Where("last_heartbeat_at IS NULL OR last_heartbeat_at < ?", cutoff).
		Find(&agents).Error
	return agents, err
}

// ListStaleOffline 找出offline状态且离线已超过阈值的Agent，供存活扫描将其标记inactive
func (r *gormRepository) ListStaleOffline(ctx context.Context, cutoff time.Time) ([]*agentmodel.Agent, error) {
	var agents []*agentmodel.Agent
	err := r.db.WithContext(ctx).
		Where("status = ?", agentmodel.AgentStatusOffline).
		Where("last_heartbeat_at IS NULL OR last_heartbeat_at < ?", cutoff).
		Find(&agents).Error
	return agents, err
}

func (r *gormRepository) Tombstone(ctx context.Context, agentID string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&agentmodel.Agent{}).
		Where("agent_id = ?", agentID).
		Updates(map[string]interface{}{
			"status":        agentmodel.AgentStatusTombstoned,
			"tombstoned_at": now,
		}).Error
}

// BulkSetAuthorized 批量翻转授权标记，供管理面PATCH bulk接口使用
func (r *gormRepository) BulkSetAuthorized(ctx context.Context, agentIDs []string, authorized bool) (int64, error) {
	if len(agentIDs) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).Model(&agentmodel.Agent{}).
		Where("agent_id IN ?", agentIDs).
		Update("authorized", authorized)
	return result.RowsAffected, result.Error
}

// BulkSetUpdateToLatest 批量设置自更新标记
func (r *gormRepository) BulkSetUpdateToLatest(ctx context.Context, agentIDs []string, updateToLatest bool) (int64, error) {
	if len(agentIDs) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).Model(&agentmodel.Agent{}).
		Where("agent_id IN ?", agentIDs).
		Update("update_to_latest", updateToLatest)
	return result.RowsAffected, result.Error
}

// BulkTombstone 批量软删除，仍在轮询的Agent将在下次心跳收到终态信号后停止
func (r *gormRepository) BulkTombstone(ctx context.Context, agentIDs []string) (int64, error) {
	if len(agentIDs) == 0 {
		return 0, nil
	}
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&agentmodel.Agent{}).
		Where("agent_id IN ?", agentIDs).
		Updates(map[string]interface{}{
			"status":        agentmodel.AgentStatusTombstoned,
			"tombstoned_at": now,
		})
	return result.RowsAffected, result.Error
}
