/**
 * 仓储:AgentConfig
 * @description: 全局配置版本历史与按Agent覆盖的持久化访问
 * @func:
 */
package agentconfig

import (
	"context"
	"errors"

	"gorm.io/gorm"

	configmodel "neocontroller/internal/model/agentconfig"
)

// Repository 定义配置服务的数据访问接口
type Repository interface {
	CreateVersion(ctx context.Context, v *configmodel.GlobalConfigVersion) error
	LatestVersion(ctx context.Context) (*configmodel.GlobalConfigVersion, error)
	GetVersion(ctx context.Context, version int64) (*configmodel.GlobalConfigVersion, error)
	UpsertOverride(ctx context.Context, o *configmodel.AgentConfigOverride) error
	GetOverride(ctx context.Context, agentID string) (*configmodel.AgentConfigOverride, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository 创建基于GORM的AgentConfig仓储
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// CreateVersion 追加一个新的全局配置版本，只允许递增，冲突交由唯一索引兜底
func (r *gormRepository) CreateVersion(ctx context.Context, v *configmodel.GlobalConfigVersion) error {
	return r.db.WithContext(ctx).Create(v).Error
}

func (r *gormRepository) LatestVersion(ctx context.Context) (*configmodel.GlobalConfigVersion, error) {
	var v configmodel.GlobalConfigVersion
	err := r.db.WithContext(ctx).Order("version DESC").First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *gormRepository) GetVersion(ctx context.Context, version int64) (*configmodel.GlobalConfigVersion, error) {
	var v configmodel.GlobalConfigVersion
	err := r.db.WithContext(ctx).Where("version = ?", version).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// UpsertOverride 创建或替换某个Agent的配置覆盖
func (r *gormRepository) UpsertOverride(ctx context.Context, o *configmodel.AgentConfigOverride) error {
	var existing configmodel.AgentConfigOverride
	err := r.db.WithContext(ctx).Where("agent_id = ?", o.AgentID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.db.WithContext(ctx).Create(o).Error
	}
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&existing).Updates(map[string]interface{}{
		"document":   o.Document,
		"updated_by": o.UpdatedBy,
	}).Error
}

func (r *gormRepository) GetOverride(ctx context.Context, agentID string) (*configmodel.AgentConfigOverride, error) {
	var o configmodel.AgentConfigOverride
	err := r.db.WithContext(ctx).Where("agent_id = ?", agentID).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}
