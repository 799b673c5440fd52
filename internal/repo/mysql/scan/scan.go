/**
 * 仓储:Scan
 * @description: 扫描聚合记录的持久化访问
 * @func:
 */
package scan

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	scanmodel "neocontroller/internal/model/scan"
)

// Repository 定义扫描聚合记录的数据访问接口
type Repository interface {
	Create(ctx context.Context, s *scanmodel.Scan) error
	GetByScanID(ctx context.Context, scanID string) (*scanmodel.Scan, error)
	List(ctx context.Context, page, pageSize int) ([]*scanmodel.Scan, int64, error)
	MarkStarted(ctx context.Context, scanID string) error
	UpdateProgress(ctx context.Context, scanID string, total, terminal, succeeded, failed int) error
	FinishIfTerminal(ctx context.Context, scanID string, status scanmodel.ScanStatus) (bool, error)
	Cancel(ctx context.Context, scanID string) (bool, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository 创建基于GORM的Scan仓储
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Create(ctx context.Context, s *scanmodel.Scan) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *gormRepository) GetByScanID(ctx context.Context, scanID string) (*scanmodel.Scan, error) {
	var s scanmodel.Scan
	err := r.db.WithContext(ctx).Where("scan_id = ?", scanID).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *gormRepository) List(ctx context.Context, page, pageSize int) ([]*scanmodel.Scan, int64, error) {
	query := r.db.WithContext(ctx).Model(&scanmodel.Scan{})
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}
	var scans []*scanmodel.Scan
	err := query.Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&scans).Error
	if err != nil {
		return nil, 0, err
	}
	return scans, total, nil
}

func (r *gormRepository) MarkStarted(ctx context.Context, scanID string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&scanmodel.Scan{}).
		Where("scan_id = ? AND status = ?", scanID, scanmodel.ScanStatusPending).
		Updates(map[string]interface{}{
			"status":     scanmodel.ScanStatusRunning,
			"started_at": now,
		}).Error
}

func (r *gormRepository) UpdateProgress(ctx context.Context, scanID string, total, terminal, succeeded, failed int) error {
	return r.db.WithContext(ctx).Model(&scanmodel.Scan{}).
		Where("scan_id = ?", scanID).
		Updates(map[string]interface{}{
			"total_jobs":     total,
			"terminal_jobs":  terminal,
			"succeeded_jobs": succeeded,
			"failed_jobs":    failed,
		}).Error
}

// FinishIfTerminal 将扫描从running迁移为完成态，仅在尚未处于终态时生效，保证幂等
func (r *gormRepository) FinishIfTerminal(ctx context.Context, scanID string, status scanmodel.ScanStatus) (bool, error) {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&scanmodel.Scan{}).
		Where("scan_id = ? AND status = ?", scanID, scanmodel.ScanStatusRunning).
		Updates(map[string]interface{}{
			"status":      status,
			"finished_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *gormRepository) Cancel(ctx context.Context, scanID string) (bool, error) {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&scanmodel.Scan{}).
		Where("scan_id = ? AND status IN ?", scanID, []scanmodel.ScanStatus{scanmodel.ScanStatusPending, scanmodel.ScanStatusRunning}).
		Updates(map[string]interface{}{
			"status":      scanmodel.ScanStatusCancelled,
			"finished_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
