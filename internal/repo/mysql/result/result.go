/**
 * 仓储:Result
 * @description: 扫描发现结果的批量写入与查询
 * @func:
 */
package result

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	resultmodel "neocontroller/internal/model/result"
)

// Repository 定义结果仓储的数据访问接口
type Repository interface {
	CreateBatch(ctx context.Context, results []*resultmodel.Result) error
	// RecordBatch原子地登记一次(job_id, batch_sequence)提交，返回true表示这是首次见到该批次；
	// 返回false表示唯一索引已存在同样的批次号，调用方应当把这次提交当作幂等重放跳过落盘
	RecordBatch(ctx context.Context, jobID string, batchSequence int64, resultCount int) (bool, error)
	ListByScan(ctx context.Context, scanID string, offset, limit int) ([]*resultmodel.Result, int64, error)
	ListByJob(ctx context.Context, jobID string) ([]*resultmodel.Result, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository 创建基于GORM的Result仓储
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// CreateBatch 事务性批量写入，供Ingestor按批提交，避免逐条上报造成的写放大
func (r *gormRepository) CreateBatch(ctx context.Context, results []*resultmodel.Result) error {
	if len(results) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(results, 200).Error
	})
}

// RecordBatch 尝试插入一条批次登记行，唯一索引冲突时DoNothing，
// RowsAffected==0即为重复提交
func (r *gormRepository) RecordBatch(ctx context.Context, jobID string, batchSequence int64, resultCount int) (bool, error) {
	batch := &resultmodel.ResultBatch{JobID: jobID, BatchSequence: batchSequence, ResultCount: resultCount}
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(batch)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListByScan 按(scan_id)返回结果窗口，offset/limit由调用方从range=a-b解析而来
func (r *gormRepository) ListByScan(ctx context.Context, scanID string, offset, limit int) ([]*resultmodel.Result, int64, error) {
	query := r.db.WithContext(ctx).Model(&resultmodel.Result{}).Where("scan_id = ?", scanID)
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if offset < 0 {
		offset = 0
	}
	if limit < 1 || limit > 1000 {
		limit = 100
	}
	var results []*resultmodel.Result
	err := query.Order("id ASC").Offset(offset).Limit(limit).Find(&results).Error
	if err != nil {
		return nil, 0, err
	}
	return results, total, nil
}

func (r *gormRepository) ListByJob(ctx context.Context, jobID string) ([]*resultmodel.Result, error) {
	var results []*resultmodel.Result
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).Find(&results).Error
	return results, err
}
