/**
 * 仓储:Job
 * @description: Job队列的持久化访问，核心是CAS认领与租约回收
 * @func:
 */
package job

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	jobmodel "neocontroller/internal/model/job"
)

// Repository 定义Job队列的数据访问接口
type Repository interface {
	Create(ctx context.Context, j *jobmodel.Job) error
	CreateBatch(ctx context.Context, jobs []*jobmodel.Job) error
	GetByJobID(ctx context.Context, jobID string) (*jobmodel.Job, error)
	NextQueued(ctx context.Context, agentID string, limit int) ([]*jobmodel.Job, error)
	Claim(ctx context.Context, jobID string, visibleUntil time.Time) (bool, error)
	MarkRunning(ctx context.Context, jobID string) (bool, error)
	MarkTerminal(ctx context.Context, jobID string, status jobmodel.JobStatus, failReason string) (bool, error)
	ListExpired(ctx context.Context, now time.Time) ([]*jobmodel.Job, error)
	ListStaleQueued(ctx context.Context, cutoff time.Time) ([]*jobmodel.Job, error)
	Requeue(ctx context.Context, jobID string) (bool, error)
	CountByScan(ctx context.Context, scanID string) (total, terminal, succeeded, failed int64, err error)
	ListByScan(ctx context.Context, scanID string) ([]*jobmodel.Job, error)
	CancelByScan(ctx context.Context, scanID string) (int64, error)
	CancelByAgent(ctx context.Context, agentID string) (int64, error)
}

// nonTerminalStatuses 列出所有未到达终态的Job状态，供级联取消/回收等批量迁移复用
var nonTerminalStatuses = []jobmodel.JobStatus{jobmodel.JobStatusQueued, jobmodel.JobStatusClaimed, jobmodel.JobStatusRunning}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository 创建基于GORM的Job仓储
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Create(ctx context.Context, j *jobmodel.Job) error {
	return r.db.WithContext(ctx).Create(j).Error
}

func (r *gormRepository) CreateBatch(ctx context.Context, jobs []*jobmodel.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(jobs, 200).Error
}

func (r *gormRepository) GetByJobID(ctx context.Context, jobID string) (*jobmodel.Job, error) {
	var j jobmodel.Job
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).First(&j).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// NextQueued 返回某个Agent当前排队中的Job，按创建顺序FIFO
func (r *gormRepository) NextQueued(ctx context.Context, agentID string, limit int) ([]*jobmodel.Job, error) {
	var jobs []*jobmodel.Job
	err := r.db.WithContext(ctx).
		Where("agent_id = ? AND status = ?", agentID, jobmodel.JobStatusQueued).
		Order("id ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// Claim 原子认领一个Job：仅当其仍为queued状态时才会成功，防止两个并发请求重复派发同一Job
// 这与task_dispatcher一致：用一次条件UPDATE代替select-then-update，检查RowsAffected判断竞争结果
func (r *gormRepository) Claim(ctx context.Context, jobID string, visibleUntil time.Time) (bool, error) {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&jobmodel.Job{}).
		Where("job_id = ? AND status = ?", jobID, jobmodel.JobStatusQueued).
		Updates(map[string]interface{}{
			"status":     jobmodel.JobStatusClaimed,
			"claimed_at": now,
			"visible_at": visibleUntil,
			"attempts":   gorm.Expr("attempts + 1"),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *gormRepository) MarkRunning(ctx context.Context, jobID string) (bool, error) {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&jobmodel.Job{}).
		Where("job_id = ? AND status = ?", jobID, jobmodel.JobStatusClaimed).
		Updates(map[string]interface{}{
			"status":     jobmodel.JobStatusRunning,
			"started_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkTerminal 将Job标记为任意终态，仅允许从未到达终态的状态迁移，保证幂等
func (r *gormRepository) MarkTerminal(ctx context.Context, jobID string, status jobmodel.JobStatus, failReason string) (bool, error) {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&jobmodel.Job{}).
		Where("job_id = ? AND status IN ?", jobID, nonTerminalStatuses).
		Updates(map[string]interface{}{
			"status":      status,
			"finished_at": now,
			"fail_reason": failReason,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListExpired 找出租约已过期的claimed Job，供回收循环重新入队或判定失败
func (r *gormRepository) ListExpired(ctx context.Context, now time.Time) ([]*jobmodel.Job, error) {
	var jobs []*jobmodel.Job
	err := r.db.WithContext(ctx).
		Where("status = ? AND visible_at < ?", jobmodel.JobStatusClaimed, now).
		Find(&jobs).Error
	return jobs, err
}

// ListStaleQueued 找出排队超过cutoff仍未被认领的Job，供回收循环标记expired
func (r *gormRepository) ListStaleQueued(ctx context.Context, cutoff time.Time) ([]*jobmodel.Job, error) {
	var jobs []*jobmodel.Job
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", jobmodel.JobStatusQueued, cutoff).
		Find(&jobs).Error
	return jobs, err
}

// Requeue 将过期认领的Job重新放回queued，仅当其仍处于claimed状态
func (r *gormRepository) Requeue(ctx context.Context, jobID string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&jobmodel.Job{}).
		Where("job_id = ? AND status = ?", jobID, jobmodel.JobStatusClaimed).
		Updates(map[string]interface{}{
			"status":     jobmodel.JobStatusQueued,
			"claimed_at": nil,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// CountByScan 返回某次扫描的进度统计，用于协调器判断是否已到达终态
// expired/canceled的Job计入terminal与failed一侧：它们都不是succeeded，但已不再占用调度资源
func (r *gormRepository) CountByScan(ctx context.Context, scanID string) (total, terminal, succeeded, failed int64, err error) {
	base := r.db.WithContext(ctx).Model(&jobmodel.Job{}).Where("scan_id = ?", scanID)
	if err = base.Count(&total).Error; err != nil {
		return
	}
	nonSucceededTerminal := []jobmodel.JobStatus{jobmodel.JobStatusFailed, jobmodel.JobStatusExpired, jobmodel.JobStatusCanceled}
	if err = r.db.WithContext(ctx).Model(&jobmodel.Job{}).
		Where("scan_id = ? AND status IN ?", scanID, append(nonSucceededTerminal, jobmodel.JobStatusSucceeded)).
		Count(&terminal).Error; err != nil {
		return
	}
	if err = r.db.WithContext(ctx).Model(&jobmodel.Job{}).
		Where("scan_id = ? AND status = ?", scanID, jobmodel.JobStatusSucceeded).
		Count(&succeeded).Error; err != nil {
		return
	}
	err = r.db.WithContext(ctx).Model(&jobmodel.Job{}).
		Where("scan_id = ? AND status IN ?", scanID, nonSucceededTerminal).
		Count(&failed).Error
	return
}

func (r *gormRepository) ListByScan(ctx context.Context, scanID string) ([]*jobmodel.Job, error) {
	var jobs []*jobmodel.Job
	err := r.db.WithContext(ctx).Where("scan_id = ?", scanID).Find(&jobs).Error
	return jobs, err
}

// CancelByScan 将某次扫描下所有未到达终态的Job批量迁移为canceled，供CancelScan级联调用
func (r *gormRepository) CancelByScan(ctx context.Context, scanID string) (int64, error) {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&jobmodel.Job{}).
		Where("scan_id = ? AND status IN ?", scanID, nonTerminalStatuses).
		Updates(map[string]interface{}{
			"status":      jobmodel.JobStatusCanceled,
			"finished_at": now,
		})
	return result.RowsAffected, result.Error
}

// CancelByAgent 将某个Agent名下所有未到达终态的Job批量迁移为canceled，供Tombstone级联调用
func (r *gormRepository) CancelByAgent(ctx context.Context, agentID string) (int64, error) {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&jobmodel.Job{}).
		Where("agent_id = ? AND status IN ?", agentID, nonTerminalStatuses).
		Updates(map[string]interface{}{
			"status":      jobmodel.JobStatusCanceled,
			"finished_at": now,
		})
	return result.RowsAffected, result.Error
}
