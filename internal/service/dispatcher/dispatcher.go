/**
 * 服务:任务分发器
 * @description: 面向Agent的Job认领编排，融合Redis就绪队列加速器与MySQL的CAS事实来源，
 *   并负责回收超过可见性租约仍未完成的Job
 * @func:
 */
package dispatcher

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"neocontroller/internal/apperr"
	jobmodel "neocontroller/internal/model/job"
	"neocontroller/internal/pkg/logger"
	jobrepo "neocontroller/internal/repo/mysql/job"
	readyqueue "neocontroller/internal/repo/redis"
)

// Service 定义任务分发器对外暴露的用例
type Service interface {
	ClaimNext(ctx context.Context, agentID string, limit int, lease time.Duration) ([]*jobmodel.Job, error)
	MarkRunning(ctx context.Context, jobID string) error
	Complete(ctx context.Context, jobID string) error
	Fail(ctx context.Context, jobID, reason string) error
	ReclaimExpired(ctx context.Context) (int, error)
}

// TerminalNotifier 在Job抵达终态后通知扫描协调器重新聚合进度
type TerminalNotifier interface {
	OnJobTerminal(ctx context.Context, scanID string) error
}

type service struct {
	jobs           jobrepo.Repository
	queue          readyqueue.ReadyQueue
	notifier       TerminalNotifier
	maxAttempts    int
	jobExpiryAfter time.Duration
}

// NewService 创建任务分发器服务
// jobExpiryAfter是未被认领的Job排队多久后标记expired，<=0时退化为24小时
func NewService(jobs jobrepo.Repository, queue readyqueue.ReadyQueue, notifier TerminalNotifier, maxAttempts int, jobExpiryAfter time.Duration) Service {
	if jobExpiryAfter <= 0 {
		jobExpiryAfter = 24 * time.Hour
	}
	return &service{jobs: jobs, queue: queue, notifier: notifier, maxAttempts: maxAttempts, jobExpiryAfter: jobExpiryAfter}
}

// ClaimNext 为一个Agent认领最多limit个Job，优先消费就绪队列，队列为空或条目已过期时回退到直接查表
func (s *service) ClaimNext(ctx context.Context, agentID string, limit int, lease time.Duration) ([]*jobmodel.Job, error) {
	claimed := make([]*jobmodel.Job, 0, limit)
	visibleUntil := time.Now().Add(lease)

	candidateIDs, err := s.queue.PopBatch(ctx, agentID, int64(limit))
	if err != nil {
		logger.LogError(err, "", "", "", "dispatcher", "ready_queue_pop", map[string]interface{}{"agent_id": agentID})
		candidateIDs = nil
	}

	for _, jobID := range candidateIDs {
		ok, err := s.jobs.Claim(ctx, jobID, visibleUntil)
		if err != nil {
			return nil, apperr.ErrInternal.WithCause(err)
		}
		if !ok {
			continue // 已被别的路径认领或状态已变化，跳过
		}
		j, err := s.jobs.GetByJobID(ctx, jobID)
		if err != nil {
			return nil, apperr.ErrInternal.WithCause(err)
		}
		if j != nil {
			claimed = append(claimed, j)
		}
	}

	if len(claimed) >= limit {
		return claimed, nil
	}

	// 就绪队列未能凑够，直接查权威表兜底
	remaining := limit - len(claimed)
	fallback, err := s.jobs.NextQueued(ctx, agentID, remaining)
	if err != nil {
		return nil, apperr.ErrInternal.WithCause(err)
	}
	for _, j := range fallback {
		ok, err := s.jobs.Claim(ctx, j.JobID, visibleUntil)
		if err != nil {
			return nil, apperr.ErrInternal.WithCause(err)
		}
		if !ok {
			continue
		}
		claimed = append(claimed, j)
	}

	return claimed, nil
}

// MarkRunning推进claimed->running；Job已处于running时视为幂等空操作，
// 使同一Job的第二批及之后的结果提交不会因为第一批已经完成这次迁移而报冲突
func (s *service) MarkRunning(ctx context.Context, jobID string) error {
	j, err := s.jobs.GetByJobID(ctx, jobID)
	if err != nil {
		return apperr.ErrInternal.WithCause(err)
	}
	if j == nil {
		return apperr.ErrNotFound.WithDetails("job not found")
	}
	if j.Status == jobmodel.JobStatusRunning {
		return nil
	}

	ok, err := s.jobs.MarkRunning(ctx, jobID)
	if err != nil {
		return apperr.ErrInternal.WithCause(err)
	}
	if !ok {
		return apperr.ErrConflict.WithDetails("job is not in claimed state")
	}
	return nil
}

func (s *service) Complete(ctx context.Context, jobID string) error {
	return s.finish(ctx, jobID, jobmodel.JobStatusSucceeded, "")
}

// Fail终结一个Agent显式上报为失败的Job；不做基于Attempts的重试，
// 那是ReclaimExpired/expireStaleQueued针对租约到期沉默的独立重试路径
func (s *service) Fail(ctx context.Context, jobID, reason string) error {
	return s.finish(ctx, jobID, jobmodel.JobStatusFailed, reason)
}

func (s *service) finish(ctx context.Context, jobID string, status jobmodel.JobStatus, reason string) error {
	j, err := s.jobs.GetByJobID(ctx, jobID)
	if err != nil {
		return apperr.ErrInternal.WithCause(err)
	}
	if j == nil {
		return apperr.ErrNotFound.WithDetails("job not found")
	}
	if status == jobmodel.JobStatusSucceeded && !j.IsTerminal() && j.Status != jobmodel.JobStatusRunning {
		return apperr.ErrConflict.WithDetails("job has no submitted results")
	}

	ok, err := s.jobs.MarkTerminal(ctx, jobID, status, reason)
	if err != nil {
		return apperr.ErrInternal.WithCause(err)
	}
	if !ok {
		return apperr.ErrConflict.WithDetails("already_finalized")
	}

	if s.notifier != nil {
		if err := s.notifier.OnJobTerminal(ctx, j.ScanID); err != nil {
			logger.LogError(err, "", "", "", "dispatcher", "notify_terminal", map[string]interface{}{"scan_id": j.ScanID})
		}
	}
	return nil
}

// ReclaimExpired 找回超过可见性租约但Agent从未上报完成的Job，重新投入队列
func (s *service) ReclaimExpired(ctx context.Context) (int, error) {
	expired, err := s.jobs.ListExpired(ctx, time.Now())
	if err != nil {
		return 0, apperr.ErrInternal.WithCause(err)
	}

	reclaimed := 0
	for _, j := range expired {
		if s.maxAttempts > 0 && j.Attempts >= s.maxAttempts {
			if _, err := s.jobs.MarkTerminal(ctx, j.JobID, jobmodel.JobStatusFailed, "max attempts exceeded"); err != nil {
				logger.LogError(err, "", "", "", "dispatcher", "reclaim_fail_terminal", map[string]interface{}{"job_id": j.JobID})
				continue
			}
			if s.notifier != nil {
				if err := s.notifier.OnJobTerminal(ctx, j.ScanID); err != nil {
					logger.LogError(err, "", "", "", "dispatcher", "notify_terminal", map[string]interface{}{"scan_id": j.ScanID})
				}
			}
			continue
		}

		ok, err := s.jobs.Requeue(ctx, j.JobID)
		if err != nil {
			logger.LogError(err, "", "", "", "dispatcher", "reclaim_requeue", map[string]interface{}{"job_id": j.JobID})
			continue
		}
		if ok {
			if pushErr := s.queue.Push(ctx, j.AgentID, j.JobID); pushErr != nil {
				logger.LogError(pushErr, "", "", "", "dispatcher", "reclaim_push", map[string]interface{}{"job_id": j.JobID})
			}
			reclaimed++
		}
	}

	if reclaimed > 0 {
		logger.LogSystemEvent("dispatcher", "jobs_reclaimed", "expired job leases reclaimed", logrus.InfoLevel, map[string]interface{}{
			"count": reclaimed,
		})
	}

	expiredCount := s.expireStaleQueued(ctx)
	if expiredCount > 0 {
		logger.LogSystemEvent("dispatcher", "jobs_expired", "stale unclaimed jobs expired", logrus.InfoLevel, map[string]interface{}{
			"count": expiredCount,
		})
	}

	return reclaimed, nil
}

// expireStaleQueued 标记排队超过jobExpiryAfter仍未被任何Agent认领的Job为expired
// 与租约回收是两套独立机制：租约回收处理已认领但未完成的Job，这里处理从未被认领的Job
func (s *service) expireStaleQueued(ctx context.Context) int {
	cutoff := time.Now().Add(-s.jobExpiryAfter)
	stale, err := s.jobs.ListStaleQueued(ctx, cutoff)
	if err != nil {
		logger.LogError(err, "", "", "", "dispatcher", "list_stale_queued", nil)
		return 0
	}

	expired := 0
	for _, j := range stale {
		if j.Attempts > 0 {
			continue // 曾被认领、由租约回收重新入队的Job不在此处过期，交给ReclaimExpired的尝试次数上限
		}
		ok, err := s.jobs.MarkTerminal(ctx, j.JobID, jobmodel.JobStatusExpired, "unclaimed past expiry window")
		if err != nil {
			logger.LogError(err, "", "", "", "dispatcher", "expire_stale_queued", map[string]interface{}{"job_id": j.JobID})
			continue
		}
		if !ok {
			continue
		}
		expired++
		if s.notifier != nil {
			if err := s.notifier.OnJobTerminal(ctx, j.ScanID); err != nil {
				logger.LogError(err, "", "", "", "dispatcher", "notify_terminal", map[string]interface{}{"scan_id": j.ScanID})
			}
		}
	}
	return expired
}
