/**
 * 服务:存活监控
 * @description: 周期性扫描Agent心跳，纯拉取式驱动状态机迁移，不向Agent发起任何连接
 * @func:
 */
package liveness

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	agentmodel "neocontroller/internal/model/agent"
	"neocontroller/internal/pkg/logger"
	agentrepo "neocontroller/internal/repo/mysql/agent"
	"neocontroller/internal/service/configsvc"
)

// Monitor 周期扫描Agent心跳并驱动 online -> offline -> inactive 的单向迁移
type Monitor struct {
	repo               agentrepo.Repository
	configs            configsvc.Service
	heartbeatInterval  time.Duration
	offlineAfterMisses int
	inactiveAfter      time.Duration
	sweepCronSpec      string
	sweepInterval      time.Duration
	cronRunner         *cron.Cron
}

// Config 存活监控的调优参数
// ConfigService留空时完全依赖下面的静态值；给定时每轮扫描优先读取全局配置文档里的
// heartbeat.interval_in_seconds / heartbeat.miss_until_inactive，使运维发布新配置立即生效
type Config struct {
	HeartbeatInterval  time.Duration
	OfflineAfterMisses int
	InactiveAfter      time.Duration
	SweepCron          string
	SweepInterval      time.Duration
	ConfigService      configsvc.Service
}

// NewMonitor 创建存活监控器
func NewMonitor(repo agentrepo.Repository, cfg Config) *Monitor {
	return &Monitor{
		repo:               repo,
		configs:            cfg.ConfigService,
		heartbeatInterval:  cfg.HeartbeatInterval,
		offlineAfterMisses: cfg.OfflineAfterMisses,
		inactiveAfter:      cfg.InactiveAfter,
		sweepCronSpec:      cfg.SweepCron,
		sweepInterval:      cfg.SweepInterval,
	}
}

// effectiveThresholds 返回本轮扫描应使用的心跳间隔与容许错过次数
// 若接入了配置服务且全局文档中携带了对应键，则以其为准，否则退化为构造时的静态值
func (m *Monitor) effectiveThresholds(ctx context.Context) (time.Duration, int) {
	interval := m.heartbeatInterval
	misses := m.offlineAfterMisses
	if m.configs == nil {
		return interval, misses
	}
	global, err := m.configs.LatestGlobal(ctx)
	if err != nil {
		logger.LogError(err, "", "", "", "liveness_sweep", "latest_global_config", nil)
		return interval, misses
	}
	if v, ok := global.Document["heartbeat.interval_in_seconds"]; ok {
		if seconds, ok := v.(float64); ok && seconds > 0 {
			interval = time.Duration(seconds) * time.Second
		}
	}
	if v, ok := global.Document["heartbeat.miss_until_inactive"]; ok {
		if n, ok := v.(float64); ok && n >= 0 {
			misses = int(n)
		}
	}
	return interval, misses
}

// Start 启动周期扫描；优先使用cron表达式，否则退化为固定间隔
func (m *Monitor) Start(ctx context.Context) error {
	if m.sweepCronSpec != "" {
		m.cronRunner = cron.New(cron.WithSeconds())
		_, err := m.cronRunner.AddFunc(m.sweepCronSpec, func() {
			m.sweepOnce(ctx)
		})
		if err != nil {
			return err
		}
		m.cronRunner.Start()
		return nil
	}

	go func() {
		ticker := time.NewTicker(m.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweepOnce(ctx)
			}
		}
	}()
	return nil
}

// Stop 停止cron调度器；固定间隔模式下由ctx取消驱动退出
func (m *Monitor) Stop() {
	if m.cronRunner != nil {
		m.cronRunner.Stop()
	}
}

// sweepOnce 执行一轮存活扫描：online超时错过心跳的降级为offline，offline超时未恢复的降级为inactive
func (m *Monitor) sweepOnce(ctx context.Context) {
	now := time.Now()

	interval, misses := m.effectiveThresholds(ctx)
	onlineCutoff := now.Add(-time.Duration(misses+1) * interval)
	staleOnline, err := m.repo.ListStaleOnline(ctx, onlineCutoff)
	if err != nil {
		logger.LogError(err, "", "", "", "liveness_sweep", "online", nil)
	} else {
		for _, a := range staleOnline {
			if _, err := m.repo.UpdateStatus(ctx, a.AgentID, agentmodel.AgentStatusOnline, agentmodel.AgentStatusOffline); err != nil {
				logger.LogError(err, "", "", "", "liveness_sweep", "online->offline", map[string]interface{}{"agent_id": a.AgentID})
			}
		}
	}

	offlineCutoff := now.Add(-m.inactiveAfter)
	staleOffline, err := m.repo.ListStaleOffline(ctx, offlineCutoff)
	if err != nil {
		logger.LogError(err, "", "", "", "liveness_sweep", "offline", nil)
	} else {
		for _, a := range staleOffline {
			if _, err := m.repo.UpdateStatus(ctx, a.AgentID, agentmodel.AgentStatusOffline, agentmodel.AgentStatusInactive); err != nil {
				logger.LogError(err, "", "", "", "liveness_sweep", "offline->inactive", map[string]interface{}{"agent_id": a.AgentID})
			}
		}
	}

	if len(staleOnline) > 0 || len(staleOffline) > 0 {
		logger.LogSystemEvent("liveness", "sweep_completed", "liveness sweep completed", logrus.InfoLevel, map[string]interface{}{
			"marked_offline": len(staleOnline),
			"marked_inactive": len(staleOffline),
		})
	}
}
