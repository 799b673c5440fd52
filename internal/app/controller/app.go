/**
 * 应用:组合根
 * @description: 装配数据库/Redis连接、全部仓储与服务、后台工作协程与HTTP路由，
 *   是整个控制器进程唯一的依赖注入入口
 * @func:
 */
package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"neocontroller/internal/app/controller/handler"
	"neocontroller/internal/app/controller/middleware"
	"neocontroller/internal/app/controller/router"
	"neocontroller/internal/config"
	"neocontroller/internal/pkg/auth"
	"neocontroller/internal/pkg/database"
	"neocontroller/internal/pkg/logger"
	agentconfigrepo "neocontroller/internal/repo/mysql/agentconfig"
	agentrepo "neocontroller/internal/repo/mysql/agent"
	installerrepo "neocontroller/internal/repo/mysql/installer"
	jobrepo "neocontroller/internal/repo/mysql/job"
	resultrepo "neocontroller/internal/repo/mysql/result"
	scanrepo "neocontroller/internal/repo/mysql/scan"
	readyqueue "neocontroller/internal/repo/redis"
	"neocontroller/internal/service/configsvc"
	"neocontroller/internal/service/coordinator"
	"neocontroller/internal/service/dispatcher"
	"neocontroller/internal/service/ingestor"
	"neocontroller/internal/service/liveness"
	"neocontroller/internal/service/registry"
)

// App 持有一个已完全装配的控制器进程
type App struct {
	config        *config.Config
	db            *gorm.DB
	redis         *redis.Client
	router        *router.Router
	liveness      *liveness.Monitor
	dispatcher    dispatcher.Service
	reclaimCancel context.CancelFunc
}

// NewApp 加载配置并装配整个控制器: 连接、仓储、服务、后台工作协程、HTTP路由
func NewApp(configPath, env string) (*App, error) {
	cfg, err := config.LoadConfig(configPath, env)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if _, err := logger.InitLogger(&cfg.Log); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := database.WaitForConnection(&cfg.Database.MySQL, 5, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connect mysql: %w", err)
	}

	redisClient, err := database.NewRedisConnection(&cfg.Database.Redis)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	agents := agentrepo.NewRepository(db)
	scans := scanrepo.NewRepository(db)
	jobs := jobrepo.NewRepository(db)
	results := resultrepo.NewRepository(db)
	agentConfigs := agentconfigrepo.NewRepository(db)
	installers := installerrepo.NewRepository(db)
	queue := readyqueue.NewReadyQueue(redisClient)

	regSvc := registry.NewService(agents, jobs)
	cfgSvc := configsvc.NewService(agentConfigs)
	coordSvc := coordinator.NewService(scans, jobs, agents, queue)
	dispSvc := dispatcher.NewService(jobs, queue, coordSvc, cfg.Controller.MaxJobAttempts, cfg.Controller.JobExpiryAfter)
	ingSvc := ingestor.NewService(jobs, results)

	livenessMonitor := liveness.NewMonitor(agents, liveness.Config{
		HeartbeatInterval:  cfg.Controller.HeartbeatInterval,
		OfflineAfterMisses: cfg.Controller.OfflineAfterMisses,
		InactiveAfter:      cfg.Controller.InactiveAfter,
		SweepCron:          cfg.Controller.LivenessSweepCron,
		SweepInterval:      cfg.Controller.LivenessSweepInterval,
		ConfigService:      cfgSvc,
	})

	jwtManager := auth.NewAgentJWTManager(
		cfg.Security.AgentAuth.Secret,
		cfg.Security.AgentAuth.Issuer,
		cfg.Security.AgentAuth.TokenExpire,
		cfg.Security.AgentAuth.AllowedClockSkew,
	)

	apiKeyManager := auth.NewAPIKeyManager(&auth.APIKeyConfig{
		Memory:      cfg.Security.AdminAuth.ArgonMemory,
		Iterations:  cfg.Security.AdminAuth.ArgonTime,
		Parallelism: cfg.Security.AdminAuth.ArgonThreads,
		SaltLength:  16,
		KeyLength:   cfg.Security.AdminAuth.ArgonKeyLen,
	})
	adminKeys := cfg.Security.AdminAuth.Keys
	adminLookup := middleware.AdminKeyLookup(func(c *gin.Context, key string) (string, error) {
		return middleware.VerifyAdminKey(apiKeyManager, key, adminKeys)
	})

	handlers := router.Handlers{
		Agent:   handler.NewAgentHandler(regSvc, dispSvc, ingSvc, cfgSvc, cfg.Controller),
		Scanner: handler.NewScannerHandler(coordSvc, ingSvc),
		Admin:   handler.NewAdminHandler(regSvc, cfgSvc, installers),
		Health:  handler.NewHealthHandler(db),
	}

	r := router.New(cfg, handlers, jwtManager, adminLookup)

	return &App{
		config:     cfg,
		db:         db,
		redis:      redisClient,
		router:     r,
		liveness:   livenessMonitor,
		dispatcher: dispSvc,
	}, nil
}

// GetConfig 返回已加载的配置
func (a *App) GetConfig() *config.Config {
	return a.config
}

// GetRouter 返回已装配的路由，供入口挂载HTTP服务器
func (a *App) GetRouter() *router.Router {
	return a.router
}

// Start 启动全部后台工作协程: 存活扫描、Job回收循环与配置文件热重载监听
func (a *App) Start(ctx context.Context) error {
	if err := a.liveness.Start(ctx); err != nil {
		return fmt.Errorf("start liveness monitor: %w", err)
	}

	reclaimCtx, cancel := context.WithCancel(ctx)
	a.reclaimCancel = cancel
	go a.runReclaimLoop(reclaimCtx)

	if err := config.StartConfigWatcher("", a.config.App.Environment); err != nil {
		logger.LogSystemEvent("app", "config_watcher_start_failed", err.Error(), logrus.WarnLevel, nil)
	} else {
		config.AddConfigReloadCallback(config.LogConfigReloadCallback)
		config.AddConfigReloadCallback(config.SecurityConfigReloadCallback)
		config.AddConfigReloadCallback(config.DatabaseConfigReloadCallback)
	}

	return nil
}

// runReclaimLoop 周期性地回收超过可见性租约但未收到完成回执的Job
func (a *App) runReclaimLoop(ctx context.Context) {
	interval := a.config.Controller.JobReclaimInterval
	if interval <= 0 {
		interval = 20 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.dispatcher.ReclaimExpired(ctx)
			if err != nil {
				logger.LogError(err, "", "", "", "reclaim_loop", "internal", nil)
				continue
			}
			if n > 0 {
				logger.LogSystemEvent("dispatcher", "jobs_reclaimed", "expired job leases reclaimed", logrus.InfoLevel, map[string]interface{}{
					"count": n,
				})
			}
		}
	}
}

// Stop 停止全部后台工作协程
func (a *App) Stop() {
	a.liveness.Stop()
	if a.reclaimCancel != nil {
		a.reclaimCancel()
	}
	if err := config.StopConfigWatcher(); err != nil {
		logger.LogSystemEvent("app", "config_watcher_stop_failed", err.Error(), logrus.WarnLevel, nil)
	}
}
