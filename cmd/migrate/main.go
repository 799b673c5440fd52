/*
*
  - 数据库迁移工具
  - @author: Sun977
  - @date: 2025.10.15
  - @description: 控制器数据库模型迁移和种子数据初始化工具
  - @usage: go run main.go -env=test -seed=true -drop=true
    -drop
    是否先删除表（危险操作）
    -env string
    环境标识 (test, dev, prod) (default "test")
    -seed
    是否填充种子数据 (default true)
    -verbose
    是否显示详细日志

示例:
main.exe -env=test -seed=true    # 测试环境迁移并填充数据
main.exe -env=prod -seed=false   # 生产环境仅迁移表结构
*/
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"neocontroller/internal/config"
	agentmodel "neocontroller/internal/model/agent"
	configmodel "neocontroller/internal/model/agentconfig"
	installermodel "neocontroller/internal/model/installer"
	jobmodel "neocontroller/internal/model/job"
	resultmodel "neocontroller/internal/model/result"
	scanmodel "neocontroller/internal/model/scan"
	"neocontroller/internal/pkg/database"
	"neocontroller/internal/pkg/logger"
)

// MigrateOptions 迁移选项配置
type MigrateOptions struct {
	Environment string // 环境标识: test, dev, prod
	SeedData    bool   // 是否填充种子数据
	DropFirst   bool   // 是否先删除表（危险操作）
	Verbose     bool   // 是否显示详细日志
}

// DataSeeder 种子数据填充器
type DataSeeder struct {
	db  *gorm.DB
	env string
	log *logger.LoggerManager
}

func main() {
	opts := parseFlags()

	cfg, err := config.LoadConfig("", opts.Environment)
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	logManager, err := logger.InitLogger(&cfg.Log)
	if err != nil {
		log.Fatalf("日志初始化失败: %v", err)
	}

	logManager.GetLogger().WithFields(logrus.Fields{
		"path":        "cmd/migrate/main.go",
		"operation":   "database_migration",
		"option":      "migrate.start",
		"func_name":   "main",
		"environment": opts.Environment,
		"seed_data":   opts.SeedData,
		"drop_first":  opts.DropFirst,
	}).Info("开始数据库迁移")

	db, err := database.NewSQLConnection(&cfg.Database.MySQL)
	if err != nil {
		logManager.GetLogger().WithFields(logrus.Fields{
			"path":      "cmd/migrate/main.go",
			"operation": "database_connection",
			"option":    "database.NewSQLConnection",
			"func_name": "main",
			"error":     err.Error(),
		}).Fatal("数据库连接失败")
	}

	if err := performMigration(db, opts, logManager); err != nil {
		logManager.GetLogger().WithFields(logrus.Fields{
			"path":      "cmd/migrate/main.go",
			"operation": "database_migration",
			"option":    "performMigration",
			"func_name": "main",
			"error":     err.Error(),
		}).Fatal("数据库迁移失败")
	}

	logManager.GetLogger().WithFields(logrus.Fields{
		"path":      "cmd/migrate/main.go",
		"operation": "database_migration",
		"option":    "migrate.complete",
		"func_name": "main",
	}).Info("数据库迁移完成")
}

// parseFlags 解析命令行参数
func parseFlags() *MigrateOptions {
	opts := &MigrateOptions{}

	flag.StringVar(&opts.Environment, "env", "test", "环境标识 (test, dev, prod)")
	flag.BoolVar(&opts.SeedData, "seed", true, "是否填充种子数据")
	flag.BoolVar(&opts.DropFirst, "drop", false, "是否先删除表（危险操作）")
	flag.BoolVar(&opts.Verbose, "verbose", false, "是否显示详细日志")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "NeoController 数据库迁移工具\n\n")
		fmt.Fprintf(os.Stderr, "用法: %s [选项]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "选项:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\n示例:\n")
		fmt.Fprintf(os.Stderr, "  %s -env=test -seed=true    # 测试环境迁移并填充数据\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -env=prod -seed=false   # 生产环境仅迁移表结构\n", os.Args[0])
	}

	flag.Parse()
	return opts
}

// performMigration 执行数据库迁移
func performMigration(db *gorm.DB, opts *MigrateOptions, logManager *logger.LoggerManager) error {
	if opts.DropFirst {
		if err := dropTables(db, logManager); err != nil {
			return fmt.Errorf("删除表失败: %w", err)
		}
	}

	if err := migrateModels(db, logManager); err != nil {
		return fmt.Errorf("模型迁移失败: %w", err)
	}

	if opts.SeedData {
		seeder := NewDataSeeder(db, opts.Environment, logManager)
		if err := seeder.SeedAll(); err != nil {
			return fmt.Errorf("数据填充失败: %w", err)
		}
	}

	return nil
}

// allModels 按依赖关系排序，关联表在被引用表之后
func allModels() []interface{} {
	return []interface{}{
		&agentmodel.Agent{},
		&scanmodel.Scan{},
		&jobmodel.Job{},
		&resultmodel.Result{},
		&configmodel.GlobalConfigVersion{},
		&configmodel.AgentConfigOverride{},
		&installermodel.Installer{},
	}
}

// dropTables 删除所有表，危险操作，仅用于开发环境重置
func dropTables(db *gorm.DB, logManager *logger.LoggerManager) error {
	logManager.GetLogger().WithFields(logrus.Fields{
		"path":      "cmd/migrate/main.go",
		"operation": "drop_tables",
		"option":    "dropTables",
		"func_name": "dropTables",
	}).Warn("开始删除数据库表")

	models := allModels()
	// 逆序删除，被引用的表最后删
	for i := len(models) - 1; i >= 0; i-- {
		model := models[i]
		if err := db.Migrator().DropTable(model); err != nil {
			logManager.GetLogger().WithFields(logrus.Fields{
				"path":      "cmd/migrate/main.go",
				"operation": "drop_table",
				"option":    "db.Migrator().DropTable",
				"func_name": "dropTables",
				"model":     fmt.Sprintf("%T", model),
				"error":     err.Error(),
			}).Error("删除表失败")
		}
	}

	return nil
}

// migrateModels 执行模型迁移
func migrateModels(db *gorm.DB, loggerMgr *logger.LoggerManager) error {
	loggerMgr.GetLogger().Info("开始执行模型迁移...")

	for _, model := range allModels() {
		if err := db.AutoMigrate(model); err != nil {
			return fmt.Errorf("迁移模型 %T 失败: %w", model, err)
		}
		loggerMgr.GetLogger().WithField("model", fmt.Sprintf("%T", model)).Info("模型迁移成功")
	}

	loggerMgr.GetLogger().Info("所有模型迁移完成")
	return nil
}

// NewDataSeeder 创建数据填充器
func NewDataSeeder(db *gorm.DB, env string, logManager *logger.LoggerManager) *DataSeeder {
	return &DataSeeder{
		db:  db,
		env: env,
		log: logManager,
	}
}

// SeedAll 填充全部种子数据
func (s *DataSeeder) SeedAll() error {
	s.log.GetLogger().WithFields(logrus.Fields{
		"path":      "cmd/migrate/main.go",
		"operation": "seed_data",
		"option":    "SeedAll",
		"func_name": "DataSeeder.SeedAll",
		"env":       s.env,
	}).Info("开始填充种子数据")

	if err := s.seedInstallers(); err != nil {
		return fmt.Errorf("填充安装包目录失败: %w", err)
	}

	if s.env == "test" {
		if err := s.seedTestAgents(); err != nil {
			return fmt.Errorf("填充测试Agent失败: %w", err)
		}
	}

	s.log.GetLogger().WithFields(logrus.Fields{
		"path":      "cmd/migrate/main.go",
		"operation": "seed_data",
		"option":    "SeedAll.complete",
		"func_name": "DataSeeder.SeedAll",
	}).Info("种子数据填充完成")

	return nil
}

// seedInstallers 填充可分发的Agent安装包目录，元数据对应发布产物的固定清单
func (s *DataSeeder) seedInstallers() error {
	installers := []installermodel.Installer{
		{
			Name:         "neoagent-linux-amd64",
			Version:      "v1.1.0",
			Platform:     "linux",
			Architecture: "amd64",
			DownloadURL:  "https://releases.neoscan.com/agent/v1.1.0/neoagent-linux-amd64.tar.gz",
			Checksum:     "sha256:placeholder-linux-amd64",
		},
		{
			Name:         "neoagent-linux-arm64",
			Version:      "v1.1.0",
			Platform:     "linux",
			Architecture: "arm64",
			DownloadURL:  "https://releases.neoscan.com/agent/v1.1.0/neoagent-linux-arm64.tar.gz",
			Checksum:     "sha256:placeholder-linux-arm64",
		},
		{
			Name:         "neoagent-windows-amd64",
			Version:      "v1.1.0",
			Platform:     "windows",
			Architecture: "amd64",
			DownloadURL:  "https://releases.neoscan.com/agent/v1.1.0/neoagent-windows-amd64.zip",
			Checksum:     "sha256:placeholder-windows-amd64",
		},
	}

	for _, ins := range installers {
		if err := s.db.Where("name = ? AND version = ?", ins.Name, ins.Version).FirstOrCreate(&ins).Error; err != nil {
			return fmt.Errorf("创建安装包记录失败: %w", err)
		}
	}

	s.log.GetLogger().WithField("count", len(installers)).Info("安装包目录填充成功")
	return nil
}

// seedTestAgents 仅在测试环境填充几个示例Agent，便于本地联调
func (s *DataSeeder) seedTestAgents() error {
	agents := []agentmodel.Agent{
		{
			AgentID:         "test-agent-001",
			Hostname:        "dev-scanner-01",
			OperatingSystem: "linux",
			Architecture:    "amd64",
			AgentVersion:    "v1.1.0",
			Status:          agentmodel.AgentStatusOnline,
			Authorized:      true,
		},
		{
			AgentID:         "test-agent-002",
			Hostname:        "dev-scanner-02",
			OperatingSystem: "linux",
			Architecture:    "arm64",
			AgentVersion:    "v1.0.0",
			Status:          agentmodel.AgentStatusPending,
			Authorized:      false,
		},
	}

	for _, ag := range agents {
		if err := s.db.Where("agent_id = ?", ag.AgentID).FirstOrCreate(&ag).Error; err != nil {
			return fmt.Errorf("创建测试Agent失败: %w", err)
		}
	}

	s.log.GetLogger().WithField("count", len(agents)).Info("测试Agent填充成功")
	return nil
}
