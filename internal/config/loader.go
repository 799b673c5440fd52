package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// GlobalConfig 全局配置实例
	GlobalConfig *Config
)

// LoadConfig 加载配置文件
// configPath: 配置文件路径，如果为空则使用默认路径
// env: 环境标识，支持 development, test, production
func LoadConfig(configPath, env string) (*Config, error) {
	if env == "" {
		env = getEnvFromEnvironment()
	}

	v := viper.New()
	v.SetConfigType("yaml")

	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	configFile := getConfigFileName(configPath, env)
	v.SetConfigFile(configFile)

	v.SetEnvPrefix("NEOCTL")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	bindEnvironmentVariables(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	GlobalConfig = &config

	return &config, nil
}

// getEnvFromEnvironment 从环境变量获取环境标识
func getEnvFromEnvironment() string {
	env := os.Getenv("NEOCTL_ENV")
	if env == "" {
		env = os.Getenv("GO_ENV")
	}
	if env == "" {
		env = "development"
	}
	return env
}

// getDefaultConfigPath 获取默认配置文件路径
func getDefaultConfigPath() string {
	if configPath := os.Getenv("NEOCTL_CONFIG_PATH"); configPath != "" {
		return configPath
	}
	return "configs"
}

// getConfigFileName 根据环境获取配置文件名
func getConfigFileName(configPath, env string) string {
	var configFile string

	switch env {
	case "production", "prod":
		configFile = filepath.Join(configPath, "config.prod.yaml")
	case "test", "testing":
		configFile = filepath.Join(configPath, "config.test.yaml")
	default:
		configFile = filepath.Join(configPath, "config.yaml")
	}

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		defaultConfig := filepath.Join(configPath, "config.yaml")
		if _, err := os.Stat(defaultConfig); err == nil {
			return defaultConfig
		}
	}

	return configFile
}

// bindEnvironmentVariables 绑定环境变量，便于容器化部署覆盖敏感字段
func bindEnvironmentVariables(v *viper.Viper) {
	v.BindEnv("database.mysql.host", "NEOCTL_MYSQL_HOST")
	v.BindEnv("database.mysql.port", "NEOCTL_MYSQL_PORT")
	v.BindEnv("database.mysql.username", "NEOCTL_MYSQL_USERNAME")
	v.BindEnv("database.mysql.password", "NEOCTL_MYSQL_PASSWORD")
	v.BindEnv("database.mysql.database", "NEOCTL_MYSQL_DATABASE")

	v.BindEnv("database.redis.host", "NEOCTL_REDIS_HOST")
	v.BindEnv("database.redis.port", "NEOCTL_REDIS_PORT")
	v.BindEnv("database.redis.password", "NEOCTL_REDIS_PASSWORD")
	v.BindEnv("database.redis.database", "NEOCTL_REDIS_DATABASE")

	v.BindEnv("security.agent_auth.secret", "NEOCTL_AGENT_JWT_SECRET")
	v.BindEnv("security.agent_auth.issuer", "NEOCTL_AGENT_JWT_ISSUER")
	v.BindEnv("security.scanner.bearer_token", "NEOCTL_SCANNER_BEARER_TOKEN")

	v.BindEnv("server.host", "NEOCTL_SERVER_HOST")
	v.BindEnv("server.port", "NEOCTL_SERVER_PORT")
	v.BindEnv("server.mode", "NEOCTL_SERVER_MODE")
	v.BindEnv("server.tls.cert_file", "NEOCTL_TLS_CERT_FILE")
	v.BindEnv("server.tls.key_file", "NEOCTL_TLS_KEY_FILE")

	v.BindEnv("app.environment", "NEOCTL_APP_ENVIRONMENT")
	v.BindEnv("app.debug", "NEOCTL_APP_DEBUG")
}

// validateConfig 验证配置
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Server.Mode != "debug" && config.Server.Mode != "release" && config.Server.Mode != "test" {
		return fmt.Errorf("invalid server mode: %s", config.Server.Mode)
	}

	if config.Database.MySQL.Driver == "" {
		config.Database.MySQL.Driver = "mysql"
	}
	if config.Database.MySQL.Driver == "mysql" {
		if config.Database.MySQL.Host == "" {
			return fmt.Errorf("mysql host is required")
		}
		if config.Database.MySQL.Database == "" {
			return fmt.Errorf("mysql database name is required")
		}
	} else if config.Database.MySQL.Driver == "sqlite" {
		if config.Database.MySQL.SQLitePath == "" {
			return fmt.Errorf("sqlite_path is required when driver is sqlite")
		}
	} else {
		return fmt.Errorf("invalid database driver: %s", config.Database.MySQL.Driver)
	}

	if config.Security.AgentAuth.Mode == "" {
		config.Security.AgentAuth.Mode = "bearer_jwt"
	}
	if config.Security.AgentAuth.Mode == "bearer_jwt" {
		if config.Security.AgentAuth.Secret == "" {
			return fmt.Errorf("agent_auth secret is required for bearer_jwt mode")
		}
		if len(config.Security.AgentAuth.Secret) < 32 {
			return fmt.Errorf("agent_auth secret must be at least 32 characters long")
		}
	} else if config.Security.AgentAuth.Mode != "mtls" {
		return fmt.Errorf("invalid agent_auth mode: %s", config.Security.AgentAuth.Mode)
	}

	validLogLevels := []string{"debug", "info", "warn", "error", "fatal", "panic"}
	if !contains(validLogLevels, config.Log.Level) {
		return fmt.Errorf("invalid log level: %s", config.Log.Level)
	}

	validLogFormats := []string{"json", "text"}
	if !contains(validLogFormats, config.Log.Format) {
		return fmt.Errorf("invalid log format: %s", config.Log.Format)
	}

	validLogOutputs := []string{"stdout", "stderr", "file"}
	if !contains(validLogOutputs, config.Log.Output) {
		return fmt.Errorf("invalid log output: %s", config.Log.Output)
	}

	if config.Log.Output == "file" && config.Log.FilePath == "" {
		return fmt.Errorf("log file path is required when output is file")
	}

	if config.Controller.OfflineAfterMisses <= 0 {
		return fmt.Errorf("controller.offline_after_misses must be positive")
	}
	if config.Controller.JobVisibilityTimeout <= 0 {
		return fmt.Errorf("controller.job_visibility_timeout must be positive")
	}
	if config.Controller.MaxJobAttempts <= 0 {
		return fmt.Errorf("controller.max_job_attempts must be positive")
	}

	return nil
}

// applyDefaults 补全未在配置文件中显式给出的业务默认值
func applyDefaults(config *Config) {
	if config == nil {
		return
	}
	if config.Controller.HeartbeatInterval <= 0 {
		config.Controller.HeartbeatInterval = 30 * time.Second
	}
	if config.Controller.LivenessSweepInterval <= 0 {
		config.Controller.LivenessSweepInterval = 15 * time.Second
	}
	if config.Controller.JobReclaimInterval <= 0 {
		config.Controller.JobReclaimInterval = 20 * time.Second
	}
	if config.Controller.ResultBatchSize <= 0 {
		config.Controller.ResultBatchSize = 500
	}
	if config.Controller.JobExpiryAfter <= 0 {
		config.Controller.JobExpiryAfter = 24 * time.Hour
	}
}

// contains 检查切片是否包含指定元素
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// GetConfig 获取全局配置
func GetConfig() *Config {
	return GlobalConfig
}

// MustLoadConfig 加载配置，如果失败则panic
func MustLoadConfig(configPath, env string) *Config {
	config, err := LoadConfig(configPath, env)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	return config
}

// ReloadConfig 重新加载配置
func ReloadConfig() error {
	if GlobalConfig == nil {
		return fmt.Errorf("global config is not initialized")
	}

	config, err := LoadConfig("", "")
	if err != nil {
		return err
	}

	GlobalConfig = config
	return nil
}

// GetEnv 获取当前环境
func GetEnv() string {
	if GlobalConfig != nil {
		return GlobalConfig.App.Environment
	}
	return getEnvFromEnvironment()
}

// IsDevelopment 判断是否为开发环境
func IsDevelopment() bool {
	if GlobalConfig != nil {
		return GlobalConfig.App.IsDevelopment()
	}
	return GetEnv() == "development"
}

// IsProduction 判断是否为生产环境
func IsProduction() bool {
	if GlobalConfig != nil {
		return GlobalConfig.App.IsProduction()
	}
	return GetEnv() == "production"
}

// IsTest 判断是否为测试环境
func IsTest() bool {
	if GlobalConfig != nil {
		return GlobalConfig.App.IsTest()
	}
	return GetEnv() == "test"
}
