package config

import (
	"fmt"
	"time"
)

// Config 应用配置结构体 [这里的字段和配置文件中一级字段保持一致，否则会没有值]
type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`         // 服务器配置
	Database   DatabaseConfig   `yaml:"database" mapstructure:"database"`     // 数据库配置
	Log        LogConfig        `yaml:"log" mapstructure:"log"`               // 日志配置
	Security   SecurityConfig   `yaml:"security" mapstructure:"security"`     // 安全配置
	Controller ControllerConfig `yaml:"controller" mapstructure:"controller"` // 控制器业务配置
	App        AppConfig        `yaml:"app" mapstructure:"app"`               // 应用配置
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host           string        `yaml:"host" mapstructure:"host"`                         // 服务器主机地址
	Port           int           `yaml:"port" mapstructure:"port"`                         // 服务器端口
	Mode           string        `yaml:"mode" mapstructure:"mode"`                         // 运行模式: debug, release, test
	ReadTimeout    time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`         // 读取超时时间
	WriteTimeout   time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`       // 写入超时时间
	IdleTimeout    time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`         // 空闲超时时间
	MaxHeaderBytes int           `yaml:"max_header_bytes" mapstructure:"max_header_bytes"` // 最大请求头字节数
	TLS            TLSConfig     `yaml:"tls" mapstructure:"tls"`                           // TLS配置，用于Agent侧mTLS
}

// TLSConfig 传输层加密配置
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled" mapstructure:"enabled"`         // 是否启用TLS
	CertFile   string `yaml:"cert_file" mapstructure:"cert_file"`     // 服务端证书
	KeyFile    string `yaml:"key_file" mapstructure:"key_file"`       // 服务端私钥
	ClientCA   string `yaml:"client_ca" mapstructure:"client_ca"`     // 验证Agent客户端证书的CA
	RequireMTLS bool  `yaml:"require_mtls" mapstructure:"require_mtls"` // Agent侧是否强制双向TLS
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	MySQL MySQLConfig `yaml:"mysql" mapstructure:"mysql"` // MySQL配置
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"` // Redis配置
}

// MySQLConfig MySQL数据库配置
type MySQLConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`                             // 数据库主机
	Port            int           `yaml:"port" mapstructure:"port"`                             // 数据库端口
	Username        string        `yaml:"username" mapstructure:"username"`                     // 用户名
	Password        string        `yaml:"password" mapstructure:"password"`                     // 密码
	Database        string        `yaml:"database" mapstructure:"database"`                     // 数据库名
	Charset         string        `yaml:"charset" mapstructure:"charset"`                       // 字符集
	ParseTime       bool          `yaml:"parse_time" mapstructure:"parse_time"`                 // 是否解析时间
	Loc             string        `yaml:"loc" mapstructure:"loc"`                               // 时区
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`         // 最大空闲连接数
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`         // 最大打开连接数
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`   // 连接最大生存时间
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"` // 连接最大空闲时间
	LogLevel        string        `yaml:"log_level" mapstructure:"log_level"`                   // GORM日志级别
	Driver          string        `yaml:"driver" mapstructure:"driver"`                         // mysql | sqlite，sqlite用于开发/测试
	SQLitePath      string        `yaml:"sqlite_path" mapstructure:"sqlite_path"`               // sqlite文件路径，driver=sqlite时使用
}

// RedisConfig Redis配置，承载就绪队列加速器与心跳缓存
type RedisConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`                     // Redis主机
	Port         int           `yaml:"port" mapstructure:"port"`                     // Redis端口
	Password     string        `yaml:"password" mapstructure:"password"`             // Redis密码
	Database     int           `yaml:"database" mapstructure:"database"`             // Redis数据库索引
	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size"`           // 连接池大小
	MinIdleConns int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"` // 最小空闲连接数
	DialTimeout  time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`     // 连接超时
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`     // 读取超时
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`   // 写入超时
	PoolTimeout  time.Duration `yaml:"pool_timeout" mapstructure:"pool_timeout"`     // 连接池超时
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`     // 空闲超时
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`             // 日志级别
	Format     string `yaml:"format" mapstructure:"format"`           // 日志格式: json, text
	Output     string `yaml:"output" mapstructure:"output"`           // 输出方式: stdout, stderr, file
	FilePath   string `yaml:"file_path" mapstructure:"file_path"`     // 日志文件路径
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"`       // 单个日志文件最大大小(MB)
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"` // 保留的日志文件数量
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`         // 日志文件保留天数
	Compress   bool   `yaml:"compress" mapstructure:"compress"`       // 是否压缩日志文件
	Caller     bool   `yaml:"caller" mapstructure:"caller"`           // 是否显示调用者信息
	StackTrace bool   `yaml:"stack_trace" mapstructure:"stack_trace"` // 是否显示堆栈跟踪
}

// SecurityConfig 安全配置，覆盖三个互不信任的接入面
type SecurityConfig struct {
	AdminAuth AdminAuthConfig `yaml:"admin_auth" mapstructure:"admin_auth"` // 管理面API密钥认证
	AgentAuth AgentAuthConfig `yaml:"agent_auth" mapstructure:"agent_auth"` // Agent面JWT/mTLS认证
	Scanner   ScannerConfig   `yaml:"scanner" mapstructure:"scanner"`       // 扫描器面认证
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"` // 限流配置
	CORS      CORSConfig      `yaml:"cors" mapstructure:"cors"`             // CORS配置
}

// AdminAuthConfig 管理面API密钥配置
type AdminAuthConfig struct {
	HeaderName   string            `yaml:"header_name" mapstructure:"header_name"`     // 承载API密钥的请求头
	ArgonTime    uint32            `yaml:"argon_time" mapstructure:"argon_time"`       // Argon2id 迭代次数
	ArgonMemory  uint32            `yaml:"argon_memory" mapstructure:"argon_memory"`   // Argon2id 内存(KB)
	ArgonThreads uint8             `yaml:"argon_threads" mapstructure:"argon_threads"` // Argon2id 并行度
	ArgonKeyLen  uint32            `yaml:"argon_key_len" mapstructure:"argon_key_len"` // Argon2id 输出长度
	Keys         map[string]string `yaml:"keys" mapstructure:"keys"`                   // subject -> Argon2id哈希，出厂预置的管理员密钥
}

// AgentAuthConfig Agent侧长期令牌配置
type AgentAuthConfig struct {
	Mode              string        `yaml:"mode" mapstructure:"mode"`                             // bearer_jwt | mtls
	Secret            string        `yaml:"secret" mapstructure:"secret"`                         // JWT签名密钥
	Issuer            string        `yaml:"issuer" mapstructure:"issuer"`                         // 签发者
	TokenExpire       time.Duration `yaml:"token_expire" mapstructure:"token_expire"`             // 令牌有效期
	AllowedClockSkew  time.Duration `yaml:"allowed_clock_skew" mapstructure:"allowed_clock_skew"` // 允许的时钟偏移
}

// ScannerConfig 扫描器面认证配置
type ScannerConfig struct {
	RequireBearer bool   `yaml:"require_bearer" mapstructure:"require_bearer"` // 是否要求扫描器携带Bearer令牌
	BearerToken   string `yaml:"bearer_token" mapstructure:"bearer_token"`     // 静态共享令牌
}

// CORSConfig CORS配置
type CORSConfig struct {
	Enabled          bool          `yaml:"enabled" mapstructure:"enabled"`                     // 是否启用CORS
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins"`         // 允许的源
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods"`         // 允许的方法
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers"`         // 允许的请求头
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials"` // 是否允许凭证
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age"`                     // 预检请求缓存时间
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Enabled           bool     `yaml:"enabled" mapstructure:"enabled"`                         // 是否启用限流
	RequestsPerSecond int      `yaml:"requests_per_second" mapstructure:"requests_per_second"` // 每秒请求数限制
	BurstSize         int      `yaml:"burst_size" mapstructure:"burst_size"`                   // 突发请求数
	StatusCode        int      `yaml:"status_code" mapstructure:"status_code"`                 // 限流时返回的状态码
	SkipPaths         []string `yaml:"skip_paths" mapstructure:"skip_paths"`                   // 跳过限流的路径
}

// ControllerConfig 控制器业务参数：调度、心跳、去抖
type ControllerConfig struct {
	HeartbeatInterval      time.Duration `yaml:"heartbeat_interval" mapstructure:"heartbeat_interval"`             // Agent预期心跳间隔
	OfflineAfterMisses     int           `yaml:"offline_after_misses" mapstructure:"offline_after_misses"`         // 连续错过多少次心跳标记offline
	InactiveAfter          time.Duration `yaml:"inactive_after" mapstructure:"inactive_after"`                     // 离线多久后标记inactive
	LivenessSweepInterval  time.Duration `yaml:"liveness_sweep_interval" mapstructure:"liveness_sweep_interval"`   // 存活扫描周期(cron或固定间隔)
	LivenessSweepCron      string        `yaml:"liveness_sweep_cron" mapstructure:"liveness_sweep_cron"`           // 存活扫描cron表达式，优先于固定间隔
	JobVisibilityTimeout   time.Duration `yaml:"job_visibility_timeout" mapstructure:"job_visibility_timeout"`     // 加载时只校验为正数；认领租约取2倍心跳间隔，不读取该值
	JobReclaimInterval     time.Duration `yaml:"job_reclaim_interval" mapstructure:"job_reclaim_interval"`         // 回收循环扫描周期
	JobExpiryAfter         time.Duration `yaml:"job_expiry_after" mapstructure:"job_expiry_after"`                 // 排队超过该时长仍未认领即标记expired
	MaxJobAttempts         int           `yaml:"max_job_attempts" mapstructure:"max_job_attempts"`                 // 单个Job最大认领尝试次数
	ConfigPollGraceWindow  time.Duration `yaml:"config_poll_grace_window" mapstructure:"config_poll_grace_window"` // 配置版本下发的宽限窗口
	ResultBatchSize        int           `yaml:"result_batch_size" mapstructure:"result_batch_size"`               // 单次结果批量写入上限
}

// AppConfig 应用配置
type AppConfig struct {
	Name        string `yaml:"name" mapstructure:"name"`               // 应用名称
	Version     string `yaml:"version" mapstructure:"version"`         // 应用版本
	Environment string `yaml:"environment" mapstructure:"environment"` // 运行环境
	Debug       bool   `yaml:"debug" mapstructure:"debug"`             // 是否调试模式
	Timezone    string `yaml:"timezone" mapstructure:"timezone"`       // 时区
}

// GetAddress 获取服务器完整地址
func (s *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// IsDevelopment 判断是否为开发环境
func (a *AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

// IsProduction 判断是否为生产环境
func (a *AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

// IsTest 判断是否为测试环境
func (a *AppConfig) IsTest() bool {
	return a.Environment == "test"
}

// GetMySQLDSN 获取MySQL数据源名称
func (m *MySQLConfig) GetMySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=%s",
		m.Username, m.Password, m.Host, m.Port, m.Database, m.Charset, m.ParseTime, m.Loc)
}

// GetRedisAddress 获取Redis地址
func (r *RedisConfig) GetRedisAddress() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
