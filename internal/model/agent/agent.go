/**
 * 模型:Agent 模型
 * @description: 定义 Agent 注册身份、生命周期状态与关联的元数据结构体
 * @func:
 */
package agent

import (
	"database/sql/driver"
	"errors"
	"time"

	"gorm.io/gorm"

	basemodel "neocontroller/internal/model/basemodel"
	"neocontroller/internal/pkg/utils"
)

// AgentStatus Agent 生命周期状态枚举
// 状态机: pending -> online -> offline -> inactive -> tombstoned
type AgentStatus string

const (
	AgentStatusPending    AgentStatus = "pending"    // 首次心跳自动创建后的初始状态，授权后的下一次心跳才迁移为online
	AgentStatusOnline     AgentStatus = "online"     // 心跳正常
	AgentStatusOffline    AgentStatus = "offline"    // 连续错过若干次心跳
	AgentStatusInactive   AgentStatus = "inactive"   // 离线超过阈值时长
	AgentStatusTombstoned AgentStatus = "tombstoned" // 已被管理员移除，拒绝一切后续请求
)

// StringSlice 是可持久化为JSON数组的字符串切片，用于IP列表/能力标签等字段
type StringSlice []string

// Value 实现 driver.Valuer，序列化为JSON字节写入数据库
func (s StringSlice) Value() (driver.Value, error) {
	return utils.StringSliceToJSONArray(s)
}

// Scan 实现 sql.Scanner，从数据库读出的JSON字节反序列化为切片
func (s *StringSlice) Scan(value interface{}) error {
	if value == nil {
		*s = StringSlice{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if str, ok2 := value.(string); ok2 {
			bytes = []byte(str)
		} else {
			return errors.New("agent: StringSlice.Scan: unsupported source type")
		}
	}
	items, err := utils.JSONArrayToStringSlice(bytes)
	if err != nil {
		return err
	}
	*s = StringSlice(items)
	return nil
}

// Agent 代表一台注册到控制器的目标主机
// 首次心跳自动创建，authorized 与 status 相互独立: authorized 只由管理员翻转，
// status 只由心跳/存活扫描迁移，claim() 要求二者同时满足才会派发任务
type Agent struct {
	basemodel.BaseModel
	AgentID           string         `json:"agent_id" gorm:"uniqueIndex;size:36;not null;comment:Agent对外UUID，由Agent自选且不可变"`
	Hostname          string         `json:"hostname" gorm:"size:255;not null;comment:主机名"`
	IPAddresses       StringSlice    `json:"ip_addresses" gorm:"type:text;comment:已知IP地址列表"`
	OperatingSystem   string         `json:"operating_system" gorm:"size:128;comment:操作系统"`
	Architecture      string         `json:"architecture" gorm:"size:32;comment:CPU架构"`
	AgentVersion      string         `json:"agent_version" gorm:"size:64;comment:扫描守护进程版本"`
	UpdaterVersion    string         `json:"updater_version" gorm:"size:64;comment:自更新组件版本，独立于扫描守护进程版本"`
	UpdateToLatest    bool           `json:"update_to_latest" gorm:"default:false;comment:管理员下发的批量自更新标记"`
	Capabilities      StringSlice    `json:"capabilities" gorm:"type:text;comment:支持的扫描能力标签"`
	Status            AgentStatus    `json:"status" gorm:"size:16;index;not null;default:pending;comment:生命周期状态"`
	Authorized        bool           `json:"authorized" gorm:"default:false;comment:管理员授权标记，仅管理面可写"`
	TokenHash         string         `json:"-" gorm:"size:255;comment:长期令牌哈希，仅mTLS模式下可为空"`
	RegisteredAt      time.Time      `json:"registered_at" gorm:"comment:首次心跳自动注册时间"`
	LastHeartbeatAt   *time.Time     `json:"last_heartbeat_at" gorm:"index;comment:最近一次心跳时间"`
	MissedHeartbeats  int            `json:"missed_heartbeats" gorm:"default:0;comment:连续错过心跳次数"`
	ConfigVersionSeen int64          `json:"config_version_seen" gorm:"default:0;comment:该Agent已确认应用的配置版本"`
	Tags              StringSlice    `json:"tags" gorm:"type:text;comment:管理员自定义标签，当前仅用于列表筛选，不参与派发"`
	TombstonedAt      *time.Time     `json:"tombstoned_at,omitempty" gorm:"comment:被移除时间"`
	DeletedAt         gorm.DeletedAt `json:"-" gorm:"index;comment:软删除时间，tombstone之后由清理任务最终purge"`
}

// TableName 显式指定表名
func (Agent) TableName() string {
	return "agents"
}

// IsTerminal 判断状态是否已不可逆
func (a *Agent) IsTerminal() bool {
	return a.Status == AgentStatusTombstoned
}

// CanReceiveJobs 判断该Agent当前是否可以被派发新任务
// 必须同时满足已授权与在线，二者任一缺失都拒绝派发
func (a *Agent) CanReceiveJobs() bool {
	return a.Authorized && a.Status == AgentStatusOnline
}
