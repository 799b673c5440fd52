/**
 * 模型:Scan 模型
 * @description: 定义一次跨Agent舰队的扫描任务及其聚合状态
 * @func:
 */
package scan

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	basemodel "neocontroller/internal/model/basemodel"
)

// ScanStatus 扫描生命周期状态
type ScanStatus string

const (
	ScanStatusPending   ScanStatus = "pending"   // 已创建，Job尚未全部生成
	ScanStatusRunning   ScanStatus = "running"   // 至少一个Job已派发
	ScanStatusCompleted ScanStatus = "completed" // 至少一个Job成功，且所有Job已到达终态
	ScanStatusFailed    ScanStatus = "failed"    // 所有Job均失败/过期，且已到达终态
	ScanStatusCancelled ScanStatus = "canceled" // 管理员主动取消
)

// TargetSpec 描述本次扫描要覆盖的目标：主机清单与扫描配置引用
type TargetSpec struct {
	Hosts        []string          `json:"hosts"`                    // 目标主机/网段列表，不限定localhost
	VTOIDs       []string          `json:"vt_oids"`                  // 点分十进制格式的漏洞测试对象标识符集合
	ScanType     string            `json:"scan_type"`                // 扫描类型标识，如 "full", "quick", "vuln"
	ConfigRef    string            `json:"config_ref,omitempty"`     // 引用的扫描配置模板名
	ExtraOptions map[string]string `json:"extra_options,omitempty"`  // 透传给Agent执行器的额外参数
}

// Value 实现 driver.Valuer
func (t TargetSpec) Value() (driver.Value, error) {
	return json.Marshal(t)
}

// Scan 实现 sql.Scanner
func (t *TargetSpec) Scan(value interface{}) error {
	if value == nil {
		*t = TargetSpec{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if str, ok2 := value.(string); ok2 {
			bytes = []byte(str)
		} else {
			return errors.New("scan: TargetSpec.Scan: unsupported source type")
		}
	}
	if len(bytes) == 0 {
		*t = TargetSpec{}
		return nil
	}
	return json.Unmarshal(bytes, t)
}

// Scan 代表一次由Scanner触发、经由控制器分发给多台Agent执行的扫描请求
// 命名与GORM保留字冲突时以包名 scan.Scan 区分
type Scan struct {
	basemodel.BaseModel
	ScanID        string     `json:"scan_id" gorm:"uniqueIndex;size:36;not null;comment:扫描对外UUID"`
	Name          string     `json:"name" gorm:"size:255;comment:扫描名称"`
	Target        TargetSpec `json:"target" gorm:"type:text;comment:扫描目标与配置"`
	Status        ScanStatus `json:"status" gorm:"size:16;index;not null;default:pending;comment:扫描状态"`
	TotalJobs     int        `json:"total_jobs" gorm:"default:0;comment:派发的Job总数"`
	TerminalJobs  int        `json:"terminal_jobs" gorm:"default:0;comment:已到达终态的Job数"`
	SucceededJobs int        `json:"succeeded_jobs" gorm:"default:0;comment:成功完成的Job数"`
	FailedJobs    int        `json:"failed_jobs" gorm:"default:0;comment:失败的Job数"`
	CreatedBy     string     `json:"created_by" gorm:"size:128;comment:发起该扫描的调用方标识"`
	StartedAt     *time.Time `json:"started_at,omitempty" gorm:"comment:首个Job派发时间"`
	FinishedAt    *time.Time `json:"finished_at,omitempty" gorm:"comment:到达终态时间"`
}

// TableName 显式指定表名，避免GORM将 Scan 复数化为容易混淆的表名
func (Scan) TableName() string {
	return "scans"
}

// IsTerminal 判断扫描是否已到达终态
func (s *Scan) IsTerminal() bool {
	switch s.Status {
	case ScanStatusCompleted, ScanStatusFailed, ScanStatusCancelled:
		return true
	default:
		return false
	}
}

// DeriveTerminalStatus 根据终态Job计数推导扫描的最终状态
// 规则: 只要有一个Job成功即视为completed，否则failed
func (s *Scan) DeriveTerminalStatus() ScanStatus {
	if s.TerminalJobs < s.TotalJobs {
		return s.Status
	}
	if s.SucceededJobs > 0 {
		return ScanStatusCompleted
	}
	return ScanStatusFailed
}
