/**
 * 模型:Job 模型
 * @description: 定义单个Agent对单次扫描的执行单元，是调度与租约机制的核心实体
 * @func:
 */
package job

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	basemodel "neocontroller/internal/model/basemodel"
)

// JobStatus Job生命周期状态
// 状态机: queued -> claimed -> running -> (succeeded | failed | expired | canceled)
// 认领后长期未上报进度会被回收器重置回 queued，累计尝试超过上限则标记 failed
// 排队超过24小时仍未被认领则标记 expired；所属Scan被取消或所属Agent被tombstone则标记 canceled
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"    // 等待被目标Agent认领
	JobStatusClaimed   JobStatus = "claimed"   // 已被Agent认领，租约计时中
	JobStatusRunning   JobStatus = "running"   // Agent已确认开始执行
	JobStatusSucceeded JobStatus = "succeeded" // 执行成功
	JobStatusFailed    JobStatus = "failed"    // 执行失败或超过最大认领次数
	JobStatusExpired   JobStatus = "expired"   // 排队超过时限仍未被认领
	JobStatusCanceled  JobStatus = "canceled"  // 所属Scan被取消或所属Agent被删除
)

// Payload 派发给Agent的执行载荷
type Payload struct {
	Hosts        []string          `json:"hosts"`
	VTOIDs       []string          `json:"vt_oids"`
	ScanType     string            `json:"scan_type"`
	ConfigRef    string            `json:"config_ref,omitempty"`
	ExtraOptions map[string]string `json:"extra_options,omitempty"`
}

// Value 实现 driver.Valuer
func (p Payload) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan 实现 sql.Scanner
func (p *Payload) Scan(value interface{}) error {
	if value == nil {
		*p = Payload{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if str, ok2 := value.(string); ok2 {
			bytes = []byte(str)
		} else {
			return errors.New("job: Payload.Scan: unsupported source type")
		}
	}
	if len(bytes) == 0 {
		*p = Payload{}
		return nil
	}
	return json.Unmarshal(bytes, p)
}

// Job 代表一次扫描针对单个Agent的可认领工作单元
// 每个 (ScanID, AgentID) 组合最多存在一行Job记录
type Job struct {
	basemodel.BaseModel
	JobID       string     `json:"job_id" gorm:"uniqueIndex;size:36;not null;comment:Job对外UUID"`
	ScanID      string     `json:"scan_id" gorm:"index:idx_scan_agent,unique;size:36;not null;comment:所属扫描ID"`
	AgentID     string     `json:"agent_id" gorm:"index:idx_scan_agent,unique;size:36;not null;comment:目标AgentID"`
	Status      JobStatus  `json:"status" gorm:"size:16;index;not null;default:queued;comment:Job状态"`
	Payload     Payload    `json:"payload" gorm:"type:text;comment:派发给Agent的执行载荷"`
	Attempts    int        `json:"attempts" gorm:"default:0;comment:累计认领尝试次数"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty" gorm:"comment:最近一次认领时间"`
	VisibleAt   time.Time  `json:"visible_at" gorm:"index;comment:租约到期时间，早于当前时间即可被回收"`
	StartedAt   *time.Time `json:"started_at,omitempty" gorm:"comment:Agent确认开始执行的时间"`
	FinishedAt  *time.Time `json:"finished_at,omitempty" gorm:"comment:到达终态的时间"`
	FailReason  string     `json:"fail_reason,omitempty" gorm:"size:512;comment:失败原因摘要"`
}

// TableName 显式指定表名
func (Job) TableName() string {
	return "jobs"
}

// IsTerminal 判断Job是否已到达终态
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobStatusSucceeded, JobStatusFailed, JobStatusExpired, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// IsExpired 判断认领租约是否已过期，可供回收
func (j *Job) IsExpired(now time.Time) bool {
	return j.Status == JobStatusClaimed && j.VisibleAt.Before(now)
}
