/**
 * 模型:Result 模型
 * @description: 定义单条漏洞扫描发现，由Agent经Ingestor批量上报
 * @func:
 */
package result

import (
	basemodel "neocontroller/internal/model/basemodel"
)

// ThreatLevel 威胁等级，沿用GVM风格的粗粒度分级
type ThreatLevel string

const (
	ThreatCritical ThreatLevel = "Critical"
	ThreatHigh     ThreatLevel = "High"
	ThreatMedium   ThreatLevel = "Medium"
	ThreatLow      ThreatLevel = "Low"
	ThreatLog      ThreatLevel = "Log"
)

// Result 代表一条来自漏洞测试(NVT)的发现记录
type Result struct {
	basemodel.BaseModel
	ResultID       string      `json:"result_id" gorm:"uniqueIndex;size:36;not null;comment:结果对外UUID"`
	ScanID         string      `json:"scan_id" gorm:"index;size:36;not null;comment:所属扫描ID"`
	JobID          string      `json:"job_id" gorm:"index;size:36;not null;comment:所属JobID"`
	AgentID        string      `json:"agent_id" gorm:"index;size:36;not null;comment:上报该结果的AgentID"`
	NVTOID         string      `json:"nvt_oid" gorm:"size:128;index;comment:漏洞测试对象标识符"`
	NVTName        string      `json:"nvt_name" gorm:"size:255;comment:漏洞测试名称"`
	Severity       float64     `json:"severity" gorm:"comment:CVSS基础分"`
	CVSSBaseVector string      `json:"cvss_base_vector" gorm:"size:128;comment:CVSS基础向量"`
	Host           string      `json:"host" gorm:"size:255;index;comment:命中主机"`
	Port           string      `json:"port" gorm:"size:64;comment:命中端口/协议"`
	Threat         ThreatLevel `json:"threat" gorm:"size:16;index;comment:威胁等级"`
	Description    string      `json:"description" gorm:"type:text;comment:详细描述"`
	QOD             int        `json:"qod" gorm:"comment:检测质量百分比(0-100)"`
}

// TableName 显式指定表名
func (Result) TableName() string {
	return "scan_results"
}

// ResultBatch 记录一次结果提交批次，(job_id, batch_sequence)上的唯一索引
// 是重复提交检测的落地点：同一批次第二次到达时插入被忽略，摄入返回而不重复落盘
type ResultBatch struct {
	basemodel.BaseModel
	JobID         string `json:"job_id" gorm:"uniqueIndex:idx_job_batch;size:36;not null;comment:所属JobID"`
	BatchSequence int64  `json:"batch_sequence" gorm:"uniqueIndex:idx_job_batch;not null;comment:Agent自行编号的批次序号"`
	ResultCount   int    `json:"result_count" gorm:"comment:该批次包含的结果条数"`
}

// TableName 显式指定表名
func (ResultBatch) TableName() string {
	return "scan_result_batches"
}
