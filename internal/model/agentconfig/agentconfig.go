/**
 * 模型:AgentConfig 模型
 * @description: 定义只向前递增版本的全局配置及其按Agent的覆盖记录
 * @func:
 */
package agentconfig

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	basemodel "neocontroller/internal/model/basemodel"
)

// Document 是配置的实际取值载荷，字段集合在校验层做严格模式限制
type Document map[string]interface{}

// Value 实现 driver.Valuer
func (d Document) Value() (driver.Value, error) {
	return json.Marshal(d)
}

// Scan 实现 sql.Scanner
func (d *Document) Scan(value interface{}) error {
	if value == nil {
		*d = Document{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if str, ok2 := value.(string); ok2 {
			bytes = []byte(str)
		} else {
			return errors.New("agentconfig: Document.Scan: unsupported source type")
		}
	}
	if len(bytes) == 0 {
		*d = Document{}
		return nil
	}
	return json.Unmarshal(bytes, d)
}

// GlobalConfigVersion 是一次全局配置发布，版本号只能递增，历史版本永久保留用于审计
type GlobalConfigVersion struct {
	basemodel.BaseModel
	Version   int64    `json:"version" gorm:"uniqueIndex;not null;comment:全局配置版本号，严格递增"`
	Document  Document `json:"document" gorm:"type:text;comment:配置内容"`
	CreatedBy string   `json:"created_by" gorm:"size:128;comment:发布者标识"`
}

// TableName 显式指定表名
func (GlobalConfigVersion) TableName() string {
	return "global_config_versions"
}

// AgentConfigOverride 是针对单个Agent的配置覆盖，叠加在其看到的全局版本之上
type AgentConfigOverride struct {
	basemodel.BaseModel
	AgentID   string    `json:"agent_id" gorm:"uniqueIndex;size:36;not null;comment:所属AgentID"`
	Document  Document  `json:"document" gorm:"type:text;comment:覆盖字段"`
	UpdatedBy string    `json:"updated_by" gorm:"size:128;comment:最近一次修改者"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime;comment:最近一次修改时间"`
}

// TableName 显式指定表名
func (AgentConfigOverride) TableName() string {
	return "agent_config_overrides"
}

// Merge 将覆盖字段叠加到全局配置文档之上，覆盖优先
func Merge(global Document, override Document) Document {
	merged := make(Document, len(global)+len(override))
	for k, v := range global {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}
