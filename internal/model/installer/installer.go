/**
 * 模型:Installer 模型
 * @description: 只读的Agent安装包目录，供管理面向运维展示可分发的安装介质
 * @func:
 */
package installer

import (
	basemodel "neocontroller/internal/model/basemodel"
)

// Installer 描述一个可下载的Agent安装包，元数据由迁移时静态种入
type Installer struct {
	basemodel.BaseModel
	Name         string `json:"name" gorm:"size:128;not null;comment:安装包名称"`
	Version      string `json:"version" gorm:"size:64;not null;comment:安装包版本"`
	Platform     string `json:"platform" gorm:"size:32;not null;comment:目标平台，如linux/windows"`
	Architecture string `json:"architecture" gorm:"size:32;not null;comment:目标CPU架构"`
	DownloadURL  string `json:"download_url" gorm:"size:512;not null;comment:分发地址"`
	Checksum     string `json:"checksum" gorm:"size:128;comment:安装包校验和"`
}

// TableName 显式指定表名
func (Installer) TableName() string {
	return "installers"
}
