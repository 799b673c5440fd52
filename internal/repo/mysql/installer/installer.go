/**
 * 仓储:Installer
 * @description: 只读安装包目录的数据访问
 * @func:
 */
package installer

import (
	"context"

	"gorm.io/gorm"

	installermodel "neocontroller/internal/model/installer"
)

// Repository 定义安装包目录的数据访问接口
type Repository interface {
	List(ctx context.Context) ([]*installermodel.Installer, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository 创建基于GORM的安装包目录仓储
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) List(ctx context.Context) ([]*installermodel.Installer, error) {
	var rows []*installermodel.Installer
	err := r.db.WithContext(ctx).Order("id ASC").Find(&rows).Error
	return rows, err
}
