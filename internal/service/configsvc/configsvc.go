/**
 * 服务:配置服务
 * @description: 维护严格递增的全局配置版本及按Agent的覆盖，Agent在心跳中携带其已见版本，
 *   服务据此判断是否需要提示其拉取新配置
 * @func:
 */
package configsvc

import (
	"context"

	"github.com/sirupsen/logrus"

	"neocontroller/internal/apperr"
	configmodel "neocontroller/internal/model/agentconfig"
	"neocontroller/internal/pkg/logger"
	configrepo "neocontroller/internal/repo/mysql/agentconfig"
)

// EffectiveConfig 是某个Agent应当采用的最终配置：全局版本叠加其自身覆盖
type EffectiveConfig struct {
	Version  int64
	Document configmodel.Document
}

// Service 定义配置服务对外暴露的用例
type Service interface {
	PublishGlobal(ctx context.Context, doc configmodel.Document, publishedBy string) (int64, error)
	SetOverride(ctx context.Context, agentID string, doc configmodel.Document, updatedBy string) error
	Effective(ctx context.Context, agentID string) (*EffectiveConfig, error)
	NeedsUpdate(ctx context.Context, agentID string, seenVersion int64) (bool, error)
	LatestGlobal(ctx context.Context) (*EffectiveConfig, error)
}

type service struct {
	repo configrepo.Repository
}

// NewService 创建配置服务
func NewService(repo configrepo.Repository) Service {
	return &service{repo: repo}
}

// PublishGlobal 发布一个新的全局配置版本，版本号相对上一个已发布版本严格递增
func (s *service) PublishGlobal(ctx context.Context, doc configmodel.Document, publishedBy string) (int64, error) {
	if err := validateDocument(doc); err != nil {
		return 0, err
	}

	latest, err := s.repo.LatestVersion(ctx)
	if err != nil {
		return 0, apperr.ErrInternal.WithCause(err)
	}
	nextVersion := int64(1)
	if latest != nil {
		nextVersion = latest.Version + 1
	}

	v := &configmodel.GlobalConfigVersion{
		Version:   nextVersion,
		Document:  doc,
		CreatedBy: publishedBy,
	}
	if err := s.repo.CreateVersion(ctx, v); err != nil {
		return 0, apperr.ErrInternal.WithCause(err)
	}

	logger.LogSystemEvent("configsvc", "global_config_published", "global config version published", logrus.InfoLevel, map[string]interface{}{
		"version": nextVersion,
	})
	return nextVersion, nil
}

func (s *service) SetOverride(ctx context.Context, agentID string, doc configmodel.Document, updatedBy string) error {
	if agentID == "" {
		return apperr.ErrValidation.WithDetails("agent_id is required")
	}
	if err := validateDocument(doc); err != nil {
		return err
	}
	o := &configmodel.AgentConfigOverride{
		AgentID:   agentID,
		Document:  doc,
		UpdatedBy: updatedBy,
	}
	if err := s.repo.UpsertOverride(ctx, o); err != nil {
		return apperr.ErrInternal.WithCause(err)
	}
	return nil
}

// Effective 返回某个Agent当前应采用的合并配置及其对应的全局版本号
func (s *service) Effective(ctx context.Context, agentID string) (*EffectiveConfig, error) {
	latest, err := s.repo.LatestVersion(ctx)
	if err != nil {
		return nil, apperr.ErrInternal.WithCause(err)
	}
	global := configmodel.Document{}
	version := int64(0)
	if latest != nil {
		global = latest.Document
		version = latest.Version
	}

	override, err := s.repo.GetOverride(ctx, agentID)
	if err != nil {
		return nil, apperr.ErrInternal.WithCause(err)
	}
	var overrideDoc configmodel.Document
	if override != nil {
		overrideDoc = override.Document
	}

	return &EffectiveConfig{
		Version:  version,
		Document: configmodel.Merge(global, overrideDoc),
	}, nil
}

// LatestGlobal 返回当前全局配置版本，供管理面审计接口读取
func (s *service) LatestGlobal(ctx context.Context) (*EffectiveConfig, error) {
	latest, err := s.repo.LatestVersion(ctx)
	if err != nil {
		return nil, apperr.ErrInternal.WithCause(err)
	}
	if latest == nil {
		return &EffectiveConfig{Version: 0, Document: configmodel.Document{}}, nil
	}
	return &EffectiveConfig{Version: latest.Version, Document: latest.Document}, nil
}

// NeedsUpdate 判断Agent已见的配置版本是否落后于当前全局版本
// 覆盖变更不产生新的全局版本号，因此仅有覆盖变更时这里返回false，不会单独提示Agent拉取
func (s *service) NeedsUpdate(ctx context.Context, agentID string, seenVersion int64) (bool, error) {
	latest, err := s.repo.LatestVersion(ctx)
	if err != nil {
		return false, apperr.ErrInternal.WithCause(err)
	}
	if latest == nil {
		return false, nil
	}
	return seenVersion < latest.Version, nil
}
