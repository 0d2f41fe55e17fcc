// Package facade 部署编排依赖的外部能力，由 dao、target 与 credential 包实现
package facade

import (
	"context"

	"certdeploy/pkg/core/mvc"
	"certdeploy/system/deploy/internal/model"
	"certdeploy/system/deploy/internal/target"
)

// ICertificateRepository 托管证书存储。未找到时返回 NotFound
type ICertificateRepository interface {
	Get(ctx context.Context, id string) (*model.ManagedCertificate, error)
	List(ctx context.Context) ([]*model.ManagedCertificate, error)
	Save(ctx context.Context, mc *model.ManagedCertificate) error
}

// IHistoryRepository 部署历史
type IHistoryRepository interface {
	Record(ctx context.Context, h *model.DeployHistory) error
	FindPage(ctx context.Context, certificateID string, page *mvc.Page) ([]*model.DeployHistory, int64, error)
}

// ITargetResolver 按 ID 查找部署目标，空 ID 为默认目标
type ITargetResolver interface {
	Resolve(targetID string) (target.DeploymentTarget, error)
}
