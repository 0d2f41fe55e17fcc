package app

import (
	"context"
	"time"

	errorc "certdeploy/pkg/core/err"
	"certdeploy/pkg/core/logger"
	"certdeploy/pkg/core/mvc"
	"certdeploy/pkg/lock"
	"certdeploy/system/deploy/internal/facade"
	"certdeploy/system/deploy/internal/model"
	"certdeploy/system/deploy/internal/service"
	"certdeploy/utils"
)

// Acquirer 证书申请，由 ACME 服务实现
type Acquirer interface {
	Acquire(ctx context.Context, mc *model.ManagedCertificate) (*service.AcquiredCertificate, error)
}

// Config 编排参数
type Config struct {
	CertDir          string // 签发的证书按 {CertDir}/{certID}/ 存放
	BatchConcurrency int    // 批量续期的并发上限
}

// Deps 应用层依赖
type Deps struct {
	Certificates facade.ICertificateRepository
	History      facade.IHistoryRepository
	Targets      facade.ITargetResolver
	Acquirer     Acquirer
	Bindings     *service.BindingDeployService
	Pipeline     *service.TaskPipeline
	Locks        lock.LockManager
	Metrics      *service.Metrics
}

// App 部署组件应用层，串联任务流水线、证书申请与绑定部署
type App struct {
	Deps
	cfg Config
	now func() time.Time
	log *logger.Log
	err *errorc.ErrorBuilder
}

func NewApp(deps Deps, cfg Config) *App {
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 4
	}
	if cfg.CertDir == "" {
		cfg.CertDir = "data/certs"
	}
	if deps.Locks == nil {
		deps.Locks = lock.NewLocalLockManager()
	}
	return &App{
		Deps: deps,
		cfg:  cfg,
		now:  time.Now,
		log:  logger.GetLogger().WithEntryName("DeployApp"),
		err:  errorc.NewErrorBuilder("DeployApp"),
	}
}

// GetCertificate 查询托管证书
func (a *App) GetCertificate(ctx context.Context, id string) (*model.ManagedCertificate, error) {
	return a.Certificates.Get(ctx, id)
}

func (a *App) ListCertificates(ctx context.Context) ([]*model.ManagedCertificate, error) {
	return a.Certificates.List(ctx)
}

// SaveCertificate 校验后保存托管证书配置，已签发的状态字段保持不变
func (a *App) SaveCertificate(ctx context.Context, mc *model.ManagedCertificate) ([]model.ActionStep, error) {
	if msg, err := utils.Validate(mc); err != nil {
		return nil, a.err.New(msg, err).Validation()
	}
	if problems := a.ValidateDeploymentTasks(ctx, mc); len(problems) > 0 {
		return problems, a.err.New("部署任务配置无效", nil).Validation()
	}

	existing, err := a.Certificates.Get(ctx, mc.ID)
	switch {
	case err == nil:
		mc.CertificatePath = existing.CertificatePath
		mc.CertificateThumbprint = existing.CertificateThumbprint
		mc.CertificatePreviousThumbprint = existing.CertificatePreviousThumbprint
		mc.DateLastRenewed = existing.DateLastRenewed
		mc.DateExpiry = existing.DateExpiry
		mc.LastRenewalStatus = existing.LastRenewalStatus
		mc.LastRenewalMessage = existing.LastRenewalMessage
		mc.CreatedAt = existing.CreatedAt
	case errorc.IsNotFound(err):
		mc.CreatedAt = a.now()
	default:
		return nil, err
	}
	mc.UpdatedAt = a.now()
	return nil, a.Certificates.Save(ctx, mc)
}

// ValidateDeploymentTasks 校验前置与后置任务，只返回有问题的任务
func (a *App) ValidateDeploymentTasks(ctx context.Context, mc *model.ManagedCertificate) []model.ActionStep {
	steps := a.Pipeline.ValidateTaskList(ctx, mc, model.CategoryPreRequestTasks, mc.PreRequestTasks)
	return append(steps, a.Pipeline.ValidateTaskList(ctx, mc, model.CategoryPostRequestTasks, mc.PostRequestTasks)...)
}

// ListProviders 可用的任务类型
func (a *App) ListProviders() []model.ProviderDefinition {
	return a.Pipeline.Registry().Definitions()
}

// ListHistory certificateID 为空时查询全部
func (a *App) ListHistory(ctx context.Context, certificateID string, page *mvc.Page) ([]*model.DeployHistory, int64, error) {
	return a.History.FindPage(ctx, certificateID, page)
}

func (a *App) recordHistory(ctx context.Context, h *model.DeployHistory) {
	if a.History == nil {
		return
	}
	h.FinishedAt = a.now()
	if err := a.History.Record(ctx, h); err != nil {
		a.log.WithErr(err).WithField("cert_id", h.ManagedCertificateID).Warn("记录部署历史失败")
	}
}
