package service

import (
	"context"
	"fmt"
	"time"

	errorc "certdeploy/pkg/core/err"
	"certdeploy/pkg/core/logger"
	"certdeploy/pkg/lock"
	"certdeploy/system/deploy/internal/model"
	"certdeploy/system/deploy/internal/target"
)

const (
	bindingStepTitle    = "Install Certificate For Binding"
	storageStepTitle    = "Certificate Storage"
	storageDescription  = "Certificate will be stored in the computer certificate store"
	previewThumbprint   = "PREVIEW"
	defaultLockWait     = 2 * time.Minute
	defaultApplyTimeout = 30 * time.Second
)

// BindingDeployConfig 绑定部署参数
type BindingDeployConfig struct {
	LockWait     time.Duration // 等待目标锁的上限
	ApplyTimeout time.Duration // 单个绑定操作的超时
}

// BindingDeployService 把绑定计划应用到部署目标。同一目标的修改经目标锁串行化，预览不加锁
type BindingDeployService struct {
	log      *logger.Log
	err      *errorc.ErrorBuilder
	resolver *BindingResolver
	locks    lock.LockManager
	cfg      BindingDeployConfig
	metrics  *Metrics
}

func NewBindingDeployService(log *logger.Log, locks lock.LockManager, cfg BindingDeployConfig, metrics *Metrics) *BindingDeployService {
	if cfg.LockWait <= 0 {
		cfg.LockWait = defaultLockWait
	}
	if cfg.ApplyTimeout <= 0 {
		cfg.ApplyTimeout = defaultApplyTimeout
	}
	return &BindingDeployService{
		log:      log.WithEntryName("BindingDeployService"),
		err:      errorc.NewErrorBuilder("BindingDeployService"),
		resolver: NewBindingResolver(),
		locks:    locks,
		cfg:      cfg,
		metrics:  metrics,
	}
}

// TargetLockKey 目标锁的键
func TargetLockKey(targetID string) string {
	return "deploy-target:" + targetID
}

// Preview 读取目标当前绑定并生成步骤，不修改目标
func (s *BindingDeployService) Preview(ctx context.Context, tgt target.DeploymentTarget, mc *model.ManagedCertificate, identity *model.CertificateIdentity) []model.ActionStep {
	if mc.Policy.DeploymentSiteOption == model.DeploymentSiteNone {
		return []model.ActionStep{}
	}

	sites, bindings, err := s.snapshot(ctx, tgt)
	if err != nil {
		return []model.ActionStep{s.targetErrorStep(tgt, err)}
	}

	id := model.CertificateIdentity{Thumbprint: previewThumbprint}
	if identity != nil {
		id = *identity
	} else if mc.CertificateThumbprint != "" {
		id.Thumbprint = mc.CertificateThumbprint
	}
	return s.PreviewPlan(mc, id, sites, bindings)
}

// PreviewPlan 基于给定的绑定快照生成步骤，纯函数
func (s *BindingDeployService) PreviewPlan(mc *model.ManagedCertificate, identity model.CertificateIdentity, sites []model.TargetSite, bindings []model.BindingInfo) []model.ActionStep {
	if mc.Policy.DeploymentSiteOption == model.DeploymentSiteNone {
		return []model.ActionStep{}
	}

	steps := []model.ActionStep{storageStep()}
	plan := s.resolver.Resolve(s.resolveInput(mc, identity, sites, bindings))
	for _, change := range plan.Changes {
		steps = append(steps, bindingStep(change, nil))
	}
	return steps
}

// Deploy 持有目标锁：导入证书，重新读取绑定，逐个应用变更。单个绑定失败不影响其余绑定
func (s *BindingDeployService) Deploy(ctx context.Context, tgt target.DeploymentTarget, mc *model.ManagedCertificate, certPath string) ([]model.ActionStep, *model.CertificateIdentity) {
	log := s.log.WithTrace(ctx).WithCertificate(mc.ID, mc.Name).WithField("target_id", tgt.ID())

	if mc.Policy.DeploymentSiteOption == model.DeploymentSiteNone {
		log.Debug("证书配置为不部署，跳过")
		return []model.ActionStep{}, nil
	}

	// 1. 获取目标锁
	lk := s.locks.NewLock(TargetLockKey(tgt.ID()), nil)
	start := time.Now()
	if err := lk.LockWithTimeout(ctx, s.cfg.LockWait); err != nil {
		s.metrics.ObserveLockWait(time.Since(start))
		e := s.err.New(fmt.Sprintf("部署目标 %s 繁忙", tgt.ID()), err).Contention()
		e.ToLog(log.Entry)
		return []model.ActionStep{{
			Category:    model.CategoryDeployment,
			Title:       "Deployment Target",
			Description: fmt.Sprintf("Deployment target %s is busy. [%s]", tgt.ID(), err.Error()),
			HasError:    true,
		}}, nil
	}
	s.metrics.ObserveLockWait(time.Since(start))
	defer func() {
		if err := lk.Unlock(context.Background()); err != nil {
			log.WithErr(err).Warn("释放目标锁失败")
		}
	}()

	// 2. 导入证书
	storage := storageStep()
	identity, err := s.importCertificate(ctx, tgt, certPath)
	if err != nil {
		storage.HasError = true
		storage.Description += fmt.Sprintf(" Failed to store certificate. [%s]", errorc.ParseError(err).RootCause())
		log.WithErr(err).Error("导入证书失败")
		return []model.ActionStep{storage}, nil
	}
	steps := []model.ActionStep{storage}

	if mc.Policy.DeploymentSiteOption == model.DeploymentSiteStoreOnly {
		return steps, &identity
	}

	// 3. 锁内重新读取绑定并解析
	sites, bindings, err := s.snapshot(ctx, tgt)
	if err != nil {
		return append(steps, s.targetErrorStep(tgt, err)), &identity
	}
	plan := s.resolver.Resolve(s.resolveInput(mc, identity, sites, bindings))

	// 4. 逐个应用
	for _, change := range plan.Changes {
		result := s.apply(ctx, tgt, change)
		s.metrics.ObserveBinding(tgt.ID(), string(change.Action), result.HasError)
		if result.HasError {
			log.WithField("binding", change.Binding.Spec()).WithField("reason", result.Description).Warn("绑定应用失败")
		}
		steps = append(steps, bindingStep(change, &result))
	}

	log.WithField("changes", len(plan.Changes)).Info("绑定部署完成")
	return steps, &identity
}

func (s *BindingDeployService) apply(ctx context.Context, tgt target.DeploymentTarget, change model.PlannedBinding) model.ActionStep {
	if err := ctx.Err(); err != nil {
		return model.ActionStep{HasError: true, Description: err.Error()}
	}
	applyCtx, cancel := context.WithTimeout(ctx, s.cfg.ApplyTimeout)
	defer cancel()

	result := tgt.AddOrUpdateBinding(applyCtx, change.Binding, change.Action == model.BindingActionAdd)
	if !result.HasError && applyCtx.Err() != nil {
		result.HasError = true
		result.Description = applyCtx.Err().Error()
	}
	return result
}

func (s *BindingDeployService) importCertificate(ctx context.Context, tgt target.DeploymentTarget, certPath string) (model.CertificateIdentity, error) {
	importCtx, cancel := context.WithTimeout(ctx, s.cfg.ApplyTimeout)
	defer cancel()
	return tgt.ImportCertificate(importCtx, certPath)
}

func (s *BindingDeployService) snapshot(ctx context.Context, tgt target.DeploymentTarget) ([]model.TargetSite, []model.BindingInfo, error) {
	sites, err := tgt.ListSites(ctx)
	if err != nil {
		return nil, nil, s.err.New("读取站点失败", err).BindingApply()
	}
	bindings, err := tgt.ListBindings(ctx, "")
	if err != nil {
		return nil, nil, s.err.New("读取绑定失败", err).BindingApply()
	}
	return sites, bindings, nil
}

func (s *BindingDeployService) resolveInput(mc *model.ManagedCertificate, identity model.CertificateIdentity, sites []model.TargetSite, bindings []model.BindingInfo) ResolveInput {
	return ResolveInput{
		DomainSet:          mc.DomainSet,
		Policy:             mc.Policy,
		GroupID:            mc.GroupID,
		PreviousThumbprint: mc.CertificatePreviousThumbprint,
		Identity:           identity,
		Sites:              sites,
		Bindings:           bindings,
	}
}

func (s *BindingDeployService) targetErrorStep(tgt target.DeploymentTarget, err error) model.ActionStep {
	return model.ActionStep{
		Category:    model.CategoryDeployment,
		Title:       "Deployment Target",
		Description: fmt.Sprintf("Could not read bindings from %s. [%s]", tgt.ID(), errorc.ParseError(err).RootCause()),
		HasError:    true,
	}
}

func storageStep() model.ActionStep {
	return model.ActionStep{
		Category:    model.CategoryCertificateStorage,
		Title:       storageStepTitle,
		Description: storageDescription,
	}
}

// bindingStep result 为 nil 时是预览
func bindingStep(change model.PlannedBinding, result *model.ActionStep) model.ActionStep {
	category := model.CategoryUpdateBinding
	failure := " Failed to update binding. [%s]"
	if change.Action == model.BindingActionAdd {
		category = model.CategoryAddBinding
		failure = " Failed to add binding. [%s]"
	}

	step := model.ActionStep{
		Key:         BindingStepKey(change.Binding),
		Category:    category,
		Title:       bindingStepTitle,
		Description: change.Description,
	}
	if result == nil {
		return step
	}
	if result.HasError {
		step.HasError = true
		step.Description += fmt.Sprintf(failure, result.Description)
	} else if result.HasWarning {
		step.HasWarning = true
		step.Description += fmt.Sprintf(" [%s]", result.Description)
	}
	return step
}
