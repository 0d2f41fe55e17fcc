package app

import (
	"context"

	errorc "certdeploy/pkg/core/err"
	"certdeploy/system/deploy/internal/model"
)

// StoreAndDeploy 把已签发的证书部署到目标，certPath 为空时使用托管证书记录的路径
func (a *App) StoreAndDeploy(ctx context.Context, certID, certPath string, isPreviewOnly, includeDeploymentTasks bool, operator string) []model.ActionStep {
	started := a.now()
	mc, err := a.Certificates.Get(ctx, certID)
	if err != nil {
		return []model.ActionStep{notFoundOrError(err)}
	}
	if certPath == "" {
		certPath = mc.CertificatePath
	}
	if certPath == "" && !isPreviewOnly {
		return []model.ActionStep{{
			Category:    model.CategoryCertificateStorage,
			Title:       "Certificate Storage",
			Description: "Certificate has not been issued yet. Nothing to deploy.",
			HasError:    true,
		}}
	}

	// 1. 绑定
	var steps []model.ActionStep
	if isPreviewOnly {
		steps = a.previewBindings(ctx, mc)
	} else {
		steps = a.deployBindings(ctx, mc, certPath)
	}

	// 2. 后置任务
	if includeDeploymentTasks {
		steps = append(steps, a.Pipeline.RunPostRequestTasks(ctx, mc, model.OutcomeSuccess, isPreviewOnly, false)...)
	}
	if steps == nil {
		steps = []model.ActionStep{}
	}

	if !isPreviewOnly {
		a.recordHistory(ctx, &model.DeployHistory{
			ManagedCertificateID: mc.ID,
			Operation:            OperationDeploy,
			Status:               stepsStatus(steps),
			Message:              "Store and deploy",
			Steps:                steps,
			Operator:             operator,
			StartedAt:            started,
		})
	}
	return steps
}

// PerformDeploymentTask 按 (certID, taskID) 手动执行一个任务，延迟任务只能从这里执行
func (a *App) PerformDeploymentTask(ctx context.Context, certID, taskID string, isPreviewOnly bool, operator string) []model.ActionStep {
	started := a.now()
	mc, err := a.Certificates.Get(ctx, certID)
	if err != nil {
		if !errorc.IsNotFound(err) {
			return []model.ActionStep{notFoundOrError(err)}
		}
		mc = nil
	}

	steps := a.Pipeline.PerformDeploymentTask(ctx, mc, taskID, isPreviewOnly)
	if mc != nil && !isPreviewOnly {
		a.recordHistory(ctx, &model.DeployHistory{
			ManagedCertificateID: mc.ID,
			Operation:            OperationTask,
			Status:               stepsStatus(steps),
			Message:              "Task " + taskID,
			Steps:                steps,
			Operator:             operator,
			StartedAt:            started,
		})
	}
	return steps
}

func stepsStatus(steps []model.ActionStep) model.RenewalStatus {
	if model.AnyError(steps) {
		return model.RenewalStatusFailed
	}
	for _, s := range steps {
		if s.ContainsWarning() {
			return model.RenewalStatusSuccessWithWarning
		}
	}
	return model.RenewalStatusSuccess
}
