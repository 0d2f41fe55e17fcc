package client

import (
	"context"

	errorc "certdeploy/pkg/core/err"
	"certdeploy/pkg/core/mvc"
	"certdeploy/system/deploy/api/dto"
	"certdeploy/system/deploy/internal/app"
	"certdeploy/system/deploy/internal/model"
)

// DeployClient 部署组件对外客户端，供命令行与其它组件调用
type DeployClient struct {
	app *app.App
	err *errorc.ErrorBuilder
}

func NewDeployClient(appInstance *app.App) *DeployClient {
	return &DeployClient{
		app: appInstance,
		err: errorc.NewErrorBuilder("DeployClient"),
	}
}

// PerformRenewal 续期单个证书
func (c *DeployClient) PerformRenewal(ctx context.Context, certID, operator string) *dto.RenewalResult {
	return toResultDTO(c.app.PerformRenewal(ctx, certID, operator))
}

// PreviewRenewal 预览续期步骤
func (c *DeployClient) PreviewRenewal(ctx context.Context, certID string) *dto.RenewalResult {
	return toResultDTO(c.app.PreviewRenewal(ctx, certID))
}

// RenewAll certIDs 为空时续期全部
func (c *DeployClient) RenewAll(ctx context.Context, certIDs []string, operator string) ([]*dto.RenewalResult, error) {
	results, err := c.app.RenewAll(ctx, certIDs, operator)
	if err != nil {
		return nil, err
	}
	return toResultDTOs(results), nil
}

// RenewDueCertificates 续期进入续期窗口的证书
func (c *DeployClient) RenewDueCertificates(ctx context.Context) ([]*dto.RenewalResult, error) {
	results, err := c.app.RenewDueCertificates(ctx)
	if err != nil {
		return nil, err
	}
	return toResultDTOs(results), nil
}

// StoreAndDeploy 重新部署已签发的证书
func (c *DeployClient) StoreAndDeploy(ctx context.Context, certID string, req *dto.StoreAndDeployReq, operator string) []dto.ActionStep {
	return ToStepDTOs(c.app.StoreAndDeploy(ctx, certID, req.CertificatePath, req.PreviewOnly, req.IncludeDeploymentTasks, operator))
}

// PerformDeploymentTask 手动执行一个任务
func (c *DeployClient) PerformDeploymentTask(ctx context.Context, certID, taskID string, isPreviewOnly bool, operator string) []dto.ActionStep {
	return ToStepDTOs(c.app.PerformDeploymentTask(ctx, certID, taskID, isPreviewOnly, operator))
}

// GetCertificate 证书摘要
func (c *DeployClient) GetCertificate(ctx context.Context, certID string) (*dto.CertificateDTO, error) {
	mc, err := c.app.GetCertificate(ctx, certID)
	if err != nil {
		return nil, err
	}
	return toCertificateDTO(mc), nil
}

func (c *DeployClient) ListCertificates(ctx context.Context) ([]*dto.CertificateDTO, error) {
	list, err := c.app.ListCertificates(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*dto.CertificateDTO, 0, len(list))
	for _, mc := range list {
		out = append(out, toCertificateDTO(mc))
	}
	return out, nil
}

// ListHistory certID 为空时查询全部证书
func (c *DeployClient) ListHistory(ctx context.Context, certID string, page *mvc.Page) ([]*dto.HistoryDTO, int64, error) {
	list, total, err := c.app.ListHistory(ctx, certID, page)
	if err != nil {
		return nil, 0, err
	}
	out := make([]*dto.HistoryDTO, 0, len(list))
	for _, h := range list {
		out = append(out, &dto.HistoryDTO{
			ID:            h.ID,
			CertificateID: h.ManagedCertificateID,
			Operation:     h.Operation,
			Status:        string(h.Status),
			FinalState:    string(h.FinalState),
			Message:       h.Message,
			Operator:      h.Operator,
			StartedAt:     h.StartedAt,
			FinishedAt:    h.FinishedAt,
			Steps:         ToStepDTOs(h.Steps),
		})
	}
	return out, total, nil
}

// ToStepDTOs 保持步骤树结构
func ToStepDTOs(steps []model.ActionStep) []dto.ActionStep {
	out := make([]dto.ActionStep, 0, len(steps))
	for _, s := range steps {
		step := dto.ActionStep{
			Key:         s.Key,
			Category:    s.Category,
			Title:       s.Title,
			Description: s.Description,
			HasError:    s.HasError,
			HasWarning:  s.HasWarning,
		}
		if len(s.Substeps) > 0 {
			step.Substeps = ToStepDTOs(s.Substeps)
		}
		out = append(out, step)
	}
	return out
}

func toResultDTO(r *app.RenewalResult) *dto.RenewalResult {
	return &dto.RenewalResult{
		CertificateID: r.CertificateID,
		IsSuccess:     r.IsSuccess,
		HasWarning:    r.HasWarning,
		Status:        string(r.Status),
		State:         string(r.State),
		Message:       r.Message,
		Steps:         ToStepDTOs(r.Steps),
	}
}

func toResultDTOs(results []*app.RenewalResult) []*dto.RenewalResult {
	out := make([]*dto.RenewalResult, 0, len(results))
	for _, r := range results {
		out = append(out, toResultDTO(r))
	}
	return out
}

func toCertificateDTO(mc *model.ManagedCertificate) *dto.CertificateDTO {
	return &dto.CertificateDTO{
		ID:                 mc.ID,
		Name:               mc.Name,
		Domains:            mc.DomainSet.Names(),
		TargetID:           mc.TargetID,
		Thumbprint:         mc.CertificateThumbprint,
		DateExpiry:         mc.DateExpiry,
		DateLastRenewed:    mc.DateLastRenewed,
		LastRenewalStatus:  string(mc.LastRenewalStatus),
		LastRenewalMessage: mc.LastRenewalMessage,
		PreRequestTasks:    len(mc.PreRequestTasks),
		PostRequestTasks:   len(mc.PostRequestTasks),
	}
}
