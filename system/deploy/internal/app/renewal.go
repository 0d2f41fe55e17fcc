package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	errorc "certdeploy/pkg/core/err"
	"certdeploy/system/deploy/internal/model"
	"certdeploy/system/deploy/internal/service"

	"golang.org/x/sync/errgroup"
)

const (
	OperationRenew  = "renew"
	OperationDeploy = "deploy"
	OperationTask   = "task"
)

// RenewalResult 一次续期的结果。成功但部署或后置任务出错时 HasWarning 为 true
type RenewalResult struct {
	CertificateID string              `json:"certificateId"`
	IsSuccess     bool                `json:"isSuccess"`
	HasWarning    bool                `json:"hasWarning"`
	Status        model.RenewalStatus `json:"status"`
	State         model.RenewalState  `json:"state"`
	Message       string              `json:"message"`
	Steps         []model.ActionStep  `json:"steps"`
}

// renewal 单次续期的状态
type renewal struct {
	mc      *model.ManagedCertificate
	state   model.RenewalState
	outcome model.RequestOutcome
	steps   []model.ActionStep
	warning bool
	message string
}

func (r *renewal) enter(state model.RenewalState) {
	r.state = state
}

// PerformRenewal 执行一次完整续期：前置任务、申请、绑定部署、后置任务
func (a *App) PerformRenewal(ctx context.Context, certID, operator string) *RenewalResult {
	log := a.log.WithTrace(ctx).WithField("cert_id", certID)
	started := a.now()

	mc, err := a.Certificates.Get(ctx, certID)
	if err != nil {
		return failedResult(certID, model.RenewalNotStarted, notFoundOrError(err))
	}

	// 同一证书不并发续期
	lk := a.Locks.NewLock("renew:"+certID, nil)
	ok, err := lk.TryLock(ctx)
	if err != nil || !ok {
		return failedResult(certID, model.RenewalNotStarted, model.ActionStep{
			Category:    model.CategoryCertificateRequest,
			Title:       "Certificate Request",
			Description: fmt.Sprintf("A renewal for %s is already in progress.", mc.Name),
			HasError:    true,
		})
	}
	defer func() {
		if err := lk.Unlock(context.Background()); err != nil {
			log.WithErr(err).Warn("释放续期锁失败")
		}
	}()

	r := &renewal{mc: mc, state: model.RenewalNotStarted}
	a.runRenewal(ctx, r)

	result := r.result()
	mc.LastRenewalStatus = result.Status
	mc.LastRenewalMessage = result.Message
	mc.UpdatedAt = a.now()
	if err := a.Certificates.Save(ctx, mc); err != nil {
		log.WithErr(err).Error("保存续期结果失败")
		result.HasWarning = true
	}

	a.Metrics.ObserveRenewal(string(result.Status))
	a.recordHistory(ctx, &model.DeployHistory{
		ManagedCertificateID: mc.ID,
		Operation:            OperationRenew,
		Status:               result.Status,
		FinalState:           result.State,
		Message:              result.Message,
		Steps:                result.Steps,
		Operator:             operator,
		StartedAt:            started,
	})
	log.WithFields(map[string]interface{}{
		"status": result.Status,
		"state":  result.State,
	}).Info("续期结束")
	return result
}

func (a *App) runRenewal(ctx context.Context, r *renewal) {
	mc := r.mc
	log := a.log.WithTrace(ctx).WithCertificate(mc.ID, mc.Name)

	// 1. 前置任务，失败即中止
	r.enter(model.RenewalPreTasksRunning)
	ok, preSteps := a.Pipeline.RunPreRequestTasks(ctx, mc, false)
	if len(preSteps) > 0 {
		r.steps = append(r.steps, groupStep(model.CategoryPreRequestTasks, "Pre-Request Tasks", preSteps))
	}
	if !ok {
		log.Warn("前置任务失败，续期中止")
		r.enter(model.RenewalAborted)
		r.message = "Pre-request tasks failed. The certificate request was not attempted."
		return
	}

	// 2. 申请证书
	r.enter(model.RenewalAcquiring)
	acquired, certPath, err := a.acquire(ctx, mc)
	if err != nil {
		log.WithErr(err).Error("证书申请失败")
		r.outcome = model.OutcomeError
		r.message = "Certificate request failed: " + errorc.ParseError(err).RootCause()
		r.steps = append(r.steps, model.ActionStep{
			Category:    model.CategoryCertificateRequest,
			Title:       "Certificate Request",
			Description: r.message,
			HasError:    true,
		})
	} else {
		r.outcome = model.OutcomeSuccess
		expiry := acquired.NotAfter
		mc.RecordCertificate(certPath, acquired.Thumbprint, &expiry, a.now())
		r.message = fmt.Sprintf("Certificate issued for %s, expires %s.", strings.Join(mc.DomainSet.Names(), ", "), expiry.UTC().Format("2006-01-02"))
		r.steps = append(r.steps, model.ActionStep{
			Category:    model.CategoryCertificateRequest,
			Title:       "Certificate Request",
			Description: r.message,
		})

		// 3. 绑定部署，错误降级为警告
		r.enter(model.RenewalBindingDeployment)
		deploySteps := a.deployBindings(ctx, mc, certPath)
		if len(deploySteps) > 0 {
			group := groupStep(model.CategoryDeployment, "Deployment", deploySteps)
			if group.HasError {
				group.HasError = false
				group.HasWarning = true
				r.warning = true
			}
			r.steps = append(r.steps, group)
		}
	}

	// 4. 后置任务，申请失败时仍执行 ON_ERROR 与 ANY_STATUS 任务
	r.enter(model.RenewalPostTasksRunning)
	postSteps := a.Pipeline.RunPostRequestTasks(ctx, mc, r.outcome, false, false)
	if len(postSteps) > 0 {
		group := groupStep(model.CategoryPostRequestTasks, "Post-Request Tasks", postSteps)
		if r.outcome == model.OutcomeSuccess && group.HasError {
			group.HasError = false
			group.HasWarning = true
			r.warning = true
		}
		r.steps = append(r.steps, group)
	}

	r.enter(model.RenewalCompleted)
}

func (r *renewal) result() *RenewalResult {
	res := &RenewalResult{
		CertificateID: r.mc.ID,
		State:         r.state,
		Message:       r.message,
		Steps:         r.steps,
	}
	switch {
	case r.state == model.RenewalAborted:
		res.Status = model.RenewalStatusAborted
	case r.outcome != model.OutcomeSuccess:
		res.Status = model.RenewalStatusFailed
	case r.warning:
		res.IsSuccess = true
		res.HasWarning = true
		res.Status = model.RenewalStatusSuccessWithWarning
		res.Message += " Some deployment steps reported problems."
	default:
		res.IsSuccess = true
		res.Status = model.RenewalStatusSuccess
	}
	if res.Steps == nil {
		res.Steps = []model.ActionStep{}
	}
	return res
}

// PreviewRenewal 生成与续期相同结构的步骤，不申请证书也不修改目标
func (a *App) PreviewRenewal(ctx context.Context, certID string) *RenewalResult {
	mc, err := a.Certificates.Get(ctx, certID)
	if err != nil {
		return failedResult(certID, model.RenewalNotStarted, notFoundOrError(err))
	}

	var steps []model.ActionStep
	ok, preSteps := a.Pipeline.RunPreRequestTasks(ctx, mc, true)
	if len(preSteps) > 0 {
		steps = append(steps, groupStep(model.CategoryPreRequestTasks, "Pre-Request Tasks", preSteps))
	}

	steps = append(steps, model.ActionStep{
		Category:    model.CategoryCertificateRequest,
		Title:       "Certificate Request",
		Description: fmt.Sprintf("Certificate will be requested for: %s", strings.Join(mc.DomainSet.Names(), ", ")),
	})

	if deploySteps := a.previewBindings(ctx, mc); len(deploySteps) > 0 {
		steps = append(steps, groupStep(model.CategoryDeployment, "Deployment", deploySteps))
	}
	if postSteps := a.Pipeline.RunPostRequestTasks(ctx, mc, model.OutcomeSuccess, true, false); len(postSteps) > 0 {
		steps = append(steps, groupStep(model.CategoryPostRequestTasks, "Post-Request Tasks", postSteps))
	}

	hasError := !ok || model.AnyError(steps)
	return &RenewalResult{
		CertificateID: mc.ID,
		IsSuccess:     !hasError,
		State:         model.RenewalNotStarted,
		Message:       "Preview",
		Steps:         steps,
	}
}

// RenewAll 并发续期，certIDs 为空时续期全部证书。结果顺序与输入一致
func (a *App) RenewAll(ctx context.Context, certIDs []string, operator string) ([]*RenewalResult, error) {
	if len(certIDs) == 0 {
		list, err := a.Certificates.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, mc := range list {
			certIDs = append(certIDs, mc.ID)
		}
	}

	results := make([]*RenewalResult, len(certIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.BatchConcurrency)
	for i, id := range certIDs {
		g.Go(func() error {
			results[i] = a.PerformRenewal(gctx, id, operator)
			return nil
		})
	}
	_ = g.Wait()

	a.log.WithField("total", len(certIDs)).Info("批量续期完成")
	return results, nil
}

// RenewDueCertificates 续期进入续期窗口的证书
func (a *App) RenewDueCertificates(ctx context.Context) ([]*RenewalResult, error) {
	list, err := a.Certificates.List(ctx)
	if err != nil {
		return nil, err
	}
	now := a.now()
	var due []string
	for _, mc := range list {
		if mc.IsDue(now) {
			due = append(due, mc.ID)
		}
	}
	if len(due) == 0 {
		a.log.Debug("没有需要续期的证书")
		return []*RenewalResult{}, nil
	}
	return a.RenewAll(ctx, due, "scheduler")
}

// acquire 申请证书并写入 {CertDir}/{certID}/
func (a *App) acquire(ctx context.Context, mc *model.ManagedCertificate) (*service.AcquiredCertificate, string, error) {
	if a.Acquirer == nil {
		return nil, "", a.err.New("未配置证书申请服务", nil).Acquisition()
	}
	acquired, err := a.Acquirer.Acquire(ctx, mc)
	if err != nil {
		return nil, "", err
	}

	dir := filepath.Join(a.cfg.CertDir, mc.ID)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, "", a.err.New("创建证书目录失败", err).Acquisition()
	}
	certPath := filepath.Join(dir, model.CertificateFileName)
	if err := os.WriteFile(certPath, acquired.FullchainPEM, 0600); err != nil {
		return nil, "", a.err.New("写入证书失败", err).Acquisition()
	}
	if err := os.WriteFile(filepath.Join(dir, model.PrivateKeyFileName), acquired.PrivateKeyPEM, 0600); err != nil {
		return nil, "", a.err.New("写入私钥失败", err).Acquisition()
	}
	return acquired, certPath, nil
}

func (a *App) deployBindings(ctx context.Context, mc *model.ManagedCertificate, certPath string) []model.ActionStep {
	tgt, err := a.Targets.Resolve(mc.TargetID)
	if err != nil {
		return []model.ActionStep{targetStep(err)}
	}
	steps, _ := a.Bindings.Deploy(ctx, tgt, mc, certPath)
	return steps
}

func (a *App) previewBindings(ctx context.Context, mc *model.ManagedCertificate) []model.ActionStep {
	tgt, err := a.Targets.Resolve(mc.TargetID)
	if err != nil {
		return []model.ActionStep{targetStep(err)}
	}
	return a.Bindings.Preview(ctx, tgt, mc, nil)
}

func groupStep(category, title string, substeps []model.ActionStep) model.ActionStep {
	return model.ActionStep{
		Category: category,
		Title:    title,
		HasError: model.AnyError(substeps),
		Substeps: substeps,
	}
}

func targetStep(err error) model.ActionStep {
	return model.ActionStep{
		Category:    model.CategoryDeployment,
		Title:       "Deployment Target",
		Description: "Deployment target is not available. [" + errorc.ParseError(err).RootCause() + "]",
		HasError:    true,
	}
}

func notFoundOrError(err error) model.ActionStep {
	step := model.ActionStep{
		Category: model.CategoryCertificateRequest,
		Title:    "Managed Certificate",
		HasError: true,
	}
	if errorc.IsNotFound(err) {
		step.Description = "Managed certificate not found."
	} else {
		step.Description = "Could not load managed certificate. [" + errorc.ParseError(err).RootCause() + "]"
	}
	return step
}

func failedResult(certID string, state model.RenewalState, step model.ActionStep) *RenewalResult {
	return &RenewalResult{
		CertificateID: certID,
		Status:        model.RenewalStatusFailed,
		State:         state,
		Message:       step.Description,
		Steps:         []model.ActionStep{step},
	}
}
