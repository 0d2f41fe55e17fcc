package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	errorc "certdeploy/pkg/core/err"
	"certdeploy/pkg/core/logger"
	"certdeploy/pkg/server/transport"
	"certdeploy/system/deploy/internal/model"
	"certdeploy/system/deploy/internal/service/provider"
	"certdeploy/utils"
)

const (
	taskValidMessage       = "Task is valid and ready to execute."
	certNotFoundMessage    = "Managed certificate not found. Could not deploy."
	noMatchingTasksMessage = "No matching tasks to perform."
	defaultTaskTimeout     = 5 * time.Minute

	phasePre    = "pre"
	phasePost   = "post"
	phaseManual = "manual"
)

// CredentialResolver 按 key 解析解密后的凭据，未知或锁定时返回 NotFound
type CredentialResolver interface {
	Resolve(ctx context.Context, key string) (map[string]string, error)
}

// TaskPipelineConfig 任务执行参数
type TaskPipelineConfig struct {
	TaskTimeout    time.Duration // 单次任务调用的超时
	RetryDelayUnit time.Duration // RetryDelaySeconds 的单位，默认 1 秒
}

// TaskPipeline 按触发条件顺序执行前置与后置部署任务
type TaskPipeline struct {
	log         *logger.Log
	err         *errorc.ErrorBuilder
	registry    *provider.Registry
	credentials CredentialResolver
	transports  transport.Factory
	cfg         TaskPipelineConfig
	metrics     *Metrics
}

func NewTaskPipeline(log *logger.Log, registry *provider.Registry, credentials CredentialResolver, transports transport.Factory, cfg TaskPipelineConfig, metrics *Metrics) *TaskPipeline {
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = defaultTaskTimeout
	}
	if cfg.RetryDelayUnit <= 0 {
		cfg.RetryDelayUnit = time.Second
	}
	return &TaskPipeline{
		log:         log.WithEntryName("TaskPipeline"),
		err:         errorc.NewErrorBuilder("TaskPipeline"),
		registry:    registry,
		credentials: credentials,
		transports:  transports,
		cfg:         cfg,
		metrics:     metrics,
	}
}

// Registry 提供者注册表
func (p *TaskPipeline) Registry() *provider.Registry {
	return p.registry
}

// RunPreRequestTasks 执行前置任务。先整体校验，任一任务无效时不执行任何任务；执行中任一失败即返回 ok=false
func (p *TaskPipeline) RunPreRequestTasks(ctx context.Context, mc *model.ManagedCertificate, isPreview bool) (bool, []model.ActionStep) {
	// 前置任务在申请之前执行，按成功结果判断触发条件
	runnable := runnableTasks(mc.PreRequestTasks, model.OutcomeSuccess, false)
	if invalid := p.validateRunnable(ctx, mc, phasePre, mc.PreRequestTasks, runnable); len(invalid) > 0 {
		steps := make([]model.ActionStep, 0, len(invalid))
		for _, i := range runnable {
			if step, ok := invalid[i]; ok {
				steps = append(steps, step)
			}
		}
		return false, steps
	}

	steps := []model.ActionStep{}
	for _, i := range runnable {
		task := &mc.PreRequestTasks[i]
		if err := ctx.Err(); err != nil {
			steps = append(steps, cancelledStep(model.CategoryPreRequestTasks, task, err))
			return false, steps
		}

		step := p.execute(ctx, phasePre, mc, task, model.OutcomeSuccess, isPreview)
		steps = append(steps, step)
		if step.HasError {
			return false, steps
		}
	}
	return true, steps
}

// RunPostRequestTasks 执行后置任务。无效任务在执行前即记为失败，单个失败不影响其余任务，除非该任务标记为 IsFatalOnError
func (p *TaskPipeline) RunPostRequestTasks(ctx context.Context, mc *model.ManagedCertificate, outcome model.RequestOutcome, isPreview, force bool) []model.ActionStep {
	runnable := runnableTasks(mc.PostRequestTasks, outcome, force)
	invalid := p.validateRunnable(ctx, mc, phasePost, mc.PostRequestTasks, runnable)

	steps := []model.ActionStep{}
	blocked := false
	for _, i := range runnable {
		task := &mc.PostRequestTasks[i]
		if err := ctx.Err(); err != nil {
			steps = append(steps, cancelledStep(model.CategoryPostRequestTasks, task, err))
			break
		}
		if blocked && !task.RunIfLastStepFailed {
			steps = append(steps, model.ActionStep{
				Key:         task.ID,
				Category:    model.CategoryPostRequestTasks,
				Title:       task.TaskName,
				Description: "Task skipped because a previous task failed.",
				HasWarning:  true,
			})
			continue
		}

		step, isInvalid := invalid[i]
		if !isInvalid {
			step = p.execute(ctx, phasePost, mc, task, outcome, isPreview)
		}
		steps = append(steps, step)
		if step.HasError && task.IsFatalOnError {
			blocked = true
		}
	}
	return steps
}

func runnableTasks(tasks []model.DeploymentTaskConfig, outcome model.RequestOutcome, force bool) []int {
	var idx []int
	for i := range tasks {
		if autoRunnable(&tasks[i], outcome, force) {
			idx = append(idx, i)
		}
	}
	return idx
}

// validateRunnable 在执行任何任务之前校验将要执行的任务，返回按下标索引的失败步骤
func (p *TaskPipeline) validateRunnable(ctx context.Context, mc *model.ManagedCertificate, phase string, tasks []model.DeploymentTaskConfig, runnable []int) map[int]model.ActionStep {
	invalid := map[int]model.ActionStep{}
	for _, i := range runnable {
		if step, ok := p.validateStep(ctx, phase, mc, &tasks[i], tasks); !ok {
			invalid[i] = step
		}
	}
	return invalid
}

// PerformDeploymentTask 手动执行单个任务，延迟任务也可通过此入口执行
func (p *TaskPipeline) PerformDeploymentTask(ctx context.Context, mc *model.ManagedCertificate, taskID string, isPreview bool) []model.ActionStep {
	if mc == nil {
		return []model.ActionStep{{
			Category:    model.CategoryManualTask,
			Title:       "Deployment Task",
			Description: certNotFoundMessage,
			HasError:    true,
		}}
	}

	task, siblings := owningTask(mc, taskID)
	if task == nil {
		return []model.ActionStep{{
			Category:    model.CategoryManualTask,
			Title:       "Deployment Task",
			Description: noMatchingTasksMessage,
			HasError:    true,
		}}
	}

	outcome := model.OutcomeSuccess
	if mc.LastRenewalStatus == model.RenewalStatusFailed {
		outcome = model.OutcomeError
	}
	step := p.runTask(ctx, phaseManual, mc, task, siblings, outcome, isPreview)
	step.Category = model.CategoryManualTask
	return []model.ActionStep{step}
}

// ValidateTaskList 校验一组任务，只返回存在问题的任务步骤
func (p *TaskPipeline) ValidateTaskList(ctx context.Context, mc *model.ManagedCertificate, category string, tasks []model.DeploymentTaskConfig) []model.ActionStep {
	var steps []model.ActionStep
	for i := range tasks {
		failures := p.ValidateTask(ctx, mc, &tasks[i], tasks)
		if len(failures) == 0 {
			continue
		}
		steps = append(steps, model.ActionStep{
			Key:         tasks[i].ID,
			Category:    category,
			Title:       tasks[i].TaskName,
			Description: joinMessages(failures),
			HasError:    true,
		})
	}
	return steps
}

// ValidateTask 校验单个任务的配置。siblings 为所在列表，用于名称唯一性检查
func (p *TaskPipeline) ValidateTask(ctx context.Context, mc *model.ManagedCertificate, task *model.DeploymentTaskConfig, siblings []model.DeploymentTaskConfig) []model.ActionResult {
	var out []model.ActionResult

	// 1. 结构规则
	if msg, err := utils.Validate(task); err != nil {
		out = append(out, model.Failure(msg))
	}

	// 2. 名称唯一
	for _, other := range siblings {
		if other.ID != task.ID && strings.EqualFold(strings.TrimSpace(other.TaskName), strings.TrimSpace(task.TaskName)) {
			out = append(out, model.Failure(fmt.Sprintf("A task named '%s' already exists in this list.", task.TaskName)))
			break
		}
	}

	// 3. 提供者
	prov, ok := p.registry.Get(task.TaskTypeID)
	if !ok {
		return append(out, model.Failure(fmt.Sprintf("Unknown deployment task type '%s'.", task.TaskTypeID)))
	}
	def := prov.Definition()
	auth := task.AuthType()

	if def.SupportedContexts != 0 && !def.SupportedContexts.Has(model.ContextFor(auth)) {
		out = append(out, model.Failure(fmt.Sprintf("Task type '%s' does not support %s execution.", def.Title, auth.Label())))
	}

	// 4. 目标主机与凭据
	if def.SupportsRemoteTarget && transport.RequiresHost(transport.AuthType(auth)) && strings.TrimSpace(task.TargetHost) == "" {
		out = append(out, model.Failure(fmt.Sprintf("A target host is required for %s.", auth.Label())))
	}
	needsCredential := transport.RequiresCredentials(transport.AuthType(auth)) || def.SupportedContexts.RequiresCredentials()
	if needsCredential && strings.TrimSpace(task.CredentialKey) == "" {
		out = append(out, model.Failure(fmt.Sprintf("A credential is required for %s.", auth.Label())))
	}

	// 5. 提供者参数
	out = append(out, prov.Validate(ctx, &provider.ExecutionParams{
		Log:           p.log.WithTask(task.TaskName),
		Task:          task,
		Certificate:   mc,
		IsPreviewOnly: true,
	})...)
	return out
}

func phaseCategory(phase string) string {
	if phase == phasePre {
		return model.CategoryPreRequestTasks
	}
	return model.CategoryPostRequestTasks
}

// validateStep 校验失败时返回带错误的步骤与 false
func (p *TaskPipeline) validateStep(ctx context.Context, phase string, mc *model.ManagedCertificate, task *model.DeploymentTaskConfig, siblings []model.DeploymentTaskConfig) (model.ActionStep, bool) {
	failures := p.ValidateTask(ctx, mc, task, siblings)
	if len(failures) == 0 {
		return model.ActionStep{}, true
	}
	step := model.ActionStep{
		Key:         task.ID,
		Category:    phaseCategory(phase),
		Title:       task.TaskName,
		Description: joinMessages(failures),
		HasError:    true,
	}
	p.log.WithTrace(ctx).WithCertificate(mc.ID, mc.Name).WithTask(task.TaskName).
		WithField("reason", step.Description).Warn("任务配置校验失败")
	p.metrics.ObserveTask(phase, task.TaskTypeID, true, 0)
	return step, false
}

// runTask 校验并执行单个任务，供手动入口使用
func (p *TaskPipeline) runTask(ctx context.Context, phase string, mc *model.ManagedCertificate, task *model.DeploymentTaskConfig, siblings []model.DeploymentTaskConfig, outcome model.RequestOutcome, isPreview bool) model.ActionStep {
	if step, ok := p.validateStep(ctx, phase, mc, task, siblings); !ok {
		return step
	}
	return p.execute(ctx, phase, mc, task, outcome, isPreview)
}

// execute 执行已通过校验的任务
func (p *TaskPipeline) execute(ctx context.Context, phase string, mc *model.ManagedCertificate, task *model.DeploymentTaskConfig, outcome model.RequestOutcome, isPreview bool) model.ActionStep {
	log := p.log.WithTrace(ctx).WithCertificate(mc.ID, mc.Name).WithTask(task.TaskName)
	step := model.ActionStep{Key: task.ID, Category: phaseCategory(phase), Title: task.TaskName}
	prov, _ := p.registry.Get(task.TaskTypeID)

	// 1. 凭据
	var secrets map[string]string
	if task.AuthType() != model.AuthLocal && task.CredentialKey != "" {
		resolved, err := p.resolveCredential(ctx, task.CredentialKey)
		if err != nil {
			e := p.err.New(fmt.Sprintf("解析任务凭据失败: %s", task.CredentialKey), err).TaskExecution()
			e.ToLog(log.Entry)
			step.HasError = true
			step.Description = fmt.Sprintf("Could not resolve credential '%s'. [%s]", task.CredentialKey, errorc.ParseError(err).RootCause())
			p.metrics.ObserveTask(phase, task.TaskTypeID, true, 0)
			return step
		}
		secrets = resolved
	}

	if isPreview {
		step.Description = taskValidMessage
		return step
	}

	// 2. 通道
	client, err := p.transports.New(ctx, transport.Target{
		AuthType:       transport.AuthType(task.AuthType()),
		Host:           task.TargetHost,
		Secrets:        secrets,
		CommandTimeout: p.cfg.TaskTimeout,
	})
	if err != nil {
		e := p.err.New("建立任务通道失败", err).TaskExecution()
		e.ToLog(log.Entry)
		step.HasError = true
		step.Description = fmt.Sprintf("Could not connect to %s (%s). [%s]", task.TargetHost, task.AuthType().Label(), errorc.ParseError(err).RootCause())
		p.metrics.ObserveTask(phase, task.TaskTypeID, true, 0)
		return step
	}
	defer client.Close()

	// 3. 执行，失败时按配置重试
	params := &provider.ExecutionParams{
		Log:         log,
		Task:        task,
		Certificate: mc,
		Credentials: secrets,
		Client:      client,
		Outcome:     outcome,
	}
	start := time.Now()
	result := p.executeWithRetry(ctx, log, prov, params)
	p.metrics.ObserveTask(phase, task.TaskTypeID, !result.IsSuccess, time.Since(start))

	step.Description = result.Message
	step.HasError = !result.IsSuccess
	step.HasWarning = result.IsSuccess && result.IsWarning
	step.Substeps = result.Steps
	if step.HasError {
		log.WithField("reason", result.Message).Warn("任务执行失败")
	} else {
		log.Info("任务执行完成")
	}
	return step
}

func (p *TaskPipeline) resolveCredential(ctx context.Context, key string) (map[string]string, error) {
	if p.credentials == nil {
		return nil, p.err.New("未配置凭据存储", nil).NotFound()
	}
	return p.credentials.Resolve(ctx, key)
}

func (p *TaskPipeline) executeWithRetry(ctx context.Context, log *logger.Log, prov provider.Provider, params *provider.ExecutionParams) model.ActionResult {
	attempts := params.Task.RetriesAllowed + 1
	var result model.ActionResult
	for i := 0; i < attempts; i++ {
		if i > 0 {
			delay := time.Duration(params.Task.RetryDelay()) * p.cfg.RetryDelayUnit
			log.WithField("attempt", i+1).WithField("delay", delay.String()).Info("任务失败，等待重试")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return model.Failure(fmt.Sprintf("%s [retry cancelled: %s]", result.Message, ctx.Err()))
			}
		}
		result = p.executeOnce(ctx, prov, params)
		if result.IsSuccess {
			return result
		}
	}
	return result
}

// executeOnce 超时即视为失败，不等待提供者返回
func (p *TaskPipeline) executeOnce(ctx context.Context, prov provider.Provider, params *provider.ExecutionParams) model.ActionResult {
	taskCtx, cancel := context.WithTimeout(ctx, p.cfg.TaskTimeout)
	defer cancel()

	done := make(chan model.ActionResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- model.Failure(fmt.Sprintf("Task failed unexpectedly: %v", r))
			}
		}()
		done <- prov.Execute(taskCtx, params)
	}()

	select {
	case result := <-done:
		return result
	case <-taskCtx.Done():
		if ctx.Err() != nil {
			return model.Failure(fmt.Sprintf("Task was cancelled. [%s]", ctx.Err()))
		}
		return model.Failure(fmt.Sprintf("Task timed out after %s.", p.cfg.TaskTimeout))
	}
}

// autoRunnable 自动阶段是否执行：延迟任务只在 force 时执行，MANUAL 与 NOT_ENABLED 从不自动执行
func autoRunnable(task *model.DeploymentTaskConfig, outcome model.RequestOutcome, force bool) bool {
	if task.IsDeferred && !force {
		return false
	}
	return task.Trigger().Matches(outcome)
}

// owningTask 查找任务及其所在列表
func owningTask(mc *model.ManagedCertificate, taskID string) (*model.DeploymentTaskConfig, []model.DeploymentTaskConfig) {
	task, ok := mc.FindTask(taskID)
	if !ok {
		return nil, nil
	}
	for i := range mc.PreRequestTasks {
		if &mc.PreRequestTasks[i] == task {
			return task, mc.PreRequestTasks
		}
	}
	return task, mc.PostRequestTasks
}

func cancelledStep(category string, task *model.DeploymentTaskConfig, err error) model.ActionStep {
	return model.ActionStep{
		Key:         task.ID,
		Category:    category,
		Title:       task.TaskName,
		Description: fmt.Sprintf("Task was not started. [%s]", err),
		HasError:    true,
	}
}

func joinMessages(results []model.ActionResult) string {
	msgs := make([]string, 0, len(results))
	for _, r := range results {
		msgs = append(msgs, r.Message)
	}
	return strings.Join(msgs, " ")
}
