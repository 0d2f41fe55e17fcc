package provider

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"certdeploy/system/deploy/internal/model"
)

// Mock 用于演练与测试的任务，可配置为失败或延迟
type Mock struct{}

func (p *Mock) Definition() model.ProviderDefinition {
	return model.ProviderDefinition{
		ID:                "mock",
		Title:             "Mock Task",
		Description:       "Logs a message, optionally failing or waiting first.",
		SupportedContexts: model.ContextLocalAsService,
		IsExperimental:    true,
		Parameters: []model.ProviderParameter{
			{Key: "message", Name: "Message", IsRequired: true, Type: "string"},
			{Key: "throw", Name: "Fail Task", Type: "boolean", DefaultValue: "false"},
			{Key: "delay_ms", Name: "Delay (ms)", Type: "string", DefaultValue: "0"},
		},
	}
}

func (p *Mock) Validate(ctx context.Context, params *ExecutionParams) []model.ActionResult {
	out := ValidateParameters(p.Definition(), params.Task)
	if v, ok := params.Task.Param("delay_ms"); ok && v != "" {
		if n, err := strconv.Atoi(v); err != nil || n < 0 {
			out = append(out, model.Failure("Delay must be a non-negative number of milliseconds."))
		}
	}
	return out
}

func (p *Mock) Execute(ctx context.Context, params *ExecutionParams) model.ActionResult {
	def := p.Definition()
	msg := params.Param(def, "message")
	if params.IsPreviewOnly {
		return model.Success("Mock task would log: " + msg)
	}

	if delay, _ := strconv.Atoi(params.Param(def, "delay_ms")); delay > 0 {
		select {
		case <-time.After(time.Duration(delay) * time.Millisecond):
		case <-ctx.Done():
			return model.Failure("Mock task interrupted: " + ctx.Err().Error())
		}
	}

	if params.BoolParam(def, "throw") {
		return model.Failure(fmt.Sprintf("Mock task failed: %s", msg))
	}
	params.Log.WithField("message", msg).Info("mock 任务执行")
	return model.Success(fmt.Sprintf("Mock task executed: %s [%s]", msg, params.Outcome))
}
