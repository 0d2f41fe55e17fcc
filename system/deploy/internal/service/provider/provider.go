// Package provider 部署任务提供者及其注册表
package provider

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"certdeploy/pkg/core/logger"
	"certdeploy/pkg/server/transport"
	"certdeploy/system/deploy/internal/model"
)

// ExecutionParams 一次任务调用的上下文
type ExecutionParams struct {
	Log           *logger.Log
	Task          *model.DeploymentTaskConfig
	Certificate   *model.ManagedCertificate
	Credentials   map[string]string
	Client        transport.Client // 预览或校验时可能为 nil
	IsPreviewOnly bool
	Outcome       model.RequestOutcome
}

// Param 读取任务参数，未配置时取提供者声明的默认值
func (p *ExecutionParams) Param(def model.ProviderDefinition, key string) string {
	if v, ok := p.Task.Param(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	for _, pp := range def.Parameters {
		if strings.EqualFold(pp.Key, key) {
			return pp.DefaultValue
		}
	}
	return ""
}

// BoolParam 读取布尔参数
func (p *ExecutionParams) BoolParam(def model.ProviderDefinition, key string) bool {
	b, _ := strconv.ParseBool(p.Param(def, key))
	return b
}

// Provider 部署任务提供者。预期内的失败通过 ActionResult 返回
type Provider interface {
	Definition() model.ProviderDefinition
	// Validate 返回校验失败项，空表示通过
	Validate(ctx context.Context, params *ExecutionParams) []model.ActionResult
	Execute(ctx context.Context, params *ExecutionParams) model.ActionResult
}

type Factory func() Provider

// Registry 任务类型到提供者的只读映射
type Registry struct {
	factories map[string]Factory
}

func NewRegistry(factories ...Factory) *Registry {
	r := &Registry{factories: make(map[string]Factory, len(factories))}
	for _, f := range factories {
		id := strings.ToLower(f().Definition().ID)
		if _, ok := r.factories[id]; ok {
			panic(fmt.Sprintf("重复注册的任务提供者: %s", id))
		}
		r.factories[id] = f
	}
	return r
}

// DefaultRegistry 内置的全部提供者
func DefaultRegistry() *Registry {
	return NewRegistry(
		func() Provider { return &CertificateExport{} },
		func() Provider { return &Script{} },
		func() Provider { return &Webhook{} },
		func() Provider { return &AliyunCAS{} },
		func() Provider { return &Mock{} },
	)
}

// Get 按任务类型查找，大小写不敏感
func (r *Registry) Get(taskTypeID string) (Provider, bool) {
	f, ok := r.factories[strings.ToLower(strings.TrimSpace(taskTypeID))]
	if !ok {
		return nil, false
	}
	return f(), true
}

// Definitions 按 ID 排序的提供者定义
func (r *Registry) Definitions() []model.ProviderDefinition {
	defs := make([]model.ProviderDefinition, 0, len(r.factories))
	for _, f := range r.factories {
		defs = append(defs, f().Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

// ValidateParameters 检查必填参数与下拉选项
func ValidateParameters(def model.ProviderDefinition, task *model.DeploymentTaskConfig) []model.ActionResult {
	var out []model.ActionResult
	for _, p := range def.Parameters {
		v, _ := task.Param(p.Key)
		v = strings.TrimSpace(v)
		if v == "" {
			if p.IsRequired && p.DefaultValue == "" {
				out = append(out, model.Failure(fmt.Sprintf("Required parameter '%s' is missing.", p.Name)))
			}
			continue
		}
		if p.Type == "dropdown" && len(p.Options) > 0 && !containsFold(p.Options, v) {
			out = append(out, model.Failure(fmt.Sprintf("Parameter '%s' must be one of: %s.", p.Name, strings.Join(p.Options, ", "))))
		}
		if p.Type == "boolean" {
			if _, err := strconv.ParseBool(v); err != nil {
				out = append(out, model.Failure(fmt.Sprintf("Parameter '%s' must be true or false.", p.Name)))
			}
		}
	}
	return out
}

// certificateFiles 读取证书与私钥 PEM
func certificateFiles(mc *model.ManagedCertificate) (certPEM, keyPEM []byte, err error) {
	if mc == nil || mc.CertificatePath == "" {
		return nil, nil, fmt.Errorf("certificate has not been issued yet")
	}
	certPEM, err = os.ReadFile(mc.CertificatePath)
	if err != nil {
		return nil, nil, fmt.Errorf("could not read certificate: %w", err)
	}
	keyPEM, err = os.ReadFile(mc.PrivateKeyPath())
	if err != nil {
		return nil, nil, fmt.Errorf("could not read private key: %w", err)
	}
	return certPEM, keyPEM, nil
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
