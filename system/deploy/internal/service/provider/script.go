package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"certdeploy/system/deploy/internal/model"
)

// Script 在目标上执行命令，证书信息通过环境变量传入
type Script struct{}

func (p *Script) Definition() model.ProviderDefinition {
	return model.ProviderDefinition{
		ID:          "script",
		Title:       "Run Script",
		Description: "Run a shell command or script on the target. Certificate details are passed as CERT_* variables.",
		SupportedContexts: model.ContextLocalAsService | model.ContextLocalAsUser | model.ContextSSH,
		SupportsRemoteTarget: true,
		Parameters: []model.ProviderParameter{
			{Key: "command", Name: "Command", IsRequired: true, Type: "multiline"},
			{Key: "workdir", Name: "Working Directory", Type: "string"},
			{Key: "ignore_exit_code", Name: "Ignore Exit Code", Type: "boolean", DefaultValue: "false"},
		},
	}
}

func (p *Script) Validate(ctx context.Context, params *ExecutionParams) []model.ActionResult {
	return ValidateParameters(p.Definition(), params.Task)
}

func (p *Script) Execute(ctx context.Context, params *ExecutionParams) model.ActionResult {
	def := p.Definition()
	command := p.buildCommand(params)
	if params.IsPreviewOnly {
		return model.Success("Would run: " + params.Param(def, "command"))
	}
	if params.Client == nil {
		return model.Failure("No transport available to run script.")
	}

	res, err := params.Client.Run(ctx, command)
	if err != nil {
		return model.Failure(fmt.Sprintf("Script could not be started: %s", err.Error()))
	}
	output := strings.TrimSpace(res.Stdout)
	if !res.Success() && !params.BoolParam(def, "ignore_exit_code") {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = output
		}
		return model.Failure(fmt.Sprintf("Script failed (%s, exit code %d): %s", res.Status, res.ExitCode, msg))
	}

	params.Log.WithField("exit_code", res.ExitCode).Info("脚本执行完成")
	return model.Success(output)
}

// buildCommand 附加环境变量与工作目录
func (p *Script) buildCommand(params *ExecutionParams) string {
	def := p.Definition()
	env := scriptEnv(params)
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("%s=%s ", k, shellQuote(env[k])))
	}
	prefix := ""
	if dir := params.Param(def, "workdir"); dir != "" {
		prefix = "cd " + shellQuote(dir) + " && "
	}
	return prefix + sb.String() + "sh -c " + shellQuote(params.Param(def, "command"))
}

func scriptEnv(params *ExecutionParams) map[string]string {
	env := map[string]string{
		"CERT_OUTCOME": string(params.Outcome),
	}
	if mc := params.Certificate; mc != nil {
		env["CERT_ID"] = mc.ID
		env["CERT_NAME"] = mc.Name
		env["CERT_PRIMARY_DOMAIN"] = mc.DomainSet.PrimaryDomain
		env["CERT_DOMAINS"] = strings.Join(mc.DomainSet.Names(), ",")
		env["CERT_PATH"] = mc.CertificatePath
		env["CERT_KEY_PATH"] = mc.PrivateKeyPath()
		env["CERT_THUMBPRINT"] = mc.CertificateThumbprint
	}
	return env
}

// shellQuote 单引号包裹，内部单引号转义
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
