package provider

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"certdeploy/pkg/core/util"
	"certdeploy/pkg/server/credential"
	"certdeploy/system/deploy/internal/model"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Webhook 调用 HTTP 接口通知证书变更
type Webhook struct{}

func (p *Webhook) Definition() model.ProviderDefinition {
	return model.ProviderDefinition{
		ID:                "webhook",
		Title:             "Webhook",
		Description:       "Call an HTTP endpoint with the renewal result.",
		SupportedContexts: model.ContextLocalAsService | model.ContextExternalCredential,
		Parameters: []model.ProviderParameter{
			{Key: "url", Name: "Webhook URL", IsRequired: true, Type: "string"},
			{Key: "method", Name: "Method", Type: "dropdown", Options: []string{"POST", "PUT", "GET"}, DefaultValue: "POST"},
			{Key: "content_type", Name: "Content Type", Type: "string", DefaultValue: "application/json"},
			{Key: "body", Name: "Body Template", Type: "multiline",
				Description: "Supports {cert_id}, {cert_name}, {primary_domain}, {outcome}, {thumbprint}, {expiry}."},
			{Key: "success_json_path", Name: "Success JSON Path", Type: "string"},
			{Key: "success_value", Name: "Success Value", Type: "string"},
		},
	}
}

func (p *Webhook) Validate(ctx context.Context, params *ExecutionParams) []model.ActionResult {
	out := ValidateParameters(p.Definition(), params.Task)
	if raw, ok := params.Task.Param("url"); ok && raw != "" {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			out = append(out, model.Failure("Webhook URL must be an absolute http(s) URL."))
		}
	}
	if path, _ := params.Task.Param("success_json_path"); path != "" {
		if v, _ := params.Task.Param("success_value"); v == "" {
			out = append(out, model.Failure("Success Value is required when Success JSON Path is set."))
		}
	}
	return out
}

func (p *Webhook) Execute(ctx context.Context, params *ExecutionParams) model.ActionResult {
	def := p.Definition()
	method := strings.ToUpper(params.Param(def, "method"))
	target := params.Param(def, "url")
	if params.IsPreviewOnly {
		return model.Success(fmt.Sprintf("Would call %s %s.", method, target))
	}

	body, err := p.body(params)
	if err != nil {
		return model.Failure(err.Error())
	}
	var headers []util.Header
	if token := params.Credentials[credential.SecretToken]; token != "" {
		headers = append(headers, util.Header{Key: "Authorization", Value: "Bearer " + token})
	}

	timeout := 30 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return model.Failure("Webhook skipped: " + context.DeadlineExceeded.Error())
		}
	}

	var payload []byte
	if method != "GET" {
		payload = body
	}
	resp, err := util.HttpDo(method, target, params.Param(def, "content_type"), payload, timeout, headers...)
	if err != nil {
		return model.Failure(fmt.Sprintf("Webhook request failed: %s", err.Error()))
	}
	if !resp.IsSuccess() {
		return model.Failure(fmt.Sprintf("Webhook returned status %d: %s", resp.StatusCode, truncate(string(resp.Body), 200)))
	}

	if path := params.Param(def, "success_json_path"); path != "" {
		got := resp.Result().Get(path)
		want := params.Param(def, "success_value")
		if !got.Exists() || got.String() != want {
			return model.Failure(fmt.Sprintf("Webhook response %s=%q, expected %q.", path, got.String(), want))
		}
	}

	params.Log.WithField("url", target).WithField("status", resp.StatusCode).Info("webhook 调用成功")
	return model.Success("Webhook completed with status " + strconv.Itoa(resp.StatusCode) + ".")
}

// body 模板为空时发送默认 JSON
func (p *Webhook) body(params *ExecutionParams) ([]byte, error) {
	mc := params.Certificate
	fields := map[string]string{
		"cert_id":        "",
		"cert_name":      "",
		"primary_domain": "",
		"outcome":        string(params.Outcome),
		"thumbprint":     "",
		"expiry":         "",
	}
	if mc != nil {
		fields["cert_id"] = mc.ID
		fields["cert_name"] = mc.Name
		fields["primary_domain"] = mc.DomainSet.PrimaryDomain
		fields["thumbprint"] = mc.CertificateThumbprint
		if mc.DateExpiry != nil {
			fields["expiry"] = mc.DateExpiry.UTC().Format(time.RFC3339)
		}
	}

	tpl, _ := params.Task.Param("body")
	if strings.TrimSpace(tpl) == "" {
		return json.Marshal(fields)
	}
	pairs := make([]string, 0, len(fields)*2)
	for k, v := range fields {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return []byte(strings.NewReplacer(pairs...).Replace(tpl)), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
