package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"certdeploy/system/deploy/api/dto"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCertificates = `certificates:
  - id: cert-1
    name: Example
    domain_set:
      primary_domain: www.example.com
    policy:
      deployment_site_option: Auto
      deployment_binding_option: AddOrUpdate
      binding_match_hostname: true
      perform_automated_cert_binding: true
    post_request_tasks:
      - id: ok
        task_type_id: mock
        task_name: notify
        task_trigger: MANUAL
        parameters:
          - key: message
            value: hello
      - id: broken
        task_type_id: mock
        task_name: broken
        is_deferred: true
        parameters:
          - key: message
            value: boom
          - key: throw
            value: "true"
`

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	certificates := filepath.Join(dir, "certificates.yaml")
	require.NoError(t, os.WriteFile(certificates, []byte(testCertificates), 0644))
	conf := `app-name: certdeploy-cli
credential:
  salt: test-salt
deploy:
  cert-dir: ` + filepath.Join(dir, "certs") + `
  certificates-file: ` + certificates + `
  renew-cron: "-"
  targets:
    - id: web
      path: ` + filepath.Join(dir, "bindings.yaml") + `
`
	file := filepath.Join(dir, "test.yaml")
	require.NoError(t, os.WriteFile(file, []byte(conf), 0644))
	return file
}

func runCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunDeploy(t *testing.T) {
	conf := writeConfig(t)

	t.Run("任务成功返回0", func(t *testing.T) {
		code, out, _ := runCLI("deploy", "--config", conf, "--cert", "cert-1", "--task", "ok")
		assert.Equal(t, exitOK, code)
		var steps []dto.ActionStep
		require.NoError(t, json.Unmarshal([]byte(out), &steps))
		require.Len(t, steps, 1)
		assert.False(t, steps[0].HasError)
	})

	t.Run("任务失败返回非0", func(t *testing.T) {
		code, out, _ := runCLI("deploy", "--config", conf, "--cert", "cert-1", "--task", "broken")
		assert.Equal(t, exitError, code)
		var steps []dto.ActionStep
		require.NoError(t, json.Unmarshal([]byte(out), &steps))
		assert.True(t, dto.AnyError(steps))
	})

	t.Run("预览不执行失败任务", func(t *testing.T) {
		code, _, _ := runCLI("deploy", "--config", conf, "--cert", "cert-1", "--task", "broken", "--preview")
		assert.Equal(t, exitOK, code)
	})

	t.Run("任务不存在", func(t *testing.T) {
		code, _, _ := runCLI("deploy", "--config", conf, "--cert", "cert-1", "--task", "missing")
		assert.Equal(t, exitError, code)
	})

	t.Run("证书不存在", func(t *testing.T) {
		code, _, _ := runCLI("deploy", "--config", conf, "--cert", "nope", "--task", "ok")
		assert.Equal(t, exitError, code)
	})
}

func TestRunUsage(t *testing.T) {
	conf := writeConfig(t)

	cases := []struct {
		name string
		args []string
	}{
		{"无参数", nil},
		{"未知命令", []string{"rotate"}},
		{"缺少证书", []string{"deploy", "--config", conf, "--task", "ok"}},
		{"缺少任务", []string{"deploy", "--config", conf, "--cert", "cert-1"}},
		{"未知参数", []string{"preview", "--config", conf, "--bogus"}},
		{"配置不存在", []string{"preview", "--config", filepath.Join(t.TempDir(), "none.yaml"), "--cert", "cert-1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, _, _ := runCLI(tc.args...)
			assert.Equal(t, exitUsage, code)
		})
	}

	code, out, _ := runCLI("help")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "certdeploy <command>")
}

func TestRunPreview(t *testing.T) {
	conf := writeConfig(t)
	code, out, _ := runCLI("preview", "--config", conf, "--cert", "cert-1")
	assert.Equal(t, exitOK, code)

	var results []*dto.RenewalResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "cert-1", results[0].CertificateID)
	assert.NotEmpty(t, results[0].Steps)
}

func TestSplitIDs(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitIDs(" a, ,b,"))
	assert.Nil(t, splitIDs(""))
}
