package provider

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"certdeploy/pkg/core/logger"
	"certdeploy/pkg/server/transport"
	"certdeploy/system/deploy/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memClient struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemClient() *memClient { return &memClient{files: map[string][]byte{}} }

func (c *memClient) Kind() transport.AuthType { return transport.AuthTypeSSH }
func (c *memClient) ListFiles(ctx context.Context, dir string) ([]transport.FileInfo, error) {
	return nil, nil
}
func (c *memClient) CopyFile(ctx context.Context, dest string, content []byte, mode os.FileMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[dest] = content
	return nil
}
func (c *memClient) Run(ctx context.Context, command string) (*transport.CommandResult, error) {
	return &transport.CommandResult{Command: command, Status: transport.CommandStatusCompleted}, nil
}
func (c *memClient) Close() error { return nil }

func pemCert(t *testing.T, cn string) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tpl, tpl, &key.PublicKey, key)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

// issuedCertificate 在临时目录写入证书链与私钥
func issuedCertificate(t *testing.T) *model.ManagedCertificate {
	dir := t.TempDir()
	chain := append(pemCert(t, "leaf.example.com"), pemCert(t, "intermediate")...)
	require.NoError(t, os.WriteFile(filepath.Join(dir, model.CertificateFileName), chain, 0600))
	key := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: []byte("key")})
	require.NoError(t, os.WriteFile(filepath.Join(dir, model.PrivateKeyFileName), key, 0600))
	return &model.ManagedCertificate{
		ID:              "cert-1",
		Name:            "Example",
		DomainSet:       model.DomainSet{PrimaryDomain: "leaf.example.com"},
		CertificatePath: filepath.Join(dir, model.CertificateFileName),
	}
}

func task(typeID string, params ...string) *model.DeploymentTaskConfig {
	cfg := &model.DeploymentTaskConfig{ID: "t1", TaskTypeID: typeID, TaskName: "task"}
	for i := 0; i+1 < len(params); i += 2 {
		cfg.Parameters = append(cfg.Parameters, model.TaskParameter{Key: params[i], Value: params[i+1]})
	}
	return cfg
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()

	p, ok := r.Get("Certificate_Export")
	require.True(t, ok)
	assert.Equal(t, "certificate_export", p.Definition().ID)

	_, ok = r.Get("unknown")
	assert.False(t, ok)

	defs := r.Definitions()
	ids := make([]string, 0, len(defs))
	for _, d := range defs {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"aliyun_cas", "certificate_export", "mock", "script", "webhook"}, ids)

	assert.Panics(t, func() {
		NewRegistry(func() Provider { return &Mock{} }, func() Provider { return &Mock{} })
	})
}

func TestValidateParameters(t *testing.T) {
	def := (&CertificateExport{}).Definition()

	tests := []struct {
		name  string
		task  *model.DeploymentTaskConfig
		fails int
	}{
		{"必填参数缺失", task("certificate_export"), 1},
		{"使用默认类型", task("certificate_export", "path", "/tmp/a.pem"), 0},
		{"非法的下拉选项", task("certificate_export", "path", "/tmp/a.pem", "type", "pfx"), 1},
		{"下拉选项大小写不敏感", task("certificate_export", "path", "/tmp/a.pem", "type", "PEMKEY"), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, ValidateParameters(def, tt.task), tt.fails)
		})
	}

	mockDef := (&Mock{}).Definition()
	assert.Len(t, ValidateParameters(mockDef, task("mock", "message", "hi", "throw", "maybe")), 1)
}

func TestCertificateExport(t *testing.T) {
	ctx := context.Background()
	mc := issuedCertificate(t)
	p := &CertificateExport{}

	tests := []struct {
		name       string
		exportType string
		certs      int
		hasKey     bool
	}{
		{"仅证书", ExportPemCrt, 1, false},
		{"证书链", ExportPemChain, 2, false},
		{"仅私钥", ExportPemKey, 0, true},
		{"完整", ExportPemFull, 2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newMemClient()
			params := &ExecutionParams{
				Log:         logger.GetLogger(),
				Task:        task("certificate_export", "path", "/etc/ssl/out.pem", "type", tt.exportType),
				Certificate: mc,
				Client:      client,
			}
			res := p.Execute(ctx, params)
			require.True(t, res.IsSuccess, res.Message)
			out := string(client.files["/etc/ssl/out.pem"])
			assert.Equal(t, tt.certs, strings.Count(out, "BEGIN CERTIFICATE"))
			assert.Equal(t, tt.hasKey, strings.Contains(out, "PRIVATE KEY"))
		})
	}

	t.Run("预览不写文件", func(t *testing.T) {
		client := newMemClient()
		res := p.Execute(ctx, &ExecutionParams{
			Log: logger.GetLogger(), Task: task("certificate_export", "path", "/x.pem"),
			Certificate: mc, Client: client, IsPreviewOnly: true,
		})
		assert.True(t, res.IsSuccess)
		assert.Empty(t, client.files)
	})

	t.Run("证书尚未签发", func(t *testing.T) {
		res := p.Execute(ctx, &ExecutionParams{
			Log: logger.GetLogger(), Task: task("certificate_export", "path", "/x.pem"),
			Certificate: &model.ManagedCertificate{ID: "new"}, Client: newMemClient(),
		})
		assert.False(t, res.IsSuccess)
	})
}

func TestScript(t *testing.T) {
	ctx := context.Background()
	client := transport.NewLocalClient(10*time.Second, nil)
	mc := &model.ManagedCertificate{ID: "cert-1", DomainSet: model.DomainSet{PrimaryDomain: "it's.example.com"}}
	p := &Script{}

	res := p.Execute(ctx, &ExecutionParams{
		Log: logger.GetLogger(), Task: task("script", "command", `echo "$CERT_PRIMARY_DOMAIN $CERT_OUTCOME"`),
		Certificate: mc, Client: client, Outcome: model.OutcomeSuccess,
	})
	require.True(t, res.IsSuccess, res.Message)
	assert.Equal(t, "it's.example.com Success", res.Message)

	res = p.Execute(ctx, &ExecutionParams{
		Log: logger.GetLogger(), Task: task("script", "command", "echo boom >&2; exit 3"),
		Certificate: mc, Client: client,
	})
	assert.False(t, res.IsSuccess)
	assert.Contains(t, res.Message, "exit code 3")
	assert.Contains(t, res.Message, "boom")

	res = p.Execute(ctx, &ExecutionParams{
		Log: logger.GetLogger(), Task: task("script", "command", "exit 3", "ignore_exit_code", "true"),
		Certificate: mc, Client: client,
	})
	assert.True(t, res.IsSuccess)
}

func TestWebhook(t *testing.T) {
	ctx := context.Background()
	var gotBody, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotAuth = r.Header.Get("Authorization")
		if strings.Contains(gotBody, "fail") {
			w.Write([]byte(`{"code":1}`))
			return
		}
		w.Write([]byte(`{"code":0}`))
	}))
	defer srv.Close()

	mc := &model.ManagedCertificate{ID: "cert-1", DomainSet: model.DomainSet{PrimaryDomain: "a.example.com"}}
	p := &Webhook{}

	t.Run("默认 JSON 请求体", func(t *testing.T) {
		res := p.Execute(ctx, &ExecutionParams{
			Log: logger.GetLogger(), Task: task("webhook", "url", srv.URL),
			Certificate: mc, Outcome: model.OutcomeError,
			Credentials: map[string]string{"token": "secret"},
		})
		require.True(t, res.IsSuccess, res.Message)
		assert.Contains(t, gotBody, `"primary_domain":"a.example.com"`)
		assert.Contains(t, gotBody, `"outcome":"Error"`)
		assert.Equal(t, "Bearer secret", gotAuth)
	})

	t.Run("模板与响应校验", func(t *testing.T) {
		params := &ExecutionParams{
			Log:         logger.GetLogger(),
			Task:        task("webhook", "url", srv.URL, "body", "fail {cert_id}", "success_json_path", "code", "success_value", "0"),
			Certificate: mc,
		}
		res := p.Execute(ctx, params)
		assert.False(t, res.IsSuccess)
		assert.Equal(t, "fail cert-1", gotBody)
	})

	t.Run("URL 校验", func(t *testing.T) {
		fails := p.Validate(ctx, &ExecutionParams{Task: task("webhook", "url", "ftp://x")})
		assert.Len(t, fails, 1)
		fails = p.Validate(ctx, &ExecutionParams{Task: task("webhook", "url", srv.URL, "success_json_path", "code")})
		assert.Len(t, fails, 1)
	})
}

func TestMock(t *testing.T) {
	p := &Mock{}
	res := p.Execute(context.Background(), &ExecutionParams{Log: logger.GetLogger(), Task: task("mock", "message", "hi", "throw", "true")})
	assert.False(t, res.IsSuccess)
	assert.Equal(t, "Mock task failed: hi", res.Message)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	res = p.Execute(ctx, &ExecutionParams{Log: logger.GetLogger(), Task: task("mock", "message", "slow", "delay_ms", "5000")})
	assert.False(t, res.IsSuccess)
}

func TestAliyunCASValidate(t *testing.T) {
	p := &AliyunCAS{}
	ctx := context.Background()

	fails := p.Validate(ctx, &ExecutionParams{Task: task("aliyun_cas", "services", "cdn, waf"), Credentials: map[string]string{}})
	assert.Len(t, fails, 2)

	fails = p.Validate(ctx, &ExecutionParams{
		Task:        task("aliyun_cas", "services", "cdn,oss"),
		Credentials: map[string]string{"accesskey_id": "id", "accesskey_secret": "secret"},
	})
	assert.Empty(t, fails)

	res := p.Execute(ctx, &ExecutionParams{
		Task:          task("aliyun_cas", "services", "cdn"),
		Certificate:   &model.ManagedCertificate{DomainSet: model.DomainSet{PrimaryDomain: "a.example.com"}},
		IsPreviewOnly: true,
	})
	assert.True(t, res.IsSuccess)
	assert.Contains(t, res.Message, "a.example.com")
	assert.True(t, model.ContextExternalCredential.Has(p.Definition().SupportedContexts))
	assert.True(t, p.Definition().SupportedContexts.RequiresCredentials())
	assert.Len(t, uniqueCertName([]string{strings.Repeat("a", 120)}), 100)
}
