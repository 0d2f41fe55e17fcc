package target

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	errorc "certdeploy/pkg/core/err"
	"certdeploy/pkg/core/logger"
	"certdeploy/pkg/server/transport"
	"certdeploy/system/deploy/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSelfSigned(t *testing.T, dir, host string) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: host},
		DNSNames:     []string{host},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tpl, tpl, &key.PublicKey, key)
	require.NoError(t, err)
	path := filepath.Join(dir, host+".pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0600))
	return path
}

func TestMemoryTarget(t *testing.T) {
	ctx := context.Background()
	tgt := NewMemoryTarget("mem", WithMaxBindings(2), WithRejectHost("bad.example.com", "invalid host"))
	tgt.AddSite(model.TargetSite{ID: "1", Name: "Site1"},
		model.BindingInfo{Host: "a.example.com", Protocol: "http", Port: 80, IPAddress: "*"})

	https := model.BindingInfo{SiteID: "1", Host: "a.example.com", Protocol: "https", Port: 443, IPAddress: "*", IsSNIEnabled: true}

	t.Run("新增后重复新增不产生重复绑定", func(t *testing.T) {
		step := tgt.AddOrUpdateBinding(ctx, https, true)
		assert.False(t, step.HasError)
		step = tgt.AddOrUpdateBinding(ctx, https, true)
		assert.False(t, step.HasError)
		assert.True(t, step.HasWarning)
		assert.Len(t, tgt.Snapshot(), 2)
	})

	t.Run("0.0.0.0 与 * 视为同一绑定", func(t *testing.T) {
		b := https
		b.IPAddress = "0.0.0.0"
		step := tgt.AddOrUpdateBinding(ctx, b, false)
		assert.False(t, step.HasError)
		assert.Len(t, tgt.Snapshot(), 2)
	})

	t.Run("更新不存在的绑定", func(t *testing.T) {
		b := https
		b.Host = "missing.example.com"
		step := tgt.AddOrUpdateBinding(ctx, b, false)
		assert.True(t, step.HasError)
	})

	t.Run("超过绑定上限", func(t *testing.T) {
		b := https
		b.Host = "c.example.com"
		step := tgt.AddOrUpdateBinding(ctx, b, true)
		assert.True(t, step.HasError)
		assert.Equal(t, "too many bindings", step.Description)
	})

	t.Run("目标拒绝主机名", func(t *testing.T) {
		b := https
		b.Host = "bad.example.com"
		step := tgt.AddOrUpdateBinding(ctx, b, true)
		assert.True(t, step.HasError)
		assert.Equal(t, "invalid host", step.Description)
	})

	t.Run("已取消的上下文", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		step := tgt.AddOrUpdateBinding(cctx, https, false)
		assert.True(t, step.HasError)
		_, err := tgt.ListSites(cctx)
		assert.Error(t, err)
	})

	t.Run("导入证书计算指纹", func(t *testing.T) {
		path := writeSelfSigned(t, t.TempDir(), "a.example.com")
		id, err := tgt.ImportCertificate(ctx, path)
		require.NoError(t, err)
		assert.Len(t, id.Thumbprint, 40)
		assert.Equal(t, "MY", id.Store)
		assert.Equal(t, 0, tgt.ConcurrentWrites())
	})

	t.Run("导入空路径失败", func(t *testing.T) {
		_, err := tgt.ImportCertificate(ctx, "")
		assert.Error(t, err)
	})
}

func TestFileTarget(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "bindings.yaml")
	doc := `sites:
  - id: "1"
    name: Default Web Site
    bindings:
      - host: www.example.com
        protocol: http
        port: 80
        ip_address: "*"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	marker := filepath.Join(dir, "reloaded")
	client := transport.NewLocalClient(10*time.Second, nil)
	tgt := NewFileTarget("file", path, "touch "+marker, client, logger.GetLogger())

	sites, err := tgt.ListSites(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.TargetSite{{ID: "1", Name: "Default Web Site"}}, sites)

	bindings, err := tgt.ListBindings(ctx, "1")
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	assert.Equal(t, "Default Web Site", bindings[0].SiteName)

	certPath := writeSelfSigned(t, dir, "www.example.com")
	id, err := tgt.ImportCertificate(ctx, certPath)
	require.NoError(t, err)

	add := model.BindingInfo{SiteID: "1", Host: "www.example.com", Protocol: "https", Port: 443, IPAddress: "*", IsSNIEnabled: true, CertificateThumbprint: id.Thumbprint}
	step := tgt.AddOrUpdateBinding(ctx, add, true)
	assert.False(t, step.HasError, step.Description)
	assert.FileExists(t, marker)

	step = tgt.AddOrUpdateBinding(ctx, add, true)
	assert.False(t, step.HasError)

	bindings, err = tgt.ListBindings(ctx, "")
	require.NoError(t, err)
	assert.Len(t, bindings, 2)

	missing := add
	missing.SiteID = "9"
	assert.True(t, tgt.AddOrUpdateBinding(ctx, missing, true).HasError)

	_, err = tgt.ImportCertificate(ctx, certPath)
	require.NoError(t, err)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), id.Thumbprint)
}

func TestFileTargetCancelledContext(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bindings.yaml")
	doc := `sites:
  - id: "1"
    name: Default Web Site
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))
	tgt := NewFileTarget("file", path, "", nil, logger.GetLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	add := model.BindingInfo{SiteID: "1", Host: "www.example.com", Protocol: "https", Port: 443, IPAddress: "*"}
	step := tgt.AddOrUpdateBinding(ctx, add, true)
	assert.True(t, step.HasError)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, doc, string(raw))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(NewMemoryTarget("first"), NewMemoryTarget("second"))

	tgt, err := r.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "first", tgt.ID())

	tgt, err = r.Resolve("second")
	require.NoError(t, err)
	assert.Equal(t, "second", tgt.ID())

	_, err = r.Resolve("third")
	assert.True(t, errorc.IsNotFound(err))
	assert.Equal(t, []string{"first", "second"}, r.IDs())
}
