package app

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"certdeploy/pkg/core/logger"
	"certdeploy/pkg/core/mvc"
	"certdeploy/pkg/core/util"
	"certdeploy/pkg/lock"
	"certdeploy/pkg/server/transport"
	"certdeploy/system/deploy/internal/dao"
	"certdeploy/system/deploy/internal/model"
	"certdeploy/system/deploy/internal/service"
	"certdeploy/system/deploy/internal/service/provider"
	"certdeploy/system/deploy/internal/target"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAcquirer 本地自签证书代替 ACME
type fakeAcquirer struct {
	calls atomic.Int32
	fail  error
	gate  chan struct{} // 非 nil 时阻塞到关闭
}

func (f *fakeAcquirer) Acquire(ctx context.Context, mc *model.ManagedCertificate) (*service.AcquiredCertificate, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail != nil {
		return nil, f.fail
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	names := mc.DomainSet.Names()
	tpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: names[0]},
		DNSNames:     names,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(90 * 24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tpl, tpl, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	cert, _ := x509.ParseCertificate(der)
	keyDER, _ := x509.MarshalECPrivateKey(key)
	return &service.AcquiredCertificate{
		FullchainPEM:  pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		PrivateKeyPEM: pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
		Thumbprint:    util.Thumbprint(cert),
		NotBefore:     cert.NotBefore,
		NotAfter:      cert.NotAfter,
	}, nil
}

type fixture struct {
	app      *App
	store    *dao.MemoryCertificateStore
	history  *dao.MemoryHistoryStore
	target   *target.MemoryTarget
	acquirer *fakeAcquirer
}

func newFixture(t *testing.T, opts ...target.MemoryOption) *fixture {
	t.Helper()
	log := logger.GetLogger()
	metrics := service.NewMetrics(prometheus.NewRegistry())
	locks := lock.NewLocalLockManager()
	tgt := target.NewMemoryTarget("iis", opts...)
	f := &fixture{
		store:    dao.NewMemoryCertificateStore(),
		history:  dao.NewMemoryHistoryStore(),
		target:   tgt,
		acquirer: &fakeAcquirer{},
	}
	f.app = NewApp(Deps{
		Certificates: f.store,
		History:      f.history,
		Targets:      target.NewRegistry(tgt),
		Acquirer:     f.acquirer,
		Bindings:     service.NewBindingDeployService(log, locks, service.BindingDeployConfig{LockWait: 10 * time.Second}, metrics),
		Pipeline: service.NewTaskPipeline(log, provider.DefaultRegistry(), nil, transport.NewFactory(nil),
			service.TaskPipelineConfig{TaskTimeout: 10 * time.Second}, metrics),
		Locks:   locks,
		Metrics: metrics,
	}, Config{CertDir: t.TempDir(), BatchConcurrency: 4})
	return f
}

func (f *fixture) addCert(t *testing.T, mc *model.ManagedCertificate) {
	t.Helper()
	require.NoError(t, f.store.Save(context.Background(), mc))
}

func managedCert(id string, hosts ...string) *model.ManagedCertificate {
	return &model.ManagedCertificate{
		ID:        id,
		Name:      id,
		DomainSet: model.DomainSet{PrimaryDomain: hosts[0], SubjectAlternativeNames: hosts},
		Policy: model.DeploymentPolicy{
			DeploymentSiteOption:        model.DeploymentSiteAuto,
			DeploymentBindingOption:     model.DeploymentBindingAddOrUpdate,
			BindingMatchHostname:        true,
			PerformAutomatedCertBinding: true,
		},
		Challenge: model.ChallengeConfig{Type: model.ChallengeHTTP01},
	}
}

func mockTask(id, name string, trigger model.TaskTrigger, params ...string) model.DeploymentTaskConfig {
	task := model.DeploymentTaskConfig{
		ID:          id,
		TaskTypeID:  "mock",
		TaskName:    name,
		TaskTrigger: trigger,
		Parameters:  []model.TaskParameter{{Key: "message", Value: name}},
	}
	for i := 0; i+1 < len(params); i += 2 {
		task.Parameters = append(task.Parameters, model.TaskParameter{Key: params[i], Value: params[i+1]})
	}
	return task
}

func httpBinding(site, host string) model.BindingInfo {
	return model.BindingInfo{SiteID: site, SiteName: "Site" + site, Host: host, Protocol: "http", Port: 80, IPAddress: "*"}
}

func categories(steps []model.ActionStep) []string {
	out := make([]string, 0, len(steps))
	for _, s := range steps {
		out = append(out, s.Category)
	}
	return out
}

func titles(steps []model.ActionStep) []string {
	out := make([]string, 0, len(steps))
	for _, s := range steps {
		out = append(out, s.Title)
	}
	return out
}

func findStep(steps []model.ActionStep, category string) *model.ActionStep {
	for i := range steps {
		if steps[i].Category == category {
			return &steps[i]
		}
	}
	return nil
}

func TestPerformRenewal(t *testing.T) {
	ctx := context.Background()

	t.Run("成功", func(t *testing.T) {
		f := newFixture(t)
		f.target.AddSite(model.TargetSite{ID: "1", Name: "Site1"}, httpBinding("1", "a.example.com"), httpBinding("1", "other.com"))
		mc := managedCert("cert-1", "a.example.com")
		mc.PostRequestTasks = []model.DeploymentTaskConfig{
			mockTask("t1", "on-success", model.TaskTriggerOnSuccess),
			mockTask("t2", "on-error", model.TaskTriggerOnError),
		}
		f.addCert(t, mc)

		res := f.app.PerformRenewal(ctx, "cert-1", "tester")
		assert.True(t, res.IsSuccess)
		assert.False(t, res.HasWarning)
		assert.Equal(t, model.RenewalStatusSuccess, res.Status)
		assert.Equal(t, model.RenewalCompleted, res.State)
		assert.Equal(t, []string{model.CategoryCertificateRequest, model.CategoryDeployment, model.CategoryPostRequestTasks}, categories(res.Steps))

		deploy := findStep(res.Steps, model.CategoryDeployment)
		require.NotNil(t, deploy)
		require.Len(t, deploy.Substeps, 2)
		assert.Equal(t, "Certificate will be stored in the computer certificate store", deploy.Substeps[0].Description)
		assert.Equal(t, "Add https binding | Site1 | ***:443:a.example.com SNI**", deploy.Substeps[1].Description)

		post := findStep(res.Steps, model.CategoryPostRequestTasks)
		require.NotNil(t, post)
		assert.Equal(t, []string{"on-success"}, titles(post.Substeps))

		saved, err := f.store.Get(ctx, "cert-1")
		require.NoError(t, err)
		assert.Equal(t, model.RenewalStatusSuccess, saved.LastRenewalStatus)
		assert.NotEmpty(t, saved.CertificateThumbprint)
		assert.NotNil(t, saved.DateExpiry)
		_, err = os.Stat(saved.CertificatePath)
		require.NoError(t, err)
		_, err = os.Stat(saved.PrivateKeyPath())
		require.NoError(t, err)

		var https []model.BindingInfo
		for _, b := range f.target.Snapshot() {
			if b.Protocol == model.ProtocolHTTPS {
				https = append(https, b)
			}
		}
		require.Len(t, https, 1)
		assert.Equal(t, saved.CertificateThumbprint, https[0].CertificateThumbprint)

		history, total, err := f.history.FindPage(ctx, "cert-1", &mvc.Page{})
		require.NoError(t, err)
		assert.EqualValues(t, 1, total)
		assert.Equal(t, OperationRenew, history[0].Operation)
		assert.Equal(t, "tester", history[0].Operator)
	})

	t.Run("再次续期轮换指纹", func(t *testing.T) {
		f := newFixture(t)
		f.target.AddSite(model.TargetSite{ID: "1", Name: "Site1"}, httpBinding("1", "a.example.com"))
		f.addCert(t, managedCert("cert-1", "a.example.com"))

		require.True(t, f.app.PerformRenewal(ctx, "cert-1", "").IsSuccess)
		first, _ := f.store.Get(ctx, "cert-1")
		require.True(t, f.app.PerformRenewal(ctx, "cert-1", "").IsSuccess)
		second, _ := f.store.Get(ctx, "cert-1")

		assert.NotEqual(t, first.CertificateThumbprint, second.CertificateThumbprint)
		assert.Equal(t, first.CertificateThumbprint, second.CertificatePreviousThumbprint)
		assert.Len(t, f.target.Snapshot(), 2, "第二次续期更新已有绑定，不重复新增")
	})

	t.Run("证书不存在", func(t *testing.T) {
		f := newFixture(t)
		res := f.app.PerformRenewal(ctx, "missing", "")
		assert.False(t, res.IsSuccess)
		assert.Equal(t, model.RenewalStatusFailed, res.Status)
		require.Len(t, res.Steps, 1)
		assert.Equal(t, "Managed certificate not found.", res.Steps[0].Description)
	})
}

// TestRenewalPreTaskAbort 前置任务失败时不申请证书也不部署
func TestRenewalPreTaskAbort(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.target.AddSite(model.TargetSite{ID: "1", Name: "Site1"}, httpBinding("1", "a.example.com"))
	mc := managedCert("cert-1", "a.example.com")
	mc.PreRequestTasks = []model.DeploymentTaskConfig{mockTask("p1", "stop-service", "", "throw", "true")}
	mc.PostRequestTasks = []model.DeploymentTaskConfig{mockTask("t1", "notify", model.TaskTriggerAnyStatus)}
	f.addCert(t, mc)

	res := f.app.PerformRenewal(ctx, "cert-1", "")
	assert.False(t, res.IsSuccess)
	assert.Equal(t, model.RenewalStatusAborted, res.Status)
	assert.Equal(t, model.RenewalAborted, res.State)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, model.CategoryPreRequestTasks, res.Steps[0].Category)
	assert.True(t, res.Steps[0].HasError)
	assert.EqualValues(t, 0, f.acquirer.calls.Load())
	assert.Equal(t, 0, f.target.Imports())
	assert.Len(t, f.target.Snapshot(), 1)

	saved, _ := f.store.Get(ctx, "cert-1")
	assert.Equal(t, model.RenewalStatusAborted, saved.LastRenewalStatus)
}

func TestRenewalAcquisitionFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.acquirer.fail = fmt.Errorf("rate limited")
	f.target.AddSite(model.TargetSite{ID: "1", Name: "Site1"}, httpBinding("1", "a.example.com"))
	mc := managedCert("cert-1", "a.example.com")
	mc.PostRequestTasks = []model.DeploymentTaskConfig{
		mockTask("t1", "on-success", model.TaskTriggerOnSuccess),
		mockTask("t2", "on-error", model.TaskTriggerOnError),
		mockTask("t3", "always", model.TaskTriggerAnyStatus),
	}
	f.addCert(t, mc)

	res := f.app.PerformRenewal(ctx, "cert-1", "")
	assert.False(t, res.IsSuccess)
	assert.Equal(t, model.RenewalStatusFailed, res.Status)
	assert.Equal(t, model.RenewalCompleted, res.State)
	assert.Equal(t, []string{model.CategoryCertificateRequest, model.CategoryPostRequestTasks}, categories(res.Steps))
	assert.True(t, res.Steps[0].HasError)
	assert.Contains(t, res.Steps[0].Description, "rate limited")
	assert.Equal(t, []string{"on-error", "always"}, titles(res.Steps[1].Substeps))
	assert.Equal(t, 0, f.target.Imports())

	saved, _ := f.store.Get(ctx, "cert-1")
	assert.Equal(t, model.RenewalStatusFailed, saved.LastRenewalStatus)
	assert.Empty(t, saved.CertificateThumbprint)
}

// TestRenewalWarnings 部署与后置任务的错误只降级为警告
func TestRenewalWarnings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, target.WithRejectHost("b.example.com", "invalid host"))
	f.target.AddSite(model.TargetSite{ID: "1", Name: "Site1"}, httpBinding("1", "a.example.com"), httpBinding("1", "b.example.com"))
	mc := managedCert("cert-1", "a.example.com", "b.example.com")
	mc.PostRequestTasks = []model.DeploymentTaskConfig{mockTask("t1", "broken", "", "throw", "true")}
	f.addCert(t, mc)

	res := f.app.PerformRenewal(ctx, "cert-1", "")
	assert.True(t, res.IsSuccess)
	assert.True(t, res.HasWarning)
	assert.Equal(t, model.RenewalStatusSuccessWithWarning, res.Status)

	deploy := findStep(res.Steps, model.CategoryDeployment)
	require.NotNil(t, deploy)
	assert.False(t, deploy.HasError)
	assert.True(t, deploy.HasWarning)
	failed := 0
	for _, s := range deploy.Substeps {
		if s.HasError {
			failed++
			assert.Contains(t, s.Description, "Failed to add binding. [invalid host]")
		}
	}
	assert.Equal(t, 1, failed)

	post := findStep(res.Steps, model.CategoryPostRequestTasks)
	require.NotNil(t, post)
	assert.True(t, post.HasWarning)
	assert.True(t, post.Substeps[0].HasError)
}

// TestPreviewRenewal 预览不申请、不修改，描述与实际执行一致
func TestPreviewRenewal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.target.AddSite(model.TargetSite{ID: "1", Name: "Site1"}, httpBinding("1", "a.example.com"), httpBinding("1", "b.example.com"))
	mc := managedCert("cert-1", "a.example.com", "b.example.com")
	mc.PreRequestTasks = []model.DeploymentTaskConfig{mockTask("p1", "prepare", "")}
	mc.PostRequestTasks = []model.DeploymentTaskConfig{mockTask("t1", "notify", "", "throw", "true")}
	f.addCert(t, mc)
	before := f.target.Snapshot()

	preview := f.app.PreviewRenewal(ctx, "cert-1")
	assert.True(t, preview.IsSuccess)
	assert.Equal(t, []string{
		model.CategoryPreRequestTasks, model.CategoryCertificateRequest, model.CategoryDeployment, model.CategoryPostRequestTasks,
	}, categories(preview.Steps))
	assert.Equal(t, "Certificate will be requested for: a.example.com, b.example.com", preview.Steps[1].Description)
	assert.Equal(t, "Task is valid and ready to execute.", preview.Steps[3].Substeps[0].Description)

	assert.EqualValues(t, 0, f.acquirer.calls.Load())
	assert.Equal(t, before, f.target.Snapshot())
	_, total, _ := f.history.FindPage(ctx, "", &mvc.Page{})
	assert.EqualValues(t, 0, total)

	res := f.app.PerformRenewal(ctx, "cert-1", "")
	previewDeploy := findStep(preview.Steps, model.CategoryDeployment)
	applied := findStep(res.Steps, model.CategoryDeployment)
	require.NotNil(t, applied)
	require.Len(t, applied.Substeps, len(previewDeploy.Substeps))
	for i := range applied.Substeps {
		assert.Equal(t, previewDeploy.Substeps[i].Description, applied.Substeps[i].Description)
		assert.Equal(t, previewDeploy.Substeps[i].Key, applied.Substeps[i].Key)
	}
}

func TestRenewAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	var ids []string
	for i := 0; i < 12; i++ {
		site := fmt.Sprintf("%d", i+1)
		host := fmt.Sprintf("site%d.example.com", i+1)
		f.target.AddSite(model.TargetSite{ID: site, Name: "Site" + site}, httpBinding(site, host))
		id := fmt.Sprintf("cert-%02d", i)
		mc := managedCert(id, host)
		mc.GroupID = site
		mc.Policy.DeploymentSiteOption = model.DeploymentSiteSingle
		f.addCert(t, mc)
		ids = append(ids, id)
	}

	results, err := f.app.RenewAll(ctx, nil, "batch")
	require.NoError(t, err)
	require.Len(t, results, 12)
	for i, res := range results {
		assert.Equal(t, ids[i], res.CertificateID)
		assert.True(t, res.IsSuccess, res.Message)
		assert.False(t, res.HasWarning)
	}
	assert.Len(t, f.target.Snapshot(), 24)
	assert.Equal(t, 0, f.target.ConcurrentWrites())
}

func TestRenewDueCertificates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.target.AddSite(model.TargetSite{ID: "1", Name: "Site1"}, httpBinding("1", "a.example.com"))

	fresh := managedCert("fresh", "a.example.com")
	expiry := time.Now().Add(80 * 24 * time.Hour)
	fresh.DateExpiry = &expiry
	fresh.CertificatePath = "/certs/fresh/fullchain.pem"
	f.addCert(t, fresh)
	f.addCert(t, managedCert("new", "a.example.com"))

	results, err := f.app.RenewDueCertificates(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new", results[0].CertificateID)
}

func TestConcurrentRenewalOfSameCertificate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.acquirer.gate = make(chan struct{})
	f.addCert(t, managedCert("cert-1", "a.example.com"))

	var wg sync.WaitGroup
	results := make([]*RenewalResult, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = f.app.PerformRenewal(ctx, "cert-1", "")
	}()
	require.Eventually(t, func() bool { return f.acquirer.calls.Load() == 1 }, 5*time.Second, 10*time.Millisecond)

	results[1] = f.app.PerformRenewal(ctx, "cert-1", "")
	close(f.acquirer.gate)
	wg.Wait()

	assert.True(t, results[0].IsSuccess)
	assert.False(t, results[1].IsSuccess)
	assert.Contains(t, results[1].Steps[0].Description, "already in progress")
	assert.EqualValues(t, 1, f.acquirer.calls.Load())
}

// TestPerformDeploymentTask 延迟任务只在手动执行时出现
func TestPerformDeploymentTask(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.target.AddSite(model.TargetSite{ID: "1", Name: "Site1"}, httpBinding("1", "a.example.com"))
	mc := managedCert("cert-1", "a.example.com")
	deferred := mockTask("t2", "deferred", model.TaskTriggerAnyStatus)
	deferred.IsDeferred = true
	mc.PostRequestTasks = []model.DeploymentTaskConfig{mockTask("t1", "notify", ""), deferred}
	f.addCert(t, mc)

	res := f.app.PerformRenewal(ctx, "cert-1", "")
	post := findStep(res.Steps, model.CategoryPostRequestTasks)
	require.NotNil(t, post)
	assert.Equal(t, []string{"notify"}, titles(post.Substeps))

	steps := f.app.PerformDeploymentTask(ctx, "cert-1", "t2", false, "cli")
	require.Len(t, steps, 1)
	assert.False(t, steps[0].HasError)
	assert.Equal(t, "deferred", steps[0].Title)

	steps = f.app.PerformDeploymentTask(ctx, "missing", "t2", false, "cli")
	require.Len(t, steps, 1)
	assert.True(t, steps[0].HasError)
	assert.Equal(t, "Managed certificate not found. Could not deploy.", steps[0].Description)

	steps = f.app.PerformDeploymentTask(ctx, "cert-1", "nope", false, "cli")
	assert.Equal(t, "No matching tasks to perform.", steps[0].Description)

	history, _, _ := f.history.FindPage(ctx, "cert-1", &mvc.Page{})
	require.Len(t, history, 3)
	assert.Equal(t, OperationTask, history[0].Operation)
	assert.Equal(t, model.RenewalStatusFailed, history[0].Status)
	assert.Equal(t, OperationTask, history[1].Operation)
	assert.Equal(t, model.RenewalStatusSuccess, history[1].Status)
}

func TestStoreAndDeploy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.target.AddSite(model.TargetSite{ID: "1", Name: "Site1"}, httpBinding("1", "a.example.com"))
	mc := managedCert("cert-1", "a.example.com")
	mc.PostRequestTasks = []model.DeploymentTaskConfig{mockTask("t1", "notify", "")}
	f.addCert(t, mc)

	steps := f.app.StoreAndDeploy(ctx, "cert-1", "", false, false, "")
	require.Len(t, steps, 1)
	assert.True(t, steps[0].HasError)

	require.True(t, f.app.PerformRenewal(ctx, "cert-1", "").IsSuccess)

	preview := f.app.StoreAndDeploy(ctx, "cert-1", "", true, true, "")
	assert.Equal(t, []string{"Certificate Storage", "Install Certificate For Binding", "notify"}, titles(preview))
	assert.Equal(t, "Task is valid and ready to execute.", preview[2].Description)

	applied := f.app.StoreAndDeploy(ctx, "cert-1", "", false, true, "")
	require.Len(t, applied, 3)
	assert.False(t, model.AnyError(applied))
	assert.Equal(t, preview[1].Description, applied[1].Description)
	assert.Len(t, f.target.Snapshot(), 2)
}

func TestSaveCertificate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	bad := managedCert("cert-1", "a..example.com")
	_, err := f.app.SaveCertificate(ctx, bad)
	assert.Error(t, err)

	dup := managedCert("cert-1", "a.example.com")
	dup.PostRequestTasks = []model.DeploymentTaskConfig{mockTask("t1", "notify", ""), mockTask("t2", "Notify", "")}
	problems, err := f.app.SaveCertificate(ctx, dup)
	assert.Error(t, err)
	assert.Len(t, problems, 2)

	good := managedCert("cert-1", "a.example.com", "*.example.com")
	_, err = f.app.SaveCertificate(ctx, good)
	require.NoError(t, err)

	f.target.AddSite(model.TargetSite{ID: "1", Name: "Site1"}, httpBinding("1", "a.example.com"))
	require.True(t, f.app.PerformRenewal(ctx, "cert-1", "").IsSuccess)
	issued, _ := f.store.Get(ctx, "cert-1")

	// 编辑配置不覆盖签发状态
	edited := managedCert("cert-1", "a.example.com")
	edited.Name = "renamed"
	_, err = f.app.SaveCertificate(ctx, edited)
	require.NoError(t, err)
	saved, _ := f.store.Get(ctx, "cert-1")
	assert.Equal(t, "renamed", saved.Name)
	assert.Equal(t, issued.CertificateThumbprint, saved.CertificateThumbprint)
	assert.Equal(t, issued.CertificatePath, saved.CertificatePath)

	assert.NotEmpty(t, f.app.ListProviders())
}
