package target

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"certdeploy/system/deploy/internal/model"
)

// MemoryTarget 内存中的站点绑定存储，用于测试与演练
type MemoryTarget struct {
	id    string
	store string

	mu       sync.RWMutex
	sites    []model.TargetSite
	order    []string
	bindings map[string]model.BindingInfo

	maxBindings int
	rejectHosts map[string]string
	applyDelay  time.Duration
	importer    func(ctx context.Context, certPath string) (model.CertificateIdentity, error)

	writers    int32
	violations int32
	imports    int32
}

type MemoryOption func(*MemoryTarget)

// WithMaxBindings 单个站点的绑定数量上限
func WithMaxBindings(n int) MemoryOption {
	return func(t *MemoryTarget) { t.maxBindings = n }
}

// WithRejectHost 对指定主机名的绑定返回错误
func WithRejectHost(host, msg string) MemoryOption {
	return func(t *MemoryTarget) { t.rejectHosts[strings.ToLower(host)] = msg }
}

// WithApplyDelay 每次修改的耗时
func WithApplyDelay(d time.Duration) MemoryOption {
	return func(t *MemoryTarget) { t.applyDelay = d }
}

// WithImporter 替换证书导入逻辑
func WithImporter(fn func(ctx context.Context, certPath string) (model.CertificateIdentity, error)) MemoryOption {
	return func(t *MemoryTarget) { t.importer = fn }
}

func NewMemoryTarget(id string, opts ...MemoryOption) *MemoryTarget {
	t := &MemoryTarget{
		id:          id,
		store:       "MY",
		bindings:    make(map[string]model.BindingInfo),
		rejectHosts: make(map[string]string),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *MemoryTarget) ID() string {
	return t.id
}

// AddSite 添加站点及其已有绑定
func (t *MemoryTarget) AddSite(site model.TargetSite, bindings ...model.BindingInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sites = append(t.sites, site)
	for _, b := range bindings {
		b.SiteID = site.ID
		b.SiteName = site.Name
		t.put(b)
	}
}

func (t *MemoryTarget) ListSites(ctx context.Context) ([]model.TargetSite, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.TargetSite, len(t.sites))
	copy(out, t.sites)
	return out, nil
}

func (t *MemoryTarget) ListBindings(ctx context.Context, siteID string) ([]model.BindingInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []model.BindingInfo
	for _, key := range t.order {
		b := t.bindings[key]
		if siteID == "" || b.SiteID == siteID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (t *MemoryTarget) AddOrUpdateBinding(ctx context.Context, binding model.BindingInfo, addNew bool) model.ActionStep {
	done := t.enterWriter()
	defer done()

	if t.applyDelay > 0 {
		select {
		case <-time.After(t.applyDelay):
		case <-ctx.Done():
			return errorStep(binding, ctx.Err().Error())
		}
	}
	if err := ctx.Err(); err != nil {
		return errorStep(binding, err.Error())
	}
	if msg, ok := t.rejectHosts[strings.ToLower(binding.Host)]; ok {
		return errorStep(binding, msg)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	_, exists := t.bindings[binding.Key()]
	if !addNew && !exists {
		return errorStep(binding, "binding not found")
	}
	if !exists && t.maxBindings > 0 && t.countSite(binding.SiteID) >= t.maxBindings {
		return errorStep(binding, "too many bindings")
	}

	t.put(binding)
	step := model.ActionStep{Title: binding.Spec(), Description: "binding applied"}
	if addNew && exists {
		step.HasWarning = true
		step.Description = "binding already existed and was updated"
	}
	return step
}

func (t *MemoryTarget) ImportCertificate(ctx context.Context, certPath string) (model.CertificateIdentity, error) {
	done := t.enterWriter()
	defer done()
	atomic.AddInt32(&t.imports, 1)

	if err := ctx.Err(); err != nil {
		return model.CertificateIdentity{}, err
	}
	if t.importer != nil {
		return t.importer(ctx, certPath)
	}
	return readIdentity(certPath, t.store)
}

// Snapshot 当前全部绑定
func (t *MemoryTarget) Snapshot() []model.BindingInfo {
	b, _ := t.ListBindings(context.Background(), "")
	return b
}

// ConcurrentWrites 检测到的并发修改次数，正确加锁时为 0
func (t *MemoryTarget) ConcurrentWrites() int {
	return int(atomic.LoadInt32(&t.violations))
}

// Imports 证书导入次数
func (t *MemoryTarget) Imports() int {
	return int(atomic.LoadInt32(&t.imports))
}

func (t *MemoryTarget) enterWriter() func() {
	if atomic.AddInt32(&t.writers, 1) > 1 {
		atomic.AddInt32(&t.violations, 1)
	}
	return func() { atomic.AddInt32(&t.writers, -1) }
}

func (t *MemoryTarget) put(b model.BindingInfo) {
	key := b.Key()
	if _, ok := t.bindings[key]; !ok {
		t.order = append(t.order, key)
	}
	t.bindings[key] = b
}

func (t *MemoryTarget) countSite(siteID string) int {
	n := 0
	for _, b := range t.bindings {
		if b.SiteID == siteID {
			n++
		}
	}
	return n
}
