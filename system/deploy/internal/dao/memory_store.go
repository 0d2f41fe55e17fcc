package dao

import (
	"context"
	"os"
	"sort"
	"sync"

	errorc "certdeploy/pkg/core/err"
	"certdeploy/pkg/core/mvc"
	"certdeploy/system/deploy/internal/model"

	"gopkg.in/yaml.v3"
)

// MemoryCertificateStore 不依赖数据库的托管证书存储，可从 YAML 文件加载
type MemoryCertificateStore struct {
	mu    sync.RWMutex
	certs map[string]*model.ManagedCertificate
}

func NewMemoryCertificateStore(certs ...*model.ManagedCertificate) *MemoryCertificateStore {
	s := &MemoryCertificateStore{certs: make(map[string]*model.ManagedCertificate)}
	for _, mc := range certs {
		s.certs[mc.ID] = clone(mc)
	}
	return s
}

// LoadCertificatesFile 读取 {certificates: [...]} 格式的 YAML
func LoadCertificatesFile(path string) (*MemoryCertificateStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errorc.New("读取证书配置文件失败", err)
	}
	var doc struct {
		Certificates []*model.ManagedCertificate `yaml:"certificates"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errorc.New("解析证书配置文件失败", err).ValidWithCtx()
	}
	return NewMemoryCertificateStore(doc.Certificates...), nil
}

func (s *MemoryCertificateStore) Get(ctx context.Context, id string) (*model.ManagedCertificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mc, ok := s.certs[id]
	if !ok {
		return nil, errorc.New("托管证书不存在: "+id, nil).NotFound()
	}
	return clone(mc), nil
}

func (s *MemoryCertificateStore) List(ctx context.Context) ([]*model.ManagedCertificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.ManagedCertificate, 0, len(s.certs))
	for _, mc := range s.certs {
		out = append(out, clone(mc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryCertificateStore) Save(ctx context.Context, mc *model.ManagedCertificate) error {
	if mc.ID == "" {
		return errorc.New("托管证书缺少 ID", nil).ValidWithCtx()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.certs[mc.ID] = clone(mc)
	return nil
}

// clone 任务列表与域名列表深拷贝，调用方修改不影响存储
func clone(mc *model.ManagedCertificate) *model.ManagedCertificate {
	c := *mc
	c.DomainSet.SubjectAlternativeNames = append([]string(nil), mc.DomainSet.SubjectAlternativeNames...)
	c.DomainSet.SubjectIPAddresses = append([]string(nil), mc.DomainSet.SubjectIPAddresses...)
	c.PreRequestTasks = cloneTasks(mc.PreRequestTasks)
	c.PostRequestTasks = cloneTasks(mc.PostRequestTasks)
	return &c
}

func cloneTasks(tasks []model.DeploymentTaskConfig) []model.DeploymentTaskConfig {
	if tasks == nil {
		return nil
	}
	out := make([]model.DeploymentTaskConfig, len(tasks))
	for i, t := range tasks {
		t.Parameters = append([]model.TaskParameter(nil), t.Parameters...)
		out[i] = t
	}
	return out
}

// MemoryHistoryStore 内存中的部署历史
type MemoryHistoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	records []*model.DeployHistory
}

func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{}
}

func (s *MemoryHistoryStore) Record(ctx context.Context, h *model.DeployHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	h.ID = s.nextID
	c := *h
	s.records = append(s.records, &c)
	return nil
}

// FindPage 按 ID 倒序
func (s *MemoryHistoryStore) FindPage(ctx context.Context, certificateID string, page *mvc.Page) ([]*model.DeployHistory, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*model.DeployHistory
	for i := len(s.records) - 1; i >= 0; i-- {
		if certificateID == "" || s.records[i].ManagedCertificateID == certificateID {
			c := *s.records[i]
			matched = append(matched, &c)
		}
	}
	start, end := page.Window(len(matched))
	return matched[start:end], int64(len(matched)), nil
}
