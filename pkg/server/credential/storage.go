package credential

import (
	"context"
	"sort"
	"sync"

	errorc "certdeploy/pkg/core/err"

	"gorm.io/gorm"
)

// Storage 密钥存储接口，Content 字段始终为密文
type Storage interface {
	CreateCredential(ctx context.Context, credential *Credential) error
	GetCredential(ctx context.Context, id string) (*Credential, error)
	DeleteCredential(ctx context.Context, id string) error
	ListCredentials(ctx context.Context) ([]*Credential, error)
}

// GormStorage 数据库存储
type GormStorage struct {
	db *gorm.DB
}

func NewGormStorage(db *gorm.DB) *GormStorage {
	return &GormStorage{db: db}
}

func (s *GormStorage) CreateCredential(ctx context.Context, credential *Credential) error {
	if err := s.db.WithContext(ctx).Create(credential).Error; err != nil {
		return errorc.New("保存密钥失败", err).DB()
	}
	return nil
}

func (s *GormStorage) GetCredential(ctx context.Context, id string) (*Credential, error) {
	var credential Credential
	if err := s.db.WithContext(ctx).Where("id = ? OR name = ?", id, id).First(&credential).Error; err != nil {
		return nil, errorc.New("查询密钥失败", err).DB()
	}
	return &credential, nil
}

func (s *GormStorage) DeleteCredential(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Delete(&Credential{}, "id = ?", id)
	if result.Error != nil {
		return errorc.New("删除密钥失败", result.Error).DB()
	}
	if result.RowsAffected == 0 {
		return errorc.New("要删除的密钥不存在", nil).NotFound()
	}
	return nil
}

func (s *GormStorage) ListCredentials(ctx context.Context) ([]*Credential, error) {
	var list []*Credential
	if err := s.db.WithContext(ctx).Order("name").Find(&list).Error; err != nil {
		return nil, errorc.New("查询密钥列表失败", err).DB()
	}
	return list, nil
}

// MemoryStorage 内存存储，用于单机配置文件模式和测试
type MemoryStorage struct {
	mu    sync.RWMutex
	items map[string]*Credential
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{items: make(map[string]*Credential)}
}

func (s *MemoryStorage) CreateCredential(ctx context.Context, credential *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[credential.ID]; ok {
		return errorc.New("密钥已存在: "+credential.ID, nil).ValidWithCtx()
	}
	c := *credential
	s.items[credential.ID] = &c
	return nil
}

func (s *MemoryStorage) GetCredential(ctx context.Context, id string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.items[id]; ok {
		cp := *c
		return &cp, nil
	}
	for _, c := range s.items {
		if c.Name == id {
			cp := *c
			return &cp, nil
		}
	}
	return nil, errorc.New("密钥不存在: "+id, nil).NotFound()
}

func (s *MemoryStorage) DeleteCredential(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return errorc.New("要删除的密钥不存在", nil).NotFound()
	}
	delete(s.items, id)
	return nil
}

func (s *MemoryStorage) ListCredentials(ctx context.Context) ([]*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]*Credential, 0, len(s.items))
	for _, c := range s.items {
		cp := *c
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list, nil
}
