// Package credential 密钥管理服务
package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	errorc "certdeploy/pkg/core/err"
	"certdeploy/pkg/core/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// Service 密钥管理服务
type Service struct {
	storage Storage
	logger  *zap.Logger

	mu   sync.RWMutex
	salt string // 为空表示已锁定
}

// Config 服务配置
type Config struct {
	Storage Storage
	Salt    string
	Logger  *zap.Logger
}

func NewService(config Config) *Service {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Storage == nil {
		config.Storage = NewMemoryStorage()
	}
	return &Service{
		storage: config.Storage,
		logger:  config.Logger,
		salt:    config.Salt,
	}
}

// Lock 清除内存中的解密盐值，之后所有解析请求都会失败
func (s *Service) Lock() {
	s.mu.Lock()
	s.salt = ""
	s.mu.Unlock()
	s.logger.Info("密钥库已锁定")
}

// Unlock 设置解密盐值
func (s *Service) Unlock(salt string) {
	s.mu.Lock()
	s.salt = salt
	s.mu.Unlock()
}

func (s *Service) currentSalt() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.salt, s.salt != ""
}

// CreateCredential 创建密钥
func (s *Service) CreateCredential(ctx context.Context, req *CredentialCreateRequest) (*CredentialSafe, error) {
	if err := validateSecrets(req.Type, req.Secrets); err != nil {
		return nil, errorc.New("密钥内容格式验证失败", err).ValidWithCtx()
	}

	salt, ok := s.currentSalt()
	if !ok {
		return nil, errorc.New("密钥库已锁定", nil).Unavailable()
	}

	raw, err := json.Marshal(req.Secrets)
	if err != nil {
		return nil, errorc.New("序列化密钥内容失败", err)
	}
	encrypted, err := util.EncryptAES(string(raw), salt)
	if err != nil {
		return nil, errorc.New("加密密钥内容失败", err)
	}

	id := req.ID
	if id == "" {
		id = "cred-" + uuid.New().String()
	}
	now := time.Now()
	credential := &Credential{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		Type:        req.Type,
		Content:     encrypted,
		CreatedAt:   now,
		UpdatedAt:   now,
		CreatedBy:   req.CreatedBy,
	}

	if err := s.storage.CreateCredential(ctx, credential); err != nil {
		s.logger.Error("创建密钥失败", zap.String("name", req.Name), zap.Error(err))
		return nil, err
	}

	s.logger.Info("创建密钥成功", zap.String("id", credential.ID), zap.String("name", credential.Name))
	return credential.safe(), nil
}

func (s *Service) DeleteCredential(ctx context.Context, id string) error {
	return s.storage.DeleteCredential(ctx, id)
}

func (s *Service) ListCredentials(ctx context.Context) ([]*CredentialSafe, error) {
	list, err := s.storage.ListCredentials(ctx)
	if err != nil {
		return nil, err
	}
	safe := make([]*CredentialSafe, 0, len(list))
	for _, c := range list {
		safe = append(safe, c.safe())
	}
	return safe, nil
}

// Resolve 按 key（ID 或名称）解析出解密后的密钥字典。未知 key 或密钥库锁定时返回 NotFound
func (s *Service) Resolve(ctx context.Context, key string) (map[string]string, error) {
	salt, ok := s.currentSalt()
	if !ok {
		return nil, errorc.New("密钥库已锁定，无法解析凭据: "+key, nil).NotFound()
	}

	credential, err := s.storage.GetCredential(ctx, key)
	if err != nil {
		if errorc.IsNotFound(err) {
			return nil, errorc.New("凭据不存在: "+key, err).NotFound()
		}
		return nil, err
	}

	plain, err := util.DecryptAES(credential.Content, salt)
	if err != nil {
		return nil, errorc.New("解密凭据失败: "+key, err).NotFound()
	}

	secrets := make(map[string]string)
	if err := json.Unmarshal([]byte(plain), &secrets); err != nil {
		return nil, errorc.New("凭据内容格式错误: "+key, err)
	}
	return secrets, nil
}

func validateSecrets(credType CredentialType, secrets map[string]string) error {
	require := func(keys ...string) error {
		var missing []string
		for _, k := range keys {
			if strings.TrimSpace(secrets[k]) == "" {
				missing = append(missing, k)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("缺少字段: %s", strings.Join(missing, ", "))
		}
		return nil
	}

	switch credType {
	case CredentialTypeSSHKey:
		if err := require(SecretUsername, SecretPrivateKey); err != nil {
			return err
		}
		if pass := secrets[SecretPassphrase]; pass != "" {
			_, err := ssh.ParsePrivateKeyWithPassphrase([]byte(secrets[SecretPrivateKey]), []byte(pass))
			return err
		}
		_, err := ssh.ParsePrivateKey([]byte(secrets[SecretPrivateKey]))
		return err
	case CredentialTypePassword, CredentialTypeWindows:
		return require(SecretUsername, SecretPassword)
	case CredentialTypeToken:
		return require(SecretToken)
	case CredentialTypeAccessKey:
		return require(SecretAccessKeyID, SecretAccessKeySecret)
	default:
		return fmt.Errorf("不支持的密钥类型: %s", credType)
	}
}
