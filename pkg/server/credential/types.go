// Package credential 提供独立的密钥管理功能，部署任务通过 key 解析出解密后的密钥字典
package credential

import (
	"time"
)

// CredentialType 密钥类型
type CredentialType string

const (
	CredentialTypeSSHKey    CredentialType = "ssh_key"    // SSH私钥
	CredentialTypePassword  CredentialType = "password"   // 用户名密码
	CredentialTypeWindows   CredentialType = "windows"    // Windows 域账号
	CredentialTypeToken     CredentialType = "token"      // Token类型
	CredentialTypeAccessKey CredentialType = "access_key" // 云厂商 AccessKey
)

// 密钥字典中的标准字段
const (
	SecretUsername        = "username"
	SecretPassword        = "password"
	SecretPrivateKey      = "privatekey"
	SecretPassphrase      = "passphrase"
	SecretDomain          = "domain"
	SecretToken           = "token"
	SecretAccessKeyID     = "accesskey_id"
	SecretAccessKeySecret = "accesskey_secret"
)

// Credential 密钥配置
type Credential struct {
	ID          string         `gorm:"primaryKey;size:64" json:"id"`
	Name        string         `gorm:"size:128;uniqueIndex" json:"name"`
	Description string         `gorm:"size:512" json:"description"`
	Type        CredentialType `gorm:"size:32" json:"type"`
	Content     string         `gorm:"type:text" json:"-"` // 加密存储的 JSON 字典
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CreatedBy   string         `gorm:"size:64" json:"created_by"`
}

func (Credential) TableName() string {
	return "deploy_credential"
}

// CredentialSafe 安全的密钥信息（不包含敏感内容）
type CredentialSafe struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Type        CredentialType `json:"type"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CreatedBy   string         `json:"created_by"`
}

// CredentialCreateRequest 创建密钥请求
type CredentialCreateRequest struct {
	ID          string            `json:"id"` // 为空时自动生成
	Name        string            `json:"name" validate:"required"`
	Description string            `json:"description"`
	Type        CredentialType    `json:"type" validate:"required,oneof=ssh_key password windows token access_key"`
	Secrets     map[string]string `json:"secrets" validate:"required"`
	CreatedBy   string            `json:"-"`
}

func (c *Credential) safe() *CredentialSafe {
	return &CredentialSafe{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		Type:        c.Type,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
		CreatedBy:   c.CreatedBy,
	}
}
