package model

import (
	"path/filepath"
	"strings"
	"time"
)

// 证书目录下的文件名
const (
	CertificateFileName = "fullchain.pem"
	PrivateKeyFileName  = "privkey.pem"
)

// DomainSet 证书覆盖的名称
type DomainSet struct {
	PrimaryDomain           string   `json:"primaryDomain" yaml:"primary_domain" validate:"required,certname"`
	SubjectAlternativeNames []string `json:"subjectAlternativeNames" yaml:"subject_alternative_names" validate:"dive,certname"`
	SubjectIPAddresses      []string `json:"subjectIPAddresses,omitempty" yaml:"subject_ip_addresses"`
}

// Names 主域名与 SAN 去重后的有序列表
func (d DomainSet) Names() []string {
	seen := make(map[string]struct{})
	var names []string
	for _, n := range append([]string{d.PrimaryDomain}, d.SubjectAlternativeNames...) {
		n = strings.TrimSpace(n)
		key := strings.ToLower(n)
		if n == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		names = append(names, n)
	}
	return names
}

// DeploymentPolicy 证书如何落到目标服务器的绑定上
type DeploymentPolicy struct {
	DeploymentSiteOption        DeploymentSiteOption    `json:"deploymentSiteOption" yaml:"deployment_site_option"`
	DeploymentBindingOption     DeploymentBindingOption `json:"deploymentBindingOption" yaml:"deployment_binding_option"`
	BindingMatchHostname        bool                    `json:"bindingMatchHostname" yaml:"binding_match_hostname"`
	BindingBlankHostname        bool                    `json:"bindingBlankHostname" yaml:"binding_blank_hostname"`
	BindingReplacePrevious      bool                    `json:"bindingReplacePrevious" yaml:"binding_replace_previous"`
	PerformAutomatedCertBinding bool                    `json:"performAutomatedCertBinding" yaml:"perform_automated_cert_binding"`
	BindingIPAddress            string                  `json:"bindingIPAddress,omitempty" yaml:"binding_ip_address"`
	BindingPort                 int                     `json:"bindingPort,omitempty" yaml:"binding_port"`
	UseSNI                      *bool                   `json:"useSNI,omitempty" yaml:"use_sni"`
}

// ChallengeConfig 证书申请参数
type ChallengeConfig struct {
	Type          ChallengeType `json:"type" yaml:"type"`
	Provider      string        `json:"provider,omitempty" yaml:"provider"` // alidns | tencentcloud
	CredentialKey string        `json:"credentialKey,omitempty" yaml:"credential_key"`
	Email         string        `json:"email,omitempty" yaml:"email"`
	KeyType       string        `json:"keyType,omitempty" yaml:"key_type"` // EC256 | RSA2048 ...
}

// ManagedCertificate 一个证书的申请策略与生命周期记录
type ManagedCertificate struct {
	ID       string `gorm:"primaryKey;size:64" json:"id" yaml:"id" validate:"required"`
	Name     string `gorm:"size:255" json:"name" yaml:"name"`
	GroupID  string `gorm:"size:128;index" json:"groupId,omitempty" yaml:"group_id"` // 关联站点
	TargetID string `gorm:"size:128" json:"targetId,omitempty" yaml:"target_id"`     // 部署目标，空为默认目标

	DomainSet DomainSet        `gorm:"serializer:json;type:text" json:"domainSet" yaml:"domain_set"`
	Policy    DeploymentPolicy `gorm:"serializer:json;type:text" json:"policy" yaml:"policy"`
	Challenge ChallengeConfig  `gorm:"serializer:json;type:text" json:"challenge" yaml:"challenge"`

	PreRequestTasks  []DeploymentTaskConfig `gorm:"serializer:json;type:text" json:"preRequestTasks,omitempty" yaml:"pre_request_tasks"`
	PostRequestTasks []DeploymentTaskConfig `gorm:"serializer:json;type:text" json:"postRequestTasks,omitempty" yaml:"post_request_tasks"`

	RenewBeforeDays int `json:"renewBeforeDays" yaml:"renew_before_days"`

	CertificatePath               string `gorm:"size:512" json:"certificatePath,omitempty" yaml:"certificate_path"`
	CertificateThumbprint         string `gorm:"size:128" json:"certificateThumbprint,omitempty" yaml:"certificate_thumbprint"`
	CertificatePreviousThumbprint string `gorm:"size:128" json:"certificatePreviousThumbprint,omitempty" yaml:"certificate_previous_thumbprint"`

	DateLastRenewed    *time.Time    `json:"dateLastRenewed,omitempty" yaml:"-"`
	DateExpiry         *time.Time    `json:"dateExpiry,omitempty" yaml:"-"`
	LastRenewalStatus  RenewalStatus `gorm:"size:32" json:"lastRenewalStatus,omitempty" yaml:"-"`
	LastRenewalMessage string        `gorm:"type:text" json:"lastRenewalMessage,omitempty" yaml:"-"`

	CreatedAt time.Time `json:"createdAt" yaml:"-"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"-"`
}

func (ManagedCertificate) TableName() string {
	return "deploy_managed_certificate"
}

// PrivateKeyPath 私钥与证书存放在同一目录
func (m *ManagedCertificate) PrivateKeyPath() string {
	if m.CertificatePath == "" {
		return ""
	}
	return filepath.Join(filepath.Dir(m.CertificatePath), PrivateKeyFileName)
}

// IsDue 是否到了续期窗口
func (m *ManagedCertificate) IsDue(now time.Time) bool {
	if m.DateExpiry == nil || m.CertificatePath == "" {
		return true
	}
	days := m.RenewBeforeDays
	if days <= 0 {
		days = 30
	}
	return now.Add(time.Duration(days) * 24 * time.Hour).After(*m.DateExpiry)
}

// FindTask 在前置与后置任务中查找。优先匹配 ID，名称只在两个列表中唯一时才匹配
func (m *ManagedCertificate) FindTask(taskID string) (*DeploymentTaskConfig, bool) {
	lists := [][]DeploymentTaskConfig{m.PreRequestTasks, m.PostRequestTasks}
	for _, list := range lists {
		for i := range list {
			if list[i].ID == taskID {
				return &list[i], true
			}
		}
	}

	var found *DeploymentTaskConfig
	for _, list := range lists {
		for i := range list {
			if !strings.EqualFold(strings.TrimSpace(list[i].TaskName), strings.TrimSpace(taskID)) {
				continue
			}
			if found != nil {
				return nil, false
			}
			found = &list[i]
		}
	}
	return found, found != nil
}

// RecordCertificate 新证书签发后轮换指纹
func (m *ManagedCertificate) RecordCertificate(path, thumbprint string, expiry *time.Time, now time.Time) {
	if thumbprint != "" && !strings.EqualFold(thumbprint, m.CertificateThumbprint) {
		if m.CertificateThumbprint != "" {
			m.CertificatePreviousThumbprint = m.CertificateThumbprint
		}
		m.CertificateThumbprint = thumbprint
	}
	m.CertificatePath = path
	m.DateExpiry = expiry
	m.DateLastRenewed = &now
}
