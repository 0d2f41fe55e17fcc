package config

import (
	"strings"
	"time"
)

// 续期与部署的默认参数
const (
	DefaultCertDir          = "data/certs"
	DefaultRenewCron        = "0 30 2 * * *"
	DefaultTaskTimeout      = 5 * time.Minute
	DefaultBindingTimeout   = 30 * time.Second
	DefaultLockWait         = 2 * time.Minute
	DefaultBatchConcurrency = 4
	DefaultBindingsFile     = "data/bindings.yaml"
)

// DeployConfig 部署组件配置
type DeployConfig struct {
	CertDir          string         `yaml:"cert-dir" json:"cert_dir"`
	CertificatesFile string         `yaml:"certificates-file" json:"certificates_file"` // 未配置数据库时从该文件加载托管证书
	TaskTimeout      time.Duration  `yaml:"task-timeout" json:"task_timeout"`
	BindingTimeout   time.Duration  `yaml:"binding-timeout" json:"binding_timeout"`
	LockWait         time.Duration  `yaml:"lock-wait" json:"lock_wait"`
	LockBackend      string         `yaml:"lock-backend" json:"lock_backend"` // local | redis
	BatchConcurrency int            `yaml:"batch-concurrency" json:"batch_concurrency"`
	RenewCron        string         `yaml:"renew-cron" json:"renew_cron"` // 含秒字段，为 "-" 时不注册
	Acme             AcmeConfig     `yaml:"acme" json:"acme"`
	Targets          []TargetConfig `yaml:"targets" json:"targets"`
}

// AcmeConfig 证书申请配置
type AcmeConfig struct {
	DirectoryURL   string        `yaml:"directory-url" json:"directory_url"`
	Email          string        `yaml:"email" json:"email"`
	AccountKeyPath string        `yaml:"account-key-path" json:"account_key_path"`
	DNSTimeout     time.Duration `yaml:"dns-timeout" json:"dns_timeout"`
	Nameservers    []string      `yaml:"nameservers" json:"nameservers"`
}

// TargetConfig 一个部署目标，绑定保存在 Path 指向的 YAML 文件中
type TargetConfig struct {
	ID             string        `yaml:"id" json:"id"`
	Path           string        `yaml:"path" json:"path"`
	ReloadCommand  string        `yaml:"reload-command" json:"reload_command"`
	AuthType       string        `yaml:"auth-type" json:"auth_type"` // 执行重载命令的方式，默认 Local
	Host           string        `yaml:"host" json:"host"`
	CredentialKey  string        `yaml:"credential-key" json:"credential_key"`
	CommandTimeout time.Duration `yaml:"command-timeout" json:"command_timeout"`
}

// SetDefaults 填充未配置的字段
func (c *DeployConfig) SetDefaults() {
	if c.CertDir == "" {
		c.CertDir = DefaultCertDir
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = DefaultTaskTimeout
	}
	if c.BindingTimeout <= 0 {
		c.BindingTimeout = DefaultBindingTimeout
	}
	if c.LockWait <= 0 {
		c.LockWait = DefaultLockWait
	}
	if c.BatchConcurrency <= 0 {
		c.BatchConcurrency = DefaultBatchConcurrency
	}
	if c.RenewCron == "" {
		c.RenewCron = DefaultRenewCron
	}
	c.LockBackend = strings.ToLower(strings.TrimSpace(c.LockBackend))
	if c.LockBackend == "" {
		c.LockBackend = "local"
	}
	if len(c.Targets) == 0 {
		c.Targets = []TargetConfig{{ID: "local", Path: DefaultBindingsFile}}
	}
	for i := range c.Targets {
		if c.Targets[i].AuthType == "" {
			c.Targets[i].AuthType = "Local"
		}
	}
}

// RenewalEnabled 是否注册定时续期
func (c *DeployConfig) RenewalEnabled() bool {
	return c.RenewCron != "-"
}
