package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v3"
)

func TestDeployConfigDefaults(t *testing.T) {
	var cfg DeployConfig
	cfg.SetDefaults()

	assert.Equal(t, DefaultCertDir, cfg.CertDir)
	assert.Equal(t, DefaultTaskTimeout, cfg.TaskTimeout)
	assert.Equal(t, "local", cfg.LockBackend)
	assert.True(t, cfg.RenewalEnabled())
	if assert.Len(t, cfg.Targets, 1) {
		assert.Equal(t, "local", cfg.Targets[0].ID)
		assert.Equal(t, "Local", cfg.Targets[0].AuthType)
	}
}

func TestDeployConfigYAML(t *testing.T) {
	doc := `
cert-dir: /var/lib/certdeploy
task-timeout: 90s
lock-backend: Redis
renew-cron: "-"
acme:
  email: ops@example.com
  dns-timeout: 2m
targets:
  - id: web-1
    path: /etc/certdeploy/web-1.yaml
    auth-type: SSH
    host: 10.0.0.5:22
    credential-key: ssh-cred
`
	var cfg DeployConfig
	assert.NoError(t, yaml.Unmarshal([]byte(doc), &cfg))
	cfg.SetDefaults()

	assert.Equal(t, "/var/lib/certdeploy", cfg.CertDir)
	assert.Equal(t, 90*time.Second, cfg.TaskTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Acme.DNSTimeout)
	assert.Equal(t, "redis", cfg.LockBackend)
	assert.False(t, cfg.RenewalEnabled())
	assert.Equal(t, DefaultLockWait, cfg.LockWait)
	assert.Equal(t, "SSH", cfg.Targets[0].AuthType)
	assert.Equal(t, "ssh-cred", cfg.Targets[0].CredentialKey)
}
