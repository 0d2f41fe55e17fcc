package config

// CredentialConfig 密钥库配置，Salt 为空时读取环境变量 CERTDEPLOY_CREDENTIAL_SALT
type CredentialConfig struct {
	Salt string `yaml:"salt" json:"-"`
}
