package config

// JwtConfig 管理接口令牌
type JwtConfig struct {
	AdminSecret string `yaml:"admin-secret" json:"-"`
	ExpireHours int    `yaml:"expire-hours" json:"expire-hours,omitempty"` // 默认 168
}
