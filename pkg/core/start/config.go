package start

import (
	"fmt"
	"os"
	"time"

	appconfig "certdeploy/app/config"
	"certdeploy/pkg/core/config"
	errorc "certdeploy/pkg/core/err"
	"certdeploy/pkg/core/logger"
	"certdeploy/pkg/core/security"
	"certdeploy/pkg/core/util"
	"certdeploy/pkg/lock"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

const saltEnv = "CERTDEPLOY_CREDENTIAL_SALT"

type Config struct {
	AppName    string                  `yaml:"app-name"`
	Env        string                  `yaml:"env"`
	Port       int                     `yaml:"port"`
	Log        config.LogConfig        `yaml:"log"`
	Jwt        config.JwtConfig        `yaml:"jwt"`
	Redis      config.RedisConfig      `yaml:"redis"`
	Database   config.Database         `yaml:"db"`
	Credential config.CredentialConfig `yaml:"credential"`
	Deploy     appconfig.DeployConfig  `yaml:"deploy"`
}

type Configures struct {
	Config    Config
	Logger    *logger.Log
	AdminAuth *security.AdminAuth
}

// NewConfigures 解析配置文件。ENC: 前缀的密码使用密钥库盐值解密
func NewConfigures(file []byte, env string) (*Configures, error) {
	var cfg Config
	if err := yaml.Unmarshal(file, &cfg); err != nil {
		return nil, errorc.New("读取配置文件失败", err).Validation()
	}

	if env != "" {
		cfg.Env = env
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Credential.Salt == "" {
		cfg.Credential.Salt = os.Getenv(saltEnv)
	}
	cfg.Deploy.SetDefaults()

	if err := decryptSecrets(&cfg); err != nil {
		return nil, err
	}

	c := &Configures{
		Config: cfg,
		Logger: logger.InitLogger(cfg.Log.Level),
	}
	c.AdminAuth = c.EnableAdminAuth()
	return c, nil
}

func decryptSecrets(cfg *Config) error {
	for _, field := range []*string{&cfg.Database.Password, &cfg.Redis.Password, &cfg.Jwt.AdminSecret} {
		if !util.IsEncrypted(*field) {
			continue
		}
		if cfg.Credential.Salt == "" {
			return errorc.New("配置包含加密字段，但未提供密钥库盐值", nil).Validation()
		}
		plain, err := util.DecryptAES(*field, cfg.Credential.Salt)
		if err != nil {
			return errorc.New("解密配置字段失败", err).Validation()
		}
		*field = plain
	}
	return nil
}

func (c *Configures) EnableAdminAuth() *security.AdminAuth {
	hours := c.Config.Jwt.ExpireHours
	if hours <= 0 {
		hours = 7 * 24
	}
	return security.NewAdminAuth([]byte(c.Config.Jwt.AdminSecret), time.Duration(hours)*time.Hour)
}

// EnableRedis 未配置 redis 时返回 nil
func (c *Configures) EnableRedis() *redis.Client {
	if !c.Config.Redis.Enabled() {
		return nil
	}
	return config.InitRDB(c.Config.Redis)
}

// EnableLocker 按 deploy.lock-backend 选择锁实现，redis 不可用时退回进程内锁
func (c *Configures) EnableLocker(rdb *redis.Client) lock.LockManager {
	if c.Config.Deploy.LockBackend == "redis" {
		if rdb != nil {
			return lock.NewRedisLockManager(rdb, c.Config.AppName+":lock:")
		}
		c.Logger.Warn("lock-backend 为 redis 但未配置 redis，使用进程内锁")
	}
	return lock.NewLocalLockManager()
}

// EnableDB 未配置数据库时返回 nil
func (c *Configures) EnableDB() (*gorm.DB, error) {
	if !c.Config.Database.Enabled() {
		return nil, nil
	}

	var (
		db  *gorm.DB
		err error
	)
	switch c.Config.Database.Driver {
	case "postgres", "pg":
		db, err = config.InitPg(c.Config.Database)
	case "mysql", "":
		db, err = config.InitMysql(c.Config.Database)
	default:
		return nil, errorc.New(fmt.Sprintf("不支持的数据库驱动: %s", c.Config.Database.Driver), nil).Validation()
	}
	if err != nil {
		c.Logger.WithField("database", c.Config.Database.Host).WithErr(err).Error("failed connect database")
		return nil, errorc.New("连接数据库失败", err).DB()
	}
	c.Logger.Info("connect database success")
	return db, nil
}
