package config

import (
	"strings"

	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Mode     string `yaml:"mode"` // single | sentinel
	Host     string `yaml:"host"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

func InitRDB(redisConfig RedisConfig) *redis.Client {
	if redisConfig.Mode == "" || redisConfig.Mode == "single" {
		return redis.NewClient(&redis.Options{
			Addr:     redisConfig.Host,
			Password: redisConfig.Password,
			DB:       redisConfig.DB,
		})
	}

	return redis.NewFailoverClient(&redis.FailoverOptions{
		MasterName:       "mymaster",
		SentinelAddrs:    strings.Split(redisConfig.Host, ","),
		Password:         redisConfig.Password,
		SentinelPassword: redisConfig.Password,
		DB:               redisConfig.DB,
	})
}
