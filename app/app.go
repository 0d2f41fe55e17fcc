package app

import (
	"context"
	"time"

	"certdeploy/pkg/core/logger"
	"certdeploy/pkg/core/start"
	"certdeploy/pkg/lock"
	"certdeploy/pkg/scheduler"
	"certdeploy/system/deploy"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"
)

// App 应用组合根，持有所有基础资源与组件模块
type App struct {
	Configures *start.Configures
	Logger     *logger.Log
	Zap        *zap.Logger

	DB          *gorm.DB
	RDB         *redis.Client
	LockManager lock.LockManager
	Metrics     *prometheus.Registry
	Scheduler   *scheduler.Scheduler

	DeployModule *deploy.Module
}

// NewApp 按配置建立数据库、redis、锁与部署模块。migrate 为 true 时执行数据库迁移
func NewApp(ctx context.Context, configures *start.Configures, migrate bool) (*App, error) {
	a := &App{
		Configures: configures,
		Logger:     configures.Logger,
		Metrics:    prometheus.NewRegistry(),
	}
	a.Metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	zapLogger, err := createZapLogger(configures.Config.Env)
	if err != nil {
		return nil, err
	}
	a.Zap = zapLogger

	// 1. 数据库
	a.DB, err = configures.EnableDB()
	if err != nil {
		return nil, err
	}
	if a.DB != nil && migrate {
		if err := deploy.AutoMigrate(a.DB, a.Logger); err != nil {
			return nil, err
		}
	}

	// 2. redis 与锁
	a.RDB = configures.EnableRedis()
	a.LockManager = configures.EnableLocker(a.RDB)

	// 3. 部署模块
	a.DeployModule, err = deploy.NewModule(ctx, deploy.Options{
		Config:     configures.Config.Deploy,
		DB:         a.DB,
		Locks:      a.LockManager,
		Salt:       configures.Config.Credential.Salt,
		Registerer: a.Metrics,
		Log:        a.Logger,
		Zap:        a.Zap,
	})
	if err != nil {
		a.Stop()
		return nil, err
	}
	return a, nil
}

// StartScheduler 注册定时续期并启动调度器
func (a *App) StartScheduler() error {
	a.Scheduler = scheduler.NewScheduler(a.LockManager, a.Logger)
	if err := deploy.RegisterRenewalTask(a.DeployModule, a.Scheduler); err != nil {
		return err
	}
	a.Scheduler.Start()
	return nil
}

// Ping 检查数据库与 redis 连通性，供健康检查使用
func (a *App) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if a.DB != nil {
		sqlDB, err := a.DB.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return err
		}
	}
	if a.RDB != nil {
		return a.RDB.Ping(ctx).Err()
	}
	return nil
}

// Stop 释放资源，可重复调用
func (a *App) Stop() {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
		a.Scheduler = nil
	}
	if a.DeployModule != nil {
		a.DeployModule.Close()
	}
	if a.LockManager != nil {
		if err := a.LockManager.Close(); err != nil {
			a.Logger.WithErr(err).Warn("关闭锁管理器失败")
		}
	}
	if a.RDB != nil {
		if err := a.RDB.Close(); err != nil {
			a.Logger.WithErr(err).Warn("关闭 redis 失败")
		}
		a.RDB = nil
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
		a.DB = nil
	}
	if a.Zap != nil {
		_ = a.Zap.Sync()
	}
}

// createZapLogger 传输通道使用的 zap logger
func createZapLogger(env string) (*zap.Logger, error) {
	var config zap.Config
	if env == "prod" {
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	} else {
		config = zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return config.Build()
}
