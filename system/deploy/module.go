package deploy

import (
	"context"
	"fmt"

	appconfig "certdeploy/app/config"
	"certdeploy/pkg/core/logger"
	"certdeploy/pkg/lock"
	"certdeploy/pkg/server/credential"
	"certdeploy/pkg/server/transport"
	"certdeploy/system/deploy/api/client"
	"certdeploy/system/deploy/internal/app"
	"certdeploy/system/deploy/internal/dao"
	"certdeploy/system/deploy/internal/facade"
	"certdeploy/system/deploy/internal/service"
	"certdeploy/system/deploy/internal/service/provider"
	"certdeploy/system/deploy/internal/target"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Options 组装部署模块所需的外部资源
type Options struct {
	Config appconfig.DeployConfig
	// DB 为 nil 时托管证书从 Config.CertificatesFile 加载，历史与凭据保存在内存
	DB         *gorm.DB
	Locks      lock.LockManager
	Salt       string
	Registerer prometheus.Registerer
	Log        *logger.Log
	Zap        *zap.Logger
}

// Module 部署组件模块门面（对外暴露的根对象）
type Module struct {
	internalApp *app.App
	// Client 对外客户端，供命令行与其它组件调用
	Client      *client.DeployClient
	Credentials *credential.Service

	http01  *service.HTTP01Provider
	clients []transport.Client
	cfg     appconfig.DeployConfig
	log     *logger.Log
}

// NewModule 创建部署模块实例
func NewModule(ctx context.Context, opts Options) (*Module, error) {
	cfg := opts.Config
	cfg.SetDefaults()
	log := opts.Log
	if log == nil {
		log = logger.GetLogger()
	}
	if opts.Locks == nil {
		opts.Locks = lock.NewLocalLockManager()
	}

	m := &Module{
		cfg:    cfg,
		log:    log.WithEntryName("DeployModule"),
		http01: service.NewHTTP01Provider(),
	}

	// 1. 存储
	certificates, history, credStorage, err := m.stores(opts.DB, log)
	if err != nil {
		return nil, err
	}
	m.Credentials = credential.NewService(credential.Config{
		Storage: credStorage,
		Salt:    opts.Salt,
		Logger:  opts.Zap,
	})

	// 2. 部署目标
	transports := transport.NewFactory(opts.Zap)
	targets, err := m.targets(ctx, transports, log)
	if err != nil {
		m.Close()
		return nil, err
	}

	// 3. 服务
	metrics := service.NewMetrics(opts.Registerer)
	acme := service.NewAcmeService(log, service.AcmeConfig{
		DirectoryURL:   cfg.Acme.DirectoryURL,
		Email:          cfg.Acme.Email,
		AccountKeyPath: cfg.Acme.AccountKeyPath,
		DNSTimeout:     cfg.Acme.DNSTimeout,
		Nameservers:    cfg.Acme.Nameservers,
	}, m.Credentials, m.http01)
	bindings := service.NewBindingDeployService(log, opts.Locks, service.BindingDeployConfig{
		LockWait:     cfg.LockWait,
		ApplyTimeout: cfg.BindingTimeout,
	}, metrics)
	pipeline := service.NewTaskPipeline(log, provider.DefaultRegistry(), m.Credentials, transports, service.TaskPipelineConfig{
		TaskTimeout: cfg.TaskTimeout,
	}, metrics)

	m.internalApp = app.NewApp(app.Deps{
		Certificates: certificates,
		History:      history,
		Targets:      targets,
		Acquirer:     acme,
		Bindings:     bindings,
		Pipeline:     pipeline,
		Locks:        opts.Locks,
		Metrics:      metrics,
	}, app.Config{
		CertDir:          cfg.CertDir,
		BatchConcurrency: cfg.BatchConcurrency,
	})
	m.Client = client.NewDeployClient(m.internalApp)
	return m, nil
}

func (m *Module) stores(db *gorm.DB, log *logger.Log) (facade.ICertificateRepository, facade.IHistoryRepository, credential.Storage, error) {
	if db != nil {
		return dao.NewManagedCertificateDao(db, log), dao.NewDeployHistoryDao(db, log), credential.NewGormStorage(db), nil
	}

	var certificates facade.ICertificateRepository = dao.NewMemoryCertificateStore()
	if m.cfg.CertificatesFile != "" {
		store, err := dao.LoadCertificatesFile(m.cfg.CertificatesFile)
		if err != nil {
			return nil, nil, nil, err
		}
		certificates = store
	}
	m.log.Warn("未配置数据库，部署历史与凭据仅保存在内存")
	return certificates, dao.NewMemoryHistoryStore(), credential.NewMemoryStorage(), nil
}

// targets 为每个配置的目标建立重载命令通道
func (m *Module) targets(ctx context.Context, transports transport.Factory, log *logger.Log) (*target.Registry, error) {
	registry := target.NewRegistry()
	for _, tc := range m.cfg.Targets {
		if tc.ID == "" || tc.Path == "" {
			return nil, fmt.Errorf("部署目标缺少 id 或 path: %+v", tc)
		}

		var cl transport.Client
		if tc.ReloadCommand != "" {
			auth := transport.AuthType(tc.AuthType)
			if !transport.SupportsRun(auth) {
				return nil, fmt.Errorf("部署目标 %s 的通道 %s 不支持执行重载命令", tc.ID, auth)
			}
			var secrets map[string]string
			if transport.RequiresCredentials(auth) && tc.CredentialKey != "" {
				resolved, err := m.Credentials.Resolve(ctx, tc.CredentialKey)
				if err != nil {
					return nil, fmt.Errorf("解析部署目标 %s 的凭据失败: %w", tc.ID, err)
				}
				secrets = resolved
			}
			c, err := transports.New(ctx, transport.Target{
				AuthType:       auth,
				Host:           tc.Host,
				Secrets:        secrets,
				CommandTimeout: tc.CommandTimeout,
			})
			if err != nil {
				return nil, fmt.Errorf("连接部署目标 %s 失败: %w", tc.ID, err)
			}
			cl = c
			m.clients = append(m.clients, c)
		}

		registry.Register(target.NewFileTarget(tc.ID, tc.Path, tc.ReloadCommand, cl, log))
		m.log.WithField("target_id", tc.ID).WithField("path", tc.Path).Info("注册部署目标")
	}
	return registry, nil
}

// RenewDueCertificates 续期进入续期窗口的证书，供调度器任务调用
func (m *Module) RenewDueCertificates(ctx context.Context) error {
	results, err := m.internalApp.RenewDueCertificates(ctx)
	if err != nil {
		return err
	}
	failed := 0
	for _, r := range results {
		if !r.IsSuccess {
			failed++
		}
	}
	m.log.WithFields(map[string]interface{}{
		"total":  len(results),
		"failed": failed,
	}).Info("定时续期完成")
	if failed > 0 {
		return fmt.Errorf("%d 个证书续期失败", failed)
	}
	return nil
}

// Close 关闭部署目标通道
func (m *Module) Close() {
	for _, c := range m.clients {
		if err := c.Close(); err != nil {
			m.log.WithErr(err).Warn("关闭部署目标通道失败")
		}
	}
	m.clients = nil
}
