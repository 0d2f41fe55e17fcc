package target

import (
	"context"
	"os"

	errorc "certdeploy/pkg/core/err"
	"certdeploy/pkg/core/util"
	"certdeploy/system/deploy/internal/model"
)

// DeploymentTarget 站点绑定存储。修改类操作只能在持有目标锁时调用
type DeploymentTarget interface {
	ID() string
	ListSites(ctx context.Context) ([]model.TargetSite, error)
	// ListBindings siteID 为空时返回全部站点的绑定
	ListBindings(ctx context.Context, siteID string) ([]model.BindingInfo, error)
	// AddOrUpdateBinding 必须响应 ctx：取消或超时后不得再写入目标，调用方持锁等待其返回
	AddOrUpdateBinding(ctx context.Context, binding model.BindingInfo, addNew bool) model.ActionStep
	ImportCertificate(ctx context.Context, certPath string) (model.CertificateIdentity, error)
}

// readIdentity 读取 PEM 证书文件并计算指纹
func readIdentity(certPath, store string) (model.CertificateIdentity, error) {
	if certPath == "" {
		return model.CertificateIdentity{}, errorc.New("证书路径为空", nil).ValidWithCtx()
	}
	data, err := os.ReadFile(certPath)
	if err != nil {
		return model.CertificateIdentity{}, errorc.New("读取证书文件失败", err)
	}
	if len(data) == 0 {
		return model.CertificateIdentity{}, errorc.New("证书文件为空", nil).ValidWithCtx()
	}
	cert, err := util.ParseCertificatePEM(data)
	if err != nil {
		return model.CertificateIdentity{}, err
	}
	return model.CertificateIdentity{Thumbprint: util.Thumbprint(cert), Store: store}, nil
}

func errorStep(b model.BindingInfo, msg string) model.ActionStep {
	return model.ActionStep{Title: b.Spec(), HasError: true, Description: msg}
}
