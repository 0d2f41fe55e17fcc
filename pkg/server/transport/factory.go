package transport

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Factory 按通道类型构造客户端
type Factory interface {
	New(ctx context.Context, target Target) (Client, error)
}

type DefaultFactory struct {
	logger *zap.Logger
}

func NewFactory(logger *zap.Logger) *DefaultFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DefaultFactory{logger: logger}
}

func (f *DefaultFactory) New(ctx context.Context, target Target) (Client, error) {
	log := f.logger.With(zap.String("auth_type", string(target.AuthType)), zap.String("host", target.Host))

	switch target.AuthType {
	case AuthTypeLocal, "":
		return NewLocalClient(target.CommandTimeout, log), nil
	case AuthTypeLocalAsUser:
		return NewLocalAsUserClient(target.Secrets, target.CommandTimeout, log)
	case AuthTypeWindowsNetwork:
		return NewWindowsNetworkClient(target.Host, target.Secrets, log)
	case AuthTypeSSH:
		return DialSSH(ctx, target.Host, target.Secrets, target.CommandTimeout, log)
	case AuthTypeExternalCredential:
		// 凭据交给任务自身使用（如云 API），文件与命令操作在本机执行
		return NewLocalClient(target.CommandTimeout, log), nil
	default:
		return nil, fmt.Errorf("不支持的通道类型: %s", target.AuthType)
	}
}
