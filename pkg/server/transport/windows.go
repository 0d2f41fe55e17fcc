package transport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"certdeploy/pkg/server/credential"

	"go.uber.org/zap"
)

// WindowsNetworkClient 访问已挂载的 Windows 共享（UNC 路径或挂载点）。
// 共享的认证由挂载方完成，这里只校验凭据完整并把路径限制在共享根目录之内
type WindowsNetworkClient struct {
	root   string
	user   string
	logger *zap.Logger
}

func NewWindowsNetworkClient(root string, secrets map[string]string, logger *zap.Logger) (*WindowsNetworkClient, error) {
	if root == "" {
		return nil, errors.New("WindowsNetwork 通道缺少共享路径")
	}
	user := secrets[credential.SecretUsername]
	if user == "" {
		return nil, errors.New("WindowsNetwork 通道缺少用户名")
	}
	if domain := secrets[credential.SecretDomain]; domain != "" {
		user = domain + `\` + user
	}
	return &WindowsNetworkClient{
		root:   root,
		user:   user,
		logger: logger.With(zap.String("share_user", user)),
	}, nil
}

func (c *WindowsNetworkClient) Kind() AuthType {
	return AuthTypeWindowsNetwork
}

// resolve 将共享内路径映射到根目录下，拒绝越界
func (c *WindowsNetworkClient) resolve(p string) (string, error) {
	p = strings.ReplaceAll(p, `\`, "/")
	root := filepath.Clean(strings.ReplaceAll(c.root, `\`, "/"))
	full := filepath.Clean(filepath.Join(root, strings.TrimPrefix(p, root)))
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", fmt.Errorf("路径超出共享范围: %s", p)
	}
	return full, nil
}

func (c *WindowsNetworkClient) ListFiles(ctx context.Context, dir string) ([]FileInfo, error) {
	full, err := c.resolve(dir)
	if err != nil {
		return nil, err
	}
	return (&LocalClient{logger: c.logger}).ListFiles(ctx, full)
}

func (c *WindowsNetworkClient) CopyFile(ctx context.Context, dest string, content []byte, mode os.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := c.resolve(dest)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(full, content, mode); err != nil {
		return err
	}
	c.logger.Debug("写入共享文件", zap.String("dest", full))
	return nil
}

func (c *WindowsNetworkClient) Run(ctx context.Context, command string) (*CommandResult, error) {
	return nil, errors.New("WindowsNetwork 通道不支持执行命令")
}

func (c *WindowsNetworkClient) Close() error {
	return nil
}
