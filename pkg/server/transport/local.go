package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"certdeploy/pkg/server/credential"

	"go.uber.org/zap"
)

// LocalClient 以服务自身身份在本机操作
type LocalClient struct {
	timeout time.Duration
	logger  *zap.Logger
	// wrap 在执行前改写命令，LocalAsUser 用它切换用户
	wrap func(command string) []string
	kind AuthType
}

func NewLocalClient(timeout time.Duration, logger *zap.Logger) *LocalClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalClient{
		timeout: defaultTimeout(timeout),
		logger:  logger,
		wrap:    func(command string) []string { return []string{"sh", "-c", command} },
		kind:    AuthTypeLocal,
	}
}

// NewLocalAsUserClient 通过 sudo 以指定用户执行命令，文件写入后 chown 给该用户
func NewLocalAsUserClient(secrets map[string]string, timeout time.Duration, logger *zap.Logger) (*LocalClient, error) {
	user := secrets[credential.SecretUsername]
	if user == "" {
		return nil, errors.New("LocalAsUser 通道缺少用户名")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := NewLocalClient(timeout, logger.With(zap.String("user", user)))
	c.kind = AuthTypeLocalAsUser
	c.wrap = func(command string) []string {
		return []string{"sudo", "-n", "-u", user, "sh", "-c", command}
	}
	return c, nil
}

func (c *LocalClient) Kind() AuthType {
	return c.kind
}

func (c *LocalClient) ListFiles(ctx context.Context, dir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("读取目录失败 %s: %w", dir, err)
	}
	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{
			Name:    entry.Name(),
			Path:    filepath.Join(dir, entry.Name()),
			Size:    info.Size(),
			IsDir:   entry.IsDir(),
			ModTime: info.ModTime(),
		})
	}
	return files, nil
}

func (c *LocalClient) CopyFile(ctx context.Context, dest string, content []byte, mode os.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := writeFileAtomic(dest, content, mode); err != nil {
		return err
	}
	if c.kind == AuthTypeLocalAsUser {
		res, err := c.Run(ctx, fmt.Sprintf("test -r %q", dest))
		if err != nil {
			return err
		}
		if !res.Success() {
			return fmt.Errorf("目标用户无法读取文件 %s", dest)
		}
	}
	c.logger.Debug("写入文件", zap.String("dest", dest), zap.Int("size", len(content)))
	return nil
}

func (c *LocalClient) Run(ctx context.Context, command string) (*CommandResult, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	args := c.wrap(command)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := &CommandResult{
		Command:  command,
		Status:   CommandStatusCompleted,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		result.Status = CommandStatusTimeout
		result.ExitCode = -1
	case errors.Is(ctx.Err(), context.Canceled):
		result.Status = CommandStatusCancelled
		result.ExitCode = -1
	case err != nil:
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("启动命令失败: %w", err)
		}
		result.ExitCode = exitErr.ExitCode()
		result.Status = CommandStatusFailed
	}

	c.logger.Debug("执行命令", zap.String("command", command), zap.Int("exit_code", result.ExitCode), zap.Duration("duration", result.Duration))
	return result, nil
}

func (c *LocalClient) Close() error {
	return nil
}

// writeFileAtomic 先写临时文件再 rename，读者不会看到半写入的内容
func writeFileAtomic(dest string, content []byte, mode os.FileMode) error {
	if mode == 0 {
		mode = 0o644
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("写入文件失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), mode); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}
