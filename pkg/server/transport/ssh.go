package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path"
	"strings"
	"time"

	"certdeploy/pkg/server/credential"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// SSHClient 通过 SSH 执行命令、通过 SFTP 读写文件
type SSHClient struct {
	client  *ssh.Client
	sftp    *sftp.Client
	timeout time.Duration
	logger  *zap.Logger
}

// DialSSH 建立连接。host 可带端口，缺省 22；凭据支持私钥或密码
func DialSSH(ctx context.Context, host string, secrets map[string]string, timeout time.Duration, logger *zap.Logger) (*SSHClient, error) {
	if host == "" {
		return nil, errors.New("SSH 通道缺少目标主机")
	}
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "22")
	}

	auth, err := sshAuthMethods(secrets)
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            secrets[credential.SecretUsername],
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         30 * time.Second,
	}

	dialer := net.Dialer{Timeout: config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, fmt.Errorf("连接 SSH 服务器失败: %w", err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, host, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SSH 握手失败: %w", err)
	}
	client := ssh.NewClient(c, chans, reqs)

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("创建 SFTP 客户端失败: %w", err)
	}

	return &SSHClient{
		client:  client,
		sftp:    sftpClient,
		timeout: defaultTimeout(timeout),
		logger:  logger,
	}, nil
}

func sshAuthMethods(secrets map[string]string) ([]ssh.AuthMethod, error) {
	if secrets[credential.SecretUsername] == "" {
		return nil, errors.New("SSH 凭据缺少用户名")
	}

	var methods []ssh.AuthMethod
	if key := secrets[credential.SecretPrivateKey]; key != "" {
		var signer ssh.Signer
		var err error
		if pass := secrets[credential.SecretPassphrase]; pass != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(key), []byte(pass))
		} else {
			signer, err = ssh.ParsePrivateKey([]byte(key))
		}
		if err != nil {
			return nil, fmt.Errorf("解析私钥失败: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if pwd := secrets[credential.SecretPassword]; pwd != "" {
		methods = append(methods, ssh.Password(pwd))
	}
	if len(methods) == 0 {
		return nil, errors.New("SSH 凭据缺少私钥或密码")
	}
	return methods, nil
}

func (c *SSHClient) Kind() AuthType {
	return AuthTypeSSH
}

func (c *SSHClient) ListFiles(ctx context.Context, dir string) ([]FileInfo, error) {
	entries, err := c.sftp.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("读取远程目录失败 %s: %w", dir, err)
	}
	files := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		files = append(files, FileInfo{
			Name:    e.Name(),
			Path:    path.Join(dir, e.Name()),
			Size:    e.Size(),
			IsDir:   e.IsDir(),
			ModTime: e.ModTime(),
		})
	}
	return files, nil
}

func (c *SSHClient) CopyFile(ctx context.Context, dest string, content []byte, mode os.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if mode == 0 {
		mode = 0o644
	}
	if err := c.sftp.MkdirAll(path.Dir(dest)); err != nil {
		return fmt.Errorf("创建远程目录失败: %w", err)
	}

	tmp := dest + ".uploading"
	f, err := c.sftp.Create(tmp)
	if err != nil {
		return fmt.Errorf("创建远程文件失败: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		c.sftp.Remove(tmp)
		return fmt.Errorf("写入远程文件失败: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := c.sftp.Chmod(tmp, mode); err != nil {
		return fmt.Errorf("设置文件权限失败: %w", err)
	}
	if err := c.sftp.PosixRename(tmp, dest); err != nil {
		return fmt.Errorf("替换远程文件失败: %w", err)
	}

	c.logger.Debug("上传文件", zap.String("dest", dest), zap.Int("size", len(content)))
	return nil
}

func (c *SSHClient) Run(ctx context.Context, command string) (*CommandResult, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("创建SSH会话失败: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	start := time.Now()
	if err := session.Start(command); err != nil {
		return nil, fmt.Errorf("启动命令失败: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	result := &CommandResult{Command: command, Status: CommandStatusCompleted}
	select {
	case waitErr := <-done:
		if waitErr != nil {
			var exitErr *ssh.ExitError
			if errors.As(waitErr, &exitErr) {
				result.ExitCode = exitErr.ExitStatus()
			} else {
				result.ExitCode = 1
			}
			result.Status = CommandStatusFailed
		}
	case <-timer.C:
		session.Signal(ssh.SIGTERM)
		result.Status = CommandStatusTimeout
		result.ExitCode = -1
	case <-ctx.Done():
		session.Signal(ssh.SIGTERM)
		result.Status = CommandStatusCancelled
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			result.Status = CommandStatusTimeout
		}
		result.ExitCode = -1
	}

	result.Duration = time.Since(start)
	result.Stdout = strings.TrimRight(stdout.String(), "\n")
	result.Stderr = strings.TrimRight(stderr.String(), "\n")
	c.logger.Debug("远程执行命令", zap.String("command", command), zap.Int("exit_code", result.ExitCode))
	return result, nil
}

func (c *SSHClient) Close() error {
	c.sftp.Close()
	return c.client.Close()
}
