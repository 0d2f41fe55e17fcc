// Package transport 部署任务访问目标主机的通道：本机、本机指定用户、Windows 网络共享、SSH/SFTP
package transport

import (
	"context"
	"os"
	"time"
)

// AuthType 通道类型
type AuthType string

const (
	AuthTypeLocal              AuthType = "Local"
	AuthTypeLocalAsUser        AuthType = "LocalAsUser"
	AuthTypeWindowsNetwork     AuthType = "WindowsNetwork"
	AuthTypeSSH                AuthType = "SSH"
	AuthTypeExternalCredential AuthType = "ExternalCredential"
)

// CommandStatus 命令状态
type CommandStatus string

const (
	CommandStatusCompleted CommandStatus = "completed"
	CommandStatusFailed    CommandStatus = "failed"
	CommandStatusTimeout   CommandStatus = "timeout"
	CommandStatusCancelled CommandStatus = "cancelled"
)

// CommandResult 命令执行结果
type CommandResult struct {
	Command  string        `json:"command"`
	Status   CommandStatus `json:"status"`
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"duration"`
}

// Success 命令正常退出
func (r *CommandResult) Success() bool {
	return r.Status == CommandStatusCompleted && r.ExitCode == 0
}

type FileInfo struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	IsDir   bool      `json:"is_dir"`
	ModTime time.Time `json:"mod_time"`
}

// Client 通道能力
type Client interface {
	Kind() AuthType
	ListFiles(ctx context.Context, dir string) ([]FileInfo, error)
	// CopyFile 写入目标路径，必要时创建父目录
	CopyFile(ctx context.Context, dest string, content []byte, mode os.FileMode) error
	// Run 执行命令；非零退出码不视为 error，由调用方检查 CommandResult
	Run(ctx context.Context, command string) (*CommandResult, error)
	Close() error
}

// Target 建立通道所需的信息
type Target struct {
	AuthType AuthType
	Host     string // SSH 为 host[:port]，WindowsNetwork 为共享根路径
	Secrets  map[string]string
	// CommandTimeout Run 的默认超时，ctx 带截止时间时以 ctx 为准
	CommandTimeout time.Duration
}

// RequiresCredentials 该通道类型是否必须提供凭据
func RequiresCredentials(authType AuthType) bool {
	return authType != AuthTypeLocal && authType != ""
}

// RequiresHost 该通道类型是否必须提供目标主机
func RequiresHost(authType AuthType) bool {
	return authType == AuthTypeSSH || authType == AuthTypeWindowsNetwork
}

// SupportsRun 该通道类型能否执行命令，WindowsNetwork 只提供共享目录的文件读写
func SupportsRun(authType AuthType) bool {
	return authType != AuthTypeWindowsNetwork
}

func defaultTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 5 * time.Minute
	}
	return d
}
