// certdeploy 命令行：手动执行部署任务、预览与续期，不启动 HTTP 服务
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"certdeploy/app"
	"certdeploy/pkg/core/start"
	"certdeploy/system/deploy/api/dto"

	jsoniter "github.com/json-iterator/go"
)

// 进程退出码
const (
	exitOK    = 0
	exitError = 1 // 任一步骤出错或续期失败
	exitUsage = 2 // 参数或配置错误
)

const usage = `用法: certdeploy <command> [flags]

命令:
  deploy   --cert ID --task ID [--preview]   手动执行一个部署任务（含延迟任务）
  redeploy --cert ID [--path P] [--tasks] [--preview]
                                            重新部署已签发的证书
  preview  --cert ID                        预览续期流程
  renew    [--cert ID,ID] [--due]           立即续期，未指定证书时续期全部

公共参数:
  --env     环境 (默认 dev)
  --config  配置文件路径 (默认 ./resources/{env}.yaml)
  --operator 记录到部署历史的操作人 (默认 cli)
`

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

type commonFlags struct {
	env      string
	config   string
	operator string
}

func (c *commonFlags) bind(fs *flag.FlagSet) {
	fs.StringVar(&c.env, "env", "dev", "环境配置")
	fs.StringVar(&c.config, "config", "", "配置文件路径")
	fs.StringVar(&c.operator, "operator", "cli", "操作人")
}

func (c *commonFlags) configFile() string {
	if c.config != "" {
		return c.config
	}
	return "resources/" + c.env + ".yaml"
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return exitUsage
	}

	var (
		common     commonFlags
		certID     string
		taskID     string
		certPath   string
		certIDs    string
		preview    bool
		withTasks  bool
		onlyDue    bool
		needCertID bool
		command    = args[0]
		fs         = flag.NewFlagSet(command, flag.ContinueOnError)
	)
	fs.SetOutput(stderr)
	common.bind(fs)

	switch command {
	case "deploy":
		fs.StringVar(&certID, "cert", "", "托管证书 ID")
		fs.StringVar(&taskID, "task", "", "部署任务 ID")
		fs.BoolVar(&preview, "preview", false, "仅预览")
		needCertID = true
	case "redeploy":
		fs.StringVar(&certID, "cert", "", "托管证书 ID")
		fs.StringVar(&certPath, "path", "", "证书文件路径，默认使用最近签发的证书")
		fs.BoolVar(&withTasks, "tasks", false, "同时执行后置任务")
		fs.BoolVar(&preview, "preview", false, "仅预览")
		needCertID = true
	case "preview":
		fs.StringVar(&certID, "cert", "", "托管证书 ID")
		needCertID = true
	case "renew":
		fs.StringVar(&certIDs, "cert", "", "逗号分隔的托管证书 ID")
		fs.BoolVar(&onlyDue, "due", false, "只续期进入续期窗口的证书")
	case "-h", "--help", "help":
		fmt.Fprint(stdout, usage)
		return exitOK
	default:
		fmt.Fprintf(stderr, "未知命令: %s\n\n%s", command, usage)
		return exitUsage
	}

	if err := fs.Parse(args[1:]); err != nil {
		return exitUsage
	}
	if needCertID && certID == "" {
		fmt.Fprintln(stderr, "缺少 --cert")
		return exitUsage
	}
	if command == "deploy" && taskID == "" {
		fmt.Fprintln(stderr, "缺少 --task")
		return exitUsage
	}

	a, err := loadApp(ctx, &common)
	if err != nil {
		fmt.Fprintf(stderr, "初始化失败: %v\n", err)
		return exitUsage
	}
	defer a.Stop()
	client := a.DeployModule.Client

	switch command {
	case "deploy":
		steps := client.PerformDeploymentTask(ctx, certID, taskID, preview, common.operator)
		return writeSteps(stdout, stderr, steps)
	case "redeploy":
		steps := client.StoreAndDeploy(ctx, certID, &dto.StoreAndDeployReq{
			CertificatePath:        certPath,
			PreviewOnly:            preview,
			IncludeDeploymentTasks: withTasks,
		}, common.operator)
		return writeSteps(stdout, stderr, steps)
	case "preview":
		return writeResults(stdout, stderr, []*dto.RenewalResult{client.PreviewRenewal(ctx, certID)})
	default:
		var results []*dto.RenewalResult
		if onlyDue {
			results, err = client.RenewDueCertificates(ctx)
		} else {
			results, err = client.RenewAll(ctx, splitIDs(certIDs), common.operator)
		}
		if err != nil {
			fmt.Fprintf(stderr, "续期失败: %v\n", err)
			return exitError
		}
		return writeResults(stdout, stderr, results)
	}
}

func loadApp(ctx context.Context, common *commonFlags) (*app.App, error) {
	file, err := os.ReadFile(common.configFile())
	if err != nil {
		return nil, err
	}
	configures, err := start.NewConfigures(file, common.env)
	if err != nil {
		return nil, err
	}
	return app.NewApp(ctx, configures, false)
}

func writeSteps(stdout, stderr io.Writer, steps []dto.ActionStep) int {
	if err := writeJSON(stdout, steps); err != nil {
		fmt.Fprintf(stderr, "输出结果失败: %v\n", err)
		return exitError
	}
	if dto.AnyError(steps) {
		return exitError
	}
	return exitOK
}

func writeResults(stdout, stderr io.Writer, results []*dto.RenewalResult) int {
	if err := writeJSON(stdout, results); err != nil {
		fmt.Fprintf(stderr, "输出结果失败: %v\n", err)
		return exitError
	}
	for _, r := range results {
		if !r.IsSuccess {
			return exitError
		}
	}
	return exitOK
}

func writeJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func splitIDs(s string) []string {
	var ids []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
