package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"certdeploy/app"
	"certdeploy/pkg/core/start"
	"certdeploy/router"
)

func main() {
	env, filename := getBaseInfo()

	file, err := os.ReadFile(filename)
	if err != nil {
		panic(fmt.Sprintf("读取配置文件失败,因为：%v", err))
	}

	configures, err := start.NewConfigures(file, env)
	if err != nil {
		panic(fmt.Sprintf("解析配置文件失败,因为：%v", err))
	}
	log := configures.Logger

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 创建应用组合根（含数据库迁移）
	appRoot, err := app.NewApp(ctx, configures, true)
	if err != nil {
		log.Panic(fmt.Sprintf("初始化应用失败: %v", err))
	}
	defer appRoot.Stop()

	if err := appRoot.StartScheduler(); err != nil {
		log.Panic(fmt.Sprintf("启动调度器失败: %v", err))
	}

	fiberApp := start.GetApp(log, appRoot.Ping)
	router.Register(appRoot, fiberApp)

	go func() {
		<-ctx.Done()
		log.Info("收到退出信号，正在关闭服务")
		if err := fiberApp.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.WithErr(err).Error("关闭 HTTP 服务失败")
		}
	}()

	if err := fiberApp.Listen(fmt.Sprintf(":%d", configures.Config.Port)); err != nil {
		log.WithErr(err).Error("HTTP 服务异常退出")
	}
}

func getBaseInfo() (string, string) {
	env := flag.String("env", "dev", "环境配置 (dev, prod, test等)")
	configFile := flag.String("config", "", "配置文件路径，默认为 ./resources/{env}.yaml")
	flag.Parse()

	if *configFile != "" {
		return *env, *configFile
	}
	getwd, err := os.Getwd()
	if err != nil {
		panic(fmt.Sprintf("获取当前文件位置失败,因为：%v", err))
	}
	return *env, getwd + "/resources/" + *env + ".yaml"
}
