package deploy

import (
	"context"
	"time"

	"certdeploy/pkg/scheduler"
)

const renewalTaskName = "证书自动续期"

// RegisterRenewalTask 注册定时续期任务，多实例部署时只有一个实例执行
func RegisterRenewalTask(m *Module, sched *scheduler.Scheduler) error {
	if !m.cfg.RenewalEnabled() {
		m.log.Info("未启用定时续期")
		return nil
	}

	task, err := scheduler.NewCronTask(
		renewalTaskName,
		m.cfg.RenewCron,
		scheduler.TaskExecuteModeDistributed,
		time.Hour,
		func(ctx context.Context) error {
			m.log.Info("开始执行证书自动续期任务")
			return m.RenewDueCertificates(ctx)
		},
	)
	if err != nil {
		return err
	}
	if err := sched.AddTask(task); err != nil {
		return err
	}
	m.log.WithField("cron", m.cfg.RenewCron).Info("已注册证书自动续期任务")
	return nil
}
