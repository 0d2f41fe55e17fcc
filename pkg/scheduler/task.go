package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// TaskExecuteMode 任务执行模式
type TaskExecuteMode int

const (
	// TaskExecuteModeDistributed 分布式执行（需要获取锁，同一时刻只有一个实例执行）
	TaskExecuteModeDistributed TaskExecuteMode = iota
	// TaskExecuteModeLocal 本地执行
	TaskExecuteModeLocal
)

// TaskFunc 任务执行函数
type TaskFunc func(ctx context.Context) error

// CronTask 基于Cron表达式的任务
type CronTask struct {
	ID          string
	Name        string
	CronExpr    string
	ExecuteMode TaskExecuteMode
	Timeout     time.Duration
	Func        TaskFunc

	schedule cron.Schedule
}

var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// NewCronTask 创建Cron任务，表达式包含秒字段
func NewCronTask(name string, cronExpr string, executeMode TaskExecuteMode, timeout time.Duration, fn TaskFunc) (*CronTask, error) {
	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return nil, err
	}

	return &CronTask{
		ID:          uuid.New().String(),
		Name:        name,
		CronExpr:    cronExpr,
		ExecuteMode: executeMode,
		Timeout:     timeout,
		Func:        fn,
		schedule:    schedule,
	}, nil
}

// GetTimeout 获取任务超时时间
func (t *CronTask) GetTimeout() time.Duration {
	if t.Timeout <= 0 {
		return 30 * time.Minute
	}
	return t.Timeout
}

// Next 计算下次执行时间
func (t *CronTask) Next(from time.Time) time.Time {
	return t.schedule.Next(from)
}
