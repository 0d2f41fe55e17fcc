package scheduler

import (
	"context"
	"fmt"
	"sync"

	"certdeploy/pkg/core/logger"
	"certdeploy/pkg/lock"

	"github.com/robfig/cron/v3"
)

// Scheduler 定时任务调度器，分布式任务通过锁保证单实例执行
type Scheduler struct {
	cron        *cron.Cron
	lockManager lock.LockManager
	log         *logger.Log

	mu      sync.Mutex
	entries map[string]cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewScheduler(lockManager lock.LockManager, log *logger.Log) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:        cron.New(cron.WithParser(cronParser)),
		lockManager: lockManager,
		log:         log.WithEntryName("Scheduler"),
		entries:     make(map[string]cron.EntryID),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// AddTask 注册任务
func (s *Scheduler) AddTask(task *CronTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[task.Name]; ok {
		return fmt.Errorf("任务已存在: %s", task.Name)
	}

	id := s.cron.Schedule(task.schedule, cron.FuncJob(func() { s.run(task) }))
	s.entries[task.Name] = id
	s.log.WithField("task", task.Name).WithField("cron", task.CronExpr).Info("注册定时任务")
	return nil
}

// RunNow 立即执行一次，供手动触发
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("任务不存在: %s", name)
	}
	go s.cron.Entry(id).Job.Run()
	return nil
}

func (s *Scheduler) run(task *CronTask) {
	log := s.log.WithField("task", task.Name)

	ctx, cancel := context.WithTimeout(s.ctx, task.GetTimeout())
	defer cancel()

	if task.ExecuteMode == TaskExecuteModeDistributed && s.lockManager != nil {
		l := s.lockManager.NewLock("scheduler/"+task.Name, &lock.LockOptions{TTL: task.GetTimeout()})
		ok, err := l.TryLock(ctx)
		if err != nil {
			log.WithErr(err).Error("获取任务锁失败")
			return
		}
		if !ok {
			log.Debug("其它实例正在执行该任务，跳过")
			return
		}
		defer l.Unlock(context.Background())
	}

	if err := task.Func(ctx); err != nil {
		log.WithErr(err).Error("定时任务执行失败")
		return
	}
	log.Debug("定时任务执行完成")
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop 停止调度并等待正在执行的任务结束
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}
