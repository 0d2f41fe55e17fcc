package service

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var durationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120}

// Metrics 部署相关指标，nil 时所有记录方法为空操作
type Metrics struct {
	renewals       *prometheus.CounterVec
	bindingChanges *prometheus.CounterVec
	taskRuns       *prometheus.CounterVec
	taskDuration   *prometheus.HistogramVec
	lockWait       prometheus.Histogram
}

// NewMetrics 注册到 reg，重复注册时复用已有的采集器
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		renewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "certdeploy",
			Name:      "renewals_total",
			Help:      "Count of renewal attempts by final status",
		}, []string{"status"}),
		bindingChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "certdeploy",
			Name:      "binding_changes_total",
			Help:      "Count of applied binding changes",
		}, []string{"target", "action", "result"}),
		taskRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "certdeploy",
			Name:      "task_runs_total",
			Help:      "Count of deployment task executions",
		}, []string{"phase", "task_type", "result"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "certdeploy",
			Name:      "task_duration_seconds",
			Help:      "Latency distribution of deployment tasks",
			Buckets:   durationBuckets,
		}, []string{"task_type"}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "certdeploy",
			Name:      "target_lock_wait_seconds",
			Help:      "Time spent waiting for a deployment target lock",
			Buckets:   durationBuckets,
		}),
	}
	if reg == nil {
		return m
	}

	m.renewals = register(reg, m.renewals)
	m.bindingChanges = register(reg, m.bindingChanges)
	m.taskRuns = register(reg, m.taskRuns)
	m.taskDuration = register(reg, m.taskDuration)
	m.lockWait = register(reg, m.lockWait)
	return m
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

func (m *Metrics) ObserveRenewal(status string) {
	if m == nil {
		return
	}
	m.renewals.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveBinding(target, action string, failed bool) {
	if m == nil {
		return
	}
	m.bindingChanges.WithLabelValues(target, action, resultLabel(failed)).Inc()
}

func (m *Metrics) ObserveTask(phase, taskType string, failed bool, d time.Duration) {
	if m == nil {
		return
	}
	m.taskRuns.WithLabelValues(phase, taskType, resultLabel(failed)).Inc()
	m.taskDuration.WithLabelValues(taskType).Observe(d.Seconds())
}

func (m *Metrics) ObserveLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(d.Seconds())
}

func resultLabel(failed bool) string {
	if failed {
		return "error"
	}
	return "ok"
}
