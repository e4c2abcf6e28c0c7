package health

import (
	"context"
	"time"
)

// Worker 后台巡检/自动化引擎暴露的状态视图
type Worker interface {
	Stats() map[string]any
}

// WorkerChecker 后台工作器健康检查器，只做状态透出
type WorkerChecker struct {
	name   string
	worker Worker
}

func NewWorkerChecker(name string, worker Worker) *WorkerChecker {
	return &WorkerChecker{name: name, worker: worker}
}

func (c *WorkerChecker) Name() string { return c.name }

func (c *WorkerChecker) Check(_ context.Context) CheckResult {
	start := time.Now()
	stats := c.worker.Stats()

	status := StatusHealthy
	message := "ok"
	if running, ok := stats["running"].(bool); ok && !running {
		status = StatusDegraded
		message = "worker not running"
	}

	return CheckResult{
		Status:  status,
		Message: message,
		Details: stats,
		Latency: time.Since(start),
	}
}
