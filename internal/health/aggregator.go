package health

import (
	"context"
	"sync"
	"time"
)

// Aggregator 并发执行全部检查器并汇总状态
type Aggregator struct {
	mu       sync.RWMutex
	checkers []Checker
}

func NewAggregator(checkers ...Checker) *Aggregator {
	return &Aggregator{checkers: checkers}
}

// AddChecker 注册检查器（可选组件按配置动态加入）
func (a *Aggregator) AddChecker(c Checker) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checkers = append(a.checkers, c)
}

// CheckAll 并发执行所有检查
func (a *Aggregator) CheckAll(ctx context.Context) map[string]CheckResult {
	a.mu.RLock()
	checkers := make([]Checker, len(a.checkers))
	copy(checkers, a.checkers)
	a.mu.RUnlock()

	results := make(map[string]CheckResult, len(checkers))
	var (
		resultsMu sync.Mutex
		wg        sync.WaitGroup
	)
	for _, c := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			r := c.Check(ctx)
			resultsMu.Lock()
			results[c.Name()] = r
			resultsMu.Unlock()
		}(c)
	}
	wg.Wait()
	return results
}

// Report 生成完整健康报告
type Report struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

func (a *Aggregator) Report(ctx context.Context) Report {
	checks := a.CheckAll(ctx)
	return Report{
		Status:    overall(checks),
		Timestamp: time.Now(),
		Checks:    checks,
	}
}

// Ready 就绪判定：Degraded 仍可接流量，仅 Unhealthy 摘除
func (a *Aggregator) Ready(ctx context.Context) bool {
	return overall(a.CheckAll(ctx)) != StatusUnhealthy
}

// overall 任一 Unhealthy 即整体 Unhealthy，否则任一 Degraded 即整体 Degraded
func overall(checks map[string]CheckResult) Status {
	status := StatusHealthy
	for _, r := range checks {
		switch r.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}
