package health

import (
	"context"
	"testing"
	"time"
)

// mockChecker 模拟检查器
type mockChecker struct {
	name   string
	status Status
}

func (m *mockChecker) Name() string {
	return m.name
}

func (m *mockChecker) Check(_ context.Context) CheckResult {
	return CheckResult{
		Status:  m.status,
		Message: "mock",
		Latency: time.Millisecond,
	}
}

func TestAggregator(t *testing.T) {
	t.Run("全部健康", func(t *testing.T) {
		agg := NewAggregator(
			&mockChecker{"database", StatusHealthy},
			&mockChecker{"monitor", StatusHealthy},
		)

		report := agg.Report(context.Background())
		if report.Status != StatusHealthy {
			t.Errorf("期望StatusHealthy，实际: %v", report.Status)
		}
		if len(report.Checks) != 2 {
			t.Errorf("期望2项检查，实际: %d", len(report.Checks))
		}
		if !agg.Ready(context.Background()) {
			t.Error("全部健康时应该Ready")
		}
	})

	t.Run("部分降级", func(t *testing.T) {
		agg := NewAggregator(
			&mockChecker{"database", StatusHealthy},
			&mockChecker{"redis", StatusDegraded},
		)

		report := agg.Report(context.Background())
		if report.Status != StatusDegraded {
			t.Errorf("期望StatusDegraded，实际: %v", report.Status)
		}
		// 降级仍可接流量
		if !agg.Ready(context.Background()) {
			t.Error("降级状态应该仍然Ready")
		}
	})

	t.Run("任一不健康", func(t *testing.T) {
		agg := NewAggregator(
			&mockChecker{"database", StatusUnhealthy},
			&mockChecker{"redis", StatusHealthy},
		)

		report := agg.Report(context.Background())
		if report.Status != StatusUnhealthy {
			t.Errorf("期望StatusUnhealthy，实际: %v", report.Status)
		}
		if agg.Ready(context.Background()) {
			t.Error("不健康时不应该Ready")
		}
	})

	t.Run("动态添加检查器", func(t *testing.T) {
		agg := NewAggregator(&mockChecker{"database", StatusHealthy})
		agg.AddChecker(&mockChecker{"redis", StatusUnhealthy})

		if agg.Ready(context.Background()) {
			t.Error("添加不健康检查器后不应该Ready")
		}
	})
}

func TestWorkerChecker(t *testing.T) {
	t.Run("运行中", func(t *testing.T) {
		c := NewWorkerChecker("monitor", stubWorker{"running": true, "sweeps": int64(3)})
		result := c.Check(context.Background())
		if result.Status != StatusHealthy {
			t.Errorf("期望StatusHealthy，实际: %v", result.Status)
		}
	})

	t.Run("未运行算降级", func(t *testing.T) {
		c := NewWorkerChecker("monitor", stubWorker{"running": false})
		result := c.Check(context.Background())
		if result.Status != StatusDegraded {
			t.Errorf("期望StatusDegraded，实际: %v", result.Status)
		}
	})
}

type stubWorker map[string]any

func (s stubWorker) Stats() map[string]any { return s }
