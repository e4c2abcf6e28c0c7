package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/acs-server/internal/metrics"
	"github.com/taoyao-code/acs-server/internal/storage"
	"github.com/taoyao-code/acs-server/internal/storage/models"
)

// Notifier 告警外推接口（webhook 等）。实现必须快速返回，不得阻塞巡检。
type Notifier interface {
	Notify(alert *models.Alert)
}

// Alerter 监控与自动化共用的告警出口。
// 同一设备同一条件在冷却窗口内只落一条告警（替代逐轮重复告警），
// 去重器故障时放行（宁可重复，不可丢告警）。
type Alerter struct {
	repo     storage.CoreRepo
	dedup    Deduper
	window   time.Duration
	notifier Notifier
	metrics  *metrics.AppMetrics
	logger   *zap.Logger
}

// NewAlerter 创建告警出口。dedup 为 nil 或 window 为 0 时关闭去重。
func NewAlerter(repo storage.CoreRepo, dedup Deduper, window time.Duration, notifier Notifier, m *metrics.AppMetrics, logger *zap.Logger) *Alerter {
	return &Alerter{
		repo:     repo,
		dedup:    dedup,
		window:   window,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
	}
}

// Raise 落一条告警。condKey 标识“设备+条件”，相同 key 受冷却窗口抑制。
// condKey 为空时跳过去重（一次性告警，如设备注册通知）。
func (a *Alerter) Raise(ctx context.Context, deviceID *int64, condKey, severity, title, description string) error {
	if condKey != "" && a.dedup != nil && a.window > 0 {
		allowed, err := a.dedup.Allow(ctx, condKey, a.window)
		if err == nil && !allowed {
			a.metrics.AlertsSuppressed.Inc()
			a.logger.Debug("alert suppressed by cooldown",
				zap.String("cond", condKey), zap.String("severity", severity))
			return nil
		}
		// 去重失败：放行
	}

	alert := &models.Alert{
		DeviceID:    deviceID,
		Severity:    severity,
		Title:       title,
		Description: description,
	}
	if err := a.repo.CreateAlert(ctx, alert); err != nil {
		return err
	}
	a.metrics.AlertsRaised.WithLabelValues(severity).Inc()
	a.logger.Info("alert raised",
		zap.String("severity", severity),
		zap.String("title", title),
		zap.Int64p("device_id", deviceID))

	if a.notifier != nil {
		a.notifier.Notify(alert)
	}
	return nil
}
