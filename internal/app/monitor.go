package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/acs-server/internal/config"
	"github.com/taoyao-code/acs-server/internal/metrics"
	"github.com/taoyao-code/acs-server/internal/storage"
	"github.com/taoyao-code/acs-server/internal/storage/models"
)

// Monitor 设备健康巡检器。
// 周期性读取三类设备，按静默时长与遥测阈值推断健康状态，
// 将失联设备置为 offline 并产出告警。与协议处理器、自动化引擎
// 仅通过存储层耦合。
type Monitor struct {
	repo    storage.CoreRepo
	alerter *Alerter
	cfg     cfgpkg.MonitorConfig
	metrics *metrics.AppMetrics
	logger  *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// 统计（巡检 goroutine 写、健康检查并发读，需原子访问）
	statsSweeps       atomic.Int64
	statsTransitioned atomic.Int64
}

// NewMonitor 创建巡检器
func NewMonitor(repo storage.CoreRepo, alerter *Alerter, cfg cfgpkg.MonitorConfig, m *metrics.AppMetrics, logger *zap.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Minute
	}
	return &Monitor{repo: repo, alerter: alerter, cfg: cfg, metrics: m, logger: logger}
}

// Start 启动巡检。首轮立即执行，之后按固定周期触发。
// 重复调用是 no-op。单 goroutine 循环保证巡检不会重入。
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.logger.Warn("monitor already started")
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	go m.run(ctx)
}

// Stop 取消定时器并等待进行中的巡检返回。
// 已处理设备的落库不回滚。
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()
	m.logger.Info("monitor started", zap.Duration("interval", m.cfg.Interval))

	// 启动即巡检，不等第一个周期
	m.Sweep(ctx)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor stopped",
				zap.Int64("sweeps", m.statsSweeps.Load()),
				zap.Int64("transitioned", m.statsTransitioned.Load()))
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep 执行一轮巡检。三类设备独立扫描，单类失败不影响其余两类。
func (m *Monitor) Sweep(ctx context.Context) {
	m.statsSweeps.Add(1)
	m.metrics.SweepTotal.WithLabelValues("monitor").Inc()
	for _, kind := range models.Kinds() {
		m.sweepKind(ctx, kind)
	}
}

func (m *Monitor) sweepKind(ctx context.Context, kind models.DeviceKind) {
	defer func() {
		if r := recover(); r != nil {
			m.metrics.SweepErrors.WithLabelValues("monitor").Inc()
			m.logger.Error("monitor: sweep panic",
				zap.String("kind", string(kind)), zap.Any("panic", r))
		}
	}()

	devices, err := m.repo.ListDevices(ctx, kind)
	if err != nil {
		m.metrics.SweepErrors.WithLabelValues("monitor").Inc()
		m.logger.Error("monitor: list devices failed",
			zap.String("kind", string(kind)), zap.Error(err))
		return
	}

	now := time.Now()
	for i := range devices {
		d := &devices[i]
		var err error
		switch kind {
		case models.KindRouter:
			err = m.checkRouter(ctx, d, now)
		case models.KindONU:
			err = m.checkONU(ctx, d, now)
		case models.KindOLT:
			err = m.checkOLT(ctx, d, now)
		}
		if err != nil {
			m.metrics.SweepErrors.WithLabelValues("monitor").Inc()
			m.logger.Error("monitor: device check failed",
				zap.String("kind", string(kind)),
				zap.String("serial", d.SerialNumber),
				zap.Error(err))
		}
	}
}

// checkRouter 接入路由器：静默超阈值转 offline + error 告警；
// 弱信号独立产出 warning 告警（无状态检查，由告警冷却窗口抑制泛滥）。
func (m *Monitor) checkRouter(ctx context.Context, d *models.Device, now time.Time) error {
	if stale(d, now, m.cfg.RouterOfflineAfter) && d.Status == models.StatusOnline {
		if err := m.markOffline(ctx, d, now); err != nil {
			return err
		}
		if err := m.alerter.Raise(ctx, &d.ID,
			fmt.Sprintf("router_offline:%s", d.SerialNumber),
			models.SeverityError,
			"Access router offline",
			fmt.Sprintf("Router %s has not reported for over %s", d.SerialNumber, m.cfg.RouterOfflineAfter)); err != nil {
			return err
		}
	}

	if d.RSSI != nil && *d.RSSI < m.cfg.RouterRSSIWarn {
		if err := m.alerter.Raise(ctx, &d.ID,
			fmt.Sprintf("router_weak_signal:%s", d.SerialNumber),
			models.SeverityWarning,
			"Weak WiFi signal",
			fmt.Sprintf("Router %s signal strength %.1f dBm below %.1f", d.SerialNumber, *d.RSSI, m.cfg.RouterRSSIWarn)); err != nil {
			return err
		}
	}
	return nil
}

// checkONU 光网络单元：收光功率双阈值（warning 与 critical 相互独立，
// 同轮可同时触发），温度超限产出 warning。
func (m *Monitor) checkONU(ctx context.Context, d *models.Device, now time.Time) error {
	if d.RxPower != nil && *d.RxPower < m.cfg.ONURxPowerWarn {
		if err := m.alerter.Raise(ctx, &d.ID,
			fmt.Sprintf("onu_rx_warn:%s", d.SerialNumber),
			models.SeverityWarning,
			"Low optical receive power",
			fmt.Sprintf("ONU %s rx power %.1f dBm below %.1f", d.SerialNumber, *d.RxPower, m.cfg.ONURxPowerWarn)); err != nil {
			return err
		}
	}
	if d.RxPower != nil && *d.RxPower < m.cfg.ONURxPowerCritical {
		if err := m.alerter.Raise(ctx, &d.ID,
			fmt.Sprintf("onu_rx_crit:%s", d.SerialNumber),
			models.SeverityCritical,
			"Critically low optical receive power",
			fmt.Sprintf("ONU %s rx power %.1f dBm below %.1f", d.SerialNumber, *d.RxPower, m.cfg.ONURxPowerCritical)); err != nil {
			return err
		}
	}
	if d.Temperature != nil && *d.Temperature > m.cfg.ONUTemperatureWarn {
		if err := m.alerter.Raise(ctx, &d.ID,
			fmt.Sprintf("onu_temp:%s", d.SerialNumber),
			models.SeverityWarning,
			"ONU temperature high",
			fmt.Sprintf("ONU %s temperature %.1f°C above %.1f", d.SerialNumber, *d.Temperature, m.cfg.ONUTemperatureWarn)); err != nil {
			return err
		}
	}
	return nil
}

// checkOLT 光线路终端：失联影响面大，静默超阈值转 offline + critical 告警
func (m *Monitor) checkOLT(ctx context.Context, d *models.Device, now time.Time) error {
	if stale(d, now, m.cfg.OLTOfflineAfter) && d.Status == models.StatusOnline {
		if err := m.markOffline(ctx, d, now); err != nil {
			return err
		}
		if err := m.alerter.Raise(ctx, &d.ID,
			fmt.Sprintf("olt_offline:%s", d.SerialNumber),
			models.SeverityCritical,
			"OLT offline",
			fmt.Sprintf("OLT %s has not reported for over %s; all attached units affected", d.SerialNumber, m.cfg.OLTOfflineAfter)); err != nil {
			return err
		}
	}
	return nil
}

func (m *Monitor) markOffline(ctx context.Context, d *models.Device, now time.Time) error {
	if _, err := m.repo.UpdateDevice(ctx, d.ID, map[string]any{"status": models.StatusOffline}); err != nil {
		return fmt.Errorf("mark offline: %w", err)
	}
	d.Status = models.StatusOffline
	m.statsTransitioned.Add(1)
	m.logger.Warn("monitor: device transitioned offline",
		zap.String("kind", string(d.Kind)),
		zap.String("serial", d.SerialNumber),
		zap.Timep("last_seen", d.LastSeenAt))
	return nil
}

// stale 最近接触时间早于窗口起点。从未接触过的设备不算失联。
func stale(d *models.Device, now time.Time, window time.Duration) bool {
	if d.LastSeenAt == nil {
		return false
	}
	return now.Sub(*d.LastSeenAt) > window
}

// Stats 巡检统计
func (m *Monitor) Stats() map[string]any {
	m.mu.Lock()
	running := m.cancel != nil
	m.mu.Unlock()
	return map[string]any{
		"running":      running,
		"sweeps":       m.statsSweeps.Load(),
		"transitioned": m.statsTransitioned.Load(),
		"interval_sec": m.cfg.Interval.Seconds(),
	}
}
