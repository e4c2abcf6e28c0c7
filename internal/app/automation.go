package app

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/acs-server/internal/config"
	"github.com/taoyao-code/acs-server/internal/metrics"
	"github.com/taoyao-code/acs-server/internal/storage"
	"github.com/taoyao-code/acs-server/internal/storage/models"
)

// 支持的条件比较符
const (
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpGreaterThan = "greater_than"
	OpLessThan    = "less_than"
	OpContains    = "contains"
)

// 支持的动作种类
const (
	ActionRebootDevice      = "reboot_device"
	ActionCreateAlert       = "create_alert"
	ActionUpdateWifiChannel = "update_wifi_channel"
)

// create_alert 参数缺省值
const (
	defaultAlertSeverity    = models.SeverityInfo
	defaultAlertTitle       = "Automation Alert"
	defaultAlertDescription = "Alert created by automation rule"
)

// ChannelPicker 信道选择策略。"auto" 信道动作通过它取值，
// 便于后续替换为干扰感知的选择器。
type ChannelPicker interface {
	Pick() int32
}

// RandomChannelPicker 从 2.4 GHz 非重叠信道集 {1, 6, 11} 均匀随机选取。
// 占位策略，不做干扰分析。
type RandomChannelPicker struct{}

// Pick 随机返回一个非重叠信道
func (RandomChannelPicker) Pick() int32 {
	channels := []int32{1, 6, 11}
	return channels[rand.Intn(len(channels))]
}

// AutomationEngine 规则引擎。
// 周期性对每条启用规则求值：按规则声明的设备种类取全部设备，
// 逐台匹配单条件触发器，命中则按序执行动作并记账。
type AutomationEngine struct {
	repo    storage.CoreRepo
	alerter *Alerter
	picker  ChannelPicker
	cfg     cfgpkg.AutomationConfig
	metrics *metrics.AppMetrics
	logger  *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// 统计（巡检 goroutine 写、健康检查并发读，需原子访问）
	statsSweeps  atomic.Int64
	statsMatches atomic.Int64
}

// NewAutomationEngine 创建规则引擎。picker 为 nil 时使用随机信道策略。
func NewAutomationEngine(repo storage.CoreRepo, alerter *Alerter, picker ChannelPicker, cfg cfgpkg.AutomationConfig, m *metrics.AppMetrics, logger *zap.Logger) *AutomationEngine {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if picker == nil {
		picker = RandomChannelPicker{}
	}
	return &AutomationEngine{repo: repo, alerter: alerter, picker: picker, cfg: cfg, metrics: m, logger: logger}
}

// Start 启动引擎：先播种默认规则，随后立即执行首轮，再按周期触发。
// 重复调用是 no-op。
func (e *AutomationEngine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.logger.Warn("automation engine already started")
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.wg.Add(1)
	go e.run(ctx)
}

// Stop 取消定时器并等待进行中的巡检返回
func (e *AutomationEngine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	e.wg.Wait()
}

func (e *AutomationEngine) run(ctx context.Context) {
	defer e.wg.Done()
	e.logger.Info("automation engine started", zap.Duration("interval", e.cfg.Interval))

	if err := e.Seed(ctx); err != nil {
		e.logger.Error("automation: seed rules failed", zap.Error(err))
	}
	e.Sweep(ctx)

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("automation engine stopped",
				zap.Int64("sweeps", e.statsSweeps.Load()),
				zap.Int64("matches", e.statsMatches.Load()))
			return
		case <-ticker.C:
			e.Sweep(ctx)
		}
	}
}

// Sweep 执行一轮规则求值。单条规则失败不影响其余规则。
func (e *AutomationEngine) Sweep(ctx context.Context) {
	e.statsSweeps.Add(1)
	e.metrics.SweepTotal.WithLabelValues("automation").Inc()

	rules, err := e.repo.ListActiveRules(ctx)
	if err != nil {
		e.metrics.SweepErrors.WithLabelValues("automation").Inc()
		e.logger.Error("automation: list rules failed", zap.Error(err))
		return
	}

	for i := range rules {
		e.evalRule(ctx, &rules[i])
	}
}

func (e *AutomationEngine) evalRule(ctx context.Context, rule *models.AutomationRule) {
	defer func() {
		if r := recover(); r != nil {
			e.metrics.SweepErrors.WithLabelValues("automation").Inc()
			e.logger.Error("automation: rule panic",
				zap.String("rule", rule.Name), zap.Any("panic", r))
		}
	}()

	devices, err := e.repo.ListDevices(ctx, rule.DeviceKind)
	if err != nil {
		e.metrics.SweepErrors.WithLabelValues("automation").Inc()
		e.logger.Error("automation: list devices failed",
			zap.String("rule", rule.Name), zap.Error(err))
		return
	}

	now := time.Now()
	for i := range devices {
		device := &devices[i]
		if !matchCondition(rule, device, now) {
			continue
		}

		e.statsMatches.Add(1)
		e.metrics.RuleMatches.Inc()
		e.logger.Info("automation: rule matched",
			zap.String("rule", rule.Name),
			zap.String("serial", device.SerialNumber))

		e.executeActions(ctx, rule, device)

		// 记账：每台命中设备各记一次
		rule.ExecutionCount++
		if _, err := e.repo.UpdateRule(ctx, rule.ID, map[string]any{
			"execution_count":  rule.ExecutionCount,
			"last_executed_at": now,
		}); err != nil {
			e.logger.Error("automation: rule bookkeeping failed",
				zap.String("rule", rule.Name), zap.Error(err))
		}
	}
}

// matchCondition 单条件求值。字段缺失或为空永不匹配；
// 数值比较的类型转换失败按不匹配处理，绝不中断巡检。
func matchCondition(rule *models.AutomationRule, device *models.Device, now time.Time) bool {
	val, ok := device.FieldValue(rule.Field, now)
	if !ok || val == nil {
		return false
	}

	switch rule.Operator {
	case OpEquals:
		return cast.ToString(val) == rule.Value
	case OpNotEquals:
		return cast.ToString(val) != rule.Value
	case OpGreaterThan, OpLessThan:
		fv, err := cast.ToFloat64E(val)
		if err != nil {
			return false
		}
		rv, err := cast.ToFloat64E(rule.Value)
		if err != nil {
			return false
		}
		if rule.Operator == OpGreaterThan {
			return fv > rv
		}
		return fv < rv
	case OpContains:
		return strings.Contains(cast.ToString(val), rule.Value)
	default:
		return false
	}
}

// executeActions 按序执行规则动作。单个动作失败落一条失败审计日志，
// 继续执行剩余动作与剩余设备。
func (e *AutomationEngine) executeActions(ctx context.Context, rule *models.AutomationRule, device *models.Device) {
	for _, action := range rule.Actions {
		if !knownAction(action.Type) {
			// 未识别动作：计数后忽略，不落审计日志
			e.metrics.ActionTotal.WithLabelValues(action.Type, "skipped").Inc()
			e.logger.Warn("automation: unknown action kind",
				zap.String("rule", rule.Name),
				zap.String("action", action.Type))
			continue
		}
		if err := e.executeAction(ctx, rule, device, action); err != nil {
			e.metrics.ActionTotal.WithLabelValues(action.Type, "error").Inc()
			e.logger.Error("automation: action failed",
				zap.String("rule", rule.Name),
				zap.String("action", action.Type),
				zap.String("serial", device.SerialNumber),
				zap.Error(err))

			msg := err.Error()
			e.appendLog(ctx, &models.ActionLog{
				DeviceID:   &device.ID,
				DeviceKind: device.Kind,
				Action:     action.Type,
				Params:     action.Params,
				Success:    false,
				ErrMessage: &msg,
				RuleID:     &rule.ID,
			})
			continue
		}
		e.metrics.ActionTotal.WithLabelValues(action.Type, "ok").Inc()
	}
}

func knownAction(kind string) bool {
	switch kind {
	case ActionRebootDevice, ActionCreateAlert, ActionUpdateWifiChannel:
		return true
	}
	return false
}

func (e *AutomationEngine) executeAction(ctx context.Context, rule *models.AutomationRule, device *models.Device, action models.RuleAction) error {
	switch action.Type {
	case ActionRebootDevice:
		return e.actionReboot(ctx, rule, device)
	case ActionCreateAlert:
		return e.actionCreateAlert(ctx, rule, device, action.Params)
	case ActionUpdateWifiChannel:
		return e.actionUpdateWifiChannel(ctx, rule, device, action.Params)
	default:
		return fmt.Errorf("unknown action kind %q", action.Type)
	}
}

// actionReboot 模拟重启并落审计日志；真实下发依赖设备下一次会话
func (e *AutomationEngine) actionReboot(ctx context.Context, rule *models.AutomationRule, device *models.Device) error {
	e.logger.Info("automation: simulated reboot",
		zap.String("rule", rule.Name),
		zap.String("serial", device.SerialNumber))
	return e.repo.CreateActionLog(ctx, &models.ActionLog{
		DeviceID:    &device.ID,
		DeviceKind:  device.Kind,
		Action:      ActionRebootDevice,
		Description: fmt.Sprintf("simulated reboot triggered by rule %q", rule.Name),
		Success:     true,
		RuleID:      &rule.ID,
	})
}

func (e *AutomationEngine) actionCreateAlert(ctx context.Context, rule *models.AutomationRule, device *models.Device, params map[string]any) error {
	severity := defaultAlertSeverity
	title := defaultAlertTitle
	description := defaultAlertDescription
	if v := cast.ToString(params["severity"]); v != "" {
		severity = v
	}
	if v := cast.ToString(params["title"]); v != "" {
		title = v
	}
	if v := cast.ToString(params["description"]); v != "" {
		description = v
	}

	condKey := fmt.Sprintf("rule_alert:%d:%s", rule.ID, device.SerialNumber)
	if err := e.alerter.Raise(ctx, &device.ID, condKey, severity, title, description); err != nil {
		return err
	}
	return e.repo.CreateActionLog(ctx, &models.ActionLog{
		DeviceID:    &device.ID,
		DeviceKind:  device.Kind,
		Action:      ActionCreateAlert,
		Description: fmt.Sprintf("alert %q raised by rule %q", title, rule.Name),
		Params:      params,
		Success:     true,
		RuleID:      &rule.ID,
	})
}

func (e *AutomationEngine) actionUpdateWifiChannel(ctx context.Context, rule *models.AutomationRule, device *models.Device, params map[string]any) error {
	var channel int32
	raw := cast.ToString(params["channel"])
	if raw == "" || strings.EqualFold(raw, "auto") {
		channel = e.picker.Pick()
	} else {
		v, err := cast.ToInt32E(raw)
		if err != nil {
			return fmt.Errorf("invalid wifi channel %q: %w", raw, err)
		}
		channel = v
	}

	if _, err := e.repo.UpdateDevice(ctx, device.ID, map[string]any{"wifi_channel": channel}); err != nil {
		return fmt.Errorf("update wifi channel: %w", err)
	}

	e.logger.Info("automation: wifi channel updated",
		zap.String("rule", rule.Name),
		zap.String("serial", device.SerialNumber),
		zap.Int32("channel", channel))
	return e.repo.CreateActionLog(ctx, &models.ActionLog{
		DeviceID:    &device.ID,
		DeviceKind:  device.Kind,
		Action:      ActionUpdateWifiChannel,
		Description: fmt.Sprintf("wifi channel set to %d by rule %q", channel, rule.Name),
		Params:      models.JSONMap{"channel": channel},
		Success:     true,
		RuleID:      &rule.ID,
	})
}

// appendLog 审计日志写失败只记日志
func (e *AutomationEngine) appendLog(ctx context.Context, log *models.ActionLog) {
	if err := e.repo.CreateActionLog(ctx, log); err != nil {
		e.logger.Error("automation: action log write failed",
			zap.String("action", log.Action), zap.Error(err))
	}
}

// Stats 引擎统计
func (e *AutomationEngine) Stats() map[string]any {
	e.mu.Lock()
	running := e.cancel != nil
	e.mu.Unlock()
	return map[string]any{
		"running":      running,
		"sweeps":       e.statsSweeps.Load(),
		"matches":      e.statsMatches.Load(),
		"interval_sec": e.cfg.Interval.Seconds(),
	}
}
