package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/acs-server/internal/config"
	"github.com/taoyao-code/acs-server/internal/metrics"
	"github.com/taoyao-code/acs-server/internal/storage/models"
	"github.com/taoyao-code/acs-server/internal/storage/storagetest"
)

// fixedPicker 测试用固定信道策略
type fixedPicker struct{ channel int32 }

func (p fixedPicker) Pick() int32 { return p.channel }

func newTestEngine(repo *storagetest.FakeRepo, picker ChannelPicker) (*AutomationEngine, *metrics.AppMetrics) {
	m := metrics.NewAppMetrics(metrics.NewRegistry())
	alerter := NewAlerter(repo, nil, 0, nil, m, zap.NewNop())
	cfg := cfgpkg.AutomationConfig{Interval: 5 * time.Minute}
	return NewAutomationEngine(repo, alerter, picker, cfg, m, zap.NewNop()), m
}

func seedRouter(t *testing.T, repo *storagetest.FakeRepo, serial string, rssi *float64) *models.Device {
	t.Helper()
	now := time.Now()
	d := &models.Device{
		SerialNumber: serial, Kind: models.KindRouter,
		Status: models.StatusOnline, LastSeenAt: &now, RSSI: rssi,
	}
	require.NoError(t, repo.CreateDevice(context.Background(), d))
	return d
}

func mustCreateRule(t *testing.T, repo *storagetest.FakeRepo, rule *models.AutomationRule) *models.AutomationRule {
	t.Helper()
	rule.IsActive = true
	require.NoError(t, repo.CreateRule(context.Background(), rule))
	return rule
}

func TestSweepRuleMatchesPerDevice(t *testing.T) {
	repo := storagetest.NewFakeRepo()
	seedRouter(t, repo, "R-1", floatPtr(-80)) // 命中
	seedRouter(t, repo, "R-2", floatPtr(-78)) // 命中
	seedRouter(t, repo, "R-3", floatPtr(-60)) // 不命中
	seedRouter(t, repo, "R-4", nil)           // 字段缺失，不命中

	rule := mustCreateRule(t, repo, &models.AutomationRule{
		Name: "weak-signal-reboot", DeviceKind: models.KindRouter,
		Field: "rssi", Operator: OpLessThan, Value: "-75",
		Actions: models.RuleActions{{Type: ActionRebootDevice}},
	})

	engine, m := newTestEngine(repo, nil)
	engine.Sweep(context.Background())

	// 每台命中设备各记一次账
	rules, err := repo.ListAllRules(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.EqualValues(t, 2, rules[0].ExecutionCount)
	require.NotNil(t, rules[0].LastExecutedAt)

	logs := repo.ActionLogs()
	require.Len(t, logs, 2)
	for _, l := range logs {
		assert.Equal(t, ActionRebootDevice, l.Action)
		assert.True(t, l.Success)
		require.NotNil(t, l.RuleID)
		assert.Equal(t, rule.ID, *l.RuleID)
	}
	assert.Equal(t, float64(2), testutil.ToFloat64(m.RuleMatches))
}

func TestMatchConditionOperators(t *testing.T) {
	now := time.Now()
	fw := "v2.3.1-beta"
	seen := now.Add(-20 * time.Minute)
	device := &models.Device{
		SerialNumber: "R-1", Kind: models.KindRouter,
		Status: models.StatusOffline, FirmwareVer: &fw,
		RSSI: floatPtr(-80), LastSeenAt: &seen,
	}

	cases := []struct {
		name     string
		field    string
		operator string
		value    string
		want     bool
	}{
		{"equals命中", "status", OpEquals, "offline", true},
		{"equals不命中", "status", OpEquals, "online", false},
		{"not_equals", "status", OpNotEquals, "online", true},
		{"greater_than派生字段", "offline_minutes", OpGreaterThan, "15", true},
		{"less_than", "rssi", OpLessThan, "-75", true},
		{"less_than不命中", "rssi", OpLessThan, "-85", false},
		{"contains", "firmware_ver", OpContains, "beta", true},
		{"数值转换失败按不命中", "status", OpGreaterThan, "5", false},
		{"规则值非数值按不命中", "rssi", OpGreaterThan, "abc", false},
		{"未知字段不命中", "no_such_field", OpEquals, "x", false},
		{"未知比较符不命中", "status", "matches", "offline", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rule := &models.AutomationRule{Field: tc.field, Operator: tc.operator, Value: tc.value}
			assert.Equal(t, tc.want, matchCondition(rule, device, now))
		})
	}
}

func TestActionUpdateWifiChannelAuto(t *testing.T) {
	repo := storagetest.NewFakeRepo()
	d := seedRouter(t, repo, "R-1", floatPtr(-80))

	mustCreateRule(t, repo, &models.AutomationRule{
		Name: "rotate-channel", DeviceKind: models.KindRouter,
		Field: "rssi", Operator: OpLessThan, Value: "-75",
		Actions: models.RuleActions{{Type: ActionUpdateWifiChannel, Params: map[string]any{"channel": "auto"}}},
	})

	engine, _ := newTestEngine(repo, fixedPicker{channel: 6})
	engine.Sweep(context.Background())

	got, err := repo.GetDeviceByID(context.Background(), d.ID)
	require.NoError(t, err)
	require.NotNil(t, got.WifiChannel)
	assert.EqualValues(t, 6, *got.WifiChannel)
}

func TestRandomChannelPickerDomain(t *testing.T) {
	for i := 0; i < 50; i++ {
		assert.Contains(t, []int32{1, 6, 11}, RandomChannelPicker{}.Pick())
	}
}

func TestActionCreateAlertParams(t *testing.T) {
	repo := storagetest.NewFakeRepo()
	seedRouter(t, repo, "R-1", floatPtr(-80))

	mustCreateRule(t, repo, &models.AutomationRule{
		Name: "warn-weak-signal", DeviceKind: models.KindRouter,
		Field: "rssi", Operator: OpLessThan, Value: "-75",
		Actions: models.RuleActions{{Type: ActionCreateAlert, Params: map[string]any{
			"severity": "warning",
			"title":    "Weak signal",
		}}},
	})

	engine, _ := newTestEngine(repo, nil)
	engine.Sweep(context.Background())

	alerts := repo.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, models.SeverityWarning, alerts[0].Severity)
	assert.Equal(t, "Weak signal", alerts[0].Title)
	// description 未指定时落缺省文案
	assert.Equal(t, defaultAlertDescription, alerts[0].Description)
}

func TestActionCreateAlertDefaults(t *testing.T) {
	repo := storagetest.NewFakeRepo()
	seedRouter(t, repo, "R-1", floatPtr(-80))

	mustCreateRule(t, repo, &models.AutomationRule{
		Name: "bare-alert", DeviceKind: models.KindRouter,
		Field: "rssi", Operator: OpLessThan, Value: "-75",
		Actions: models.RuleActions{{Type: ActionCreateAlert}},
	})

	engine, _ := newTestEngine(repo, nil)
	engine.Sweep(context.Background())

	alerts := repo.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, defaultAlertSeverity, alerts[0].Severity)
	assert.Equal(t, defaultAlertTitle, alerts[0].Title)
}

func TestActionFailureIsolation(t *testing.T) {
	repo := storagetest.NewFakeRepo()
	d := seedRouter(t, repo, "R-1", floatPtr(-80))

	rule := mustCreateRule(t, repo, &models.AutomationRule{
		Name: "bad-then-good", DeviceKind: models.KindRouter,
		Field: "rssi", Operator: OpLessThan, Value: "-75",
		Actions: models.RuleActions{
			{Type: ActionUpdateWifiChannel, Params: map[string]any{"channel": "not-a-number"}},
			{Type: ActionCreateAlert, Params: map[string]any{"severity": "warning"}},
		},
	})

	engine, m := newTestEngine(repo, nil)
	engine.Sweep(context.Background())

	// 第一个动作失败落失败日志，第二个动作照常执行
	var failed, succeeded int
	for _, l := range repo.ActionLogs() {
		require.NotNil(t, l.RuleID)
		assert.Equal(t, rule.ID, *l.RuleID)
		if l.Success {
			succeeded++
		} else {
			failed++
			require.NotNil(t, l.ErrMessage)
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, succeeded)
	require.Len(t, repo.Alerts(), 1)

	// 信道未被改动
	got, err := repo.GetDeviceByID(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Nil(t, got.WifiChannel)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ActionTotal.WithLabelValues(ActionUpdateWifiChannel, "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ActionTotal.WithLabelValues(ActionCreateAlert, "ok")))
}

func TestUnknownActionSkipped(t *testing.T) {
	repo := storagetest.NewFakeRepo()
	seedRouter(t, repo, "R-1", floatPtr(-80))

	mustCreateRule(t, repo, &models.AutomationRule{
		Name: "future-action", DeviceKind: models.KindRouter,
		Field: "rssi", Operator: OpLessThan, Value: "-75",
		Actions: models.RuleActions{{Type: "escalate_to_human"}},
	})

	engine, m := newTestEngine(repo, nil)
	engine.Sweep(context.Background())

	// 未识别动作忽略：无日志、无告警，但规则照常记账
	assert.Empty(t, repo.ActionLogs())
	assert.Empty(t, repo.Alerts())

	// 指标计入 skipped，不得冒充 ok
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ActionTotal.WithLabelValues("escalate_to_human", "skipped")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.ActionTotal.WithLabelValues("escalate_to_human", "ok")))
}

func TestActionFailureIsolationAcrossDevices(t *testing.T) {
	repo := storagetest.NewFakeRepo()
	broken := seedRouter(t, repo, "R-1", floatPtr(-80))
	healthy := seedRouter(t, repo, "R-2", floatPtr(-78))
	repo.FailUpdateDevice = map[int64]error{broken.ID: errors.New("device update rejected")}

	rule := mustCreateRule(t, repo, &models.AutomationRule{
		Name: "rotate-on-weak-signal", DeviceKind: models.KindRouter,
		Field: "rssi", Operator: OpLessThan, Value: "-75",
		Actions: models.RuleActions{{Type: ActionUpdateWifiChannel, Params: map[string]any{"channel": "6"}}},
	})

	engine, m := newTestEngine(repo, nil)
	engine.Sweep(context.Background())

	// 一台设备动作失败，另一台照常执行
	got, err := repo.GetDeviceByID(context.Background(), healthy.ID)
	require.NoError(t, err)
	require.NotNil(t, got.WifiChannel)
	assert.EqualValues(t, 6, *got.WifiChannel)

	var failedFor, succeededFor []int64
	for _, l := range repo.ActionLogs() {
		require.NotNil(t, l.DeviceID)
		if l.Success {
			succeededFor = append(succeededFor, *l.DeviceID)
		} else {
			failedFor = append(failedFor, *l.DeviceID)
			require.NotNil(t, l.ErrMessage)
		}
	}
	assert.Equal(t, []int64{broken.ID}, failedFor)
	assert.Equal(t, []int64{healthy.ID}, succeededFor)

	// 两台命中设备都记账
	rules, err := repo.ListAllRules(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, rule.ID, rules[0].ID)
	assert.EqualValues(t, 2, rules[0].ExecutionCount)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ActionTotal.WithLabelValues(ActionUpdateWifiChannel, "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ActionTotal.WithLabelValues(ActionUpdateWifiChannel, "ok")))
}

func TestInactiveRuleSkipped(t *testing.T) {
	repo := storagetest.NewFakeRepo()
	seedRouter(t, repo, "R-1", floatPtr(-80))

	rule := &models.AutomationRule{
		Name: "disabled", DeviceKind: models.KindRouter,
		Field: "rssi", Operator: OpLessThan, Value: "-75",
		Actions: models.RuleActions{{Type: ActionRebootDevice}},
	}
	require.NoError(t, repo.CreateRule(context.Background(), rule))

	engine, _ := newTestEngine(repo, nil)
	engine.Sweep(context.Background())

	assert.Empty(t, repo.ActionLogs())
}

func TestEngineLifecycle(t *testing.T) {
	repo := storagetest.NewFakeRepo()

	engine, _ := newTestEngine(repo, nil)
	engine.Start(context.Background())
	engine.Stop()

	// 首次启动完成播种与首轮巡检
	count, err := repo.CountRules(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	stats := engine.Stats()
	assert.Equal(t, false, stats["running"])
	assert.EqualValues(t, 1, stats["sweeps"])
}

func TestEngineStatsConcurrentWithSweep(t *testing.T) {
	repo := storagetest.NewFakeRepo()
	seedRouter(t, repo, "R-1", floatPtr(-80))
	mustCreateRule(t, repo, &models.AutomationRule{
		Name: "weak-signal-reboot", DeviceKind: models.KindRouter,
		Field: "rssi", Operator: OpLessThan, Value: "-75",
		Actions: models.RuleActions{{Type: ActionRebootDevice}},
	})

	engine, _ := newTestEngine(repo, nil)

	// 健康检查会在巡检进行中并发读取 Stats，-race 下不得报警
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			engine.Sweep(context.Background())
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			_ = engine.Stats()
		}
	}()
	wg.Wait()

	assert.EqualValues(t, 20, engine.Stats()["sweeps"])
}
