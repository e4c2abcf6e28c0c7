// Package storagetest 提供 CoreRepo 的内存实现，仅用于单元测试。
package storagetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/taoyao-code/acs-server/internal/storage"
	"github.com/taoyao-code/acs-server/internal/storage/models"
)

// FakeRepo CoreRepo 的内存实现。按列名应用部分更新，
// 未知列名直接报错，便于测试发现拼写问题。
type FakeRepo struct {
	mu sync.Mutex

	devices map[int64]*models.Device
	alerts  []models.Alert
	rules   map[int64]*models.AutomationRule
	logs    []models.ActionLog

	nextDeviceID int64
	nextAlertID  int64
	nextRuleID   int64
	nextLogID    int64

	// FailCreateActionLog 注入动作日志写入失败（测试失败语义用）
	FailCreateActionLog error
	// FailUpdateDevice 按设备 ID 注入更新失败（测试失败隔离用）
	FailUpdateDevice map[int64]error
}

// NewFakeRepo 创建空的内存仓储
func NewFakeRepo() *FakeRepo {
	return &FakeRepo{
		devices: make(map[int64]*models.Device),
		rules:   make(map[int64]*models.AutomationRule),
	}
}

// FindDeviceBySerial 按序列号查询
func (f *FakeRepo) FindDeviceBySerial(_ context.Context, serial string) (*models.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.devices {
		if d.SerialNumber == serial {
			cp := *d
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

// GetDeviceByID 按主键查询
func (f *FakeRepo) GetDeviceByID(_ context.Context, id int64) (*models.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

// CreateDevice 创建设备
func (f *FakeRepo) CreateDevice(_ context.Context, device *models.Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextDeviceID++
	device.ID = f.nextDeviceID
	now := time.Now()
	device.CreatedAt = now
	device.UpdatedAt = now
	cp := *device
	f.devices[device.ID] = &cp
	return nil
}

// UpdateDevice 按列名应用部分更新
func (f *FakeRepo) UpdateDevice(_ context.Context, id int64, fields map[string]any) (*models.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.FailUpdateDevice[id]; ok {
		return nil, err
	}
	d, ok := f.devices[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	for col, val := range fields {
		switch col {
		case "status":
			d.Status = val.(string)
		case "last_seen_at":
			d.LastSeenAt = toTimePtr(val)
		case "rssi":
			d.RSSI = toFloatPtr(val)
		case "rx_power":
			d.RxPower = toFloatPtr(val)
		case "temperature":
			d.Temperature = toFloatPtr(val)
		case "uptime_sec":
			d.UptimeSec = toInt64Ptr(val)
		case "firmware_ver":
			d.FirmwareVer = toStringPtr(val)
		case "ip_address":
			d.IPAddress = toStringPtr(val)
		case "wifi_enabled":
			d.WifiEnabled = val.(bool)
		case "wifi_channel":
			d.WifiChannel = toInt32Ptr(val)
		case "wifi_ssid":
			d.WifiSSID = toStringPtr(val)
		default:
			return nil, fmt.Errorf("fake repo: unknown device column %q", col)
		}
	}
	d.UpdatedAt = time.Now()
	cp := *d
	return &cp, nil
}

// ListDevices 按种类列出设备
func (f *FakeRepo) ListDevices(_ context.Context, kind models.DeviceKind) ([]models.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Device
	for _, d := range f.devices {
		if kind == "" || d.Kind == kind {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *FakeRepo) CountDevices(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.devices)), nil
}

// CreateAlert 追加告警
func (f *FakeRepo) CreateAlert(_ context.Context, alert *models.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextAlertID++
	alert.ID = f.nextAlertID
	alert.CreatedAt = time.Now()
	f.alerts = append(f.alerts, *alert)
	return nil
}

// ListAlerts 倒序分页列出告警
func (f *FakeRepo) ListAlerts(_ context.Context, limit, offset int) ([]models.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Alert, len(f.alerts))
	copy(out, f.alerts)
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if offset > 0 {
		if offset >= len(out) {
			return nil, nil
		}
		out = out[offset:]
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// ListActiveRules 返回启用中的规则
func (f *FakeRepo) ListActiveRules(_ context.Context) ([]models.AutomationRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.AutomationRule
	for _, r := range f.rules {
		if r.IsActive {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListAllRules 返回全部规则
func (f *FakeRepo) ListAllRules(_ context.Context) ([]models.AutomationRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.AutomationRule
	for _, r := range f.rules {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CountRules 返回规则总数
func (f *FakeRepo) CountRules(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.rules)), nil
}

// CreateRule 创建规则
func (f *FakeRepo) CreateRule(_ context.Context, rule *models.AutomationRule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextRuleID++
	rule.ID = f.nextRuleID
	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	cp := *rule
	f.rules[rule.ID] = &cp
	return nil
}

// UpdateRule 按列名应用部分更新
func (f *FakeRepo) UpdateRule(_ context.Context, id int64, fields map[string]any) (*models.AutomationRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rules[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	for col, val := range fields {
		switch col {
		case "is_active":
			r.IsActive = val.(bool)
		case "execution_count":
			r.ExecutionCount = toInt64(val)
		case "last_executed_at":
			r.LastExecutedAt = toTimePtr(val)
		default:
			return nil, fmt.Errorf("fake repo: unknown rule column %q", col)
		}
	}
	r.UpdatedAt = time.Now()
	cp := *r
	return &cp, nil
}

// CreateActionLog 追加动作日志
func (f *FakeRepo) CreateActionLog(_ context.Context, log *models.ActionLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailCreateActionLog != nil {
		return f.FailCreateActionLog
	}
	f.nextLogID++
	log.ID = f.nextLogID
	log.CreatedAt = time.Now()
	f.logs = append(f.logs, *log)
	return nil
}

// ListRecentActionLogs 返回设备最近的动作日志
func (f *FakeRepo) ListRecentActionLogs(_ context.Context, deviceID int64, limit int) ([]models.ActionLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ActionLog
	for _, l := range f.logs {
		if l.DeviceID != nil && *l.DeviceID == deviceID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// ---------- 测试断言辅助 ----------

// Alerts 返回全部告警快照
func (f *FakeRepo) Alerts() []models.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Alert, len(f.alerts))
	copy(out, f.alerts)
	return out
}

// ActionLogs 返回全部动作日志快照
func (f *FakeRepo) ActionLogs() []models.ActionLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.ActionLog, len(f.logs))
	copy(out, f.logs)
	return out
}

// DeviceCount 返回设备数
func (f *FakeRepo) DeviceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.devices)
}

// ---------- 宽松类型转换（部分更新的值可能是指针或裸值） ----------

func toTimePtr(v any) *time.Time {
	switch t := v.(type) {
	case nil:
		return nil
	case time.Time:
		return &t
	case *time.Time:
		return t
	}
	return nil
}

func toFloatPtr(v any) *float64 {
	switch x := v.(type) {
	case nil:
		return nil
	case float64:
		return &x
	case *float64:
		return x
	case int:
		f := float64(x)
		return &f
	}
	return nil
}

func toInt64Ptr(v any) *int64 {
	switch x := v.(type) {
	case nil:
		return nil
	case int64:
		return &x
	case *int64:
		return x
	case int:
		i := int64(x)
		return &i
	}
	return nil
}

func toInt32Ptr(v any) *int32 {
	switch x := v.(type) {
	case nil:
		return nil
	case int32:
		return &x
	case *int32:
		return x
	case int:
		i := int32(x)
		return &i
	}
	return nil
}

func toStringPtr(v any) *string {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return &x
	case *string:
		return x
	}
	return nil
}

func toInt64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	}
	return 0
}
