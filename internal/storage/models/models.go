package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// 注意：
// - 不使用 gorm.Model，显式声明每个字段，避免隐式 DeletedAt
// - 设备种类为显式 kind 字段（tagged union），禁止依赖运行时类型判断

// DeviceKind 设备种类
type DeviceKind string

const (
	KindRouter DeviceKind = "router" // 用户侧接入路由器（CPE）
	KindONU    DeviceKind = "onu"    // 光网络单元
	KindOLT    DeviceKind = "olt"    // 光线路终端
)

// Kinds 返回全部设备种类（巡检按种类独立扫描）
func Kinds() []DeviceKind {
	return []DeviceKind{KindRouter, KindONU, KindOLT}
}

// 设备状态。状态迁移仅由协议会话与监控巡检驱动。
const (
	StatusOnline     = "online"
	StatusOffline    = "offline"
	StatusPoweredOff = "powered_off"
)

// 告警严重级别
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Device 映射 devices 表
type Device struct {
	ID int64 `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	// 设备唯一序列号（Inform 报文 DeviceId.SerialNumber）
	SerialNumber string     `gorm:"column:serial_number;type:text;not null;uniqueIndex" json:"serial_number"`
	Kind         DeviceKind `gorm:"column:kind;type:text;not null;index" json:"kind"`
	Status       string     `gorm:"column:status;type:text;not null;default:offline;index" json:"status"`
	Manufacturer *string    `gorm:"column:manufacturer;type:text" json:"manufacturer,omitempty"`
	OUI          *string    `gorm:"column:oui;type:text" json:"oui,omitempty"`
	Model        *string    `gorm:"column:model;type:text" json:"model,omitempty"`
	FirmwareVer  *string    `gorm:"column:firmware_ver;type:text" json:"firmware_ver,omitempty"`
	IPAddress    *string    `gorm:"column:ip_address;type:text" json:"ip_address,omitempty"`
	// 遥测（按种类可空：router=rssi，onu=rx_power/temperature）
	RSSI        *float64 `gorm:"column:rssi" json:"rssi,omitempty"`
	RxPower     *float64 `gorm:"column:rx_power" json:"rx_power,omitempty"`
	Temperature *float64 `gorm:"column:temperature" json:"temperature,omitempty"`
	UptimeSec   *int64   `gorm:"column:uptime_sec" json:"uptime_sec,omitempty"`
	// WiFi（router）
	WifiEnabled bool    `gorm:"column:wifi_enabled;not null;default:false" json:"wifi_enabled"`
	WifiChannel *int32  `gorm:"column:wifi_channel" json:"wifi_channel,omitempty"`
	WifiSSID    *string `gorm:"column:wifi_ssid;type:text" json:"wifi_ssid,omitempty"`
	// 最近一次协议会话接触
	LastSeenAt *time.Time `gorm:"column:last_seen_at" json:"last_seen_at,omitempty"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Device) TableName() string { return "devices" }

// Alert 映射 alerts 表。仅追加，确认与清理归外部系统管理。
type Alert struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	DeviceID     *int64    `gorm:"column:device_id;index" json:"device_id,omitempty"`
	Severity     string    `gorm:"column:severity;type:text;not null;index" json:"severity"`
	Title        string    `gorm:"column:title;type:text;not null" json:"title"`
	Description  string    `gorm:"column:description;type:text" json:"description"`
	Acknowledged bool      `gorm:"column:acknowledged;not null;default:false" json:"acknowledged"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime;index" json:"created_at"`
}

func (Alert) TableName() string { return "alerts" }

// RuleAction 规则动作（actions jsonb 数组元素）
type RuleAction struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// RuleActions jsonb 列的 Valuer/Scanner 封装
type RuleActions []RuleAction

// Value 实现 driver.Valuer
func (a RuleActions) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner
func (a *RuleActions) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = nil
		return nil
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	default:
		return fmt.Errorf("rule actions: unsupported scan type %T", src)
	}
}

// AutomationRule 映射 automation_rules 表
type AutomationRule struct {
	ID          int64      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Name        string     `gorm:"column:name;type:text;not null;uniqueIndex" json:"name"`
	Description string     `gorm:"column:description;type:text" json:"description"`
	DeviceKind  DeviceKind `gorm:"column:device_kind;type:text;not null" json:"device_kind"`
	// 单条件触发器：field op value（value 统一存字符串，数值比较时再做类型转换）
	Field    string `gorm:"column:field;type:text;not null" json:"field"`
	Operator string `gorm:"column:operator;type:text;not null" json:"operator"`
	Value    string `gorm:"column:value;type:text;not null" json:"value"`
	// 有序动作列表
	Actions        RuleActions `gorm:"column:actions;type:jsonb;not null" json:"actions"`
	IsActive       bool        `gorm:"column:is_active;not null;default:true;index" json:"is_active"`
	ExecutionCount int64       `gorm:"column:execution_count;not null;default:0" json:"execution_count"`
	LastExecutedAt *time.Time  `gorm:"column:last_executed_at" json:"last_executed_at,omitempty"`
	CreatedAt      time.Time   `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time   `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (AutomationRule) TableName() string { return "automation_rules" }

// JSONMap jsonb 对象列的 Valuer/Scanner 封装
type JSONMap map[string]any

// Value 实现 driver.Valuer
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner
func (m *JSONMap) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("json map: unsupported scan type %T", src)
	}
}

// ActionLog 映射 action_logs 表（仅追加的动作审计日志）
type ActionLog struct {
	ID          int64      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	DeviceID    *int64     `gorm:"column:device_id;index:idx_actionlog_device_time,priority:1" json:"device_id,omitempty"`
	DeviceKind  DeviceKind `gorm:"column:device_kind;type:text" json:"device_kind"`
	Action      string     `gorm:"column:action;type:text;not null" json:"action"`
	Description string     `gorm:"column:description;type:text" json:"description"`
	Params      JSONMap    `gorm:"column:params;type:jsonb" json:"params,omitempty"`
	Success     bool       `gorm:"column:success;not null" json:"success"`
	ErrMessage  *string    `gorm:"column:err_message;type:text" json:"err_message,omitempty"`
	RuleID      *int64     `gorm:"column:rule_id;index" json:"rule_id,omitempty"`
	// 执行者；NULL 表示系统自动发起
	Actor     *string   `gorm:"column:actor;type:text" json:"actor,omitempty"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime;index:idx_actionlog_device_time,priority:2,sort:desc" json:"created_at"`
}

func (ActionLog) TableName() string { return "action_logs" }
