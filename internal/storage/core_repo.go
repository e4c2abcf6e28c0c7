package storage

import (
	"context"
	"errors"

	"github.com/taoyao-code/acs-server/internal/storage/models"
)

// ErrNotFound 记录不存在。实现需将底层 not-found 统一翻译为本哨兵。
var ErrNotFound = errors.New("storage: record not found")

// CoreRepo 面向 ACS 核心（协议处理、监控巡检、自动化引擎）的存储抽象。
// 约束：
// - 核心路径禁止直接写 SQL，统一通过本接口访问
// - 接口保持 DB-agnostic（面向模型与基础类型）
// - 每次设备变更 / 告警写入 / 日志写入都是独立操作，不承诺跨记录原子性；
//   实现需保证单记录读改写的串行化
type CoreRepo interface {
	// ---------- 设备 ----------
	// FindDeviceBySerial 按序列号查询设备；不存在返回 ErrNotFound
	FindDeviceBySerial(ctx context.Context, serial string) (*models.Device, error)
	// GetDeviceByID 按主键查询设备；不存在返回 ErrNotFound
	GetDeviceByID(ctx context.Context, id int64) (*models.Device, error)
	// CreateDevice 创建设备（零接触注册与外部登记共用）
	CreateDevice(ctx context.Context, device *models.Device) error
	// UpdateDevice 部分更新设备字段，返回更新后的记录
	UpdateDevice(ctx context.Context, id int64, fields map[string]any) (*models.Device, error)
	// ListDevices 按种类列出设备；kind 为空串时返回全部
	ListDevices(ctx context.Context, kind models.DeviceKind) ([]models.Device, error)
	// CountDevices 返回设备总数
	CountDevices(ctx context.Context) (int64, error)

	// ---------- 告警 ----------
	// CreateAlert 追加一条告警
	CreateAlert(ctx context.Context, alert *models.Alert) error
	// ListAlerts 按创建时间倒序分页列出告警
	ListAlerts(ctx context.Context, limit, offset int) ([]models.Alert, error)

	// ---------- 自动化规则 ----------
	// ListActiveRules 返回所有启用中的规则
	ListActiveRules(ctx context.Context) ([]models.AutomationRule, error)
	// ListAllRules 返回全部规则（含停用）
	ListAllRules(ctx context.Context) ([]models.AutomationRule, error)
	// CountRules 返回规则总数（种子判定用）
	CountRules(ctx context.Context) (int64, error)
	// CreateRule 创建规则
	CreateRule(ctx context.Context, rule *models.AutomationRule) error
	// UpdateRule 部分更新规则字段，返回更新后的记录
	UpdateRule(ctx context.Context, id int64, fields map[string]any) (*models.AutomationRule, error)

	// ---------- 动作日志 ----------
	// CreateActionLog 追加一条动作审计日志
	CreateActionLog(ctx context.Context, log *models.ActionLog) error
	// ListRecentActionLogs 返回设备最近的动作日志
	ListRecentActionLogs(ctx context.Context, deviceID int64, limit int) ([]models.ActionLog, error)
}
