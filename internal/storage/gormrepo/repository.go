package gormrepo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/taoyao-code/acs-server/internal/storage"
	"github.com/taoyao-code/acs-server/internal/storage/models"
)

// Repository 基于 GORM 的 CoreRepo 实现
type Repository struct {
	db *gorm.DB
}

// New 返回一个使用给定 *gorm.DB 的 CoreRepo 实例
func New(db *gorm.DB) storage.CoreRepo {
	return &Repository{db: db}
}

// translate 将 gorm 的 not-found 翻译为存储层哨兵
func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.ErrNotFound
	}
	return err
}

// FindDeviceBySerial 按序列号查询设备
func (r *Repository) FindDeviceBySerial(ctx context.Context, serial string) (*models.Device, error) {
	var device models.Device
	err := r.db.WithContext(ctx).Where("serial_number = ?", serial).First(&device).Error
	if err != nil {
		return nil, translate(err)
	}
	return &device, nil
}

// GetDeviceByID 按主键查询设备
func (r *Repository) GetDeviceByID(ctx context.Context, id int64) (*models.Device, error) {
	var device models.Device
	err := r.db.WithContext(ctx).First(&device, id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &device, nil
}

// CreateDevice 创建设备
func (r *Repository) CreateDevice(ctx context.Context, device *models.Device) error {
	return r.db.WithContext(ctx).Create(device).Error
}

// UpdateDevice 部分更新设备字段并返回最新记录
func (r *Repository) UpdateDevice(ctx context.Context, id int64, fields map[string]any) (*models.Device, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Device{}).
		Where("id = ?", id).
		Updates(fields)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, storage.ErrNotFound
	}
	return r.GetDeviceByID(ctx, id)
}

// ListDevices 按种类列出设备，按 id 升序
func (r *Repository) ListDevices(ctx context.Context, kind models.DeviceKind) ([]models.Device, error) {
	var devices []models.Device
	q := r.db.WithContext(ctx).Order("id ASC")
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	if err := q.Find(&devices).Error; err != nil {
		return nil, err
	}
	return devices, nil
}

// CountDevices 返回设备总数
func (r *Repository) CountDevices(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Device{}).Count(&count).Error
	return count, err
}

// CreateAlert 追加告警
func (r *Repository) CreateAlert(ctx context.Context, alert *models.Alert) error {
	return r.db.WithContext(ctx).Create(alert).Error
}

// ListAlerts 按创建时间倒序分页列出告警
func (r *Repository) ListAlerts(ctx context.Context, limit, offset int) ([]models.Alert, error) {
	var alerts []models.Alert
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Find(&alerts).Error; err != nil {
		return nil, err
	}
	return alerts, nil
}

// ListActiveRules 返回启用中的规则
func (r *Repository) ListActiveRules(ctx context.Context) ([]models.AutomationRule, error) {
	var rules []models.AutomationRule
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("id ASC").Find(&rules).Error
	if err != nil {
		return nil, err
	}
	return rules, nil
}

// ListAllRules 返回全部规则
func (r *Repository) ListAllRules(ctx context.Context) ([]models.AutomationRule, error) {
	var rules []models.AutomationRule
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

// CountRules 返回规则总数
func (r *Repository) CountRules(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.AutomationRule{}).Count(&count).Error
	return count, err
}

// CreateRule 创建规则
func (r *Repository) CreateRule(ctx context.Context, rule *models.AutomationRule) error {
	return r.db.WithContext(ctx).Create(rule).Error
}

// UpdateRule 部分更新规则字段并返回最新记录
func (r *Repository) UpdateRule(ctx context.Context, id int64, fields map[string]any) (*models.AutomationRule, error) {
	res := r.db.WithContext(ctx).
		Model(&models.AutomationRule{}).
		Where("id = ?", id).
		Updates(fields)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, storage.ErrNotFound
	}

	var rule models.AutomationRule
	if err := r.db.WithContext(ctx).First(&rule, id).Error; err != nil {
		return nil, translate(err)
	}
	return &rule, nil
}

// CreateActionLog 追加动作日志
func (r *Repository) CreateActionLog(ctx context.Context, log *models.ActionLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

// ListRecentActionLogs 返回设备最近的动作日志
func (r *Repository) ListRecentActionLogs(ctx context.Context, deviceID int64, limit int) ([]models.ActionLog, error) {
	var logs []models.ActionLog
	q := r.db.WithContext(ctx).Where("device_id = ?", deviceID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
