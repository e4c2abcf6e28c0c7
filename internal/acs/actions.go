package acs

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/taoyao-code/acs-server/internal/storage/models"
)

// ErrEmptyConfig 下发的配置未携带任何字段
var ErrEmptyConfig = errors.New("empty wifi config")

// 运维侧同步动作。调用方是管理层（有人等结果），
// 因此失败在落一条失败日志后向上抛出。
// 不变式：每次调用恰写一条动作日志，成功或失败，绝不两条。

// WiFiConfig 运维下发的 WiFi 变更（nil 字段表示不改）
type WiFiConfig struct {
	Enabled *bool   `json:"enabled,omitempty"`
	Channel *int32  `json:"channel,omitempty"`
	SSID    *string `json:"ssid,omitempty"`
}

// ActionResult 同步动作结果
type ActionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// RebootDevice 对指定设备发起（模拟）重启。
// 设备不存在时落失败日志并返回 not-found 错误。
func (h *Handler) RebootDevice(ctx context.Context, deviceID int64, actor string) (*ActionResult, error) {
	device, err := h.repo.GetDeviceByID(ctx, deviceID)
	if err != nil {
		err = fmt.Errorf("reboot device %d: %w", deviceID, err)
		h.logActionFailure(ctx, deviceID, "", "reboot_device", nil, actor, err)
		h.metrics.OperatorActions.WithLabelValues("reboot_device", "error").Inc()
		return nil, err
	}

	// 模拟重启：运行时长归零；真实下发依赖设备下一次会话
	if _, err := h.repo.UpdateDevice(ctx, device.ID, map[string]any{"uptime_sec": int64(0)}); err != nil {
		err = fmt.Errorf("reboot device %d: %w", deviceID, err)
		h.logActionFailure(ctx, deviceID, device.Kind, "reboot_device", nil, actor, err)
		h.metrics.OperatorActions.WithLabelValues("reboot_device", "error").Inc()
		return nil, err
	}

	h.appendActionLog(ctx, &models.ActionLog{
		DeviceID:    &device.ID,
		DeviceKind:  device.Kind,
		Action:      "reboot_device",
		Description: "reboot requested by operator",
		Success:     true,
		Actor:       actorPtr(actor),
	})
	h.metrics.OperatorActions.WithLabelValues("reboot_device", "ok").Inc()

	h.logger.Info("acs: device reboot issued",
		zap.String("serial", device.SerialNumber),
		zap.String("actor", actor))
	return &ActionResult{Success: true, Message: "reboot issued"}, nil
}

// UpdateWiFiConfig 更新设备的 WiFi 配置。
// 设备不存在时落失败日志并返回 not-found 错误。
func (h *Handler) UpdateWiFiConfig(ctx context.Context, deviceID int64, cfg WiFiConfig, actor string) (*ActionResult, error) {
	params := wifiParams(cfg)

	device, err := h.repo.GetDeviceByID(ctx, deviceID)
	if err != nil {
		err = fmt.Errorf("update wifi config for device %d: %w", deviceID, err)
		h.logActionFailure(ctx, deviceID, "", "update_wifi_config", params, actor, err)
		h.metrics.OperatorActions.WithLabelValues("update_wifi_config", "error").Inc()
		return nil, err
	}

	fields := map[string]any{}
	if cfg.Enabled != nil {
		fields["wifi_enabled"] = *cfg.Enabled
	}
	if cfg.Channel != nil {
		fields["wifi_channel"] = *cfg.Channel
	}
	if cfg.SSID != nil {
		fields["wifi_ssid"] = *cfg.SSID
	}
	if len(fields) == 0 {
		err := fmt.Errorf("update wifi config for device %d: %w", deviceID, ErrEmptyConfig)
		h.logActionFailure(ctx, deviceID, device.Kind, "update_wifi_config", params, actor, err)
		h.metrics.OperatorActions.WithLabelValues("update_wifi_config", "error").Inc()
		return nil, err
	}

	if _, err := h.repo.UpdateDevice(ctx, device.ID, fields); err != nil {
		err = fmt.Errorf("update wifi config for device %d: %w", deviceID, err)
		h.logActionFailure(ctx, deviceID, device.Kind, "update_wifi_config", params, actor, err)
		h.metrics.OperatorActions.WithLabelValues("update_wifi_config", "error").Inc()
		return nil, err
	}

	h.appendActionLog(ctx, &models.ActionLog{
		DeviceID:    &device.ID,
		DeviceKind:  device.Kind,
		Action:      "update_wifi_config",
		Description: "wifi configuration updated by operator",
		Params:      params,
		Success:     true,
		Actor:       actorPtr(actor),
	})
	h.metrics.OperatorActions.WithLabelValues("update_wifi_config", "ok").Inc()

	h.logger.Info("acs: wifi config updated",
		zap.String("serial", device.SerialNumber),
		zap.String("actor", actor))
	return &ActionResult{Success: true, Message: "wifi config updated"}, nil
}

// logActionFailure 失败路径的单条审计日志
func (h *Handler) logActionFailure(ctx context.Context, deviceID int64, kind models.DeviceKind, action string, params models.JSONMap, actor string, cause error) {
	msg := cause.Error()
	h.appendActionLog(ctx, &models.ActionLog{
		DeviceID:   &deviceID,
		DeviceKind: kind,
		Action:     action,
		Params:     params,
		Success:    false,
		ErrMessage: &msg,
		Actor:      actorPtr(actor),
	})
}

// appendActionLog 审计日志写失败只记日志，不影响动作结果
func (h *Handler) appendActionLog(ctx context.Context, log *models.ActionLog) {
	if err := h.repo.CreateActionLog(ctx, log); err != nil {
		h.logger.Error("acs: action log write failed",
			zap.String("action", log.Action), zap.Error(err))
	}
}

func wifiParams(cfg WiFiConfig) models.JSONMap {
	params := models.JSONMap{}
	if cfg.Enabled != nil {
		params["enabled"] = *cfg.Enabled
	}
	if cfg.Channel != nil {
		params["channel"] = *cfg.Channel
	}
	if cfg.SSID != nil {
		params["ssid"] = *cfg.SSID
	}
	return params
}

// actorPtr 空 actor 归一为 NULL（NULL 表示系统自动发起）
func actorPtr(actor string) *string {
	if actor == "" {
		return nil
	}
	return &actor
}
