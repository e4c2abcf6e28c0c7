// Package acs 实现协议处理器：终结设备侧入站会话，
// 保持设备存储与实际上线设备同步，并向运维层暴露同步动作。
package acs

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taoyao-code/acs-server/internal/metrics"
	"github.com/taoyao-code/acs-server/internal/protocol/cwmp"
	"github.com/taoyao-code/acs-server/internal/storage"
	"github.com/taoyao-code/acs-server/internal/storage/models"
)

// Inform 参数表中会被采集的路径
const (
	paramSoftwareVersion = "InternetGatewayDevice.DeviceInfo.SoftwareVersion"
	paramExternalIP      = "InternetGatewayDevice.WANDevice.1.WANConnectionDevice.1.WANIPConnection.1.ExternalIPAddress"
)

// 身份字段缺失时的占位值
const placeholderUnknown = "unknown"

// Handler 协议处理器
type Handler struct {
	repo    storage.CoreRepo
	tracker *SessionTracker
	metrics *metrics.AppMetrics
	logger  *zap.Logger
}

// NewHandler 创建协议处理器
func NewHandler(repo storage.CoreRepo, tracker *SessionTracker, m *metrics.AppMetrics, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, tracker: tracker, metrics: m, logger: logger}
}

// HandleSession 处理一次入站会话，返回应答信封。
// 仅在报文不可解析或缺少序列号时返回错误（调用方应回 4xx 且无响应体）；
// 结构合法报文的内部处理失败一律记日志并回空信封，不向线上抛原始错误。
func (h *Handler) HandleSession(ctx context.Context, body []byte) ([]byte, error) {
	req, err := cwmp.Parse(body)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, cwmp.ErrNoSerialNumber) {
			reason = "no_serial"
		}
		h.metrics.SessionErrors.WithLabelValues(reason).Inc()
		return nil, err
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	h.tracker.Touch(req.Serial, time.Now())
	h.metrics.SessionTotal.WithLabelValues(req.Method).Inc()
	h.metrics.OnlineGauge.Set(float64(h.tracker.OnlineCount(time.Now())))

	switch req.Method {
	case cwmp.MethodInform:
		return h.handleInform(ctx, req)
	case cwmp.MethodRebootResponse:
		h.handleRebootResponse(ctx, req)
	case cwmp.MethodGetRPCMethodsResponse,
		cwmp.MethodGetParameterValuesResponse,
		cwmp.MethodSetParameterValuesResponse:
		h.logger.Debug("acs: rpc response acknowledged",
			zap.String("method", req.Method),
			zap.String("serial", req.Serial))
	default:
		// 未识别方法：确认但不处理，禁止让对端收到协议错误
		h.logger.Warn("acs: unrecognized method",
			zap.String("method", req.Method),
			zap.String("serial", req.Serial))
	}
	return cwmp.BuildEmptyResponse(req.SessionID)
}

// handleInform 设备宣告：已知设备置 online 并刷新 last_seen，
// 未知设备零接触注册（永不拒绝）。
func (h *Handler) handleInform(ctx context.Context, req *cwmp.Request) ([]byte, error) {
	device, err := h.repo.FindDeviceBySerial(ctx, req.Serial)
	switch {
	case err == nil:
		if err := h.informKnown(ctx, device, req.Inform); err != nil {
			h.logger.Error("acs: inform update failed",
				zap.String("serial", req.Serial), zap.Error(err))
			h.metrics.SessionErrors.WithLabelValues("internal").Inc()
			return cwmp.BuildEmptyResponse(req.SessionID)
		}
	case errors.Is(err, storage.ErrNotFound):
		if err := h.autoProvision(ctx, req.Serial, req.Inform); err != nil {
			h.logger.Error("acs: auto provision failed",
				zap.String("serial", req.Serial), zap.Error(err))
			h.metrics.SessionErrors.WithLabelValues("internal").Inc()
			return cwmp.BuildEmptyResponse(req.SessionID)
		}
	default:
		h.logger.Error("acs: device lookup failed",
			zap.String("serial", req.Serial), zap.Error(err))
		h.metrics.SessionErrors.WithLabelValues("internal").Inc()
		return cwmp.BuildEmptyResponse(req.SessionID)
	}
	return cwmp.BuildInformResponse(req.SessionID)
}

func (h *Handler) informKnown(ctx context.Context, device *models.Device, inf *cwmp.Inform) error {
	now := time.Now()
	fields := map[string]any{
		"status":       models.StatusOnline,
		"last_seen_at": now,
	}
	if inf != nil {
		if v := inf.Param(paramSoftwareVersion); v != "" {
			fields["firmware_ver"] = v
		}
		if v := inf.Param(paramExternalIP); v != "" {
			fields["ip_address"] = v
		}
	}
	if _, err := h.repo.UpdateDevice(ctx, device.ID, fields); err != nil {
		return err
	}

	log := &models.ActionLog{
		DeviceID:    &device.ID,
		DeviceKind:  device.Kind,
		Action:      "inform",
		Description: "announcement received",
		Success:     true,
	}
	if err := h.repo.CreateActionLog(ctx, log); err != nil {
		return err
	}

	h.logger.Info("acs: device announced",
		zap.String("serial", device.SerialNumber),
		zap.String("kind", string(device.Kind)))
	return nil
}

// autoProvision 零接触注册：按宣告携带的身份字段建档，缺失字段用占位值
func (h *Handler) autoProvision(ctx context.Context, serial string, inf *cwmp.Inform) error {
	now := time.Now()
	device := &models.Device{
		SerialNumber: serial,
		Kind:         models.KindRouter,
		Status:       models.StatusOnline,
		WifiEnabled:  true,
		LastSeenAt:   &now,
	}

	model := placeholderUnknown
	firmware := placeholderUnknown
	if inf != nil {
		if inf.DeviceID.ProductClass != "" {
			model = inf.DeviceID.ProductClass
		}
		if v := inf.Param(paramSoftwareVersion); v != "" {
			firmware = v
		}
		if inf.DeviceID.Manufacturer != "" {
			device.Manufacturer = &inf.DeviceID.Manufacturer
		}
		if inf.DeviceID.OUI != "" {
			device.OUI = &inf.DeviceID.OUI
		}
		if v := inf.Param(paramExternalIP); v != "" {
			device.IPAddress = &v
		}
		device.Kind = kindFromProductClass(inf.DeviceID.ProductClass)
	}
	device.Model = &model
	device.FirmwareVer = &firmware

	if err := h.repo.CreateDevice(ctx, device); err != nil {
		return err
	}

	alert := &models.Alert{
		DeviceID:    &device.ID,
		Severity:    models.SeverityInfo,
		Title:       "New device provisioned",
		Description: "Device " + serial + " registered itself via Inform",
	}
	if err := h.repo.CreateAlert(ctx, alert); err != nil {
		return err
	}

	h.metrics.AutoProvisioned.Inc()
	h.metrics.AlertsRaised.WithLabelValues(models.SeverityInfo).Inc()
	h.logger.Info("acs: device auto provisioned",
		zap.String("serial", serial),
		zap.String("kind", string(device.Kind)),
		zap.String("model", model))
	return nil
}

// handleRebootResponse 设备确认了此前下发的重启，补记完成日志
func (h *Handler) handleRebootResponse(ctx context.Context, req *cwmp.Request) {
	device, err := h.repo.FindDeviceBySerial(ctx, req.Serial)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			h.logger.Error("acs: reboot response lookup failed",
				zap.String("serial", req.Serial), zap.Error(err))
		}
		return
	}

	log := &models.ActionLog{
		DeviceID:    &device.ID,
		DeviceKind:  device.Kind,
		Action:      "reboot_device",
		Description: "reboot completed by device",
		Success:     true,
	}
	if err := h.repo.CreateActionLog(ctx, log); err != nil {
		h.logger.Error("acs: reboot response log failed",
			zap.String("serial", req.Serial), zap.Error(err))
	}
}

// RegisterDevice 外部路径（非 Inform）建档后的登记钩子。
// 目前仅做可观测性记录，后续簿记可默认设备已被追踪。
func (h *Handler) RegisterDevice(device *models.Device) {
	if device == nil {
		return
	}
	h.logger.Info("acs: device registered externally",
		zap.String("serial", device.SerialNumber),
		zap.String("kind", string(device.Kind)))
}

// kindFromProductClass 从产品类别推断设备种类，推断不出按接入路由器处理
func kindFromProductClass(productClass string) models.DeviceKind {
	pc := strings.ToLower(productClass)
	switch {
	case strings.Contains(pc, "onu"), strings.Contains(pc, "ont"):
		return models.KindONU
	case strings.Contains(pc, "olt"):
		return models.KindOLT
	default:
		return models.KindRouter
	}
}
