package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/acs-server/internal/acs"
	"github.com/taoyao-code/acs-server/internal/api/middleware"
	cfgpkg "github.com/taoyao-code/acs-server/internal/config"
	"github.com/taoyao-code/acs-server/internal/storage"
)

// RegisterRoutes 注册协议入口与运营 API
func RegisterRoutes(
	r *gin.Engine,
	sessions *acs.Handler,
	repo storage.CoreRepo,
	acsCfg cfgpkg.ACSConfig,
	authCfg cfgpkg.AuthConfig,
	logger *zap.Logger,
) {
	if r == nil || sessions == nil || repo == nil {
		return
	}

	// 协议入口：CPE 面，仅限流不鉴权（CWMP 无法携带运营密钥）
	acsPath := acsCfg.Path
	if acsPath == "" {
		acsPath = "/acs"
	}
	acsHandler := NewACSHandler(sessions, acsCfg.MaxBodyKB, logger)
	r.POST(acsPath, middleware.RateLimit(acsCfg.RateLimit, acsCfg.RateBurst), acsHandler.Handle)

	// 运营 API 组
	operator := NewOperatorHandler(repo, sessions, logger)
	api := r.Group("/api")
	if authCfg.Enabled {
		api.Use(middleware.APIKeyAuth(authCfg, logger))
		logger.Info("api authentication enabled", zap.Int("api_keys_count", len(authCfg.APIKeys)))
	} else {
		logger.Warn("api authentication disabled - only for development!")
	}

	api.GET("/devices", operator.ListDevices)
	api.GET("/devices/:id", operator.GetDevice)
	api.GET("/devices/:id/logs", operator.ListDeviceLogs)
	api.GET("/alerts", operator.ListAlerts)
	api.GET("/rules", operator.ListRules)
	api.POST("/devices/:id/reboot", operator.RebootDevice)
	api.POST("/devices/:id/wifi", operator.UpdateWiFi)

	logger.Info("routes registered", zap.String("acs_path", acsPath))
}
