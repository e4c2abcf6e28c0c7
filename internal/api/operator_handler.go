package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/acs-server/internal/acs"
	"github.com/taoyao-code/acs-server/internal/storage"
	"github.com/taoyao-code/acs-server/internal/storage/models"
)

// OperatorHandler 运营侧只读查询与设备动作
type OperatorHandler struct {
	repo   storage.CoreRepo
	acts   *acs.Handler
	logger *zap.Logger
}

func NewOperatorHandler(repo storage.CoreRepo, acts *acs.Handler, logger *zap.Logger) *OperatorHandler {
	return &OperatorHandler{repo: repo, acts: acts, logger: logger}
}

// ListDevices 查询设备列表，支持 kind 过滤
func (h *OperatorHandler) ListDevices(c *gin.Context) {
	kind := models.DeviceKind(c.Query("kind"))
	if kind != "" {
		valid := false
		for _, k := range models.Kinds() {
			if k == kind {
				valid = true
				break
			}
		}
		if !valid {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown device kind"})
			return
		}
	}

	list, err := h.repo.ListDevices(c.Request.Context(), kind)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	total, err := h.repo.CountDevices(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": list, "total": total})
}

// GetDevice 查询单个设备
func (h *OperatorHandler) GetDevice(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	device, err := h.repo.GetDeviceByID(c.Request.Context(), id)
	if err != nil {
		writeRepoError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"device": device})
}

// ListAlerts 分页查询告警
func (h *OperatorHandler) ListAlerts(c *gin.Context) {
	limit := intQuery(c, "limit", 100)
	offset := intQuery(c, "offset", 0)

	alerts, err := h.repo.ListAlerts(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

// ListRules 查询全部自动化规则
func (h *OperatorHandler) ListRules(c *gin.Context) {
	rules, err := h.repo.ListAllRules(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

// ListDeviceLogs 查询设备最近动作日志
func (h *OperatorHandler) ListDeviceLogs(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	limit := intQuery(c, "limit", 50)

	logs, err := h.repo.ListRecentActionLogs(c.Request.Context(), id, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// RebootDevice 触发设备重启
func (h *OperatorHandler) RebootDevice(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	result, err := h.acts.RebootDevice(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		writeRepoError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// UpdateWiFi 下发WiFi配置变更
func (h *OperatorHandler) UpdateWiFi(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var cfg acs.WiFiConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wifi config: " + err.Error()})
		return
	}
	result, err := h.acts.UpdateWiFiConfig(c.Request.Context(), id, cfg, actorFrom(c))
	if err != nil {
		if errors.Is(err, acs.ErrEmptyConfig) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		writeRepoError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// pathID 解析 :id 路径参数，非法时直接写 400
func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid device id"})
		return 0, false
	}
	return id, true
}

func intQuery(c *gin.Context, name string, dflt int) int {
	if v := c.Query(name); v != "" {
		if vv, err := strconv.Atoi(v); err == nil {
			return vv
		}
	}
	return dflt
}

// actorFrom 操作者标识取自 Header，缺省为 operator
func actorFrom(c *gin.Context) string {
	if actor := c.GetHeader("X-Operator"); actor != "" {
		return actor
	}
	return "operator"
}

func writeRepoError(c *gin.Context, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
