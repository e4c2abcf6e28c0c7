package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/acs-server/internal/acs"
	"github.com/taoyao-code/acs-server/internal/protocol/cwmp"
)

const contentTypeXML = `text/xml; charset="utf-8"`

// ACSHandler CWMP 协议入口
type ACSHandler struct {
	sessions  *acs.Handler
	maxBodyKB int
	logger    *zap.Logger
}

func NewACSHandler(sessions *acs.Handler, maxBodyKB int, logger *zap.Logger) *ACSHandler {
	if maxBodyKB <= 0 {
		maxBodyKB = 256
	}
	return &ACSHandler{sessions: sessions, maxBodyKB: maxBodyKB, logger: logger}
}

// Handle 处理一次 CWMP POST。
// CPE 的空 POST 表示会话结束，回 204 关闭；
// 畸形报文或缺失序列号回 400，且不落任何存储写入。
func (h *ACSHandler) Handle(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, int64(h.maxBodyKB)*1024))
	if err != nil {
		c.String(http.StatusBadRequest, "read body failed")
		return
	}
	if len(body) == 0 {
		c.Status(http.StatusNoContent)
		return
	}

	resp, err := h.sessions.HandleSession(c.Request.Context(), body)
	if err != nil {
		if errors.Is(err, cwmp.ErrMalformed) || errors.Is(err, cwmp.ErrNoSerialNumber) {
			c.String(http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("acs endpoint: session failed", zap.Error(err))
		c.String(http.StatusInternalServerError, "internal error")
		return
	}
	c.Data(http.StatusOK, contentTypeXML, resp)
}
