package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taoyao-code/acs-server/internal/acs"
	cfgpkg "github.com/taoyao-code/acs-server/internal/config"
	"github.com/taoyao-code/acs-server/internal/metrics"
	"github.com/taoyao-code/acs-server/internal/storage/models"
	"github.com/taoyao-code/acs-server/internal/storage/storagetest"
)

func newTestRouter(authCfg cfgpkg.AuthConfig) (*gin.Engine, *storagetest.FakeRepo) {
	gin.SetMode(gin.TestMode)
	repo := storagetest.NewFakeRepo()
	m := metrics.NewAppMetrics(metrics.NewRegistry())
	sessions := acs.NewHandler(repo, acs.NewSessionTracker(10*time.Minute), m, zap.NewNop())

	r := gin.New()
	RegisterRoutes(r, sessions, repo, cfgpkg.ACSConfig{Path: "/acs", MaxBodyKB: 64}, authCfg, zap.NewNop())
	return r, repo
}

func doRequest(r *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

const testInform = `<Envelope>
  <Header><ID>s1</ID></Header>
  <Body>
    <Inform>
      <DeviceId>
        <Manufacturer>FiberHome</Manufacturer>
        <ProductClass>IGW-Router</ProductClass>
        <SerialNumber>SN-API-1</SerialNumber>
      </DeviceId>
    </Inform>
  </Body>
</Envelope>`

func TestACSEndpointInform(t *testing.T) {
	r, repo := newTestRouter(cfgpkg.AuthConfig{})

	w := doRequest(r, http.MethodPost, "/acs", testInform, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/xml")
	assert.Contains(t, w.Body.String(), "<MaxEnvelopes>1</MaxEnvelopes>")
	assert.Equal(t, 1, repo.DeviceCount())
}

func TestACSEndpointEmptyBody(t *testing.T) {
	r, _ := newTestRouter(cfgpkg.AuthConfig{})

	// CPE 空 POST 表示会话结束
	w := doRequest(r, http.MethodPost, "/acs", "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestACSEndpointBadRequests(t *testing.T) {
	r, repo := newTestRouter(cfgpkg.AuthConfig{})

	w := doRequest(r, http.MethodPost, "/acs", "garbage", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	noSerial := `<Envelope><Body><Inform><DeviceId></DeviceId></Inform></Body></Envelope>`
	w = doRequest(r, http.MethodPost, "/acs", noSerial, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, 0, repo.DeviceCount())
}

func TestOperatorDevices(t *testing.T) {
	r, repo := newTestRouter(cfgpkg.AuthConfig{})
	require.NoError(t, repo.CreateDevice(context.Background(), &models.Device{
		SerialNumber: "SN-1", Kind: models.KindRouter, Status: models.StatusOnline,
	}))

	w := doRequest(r, http.MethodGet, "/api/devices", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"SN-1"`)
	assert.Contains(t, w.Body.String(), `"total":1`)

	w = doRequest(r, http.MethodGet, "/api/devices?kind=onu", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), `"SN-1"`)

	w = doRequest(r, http.MethodGet, "/api/devices?kind=fridge", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(r, http.MethodGet, "/api/devices/1", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(r, http.MethodGet, "/api/devices/404", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOperatorReboot(t *testing.T) {
	r, repo := newTestRouter(cfgpkg.AuthConfig{})
	require.NoError(t, repo.CreateDevice(context.Background(), &models.Device{
		SerialNumber: "SN-1", Kind: models.KindRouter, Status: models.StatusOnline,
	}))

	w := doRequest(r, http.MethodPost, "/api/devices/1/reboot", "", map[string]string{"X-Operator": "alice"})
	assert.Equal(t, http.StatusOK, w.Code)

	logs := repo.ActionLogs()
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].Actor)
	assert.Equal(t, "alice", *logs[0].Actor)

	w = doRequest(r, http.MethodPost, "/api/devices/99/reboot", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOperatorWiFi(t *testing.T) {
	r, repo := newTestRouter(cfgpkg.AuthConfig{})
	require.NoError(t, repo.CreateDevice(context.Background(), &models.Device{
		SerialNumber: "SN-1", Kind: models.KindRouter, Status: models.StatusOnline,
	}))

	w := doRequest(r, http.MethodPost, "/api/devices/1/wifi", `{"channel":11,"ssid":"lobby"}`,
		map[string]string{"Content-Type": "application/json"})
	assert.Equal(t, http.StatusOK, w.Code)

	device, err := repo.GetDeviceByID(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, device.WifiChannel)
	assert.EqualValues(t, 11, *device.WifiChannel)

	// 空配置是调用方错误
	w = doRequest(r, http.MethodPost, "/api/devices/1/wifi", `{}`,
		map[string]string{"Content-Type": "application/json"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPIKeyAuth(t *testing.T) {
	authCfg := cfgpkg.AuthConfig{Enabled: true, APIKeys: []string{"sk_live_good"}}
	r, repo := newTestRouter(authCfg)
	require.NoError(t, repo.CreateDevice(context.Background(), &models.Device{
		SerialNumber: "SN-1", Kind: models.KindRouter, Status: models.StatusOnline,
	}))

	w := doRequest(r, http.MethodGet, "/api/devices", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(r, http.MethodGet, "/api/devices", "", map[string]string{"X-API-Key": "sk_live_bad"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(r, http.MethodGet, "/api/devices", "", map[string]string{"X-API-Key": "sk_live_good"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(r, http.MethodGet, "/api/devices", "", map[string]string{"Authorization": "Bearer sk_live_good"})
	assert.Equal(t, http.StatusOK, w.Code)

	// 协议入口不受运营鉴权约束
	w = doRequest(r, http.MethodPost, "/acs", testInform, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
