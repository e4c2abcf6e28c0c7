package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/acs-server/internal/config"
	"github.com/taoyao-code/acs-server/internal/metrics"
	"github.com/taoyao-code/acs-server/internal/storage/models"
)

// AlertEvent webhook 推送的事件体
type AlertEvent struct {
	EventID     string `json:"eventId"`
	Event       string `json:"event"`
	DeviceID    *int64 `json:"deviceId,omitempty"`
	Severity    string `json:"severity"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Timestamp   int64  `json:"timestamp"`
}

// WebhookNotifier 将新告警异步推送到运营侧 webhook
type WebhookNotifier struct {
	client   *http.Client
	endpoint string
	apiKey   string
	secret   string
	retries  int
	backoff  []time.Duration
	metrics  *metrics.AppMetrics
	logger   *zap.Logger
}

// NewWebhookNotifier URL 为空时返回 nil（推送关闭）
func NewWebhookNotifier(cfg cfgpkg.WebhookConfig, m *metrics.AppMetrics, logger *zap.Logger) *WebhookNotifier {
	if cfg.URL == "" {
		return nil
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = 3
	}
	return &WebhookNotifier{
		client:   &http.Client{Timeout: timeout},
		endpoint: cfg.URL,
		apiKey:   cfg.APIKey,
		secret:   cfg.Secret,
		retries:  retries,
		backoff:  []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 2 * time.Second},
		metrics:  m,
		logger:   logger,
	}
}

// Notify 异步推送，失败不影响告警落库
func (n *WebhookNotifier) Notify(alert *models.Alert) {
	if n == nil {
		return
	}
	ev := AlertEvent{
		EventID:     uuid.NewString(),
		Event:       "alert.created",
		DeviceID:    alert.DeviceID,
		Severity:    alert.Severity,
		Title:       alert.Title,
		Description: alert.Description,
		Timestamp:   time.Now().Unix(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := n.send(ctx, ev); err != nil {
			n.metrics.WebhookPushTotal.WithLabelValues("failure").Inc()
			n.logger.Warn("webhook push failed",
				zap.String("event_id", ev.EventID),
				zap.Error(err))
			return
		}
		n.metrics.WebhookPushTotal.WithLabelValues("success").Inc()
	}()
}

// send 发送 JSON 事件，自动添加签名头，5xx/网络错误退避重试
func (n *WebhookNotifier) send(ctx context.Context, ev AlertEvent) error {
	u, err := url.Parse(n.endpoint)
	if err != nil {
		return err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= n.retries; attempt++ {
		code, err := n.post(ctx, u.Path, body)
		if err != nil {
			lastErr = err
		} else if code >= 200 && code < 300 {
			return nil
		} else if code < 500 {
			return fmt.Errorf("http %d", code)
		} else {
			lastErr = fmt.Errorf("http %d", code)
		}
		if attempt == n.retries {
			break
		}
		backoff := n.backoff[min(attempt, len(n.backoff)-1)]
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	if lastErr == nil {
		lastErr = errors.New("webhook push failed")
	}
	return lastErr
}

func (n *WebhookNotifier) post(ctx context.Context, path string, body []byte) (int, error) {
	ts := time.Now().Unix()
	nonce := uuid.NewString()
	canonical := buildCanonical(http.MethodPost, path, ts, nonce, hashHex(body))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", n.apiKey)
	req.Header.Set("X-Signature", SignHMAC(n.secret, canonical))
	req.Header.Set("X-Timestamp", fmt.Sprintf("%d", ts))
	req.Header.Set("X-Nonce", nonce)

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
