package app

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taoyao-code/acs-server/internal/metrics"
	"github.com/taoyao-code/acs-server/internal/storage/models"
	"github.com/taoyao-code/acs-server/internal/storage/storagetest"
)

// captureNotifier 记录外推过的告警
type captureNotifier struct{ alerts []*models.Alert }

func (n *captureNotifier) Notify(alert *models.Alert) { n.alerts = append(n.alerts, alert) }

func TestAlerterCooldownSuppression(t *testing.T) {
	repo := storagetest.NewFakeRepo()
	m := metrics.NewAppMetrics(metrics.NewRegistry())
	a := NewAlerter(repo, NewMemoryDeduper(), 30*time.Minute, nil, m, zap.NewNop())

	ctx := context.Background()
	id := int64(1)
	require.NoError(t, a.Raise(ctx, &id, "router_offline:SN-1", models.SeverityError, "offline", "d"))
	require.NoError(t, a.Raise(ctx, &id, "router_offline:SN-1", models.SeverityError, "offline", "d"))

	// 冷却窗口内同一条件只落一条
	assert.Len(t, repo.Alerts(), 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AlertsSuppressed))

	// 不同条件互不抑制
	require.NoError(t, a.Raise(ctx, &id, "router_weak_signal:SN-1", models.SeverityWarning, "weak", "d"))
	assert.Len(t, repo.Alerts(), 2)
}

func TestAlerterNoDedup(t *testing.T) {
	repo := storagetest.NewFakeRepo()
	m := metrics.NewAppMetrics(metrics.NewRegistry())
	a := NewAlerter(repo, nil, 0, nil, m, zap.NewNop())

	ctx := context.Background()
	require.NoError(t, a.Raise(ctx, nil, "k", models.SeverityInfo, "t", "d"))
	require.NoError(t, a.Raise(ctx, nil, "k", models.SeverityInfo, "t", "d"))
	assert.Len(t, repo.Alerts(), 2)
}

func TestAlerterEmptyCondKeySkipsDedup(t *testing.T) {
	repo := storagetest.NewFakeRepo()
	m := metrics.NewAppMetrics(metrics.NewRegistry())
	a := NewAlerter(repo, NewMemoryDeduper(), 30*time.Minute, nil, m, zap.NewNop())

	ctx := context.Background()
	require.NoError(t, a.Raise(ctx, nil, "", models.SeverityInfo, "provisioned", "d"))
	require.NoError(t, a.Raise(ctx, nil, "", models.SeverityInfo, "provisioned", "d"))
	assert.Len(t, repo.Alerts(), 2)
}

func TestAlerterNotifies(t *testing.T) {
	repo := storagetest.NewFakeRepo()
	m := metrics.NewAppMetrics(metrics.NewRegistry())
	n := &captureNotifier{}
	a := NewAlerter(repo, NewMemoryDeduper(), 30*time.Minute, n, m, zap.NewNop())

	ctx := context.Background()
	require.NoError(t, a.Raise(ctx, nil, "k1", models.SeverityCritical, "t", "d"))
	require.NoError(t, a.Raise(ctx, nil, "k1", models.SeverityCritical, "t", "d"))

	// 被抑制的告警不外推
	require.Len(t, n.alerts, 1)
	assert.Equal(t, models.SeverityCritical, n.alerts[0].Severity)
}

func TestMemoryDeduperWindowExpiry(t *testing.T) {
	d := NewMemoryDeduper()
	ctx := context.Background()

	ok, err := d.Allow(ctx, "k", 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.Allow(ctx, "k", 10*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	time.Sleep(15 * time.Millisecond)
	ok, err = d.Allow(ctx, "k", 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)
}
