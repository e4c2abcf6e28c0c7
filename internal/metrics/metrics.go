package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics 自定义业务指标
type AppMetrics struct {
	SessionTotal      *prometheus.CounterVec // labels: method
	SessionErrors     *prometheus.CounterVec // labels: reason=malformed|no_serial|internal
	AutoProvisioned   prometheus.Counter     // 零接触注册的设备数
	OnlineGauge       prometheus.Gauge       // 会话追踪的当前在线设备数
	SweepTotal        *prometheus.CounterVec // labels: worker=monitor|automation
	SweepErrors       *prometheus.CounterVec // labels: worker
	AlertsRaised      *prometheus.CounterVec // labels: severity
	AlertsSuppressed  prometheus.Counter     // 去重窗口内被抑制的告警数
	RuleMatches       prometheus.Counter     // 规则命中次数（按设备计）
	ActionTotal       *prometheus.CounterVec // labels: action, result=ok|error
	OperatorActions   *prometheus.CounterVec // labels: action, result
	WebhookPushTotal  *prometheus.CounterVec // labels: result
}

// NewAppMetrics 注册并返回业务指标
func NewAppMetrics(reg *prometheus.Registry) *AppMetrics {
	m := &AppMetrics{
		SessionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acs_session_total",
			Help: "Inbound ACS sessions by method.",
		}, []string{"method"}),
		SessionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acs_session_errors_total",
			Help: "Inbound ACS session failures by reason.",
		}, []string{"reason"}),
		AutoProvisioned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "acs_auto_provisioned_total",
			Help: "Devices auto-provisioned on first contact.",
		}),
		OnlineGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "acs_session_online_count",
			Help: "Devices considered online by the session tracker.",
		}),
		SweepTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acs_sweep_total",
			Help: "Background sweeps executed per worker.",
		}, []string{"worker"}),
		SweepErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acs_sweep_errors_total",
			Help: "Errors swallowed inside background sweeps.",
		}, []string{"worker"}),
		AlertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acs_alerts_raised_total",
			Help: "Alerts written to the store by severity.",
		}, []string{"severity"}),
		AlertsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "acs_alerts_suppressed_total",
			Help: "Alerts suppressed by the dedup cooldown window.",
		}),
		RuleMatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "acs_rule_matches_total",
			Help: "Automation rule matches (per device per sweep).",
		}),
		ActionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acs_action_total",
			Help: "Automation actions executed by kind and result.",
		}, []string{"action", "result"}),
		OperatorActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acs_operator_action_total",
			Help: "Operator-invoked device actions by kind and result.",
		}, []string{"action", "result"}),
		WebhookPushTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acs_webhook_push_total",
			Help: "Alert webhook pushes by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.SessionTotal, m.SessionErrors, m.AutoProvisioned, m.OnlineGauge,
		m.SweepTotal, m.SweepErrors, m.AlertsRaised, m.AlertsSuppressed,
		m.RuleMatches, m.ActionTotal, m.OperatorActions, m.WebhookPushTotal,
	)
	return m
}
