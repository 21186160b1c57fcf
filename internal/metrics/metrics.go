// Package metrics Prometheus 指标。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/betbot/kisbot/internal/kis"
	"github.com/betbot/kisbot/internal/kis/credential"
	"github.com/betbot/kisbot/internal/kis/overseas"
	"github.com/betbot/kisbot/internal/kis/realtime"
)

// Metrics 所有指标挂在独立 registry 上，便于测试
type Metrics struct {
	Registry *prometheus.Registry

	Orders            *prometheus.CounterVec
	CredentialRefresh *prometheus.CounterVec
	FeedFrames        *prometheus.CounterVec
	FeedReconnects    prometheus.Counter
	FeedState         prometheus.Gauge
	JobRuns           *prometheus.CounterVec
}

// New 创建并注册指标
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kisbot_orders_total",
			Help: "Orders submitted to the broker, by side and result.",
		}, []string{"side", "result"}),
		CredentialRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kisbot_credential_refresh_total",
			Help: "Credential issuance requests, by kind.",
		}, []string{"kind", "env", "result"}),
		FeedFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kisbot_feed_frames_total",
			Help: "Realtime frames received, by kind.",
		}, []string{"kind"}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kisbot_feed_reconnects_total",
			Help: "Realtime feed reconnect cycles started.",
		}),
		FeedState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kisbot_feed_state",
			Help: "Realtime feed state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 failed).",
		}),
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kisbot_job_runs_total",
			Help: "Scheduled or manual job runs, by job and result.",
		}, []string{"job", "result"}),
	}
	m.Registry.MustRegister(
		m.Orders,
		m.CredentialRefresh,
		m.FeedFrames,
		m.FeedReconnects,
		m.FeedState,
		m.JobRuns,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// OrderObserver 接到 overseas.Gateway
func (m *Metrics) OrderObserver() overseas.OrderObserver {
	return func(side overseas.Side, err error) {
		m.Orders.WithLabelValues(string(side), result(err)).Inc()
	}
}

// CredentialObserver 接到 credential.Store
func (m *Metrics) CredentialObserver() credential.RefreshObserver {
	return func(kind credential.Kind, env kis.Environment, err error) {
		m.CredentialRefresh.WithLabelValues(string(kind), env.String(), result(err)).Inc()
	}
}

// AttachFeed 注册实时客户端回调
func (m *Metrics) AttachFeed(c *realtime.Client) {
	c.OnTick(func(realtime.Tick) { m.FeedFrames.WithLabelValues("tick").Inc() })
	c.OnAck(func(realtime.Ack) { m.FeedFrames.WithLabelValues("ack").Inc() })
	c.OnInvalidFrame(func(string, error) { m.FeedFrames.WithLabelValues("invalid").Inc() })
	c.OnState(func(s realtime.State) {
		m.FeedState.Set(float64(s))
		if s == realtime.Reconnecting {
			m.FeedReconnects.Inc()
		}
	})
}

// JobDone 记录一次任务执行
func (m *Metrics) JobDone(job string, ok bool) {
	r := "ok"
	if !ok {
		r = "failed"
	}
	m.JobRuns.WithLabelValues(job, r).Inc()
}
