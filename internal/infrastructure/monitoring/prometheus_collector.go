package monitoring

import (
	"strconv"
	"time"

	"telesession/internal/core/domain"
	"telesession/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements the telemetry port on top of the default
// Prometheus registry.
type PrometheusCollector struct {
	connectsTotal     *prometheus.CounterVec
	disconnectsTotal  *prometheus.CounterVec
	reconnectAttempts prometheus.Counter
	connectionsLost   prometheus.Counter
	profileSwitches   *prometheus.CounterVec
	sendFailures      *prometheus.CounterVec
	participants      prometheus.Gauge
	signalLatency     prometheus.Histogram
}

var _ ports.Telemetry = (*PrometheusCollector)(nil)

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		connectsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "telesession_signal_connects_total",
			Help: "Successful signaling connections, partitioned by initial vs reconnect",
		}, []string{"kind"}),

		disconnectsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "telesession_signal_disconnects_total",
			Help: "Signaling disconnects by websocket close code",
		}, []string{"code"}),

		reconnectAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "telesession_signal_reconnect_attempts_total",
			Help: "Reconnection attempts made by the signaling channel",
		}),

		connectionsLost: promauto.NewCounter(prometheus.CounterOpts{
			Name: "telesession_signal_connections_lost_total",
			Help: "Terminal connection losses after the reconnect budget was exhausted",
		}),

		profileSwitches: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "telesession_quality_profile_switches_total",
			Help: "Quality profile switches by source and destination profile",
		}, []string{"from", "to"}),

		sendFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "telesession_signal_send_failures_total",
			Help: "Dropped or failed outbound signaling messages by type",
		}, []string{"type"}),

		participants: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "telesession_room_participants",
			Help: "Current number of participants in the joined room",
		}),

		signalLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "telesession_signal_latency_seconds",
			Help:    "Round-trip latency of the signaling channel",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.3, 0.5, 1, 2},
		}),
	}
}

func (p *PrometheusCollector) RecordConnect(reconnect bool) {
	kind := "initial"
	if reconnect {
		kind = "reconnect"
	}
	p.connectsTotal.WithLabelValues(kind).Inc()
}

func (p *PrometheusCollector) RecordDisconnect(code int) {
	p.disconnectsTotal.WithLabelValues(strconv.Itoa(code)).Inc()
}

func (p *PrometheusCollector) RecordReconnectAttempt() {
	p.reconnectAttempts.Inc()
}

func (p *PrometheusCollector) RecordConnectionLost() {
	p.connectionsLost.Inc()
}

func (p *PrometheusCollector) RecordProfileSwitch(from, to domain.ProfileName) {
	p.profileSwitches.WithLabelValues(string(from), string(to)).Inc()
}

func (p *PrometheusCollector) RecordSendFailure(msgType string) {
	p.sendFailures.WithLabelValues(msgType).Inc()
}

func (p *PrometheusCollector) SetParticipants(n int) {
	p.participants.Set(float64(n))
}

func (p *PrometheusCollector) ObserveLatency(d time.Duration) {
	p.signalLatency.Observe(d.Seconds())
}
