package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for tunnelgw.
type Metrics struct {
	TunnelsTotal     prometheus.Counter
	ActiveTunnels    prometheus.Gauge
	TCPSessionsTotal prometheus.Counter
	ActiveTCPSessions prometheus.Gauge
	UDPSessionsTotal prometheus.Counter
	ActiveUDPSessions prometheus.Gauge
	FramesTotal      *prometheus.CounterVec
	BytesTotal       *prometheus.CounterVec
	ErrorsTotal      *prometheus.CounterVec
	DialErrorsTotal  *prometheus.CounterVec
	AdmissionDeniedTotal *prometheus.CounterVec
	ClaimsTotal      prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		TunnelsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tunnelgw_tunnels_total",
			Help: "Total tunnel WebSocket connections accepted",
		}),
		ActiveTunnels: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tunnelgw_active_tunnels",
			Help: "Current active tunnel WebSocket connections",
		}),
		TCPSessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tunnelgw_tcp_sessions_total",
			Help: "Total TCP proxy sessions opened",
		}),
		ActiveTCPSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tunnelgw_active_tcp_sessions",
			Help: "Current active TCP proxy sessions",
		}),
		UDPSessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tunnelgw_udp_sessions_total",
			Help: "Total UDP proxy sessions opened",
		}),
		ActiveUDPSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tunnelgw_active_udp_sessions",
			Help: "Current active UDP proxy sessions",
		}),
		FramesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tunnelgw_frames_total",
			Help: "Total frames processed by tag and direction",
		}, []string{"tag", "direction"}),
		BytesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tunnelgw_bytes_total",
			Help: "Total payload bytes relayed by protocol and direction",
		}, []string{"protocol", "direction"}),
		ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tunnelgw_errors_total",
			Help: "Total errors by type",
		}, []string{"type"}),
		DialErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tunnelgw_dial_errors_total",
			Help: "Total upstream dial failures by protocol",
		}, []string{"protocol"}),
		AdmissionDeniedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tunnelgw_admission_denied_total",
			Help: "Total admission gate rejections by reason",
		}, []string{"reason"}),
		ClaimsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tunnelgw_claims_total",
			Help: "Total CLAIM/CLAIM_ACK handshakes observed",
		}),
	}
}
