package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Client side.
var (
	ClientConnections       = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "ws2s_client_connections", Help: "Client connections by state"}, []string{"state"})
	ClientHandshakeFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "ws2s_client_handshake_failures_total", Help: "Handshakes that ended in Failed"})
	ClientBytesTotal        = promauto.NewCounterVec(prometheus.CounterOpts{Name: "ws2s_client_bytes_total", Help: "Tunnel payload bytes by direction"}, []string{"direction"})
)

// Bridge side.
var (
	BridgeSessions        = promauto.NewGauge(prometheus.GaugeOpts{Name: "ws2s_bridge_sessions", Help: "Open WebSocket sessions"})
	BridgeTunnels         = promauto.NewGauge(prometheus.GaugeOpts{Name: "ws2s_bridge_tunnels", Help: "Sessions with a connected TCP target"})
	BridgeTunnelsTotal    = promauto.NewCounter(prometheus.CounterOpts{Name: "ws2s_bridge_tunnels_total", Help: "Tunnels established"})
	BridgeBytesTotal      = promauto.NewCounterVec(prometheus.CounterOpts{Name: "ws2s_bridge_bytes_total", Help: "Relayed bytes by direction"}, []string{"direction"})
	BridgeRateLimited     = promauto.NewCounterVec(prometheus.CounterOpts{Name: "ws2s_bridge_rate_limited_total", Help: "Rejected by rate limiting"}, []string{"kind"})
	TunnelDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{Name: "ws2s_bridge_tunnel_duration_seconds", Help: "Tunnel lifetime seconds", Buckets: prometheus.ExponentialBuckets(0.01, 2, 16)})
)

// ErrorsTotal counts errors by type on both sides.
var ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "ws2s_errors_total", Help: "Errors by type"}, []string{"type"})
