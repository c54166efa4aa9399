package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the relay's Prometheus surface.
type Metrics struct {
	ConnectionsTotal prometheus.Counter
	AgentsOnline     prometheus.Gauge
	MessagesTotal    *prometheus.CounterVec
	RateLimited      prometheus.Counter
	ProposalsTotal   *prometheus.CounterVec
	DisputesTotal    *prometheus.CounterVec
}

// NewMetrics registers the relay metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "agentchat_connections_total",
			Help: "WebSocket connections accepted.",
		}),
		AgentsOnline: factory.NewGauge(prometheus.GaugeOpts{
			Name: "agentchat_agents_online",
			Help: "Agents currently admitted.",
		}),
		MessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentchat_messages_total",
			Help: "Inbound messages by type.",
		}, []string{"type"}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "agentchat_rate_limited_total",
			Help: "Messages rejected or connections closed by rate limits.",
		}),
		ProposalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentchat_proposals_total",
			Help: "Proposal lifecycle events.",
		}, []string{"event"}),
		DisputesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentchat_disputes_total",
			Help: "Court dispute events.",
		}, []string{"event"}),
	}
}
