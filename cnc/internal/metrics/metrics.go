// Package metrics exposes the C&C service's Prometheus collectors. A single
// Registry satisfies both the session package's and the command package's
// Metrics interfaces, so main wires one instance into both.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry holds every collector the service registers with the default
// Prometheus registry.
type Registry struct {
	invalidMessages   *prometheus.CounterVec
	connectionsTotal  *prometheus.CounterVec
	nodesOnline       prometheus.Gauge
	commandsInFlight  *prometheus.GaugeVec
	protocolSpoof     prometheus.Counter
	webhookDeliveries *prometheus.CounterVec
}

// New creates and registers a Registry's collectors.
func New() *Registry {
	r := &Registry{
		invalidMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "woly",
			Subsystem: "session",
			Name:      "invalid_messages_total",
			Help:      "Frames dropped for failing schema validation, by type and direction.",
		}, []string{"type", "direction"}),
		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "woly",
			Subsystem: "session",
			Name:      "connections_total",
			Help:      "WebSocket connections opened and closed.",
		}, []string{"event"}),
		nodesOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "woly",
			Subsystem: "session",
			Name:      "nodes_online",
			Help:      "Nodes with a currently bound connection.",
		}),
		commandsInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "woly",
			Subsystem: "command",
			Name:      "in_flight",
			Help:      "Commands currently in a non-terminal state, by state.",
		}, []string{"state"}),
		protocolSpoof: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "woly",
			Subsystem: "session",
			Name:      "protocol_spoof_total",
			Help:      "Heartbeat frames whose payload nodeId did not match the bound connection identity.",
		}),
		webhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "woly",
			Subsystem: "webhook",
			Name:      "deliveries_total",
			Help:      "Webhook delivery attempts by outcome (success, failed), plus one exhausted count per delivery that used every attempt.",
		}, []string{"status"}),
	}

	prometheus.MustRegister(
		r.invalidMessages,
		r.connectionsTotal,
		r.nodesOnline,
		r.commandsInFlight,
		r.protocolSpoof,
		r.webhookDeliveries,
	)
	return r
}

// InvalidMessage implements session.Metrics.
func (r *Registry) InvalidMessage(frameType, direction string) {
	r.invalidMessages.WithLabelValues(frameType, direction).Inc()
}

// ConnectionOpened implements session.Metrics.
func (r *Registry) ConnectionOpened() {
	r.connectionsTotal.WithLabelValues("opened").Inc()
}

// ConnectionClosed implements session.Metrics.
func (r *Registry) ConnectionClosed() {
	r.connectionsTotal.WithLabelValues("closed").Inc()
}

// NodesOnline implements session.Metrics.
func (r *Registry) NodesOnline(n int) {
	r.nodesOnline.Set(float64(n))
}

// CommandsInFlight implements command.Metrics.
func (r *Registry) CommandsInFlight(state string, delta int) {
	r.commandsInFlight.WithLabelValues(state).Add(float64(delta))
}

// ProtocolSpoof implements session.Metrics.
func (r *Registry) ProtocolSpoof() {
	r.protocolSpoof.Inc()
}

// WebhookDelivery implements webhook.Metrics.
func (r *Registry) WebhookDelivery(status string) {
	r.webhookDeliveries.WithLabelValues(status).Inc()
}
