package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	webhookEvents    *prometheus.CounterVec
	checkoutOutcomes *prometheus.CounterVec
	resyncRecords    *prometheus.CounterVec
	gatewayRetries   *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "membership_webhook_events_total",
			Help: "Inbound gateway events by type and result.",
		}, []string{"type", "result"}),
		checkoutOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "membership_checkout_outcomes_total",
			Help: "Checkout attempts by outcome.",
		}, []string{"status"}),
		resyncRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "membership_resync_records_total",
			Help: "Records written by the full resync, per stage.",
		}, []string{"stage"}),
		gatewayRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "membership_gateway_retries_total",
			Help: "Gateway calls retried after a transient failure.",
		}, []string{"op"}),
	}
	reg.MustRegister(m.webhookEvents, m.checkoutOutcomes, m.resyncRecords, m.gatewayRetries)
	return m
}

func (m *Metrics) WebhookEvent(eventType, result string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType, result).Inc()
}

func (m *Metrics) CheckoutOutcome(status string) {
	if m == nil {
		return
	}
	m.checkoutOutcomes.WithLabelValues(status).Inc()
}

func (m *Metrics) ResyncRecords(stage string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.resyncRecords.WithLabelValues(stage).Add(float64(n))
}

func (m *Metrics) GatewayRetry(op string) {
	if m == nil {
		return
	}
	m.gatewayRetries.WithLabelValues(op).Inc()
}
