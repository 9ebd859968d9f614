package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "payflow"

// Metrics holds the service's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	PaymentOutcomes    *prometheus.CounterVec
	WebhookEvents      *prometheus.CounterVec
	SideEffectFailures *prometheus.CounterVec
	GatewayLatency     *prometheus.HistogramVec
}

// New builds the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PaymentOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payment_outcomes_total",
				Help:      "Payment outcomes applied to invoices, by source path and result.",
			},
			[]string{"source", "result"},
		),
		WebhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_events_total",
				Help:      "Gateway webhook deliveries, by event type and handling result.",
			},
			[]string{"event", "result"},
		),
		SideEffectFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "side_effect_failures_total",
				Help:      "Event publishes or notifications that failed after the store write committed.",
			},
			[]string{"effect"},
		),
		GatewayLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "gateway_request_duration_seconds",
				Help:      "Latency of payment gateway API calls.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.PaymentOutcomes, m.WebhookEvents, m.SideEffectFailures, m.GatewayLatency)
	}
	return m
}

func (m *Metrics) Outcome(source, result string) {
	if m == nil {
		return
	}
	m.PaymentOutcomes.WithLabelValues(source, result).Inc()
}

func (m *Metrics) Webhook(event, result string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(event, result).Inc()
}

// SideEffectFailed counts a publish or notify failure. Alert on this.
func (m *Metrics) SideEffectFailed(effect string) {
	if m == nil {
		return
	}
	m.SideEffectFailures.WithLabelValues(effect).Inc()
}

func (m *Metrics) ObserveGateway(operation string, t *Timer) {
	if m == nil || t == nil {
		return
	}
	m.GatewayLatency.WithLabelValues(operation).Observe(t.Duration().Seconds())
}

type Timer struct {
	start time.Time
}

func StartTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
