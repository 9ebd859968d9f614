package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Outcome("direct_verification", "success")
	m.Outcome("direct_verification", "success")
	m.Webhook("payment.captured", "duplicate")
	m.SideEffectFailed("publish")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PaymentOutcomes.WithLabelValues("direct_verification", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookEvents.WithLabelValues("payment.captured", "duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SideEffectFailures.WithLabelValues("publish")))

	m.ObserveGateway("fetch_payment", StartTimer())
	assert.Equal(t, 1, testutil.CollectAndCount(m.GatewayLatency))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Outcome("a", "b")
		m.Webhook("a", "b")
		m.SideEffectFailed("publish")
		m.ObserveGateway("capture", StartTimer())
	})
}

func TestTimer(t *testing.T) {
	timer := StartTimer()
	time.Sleep(2 * time.Millisecond)
	assert.GreaterOrEqual(t, timer.Duration(), 2*time.Millisecond)
}
