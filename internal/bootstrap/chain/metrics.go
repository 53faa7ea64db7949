package chain

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects transaction lifecycle metrics. A nil *Metrics records nothing.
type Metrics struct {
	submitted    *prometheus.CounterVec
	confirmed    *prometheus.CounterVec
	pending      prometheus.Gauge
	confirmation prometheus.Histogram
	polls        prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "protoboot",
			Name:      "transactions_submitted_total",
			Help:      "Transactions submitted to the ledger, by origin.",
		}, []string{"origin"}),
		confirmed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "protoboot",
			Name:      "transactions_confirmed_total",
			Help:      "Transactions observed mined, by receipt status.",
		}, []string{"status"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "protoboot",
			Name:      "transactions_pending",
			Help:      "Transactions submitted but not yet confirmed.",
		}),
		confirmation: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "protoboot",
			Name:      "confirmation_seconds",
			Help:      "Time from submission until the receipt settled.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		polls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "protoboot",
			Name:      "receipt_polls_total",
			Help:      "Receipt polls issued by the confirmation waiter.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.submitted, m.confirmed, m.pending, m.confirmation, m.polls)
	}
	return m
}

func (m *Metrics) observeSubmitted(origin string) {
	if m == nil {
		return
	}
	m.submitted.WithLabelValues(origin).Inc()
	m.pending.Inc()
}

func (m *Metrics) observeConfirmed(success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "failed"
	}
	m.confirmed.WithLabelValues(status).Inc()
	m.confirmation.Observe(elapsed.Seconds())
}

func (m *Metrics) observeSettled() {
	if m == nil {
		return
	}
	m.pending.Dec()
}

func (m *Metrics) observePoll() {
	if m == nil {
		return
	}
	m.polls.Inc()
}
