package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OrderMetrics counts the outcomes of the timeout reconciliation paths. A nil
// receiver is valid and turns every increment into a no-op, which keeps tests
// free of registry bookkeeping.
type OrderMetrics struct {
	ClosedByListener    prometheus.Counter
	ClosedBySweep       prometheus.Counter
	SweepSkips          prometheus.Counter
	SweepForcedCloses   prometheus.Counter
	ExpirationsReceived prometheus.Counter
	PaymentConflicts    prometheus.Counter
}

func NewOrderMetrics(service string) *OrderMetrics {
	m := &OrderMetrics{
		ClosedByListener: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "orders",
			Subsystem: service,
			Name:      "closed_by_listener_total",
			Help:      "Orders closed by the countdown expiration listener.",
		}),
		ClosedBySweep: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "orders",
			Subsystem: service,
			Name:      "closed_by_sweep_total",
			Help:      "Orders closed by the reconciliation sweep.",
		}),
		SweepSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "orders",
			Subsystem: service,
			Name:      "sweep_skips_total",
			Help:      "Sweep candidates skipped because their countdown still had time remaining.",
		}),
		SweepForcedCloses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "orders",
			Subsystem: service,
			Name:      "sweep_forced_closes_total",
			Help:      "Orders force-closed after exceeding the sweep skip budget.",
		}),
		ExpirationsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "orders",
			Subsystem: service,
			Name:      "expirations_received_total",
			Help:      "Countdown key expiration notifications received.",
		}),
		PaymentConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "orders",
			Subsystem: service,
			Name:      "payment_conflicts_total",
			Help:      "Payment confirmations rejected against closed or diverged orders.",
		}),
	}

	prometheus.MustRegister(
		m.ClosedByListener,
		m.ClosedBySweep,
		m.SweepSkips,
		m.SweepForcedCloses,
		m.ExpirationsReceived,
		m.PaymentConflicts,
	)
	return m
}

func (m *OrderMetrics) IncClosedByListener() {
	if m != nil {
		m.ClosedByListener.Inc()
	}
}

func (m *OrderMetrics) IncClosedBySweep() {
	if m != nil {
		m.ClosedBySweep.Inc()
	}
}

func (m *OrderMetrics) IncSweepSkips() {
	if m != nil {
		m.SweepSkips.Inc()
	}
}

func (m *OrderMetrics) IncSweepForcedCloses() {
	if m != nil {
		m.SweepForcedCloses.Inc()
	}
}

func (m *OrderMetrics) IncExpirationsReceived() {
	if m != nil {
		m.ExpirationsReceived.Inc()
	}
}

func (m *OrderMetrics) IncPaymentConflicts() {
	if m != nil {
		m.PaymentConflicts.Inc()
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
