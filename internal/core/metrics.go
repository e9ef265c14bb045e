package core

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names
const (
	MetricPaymentAttemptsTotal = "x402_payment_attempts_total"
	MetricPaymentOutcomesTotal = "x402_payment_outcomes_total"
	MetricPaymentDuration      = "x402_payment_duration_seconds"
	MetricSettlementPollsTotal = "x402_settlement_polls_total"
	MetricWalletEventsTotal    = "x402_wallet_events_total"
)

// Attempt results
const (
	AttemptStarted  = "started"
	AttemptInFlight = "rejected_in_flight"
)

// Metrics contains Prometheus metrics for the payment controller.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	attempts     *prometheus.CounterVec
	outcomes     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	polls        *prometheus.CounterVec
	walletEvents *prometheus.CounterVec
}

// NewMetrics creates unregistered collectors. Call Register to expose them.
func NewMetrics() *Metrics {
	return &Metrics{
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricPaymentAttemptsTotal,
				Help: "Total number of payment requests by result",
			},
			[]string{"result"},
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricPaymentOutcomesTotal,
				Help: "Total number of finished payments by final state",
			},
			[]string{"state"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricPaymentDuration,
				Help:    "Histogram of payment duration in seconds by final state",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"state"},
		),
		polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricSettlementPollsTotal,
				Help: "Total number of settlement status polls by reported status",
			},
			[]string{"status"},
		),
		walletEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricWalletEventsTotal,
				Help: "Total number of wallet events handled by type",
			},
			[]string{"event"},
		),
	}
}

// Register registers all metrics with the given registry
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all Prometheus collectors
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.attempts,
		m.outcomes,
		m.duration,
		m.polls,
		m.walletEvents,
	}
}

func (m *Metrics) incAttempt(result string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(result).Inc()
}

func (m *Metrics) observeOutcome(state PaymentState, seconds float64) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(string(state)).Inc()
	m.duration.WithLabelValues(string(state)).Observe(seconds)
}

func (m *Metrics) incPoll(status string) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(status).Inc()
}

func (m *Metrics) incWalletEvent(event string) {
	if m == nil {
		return
	}
	m.walletEvents.WithLabelValues(event).Inc()
}
