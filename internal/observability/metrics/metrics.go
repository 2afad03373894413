package metrics

import "github.com/prometheus/client_golang/prometheus"

// SchedulingMetrics exposes counters/histograms for the booking core.
type SchedulingMetrics struct {
	bookingsTotal    *prometheus.CounterVec
	slotConflicts    prometheus.Counter
	tokenRedemptions *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	slotQueryLatency prometheus.Histogram
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		slotConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "slot_conflicts_total",
			Help:      "Bookings lost to a concurrent commit on the same window",
		}),
		tokenRedemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "token_redemptions_total",
			Help:      "Guest capability token redemptions by purpose and outcome",
		}, []string{"purpose", "outcome"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "transitions_total",
			Help:      "Appointment state transitions by target status",
		}, []string{"to", "outcome"}),
		slotQueryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "slot_query_latency_seconds",
			Help:      "Latency of slot availability computation",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.slotConflicts, m.tokenRedemptions, m.transitionsTotal, m.slotQueryLatency)
	return m
}

func (m *SchedulingMetrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

func (m *SchedulingMetrics) ObserveSlotConflict() {
	if m == nil {
		return
	}
	m.slotConflicts.Inc()
}

func (m *SchedulingMetrics) ObserveTokenRedemption(purpose, outcome string) {
	if m == nil {
		return
	}
	m.tokenRedemptions.WithLabelValues(purpose, outcome).Inc()
}

func (m *SchedulingMetrics) ObserveTransition(to, outcome string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(to, outcome).Inc()
}

func (m *SchedulingMetrics) ObserveSlotQueryLatency(seconds float64) {
	if m == nil {
		return
	}
	m.slotQueryLatency.Observe(seconds)
}
