package metrics

import "github.com/prometheus/client_golang/prometheus"

// QueueMetrics exposes counters/gauges for queue scheduling flows.
type QueueMetrics struct {
	entriesCreated   *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	reschedulesTotal *prometheus.CounterVec
	boardClients     prometheus.Gauge
}

func NewQueueMetrics(reg prometheus.Registerer) *QueueMetrics {
	m := &QueueMetrics{
		entriesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicops",
			Subsystem: "queue",
			Name:      "entries_created_total",
			Help:      "Total queue entries allocated",
		}, []string{"outcome"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicops",
			Subsystem: "queue",
			Name:      "transitions_total",
			Help:      "Total state machine transitions attempted",
		}, []string{"operation", "outcome"}),
		reschedulesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicops",
			Subsystem: "recovery",
			Name:      "reschedules_total",
			Help:      "Total missed-appointment reschedules attempted",
		}, []string{"outcome"}),
		boardClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "clinicops",
			Subsystem: "queue",
			Name:      "board_clients",
			Help:      "Connected queue board websocket clients",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.entriesCreated, m.transitionsTotal, m.reschedulesTotal, m.boardClients)
	return m
}

func (m *QueueMetrics) ObserveCreated(outcome string) {
	if m == nil {
		return
	}
	m.entriesCreated.WithLabelValues(outcome).Inc()
}

func (m *QueueMetrics) ObserveTransition(operation, outcome string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(operation, outcome).Inc()
}

func (m *QueueMetrics) ObserveReschedule(outcome string) {
	if m == nil {
		return
	}
	m.reschedulesTotal.WithLabelValues(outcome).Inc()
}

func (m *QueueMetrics) BoardClientConnected() {
	if m == nil {
		return
	}
	m.boardClients.Inc()
}

func (m *QueueMetrics) BoardClientDisconnected() {
	if m == nil {
		return
	}
	m.boardClients.Dec()
}
