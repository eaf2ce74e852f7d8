// Package observability exposes the relay counters to Prometheus.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dm_relay"

// Push outcomes.
const (
	PushDelivered = "delivered"
	PushTransient = "transient"
	PushPruned    = "pruned"
)

// Metrics is safe to use as a nil pointer: every method is then a no-op,
// which keeps unit tests free of registry plumbing.
type Metrics struct {
	eventsEmitted *prometheus.CounterVec
	eventsDropped *prometheus.CounterVec
	pushAttempts  *prometheus.CounterVec
	onlineUsers   prometheus.Gauge
	sessions      prometheus.Gauge
	messages      prometheus.Counter
	residentBytes prometheus.Gauge
	cpuPercent    prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_emitted_total",
			Help:      "Events enqueued to live sessions, by event type.",
		}, []string{"type"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events a session outbox refused, by event type.",
		}, []string{"type"}),
		pushAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_attempts_total",
			Help:      "Push notification attempts, by outcome.",
		}, []string{"outcome"}),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_users",
			Help:      "Users with at least one live session.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Live sessions across all users.",
		}),
		messages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_committed_total",
			Help:      "Messages appended to a conversation.",
		}),
		residentBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_resident_bytes",
			Help:      "Resident memory of the relay process.",
		}),
		cpuPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_cpu_percent",
			Help:      "CPU usage of the relay process.",
		}),
	}
	reg.MustRegister(m.eventsEmitted, m.eventsDropped, m.pushAttempts, m.onlineUsers, m.sessions, m.messages,
		m.residentBytes, m.cpuPercent)
	return m
}

func (m *Metrics) EventEmitted(eventType string) {
	if m == nil {
		return
	}
	m.eventsEmitted.WithLabelValues(eventType).Inc()
}

func (m *Metrics) EventDropped(eventType string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(eventType).Inc()
}

func (m *Metrics) PushAttempt(outcome string) {
	if m == nil {
		return
	}
	m.pushAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) MessageCommitted() {
	if m == nil {
		return
	}
	m.messages.Inc()
}

func (m *Metrics) SetPresence(onlineUsers, sessions int) {
	if m == nil {
		return
	}
	m.onlineUsers.Set(float64(onlineUsers))
	m.sessions.Set(float64(sessions))
}

func (m *Metrics) SetProcess(residentBytes uint64, cpuPercent float64) {
	if m == nil {
		return
	}
	m.residentBytes.Set(float64(residentBytes))
	m.cpuPercent.Set(cpuPercent)
}
