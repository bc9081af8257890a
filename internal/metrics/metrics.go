package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors for attendance operations. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	checkIns      *prometheus.CounterVec
	checkOuts     *prometheus.CounterVec
	notifications *prometheus.CounterVec
	corrections   *prometheus.CounterVec
	requests      *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		checkIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "campusattend",
			Name:      "checkins_total",
			Help:      "Check-ins recorded, by resulting status.",
		}, []string{"status"}),
		checkOuts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "campusattend",
			Name:      "checkouts_total",
			Help:      "Checkout attempts, by result.",
		}, []string{"result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "campusattend",
			Name:      "notifications_total",
			Help:      "Notification events handed to delivery, by kind and result.",
		}, []string{"kind", "result"}),
		corrections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "campusattend",
			Name:      "corrections_total",
			Help:      "Correction requests submitted and decided.",
		}, []string{"action"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "campusattend",
			Name:      "http_requests_total",
			Help:      "HTTP requests, by route and status code.",
		}, []string{"route", "code"}),
	}
	if reg != nil {
		reg.MustRegister(m.checkIns, m.checkOuts, m.notifications, m.corrections, m.requests)
	}
	return m
}

func (m *Metrics) CheckIn(status string) {
	if m == nil {
		return
	}
	m.checkIns.WithLabelValues(status).Inc()
}

func (m *Metrics) CheckOut(result string) {
	if m == nil {
		return
	}
	m.checkOuts.WithLabelValues(result).Inc()
}

func (m *Metrics) Notification(kind, result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) Correction(action string) {
	if m == nil {
		return
	}
	m.corrections.WithLabelValues(action).Inc()
}

func (m *Metrics) Request(route, code string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, code).Inc()
}
