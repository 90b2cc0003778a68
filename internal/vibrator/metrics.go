package vibrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the vibrator's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	requests       prometheus.Counter
	coalesced      prometheus.Counter
	expiries       prometheus.Counter
	applies        *prometheus.CounterVec
	registerErrors *prometheus.CounterVec
	powerErrors    *prometheus.CounterVec
	active         prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requests: f.NewCounter(prometheus.CounterOpts{
			Namespace: "pmicvib",
			Name:      "enable_requests_total",
			Help:      "Enable calls received.",
		}),
		coalesced: f.NewCounter(prometheus.CounterOpts{
			Namespace: "pmicvib",
			Name:      "apply_coalesced_total",
			Help:      "Apply requests absorbed by an already queued apply.",
		}),
		expiries: f.NewCounter(prometheus.CounterOpts{
			Namespace: "pmicvib",
			Name:      "timer_expiries_total",
			Help:      "Vibration deadlines reached.",
		}),
		applies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pmicvib",
			Name:      "applies_total",
			Help:      "Hardware applies by requested state and result.",
		}, []string{"state", "result"}),
		registerErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pmicvib",
			Name:      "register_errors_total",
			Help:      "Control register I/O failures.",
		}, []string{"op"}),
		powerErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pmicvib",
			Name:      "power_errors_total",
			Help:      "Power state transition failures.",
		}, []string{"op"}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "pmicvib",
			Name:      "actuator_on",
			Help:      "1 while the drive register was last written with a non-zero level.",
		}),
	}
}

func (m *Metrics) request() {
	if m == nil {
		return
	}
	m.requests.Inc()
}

func (m *Metrics) coalesce() {
	if m == nil {
		return
	}
	m.coalesced.Inc()
}

func (m *Metrics) expired() {
	if m == nil {
		return
	}
	m.expiries.Inc()
}

func (m *Metrics) applied(on bool, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.applies.WithLabelValues(stateLabel(on), result).Inc()
	if err == nil {
		if on {
			m.active.Set(1)
		} else {
			m.active.Set(0)
		}
	}
}

func (m *Metrics) registerError(op string) {
	if m == nil {
		return
	}
	m.registerErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) powerError(op string) {
	if m == nil {
		return
	}
	m.powerErrors.WithLabelValues(op).Inc()
}

func stateLabel(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
