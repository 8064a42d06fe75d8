package server

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "hl7mllp"

// metrics are shared by every Listener of a Server, partitioned by the
// listener label.
type metrics struct {
	connections *prometheus.CounterVec
	active      *prometheus.GaugeVec
	frames      *prometheus.CounterVec
	acks        *prometheus.CounterVec
	errors      *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connections_total",
			Help:      "Connections accepted.",
		}, []string{"listener"}),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_connections",
			Help:      "Connections currently open.",
		}, []string{"listener"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_received_total",
			Help:      "Complete frames received.",
		}, []string{"listener"}),
		acks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "acks_sent_total",
			Help:      "Acknowledgements written, by acknowledgement code.",
		}, []string{"listener", "code"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "errors_total",
			Help:      "Error events emitted, by event type.",
		}, []string{"listener", "event"}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.connections, err = registerCounterVec(reg, m.connections); err != nil {
		return nil, err
	}
	if m.frames, err = registerCounterVec(reg, m.frames); err != nil {
		return nil, err
	}
	if m.acks, err = registerCounterVec(reg, m.acks); err != nil {
		return nil, err
	}
	if m.errors, err = registerCounterVec(reg, m.errors); err != nil {
		return nil, err
	}
	if err := reg.Register(m.active); err != nil {
		var alreadyRegErr prometheus.AlreadyRegisteredError
		if !errors.As(err, &alreadyRegErr) {
			return nil, err
		}
		m.active = alreadyRegErr.ExistingCollector.(*prometheus.GaugeVec)
	}
	return m, nil
}

// Several Servers may share a Registerer, in which case they share the
// collectors registered by the first one.
func registerCounterVec(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		var alreadyRegErr prometheus.AlreadyRegisteredError
		if errors.As(err, &alreadyRegErr) {
			if existing, ok := alreadyRegErr.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return c, nil
}

func (m *metrics) observe(ev Event) {
	switch ev.Type {
	case EventConnection:
		m.connections.WithLabelValues(ev.Listener).Inc()
		m.active.WithLabelValues(ev.Listener).Inc()
	case EventClientClose:
		m.active.WithLabelValues(ev.Listener).Dec()
	case EventClientError, EventDataError, EventError:
		m.errors.WithLabelValues(ev.Listener, string(ev.Type)).Inc()
	}
}
