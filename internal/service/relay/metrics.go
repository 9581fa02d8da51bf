package relay

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments the relay hub.
type Metrics struct {
	Connections prometheus.Gauge
	Rooms       prometheus.Gauge
	Events      *prometheus.CounterVec
	Dropped     *prometheus.CounterVec
}

// NewMetrics creates the relay collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cobuild",
			Subsystem: "relay",
			Name:      "connections",
			Help:      "Number of connections currently joined to a room.",
		}),
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cobuild",
			Subsystem: "relay",
			Name:      "rooms",
			Help:      "Number of rooms with at least one member.",
		}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cobuild",
			Subsystem: "relay",
			Name:      "events_total",
			Help:      "Events received from members and relayed to their room.",
		}, []string{"kind"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cobuild",
			Subsystem: "relay",
			Name:      "dropped_total",
			Help:      "Events the relay did not deliver, by reason.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.Connections, m.Rooms, m.Events, m.Dropped)
	}
	return m
}
