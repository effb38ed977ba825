// Package metrics exposes Prometheus collectors for the relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "slashrelay"

// Relay groups the collectors updated by the relay core and its transports.
// A nil *Relay is valid and records nothing.
type Relay struct {
	ConnectionsOpened prometheus.Counter
	ConnectionsClosed prometheus.Counter
	ActiveConnections prometheus.Gauge
	Rooms             prometheus.Gauge
	Frames            *prometheus.CounterVec
	FrameErrors       *prometheus.CounterVec
	Deliveries        prometheus.Counter
	DeliveryFailures  prometheus.Counter
	HookFailures      *prometheus.CounterVec
}

// New registers the relay collectors on reg.
func New(reg prometheus.Registerer) *Relay {
	register := func(c prometheus.Collector) {
		if reg != nil {
			reg.MustRegister(c)
		}
	}

	m := &Relay{
		ConnectionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_opened_total",
			Help:      "Connections admitted by the lifecycle manager.",
		}),
		ConnectionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_closed_total",
			Help:      "Connections torn down after close or transport error.",
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Connections currently registered.",
		}),
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Rooms currently present in the directory.",
		}),
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Inbound frames by operation.",
		}, []string{"meta"}),
		FrameErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_errors_total",
			Help:      "Inbound frames answered with a notice.",
		}, []string{"kind"}),
		Deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_deliveries_total",
			Help:      "Payloads handed to member connections.",
		}),
		DeliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_delivery_failures_total",
			Help:      "Payloads a member connection refused.",
		}),
		HookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hook_failures_total",
			Help:      "Best-effort collaborator calls that failed.",
		}, []string{"hook"}),
	}

	register(m.ConnectionsOpened)
	register(m.ConnectionsClosed)
	register(m.ActiveConnections)
	register(m.Rooms)
	register(m.Frames)
	register(m.FrameErrors)
	register(m.Deliveries)
	register(m.DeliveryFailures)
	register(m.HookFailures)
	return m
}

// NewRegistry returns a registry preloaded with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler exposes the registry in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

func (m *Relay) Opened() {
	if m == nil {
		return
	}
	m.ConnectionsOpened.Inc()
	m.ActiveConnections.Inc()
}

func (m *Relay) Closed() {
	if m == nil {
		return
	}
	m.ConnectionsClosed.Inc()
	m.ActiveConnections.Dec()
}

func (m *Relay) Frame(meta string) {
	if m == nil {
		return
	}
	m.Frames.WithLabelValues(meta).Inc()
}

func (m *Relay) FrameError(kind string) {
	if m == nil {
		return
	}
	m.FrameErrors.WithLabelValues(kind).Inc()
}

func (m *Relay) Delivered(n, failed int) {
	if m == nil {
		return
	}
	m.Deliveries.Add(float64(n))
	m.DeliveryFailures.Add(float64(failed))
}

func (m *Relay) HookFailed(hook string) {
	if m == nil {
		return
	}
	m.HookFailures.WithLabelValues(hook).Inc()
}

func (m *Relay) SetRooms(n int) {
	if m == nil {
		return
	}
	m.Rooms.Set(float64(n))
}
