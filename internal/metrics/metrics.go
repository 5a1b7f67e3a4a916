// Package metrics exposes relay counters through Prometheus.
//
// All methods are safe on a nil *Metrics so components can run without metrics in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatrelay"

type Metrics struct {
	reg *prometheus.Registry

	connections     prometheus.Gauge
	onlineUsers     prometheus.Gauge
	liveCalls       prometheus.Gauge
	events          *prometheus.CounterVec
	signalErrors    *prometheus.CounterVec
	callTransitions *prometheus.CounterVec
	messages        *prometheus.CounterVec
	backpressure    prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections",
			Help: "Open transport connections, anonymous ones included.",
		}),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "online_users",
			Help: "Identifiers currently bound in the registry.",
		}),
		liveCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "live_calls",
			Help: "Calls in pending or accepted status.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "inbound_events_total",
			Help: "Inbound client events by type.",
		}, []string{"type"}),
		signalErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "signal_errors_total",
			Help: "Typed error events sent back to clients, by code.",
		}, []string{"code"}),
		callTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "call_transitions_total",
			Help: "Call status transitions, by resulting status.",
		}, []string{"status"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "chat_messages_total",
			Help: "Relayed chat messages by outcome.",
		}, []string{"outcome"}),
		backpressure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "backpressure_drops_total",
			Help: "Outbound events dropped because a send buffer was full.",
		}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connections, m.onlineUsers, m.liveCalls,
		m.events, m.signalErrors, m.callTransitions, m.messages, m.backpressure,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) ConnOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) SetOnline(n int) {
	if m != nil {
		m.onlineUsers.Set(float64(n))
	}
}

func (m *Metrics) SetLiveCalls(n int) {
	if m != nil {
		m.liveCalls.Set(float64(n))
	}
}

func (m *Metrics) Event(t string) {
	if m != nil {
		m.events.WithLabelValues(t).Inc()
	}
}

func (m *Metrics) SignalError(code string) {
	if m != nil {
		m.signalErrors.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) CallTransition(status string) {
	if m != nil {
		m.callTransitions.WithLabelValues(status).Inc()
	}
}

// Message outcomes.
const (
	MessageDelivered = "delivered"
	MessagePartial   = "sender_only"
	MessageDropped   = "dropped"
)

func (m *Metrics) Message(outcome string) {
	if m != nil {
		m.messages.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Backpressure() {
	if m != nil {
		m.backpressure.Inc()
	}
}
