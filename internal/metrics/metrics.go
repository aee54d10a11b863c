// Package metrics exposes the Prometheus instrumentation for the signaling
// plane: connection counts, live calls and per-transition counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	wsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "signaling_ws_connections",
		Help: "Open signaling websocket connections.",
	})

	signalingEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signaling_events_total",
			Help: "Inbound signaling events by name.",
		},
		[]string{"event"},
	)

	callTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_transitions_total",
			Help: "Durable call status transitions.",
		},
		[]string{"status"},
	)
)

// Init registers the static collectors plus gauge functions sampling the
// live-call and presence counts.
func Init(activeCalls, presenceEntries func() float64) {
	prometheus.MustRegister(wsConnections, signalingEvents, callTransitions)

	if activeCalls != nil {
		prometheus.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "calls_in_flight",
			Help: "Calls currently ringing or active.",
		}, activeCalls))
	}
	if presenceEntries != nil {
		prometheus.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "presence_entries",
			Help: "Identities currently announced as reachable.",
		}, presenceEntries))
	}
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ConnOpened() { wsConnections.Inc() }
func ConnClosed() { wsConnections.Dec() }

func EventDispatched(event string) {
	signalingEvents.WithLabelValues(event).Inc()
}

func CallTransition(status string) {
	callTransitions.WithLabelValues(status).Inc()
}
