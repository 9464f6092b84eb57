// Package metrics provides the Prometheus metrics exposed by karaoked
// on /metrics, mirroring the promauto style used throughout the
// reference daemon this project is modeled on.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsLive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "karaoked",
		Name:      "sessions_live",
		Help:      "Number of live sessions currently tracked.",
	})

	SessionsStaleTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "karaoked",
		Name:      "sessions_stale_evicted_total",
		Help:      "Total sessions evicted by the stale sweeper.",
	})

	RoomOccupancy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "karaoked",
		Name:      "room_occupancy",
		Help:      "Current member count per room.",
	}, []string{"room"})

	RoomJoinsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "karaoked",
		Name:      "room_joins_total",
		Help:      "Room join attempts by outcome.",
	}, []string{"room", "outcome"}) // outcome=ok|room_full

	IngressStartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "karaoked",
		Name:      "ingress_starts_total",
		Help:      "Ingress start attempts by outcome.",
	}, []string{"outcome"}) // outcome=ok|failed|busy

	IngressLive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "karaoked",
		Name:      "ingress_live",
		Help:      "Number of ingress children currently running.",
	})

	AudioGraphOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "karaoked",
		Name:      "audio_graph_ops_total",
		Help:      "Audio graph adapter operations by op and outcome.",
	}, []string{"op", "outcome"})

	AutomationPhaseTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "karaoked",
		Name:      "automation_phase_transitions_total",
		Help:      "Playlist automation phase transitions.",
	}, []string{"from", "to"})

	AutomationErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "karaoked",
		Name:      "automation_errors_total",
		Help:      "Total automation phase timeouts or synthesized-input failures.",
	})

	SubscribersDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "karaoked",
		Name:      "event_hub_subscribers_dropped_total",
		Help:      "Event hub subscribers dropped due to a full buffer.",
	})
)
