// Package metrics exposes the controller's prometheus instruments.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CallsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phone_agent_calls_started_total",
		Help: "Call sessions created.",
	})

	CallsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "phone_agent_calls_ended_total",
		Help: "Call sessions retired, by final status.",
	}, []string{"status"})

	Turns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phone_agent_turns_total",
		Help: "Completed utterance-to-reply cycles.",
	})

	TurnFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "phone_agent_turn_failures_total",
		Help: "Pipeline stage failures that degraded a turn to no reply.",
	}, []string{"stage"})

	StageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "phone_agent_stage_latency_seconds",
		Help:    "Latency of transcription, dialogue and synthesis stages.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"stage"})
)

// Time starts a stage latency timer; the returned func observes it.
func Time(stage string) func() {
	start := time.Now()
	return func() {
		StageLatency.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}
