// Package metrics declares the process-wide prometheus collectors. They are
// served by the BFF server on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StreamFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gopherchat",
		Name:      "stream_frames_total",
		Help:      "SSE frames received from the chat API, by kind.",
	}, []string{"kind"})

	Streams = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gopherchat",
		Name:      "streams_total",
		Help:      "Chat streams by outcome.",
	}, []string{"outcome"})

	RetryAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gopherchat",
		Name:      "retry_attempts_total",
		Help:      "Operation attempts beyond the first one.",
	})

	Turns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gopherchat",
		Name:      "turns_total",
		Help:      "Assistant turns by final status.",
	}, []string{"status"})

	TopicFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gopherchat",
		Name:      "topic_fetches_total",
		Help:      "Topic list lookups, by source (cache, network, shared).",
	}, []string{"source"})
)
