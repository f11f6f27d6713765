// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PacketsIngestedTotal counts canonical packets produced, by source.
	PacketsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packetlens_packets_ingested_total",
			Help: "Total number of canonical packets produced",
		},
		[]string{"source"},
	)

	// DecodeFailuresTotal counts soft-failed binary decodes by reason.
	DecodeFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packetlens_decode_failures_total",
			Help: "Total number of binary payload decode failures (recovered)",
		},
		[]string{"reason"},
	)

	// EnvelopeChildrenTotal counts packets synthesized by envelope expansion.
	EnvelopeChildrenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "packetlens_envelope_children_total",
			Help: "Total number of packets synthesized from envelope entries",
		},
	)

	// RedecodedPacketsTotal counts packets rewritten by a registry rebuild.
	RedecodedPacketsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "packetlens_redecoded_packets_total",
			Help: "Total number of packets redecoded after a schema rebuild",
		},
	)

	// StreamConnected tracks whether the live capture stream is attached.
	StreamConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "packetlens_stream_connected",
			Help: "Whether the live capture stream is currently attached (0/1)",
		},
	)

	// StreamEventsSkippedTotal counts malformed stream events skipped.
	StreamEventsSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "packetlens_stream_events_skipped_total",
			Help: "Total number of malformed stream events skipped",
		},
	)

	// SinkErrorsTotal counts downstream publish errors by sink.
	SinkErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packetlens_sink_errors_total",
			Help: "Total number of downstream sink publish errors",
		},
		[]string{"sink"},
	)
)
