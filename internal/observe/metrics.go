// Package observe records conversation metrics with OpenTelemetry and
// exposes them to Prometheus.
//
// Tests should build Metrics with NewMetrics and their own
// metric.MeterProvider. The binary calls InitProvider and serves Handler.
package observe

import (
	"go.opentelemetry.io/otel/metric"
)

const meterName = "voxtalk"

// Metrics holds every instrument. All fields are safe for concurrent use.
type Metrics struct {
	// Turns counts completed exchanges. Attributes: interrupted, fallback.
	Turns metric.Int64Counter

	// BargeIns counts playbacks cut short by the user.
	BargeIns metric.Int64Counter

	// Errors counts absorbed errors. Attribute: kind.
	Errors metric.Int64Counter

	// SpeechDuration is the length of captured utterances.
	SpeechDuration metric.Float64Histogram

	// STTDuration and LLMDuration are stage latencies.
	STTDuration metric.Float64Histogram
	LLMDuration metric.Float64Histogram
}

// latencyBuckets in seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Turns, err = m.Int64Counter("voxtalk.turns",
		metric.WithDescription("Completed conversation turns."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("voxtalk.barge_ins",
		metric.WithDescription("Replies interrupted by user speech."),
	); err != nil {
		return nil, err
	}
	if met.Errors, err = m.Int64Counter("voxtalk.errors",
		metric.WithDescription("Errors absorbed by the loop, by kind."),
	); err != nil {
		return nil, err
	}

	if met.SpeechDuration, err = m.Float64Histogram("voxtalk.speech.duration",
		metric.WithDescription("Length of captured utterances."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.STTDuration, err = m.Float64Histogram("voxtalk.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("voxtalk.llm.duration",
		metric.WithDescription("Latency of language model completion."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	return met, nil
}
