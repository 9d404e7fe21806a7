package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"voxtalk/internal/conversation"
)

// Observer feeds conversation events into Metrics.
type Observer struct {
	m *Metrics
}

func NewObserver(m *Metrics) *Observer { return &Observer{m: m} }

var _ conversation.Observer = (*Observer)(nil)

func (o *Observer) OnError(kind conversation.Kind, _ error) {
	o.m.Errors.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind.String())))
}

func (o *Observer) OnTurn(t conversation.Turn) {
	ctx := context.Background()
	o.m.Turns.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("interrupted", t.Interrupted),
		attribute.Bool("fallback", t.Fallback),
	))
	o.m.SpeechDuration.Record(ctx, t.Speech.Seconds())
	o.m.STTDuration.Record(ctx, t.Transcribe.Seconds())
	o.m.LLMDuration.Record(ctx, t.Complete.Seconds())
}

func (o *Observer) OnBargeIn() {
	o.m.BargeIns.Add(context.Background(), 1)
}
