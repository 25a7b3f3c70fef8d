// Package orchestrator runs one multi-agent conversation as an explicit state machine.
package orchestrator

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/thebtf/roundtable/pkg/models"
)

const meterName = "github.com/thebtf/roundtable/internal/orchestrator"

// metrics holds the orchestrator's counters. Instruments come from the global
// meter provider, which is a no-op until the binary installs one.
type metrics struct {
	turns         metric.Int64Counter
	fallbacks     metric.Int64Counter
	failures      metric.Int64Counter
	conversations metric.Int64Counter
}

var (
	sharedMetrics     *metrics
	sharedMetricsOnce sync.Once
)

func defaultMetrics() *metrics {
	sharedMetricsOnce.Do(func() {
		sharedMetrics = newMetrics(otel.Meter(meterName))
	})
	return sharedMetrics
}

func newMetrics(meter metric.Meter) *metrics {
	m := &metrics{}
	// Instrument creation only fails on invalid names; the no-op fallbacks keep callers simple.
	m.turns, _ = meter.Int64Counter("roundtable.orchestrator.turns",
		metric.WithDescription("Turns appended to conversation transcripts"))
	m.fallbacks, _ = meter.Int64Counter("roundtable.orchestrator.selection_fallbacks",
		metric.WithDescription("Rounds where the coordinator's nomination was unusable"))
	m.failures, _ = meter.Int64Counter("roundtable.orchestrator.participant_failures",
		metric.WithDescription("Participant responses that failed"))
	m.conversations, _ = meter.Int64Counter("roundtable.orchestrator.conversations",
		metric.WithDescription("Finished conversations by reason"))
	return m
}

func (m *metrics) turn(ctx context.Context, turn models.Turn) {
	if m.turns == nil {
		return
	}
	m.turns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("speaker", turn.Speaker),
		attribute.Bool("error", turn.IsError()),
	))
}

func (m *metrics) fallback(ctx context.Context) {
	if m.fallbacks == nil {
		return
	}
	m.fallbacks.Add(ctx, 1)
}

func (m *metrics) failure(ctx context.Context, speaker string, kind models.FailureKind, hard bool) {
	if m.failures == nil {
		return
	}
	m.failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("speaker", speaker),
		attribute.String("kind", string(kind)),
		attribute.Bool("hard", hard),
	))
}

func (m *metrics) finished(ctx context.Context, reason Reason) {
	if m.conversations == nil {
		return
	}
	m.conversations.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(reason))))
}
