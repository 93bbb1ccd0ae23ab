package pending

import (
	"context"

	"go.opentelemetry.io/otel/metric"

	"github.com/dreamware/meshstore/internal/telemetry"
)

// schedulerMetrics are the counters a Set reports through whatever meter
// provider telemetry.SetupMeterProvider installed (no-op unless an OTLP
// endpoint was configured).
type schedulerMetrics struct {
	attempts  metric.Int64Counter
	successes metric.Int64Counter
	exhausted metric.Int64Counter
	timeouts  metric.Int64Counter
	softFails metric.Int64Counter
}

func newSchedulerMetrics() *schedulerMetrics {
	meter := telemetry.Meter("meshstore/pending")

	m := &schedulerMetrics{}
	m.attempts, _ = meter.Int64Counter("pending.attempts")
	m.successes, _ = meter.Int64Counter("pending.successes")
	m.exhausted, _ = meter.Int64Counter("pending.retries_exhausted")
	m.timeouts, _ = meter.Int64Counter("pending.timeouts")
	m.softFails, _ = meter.Int64Counter("pending.soft_failures")
	return m
}

func (m *schedulerMetrics) incAttempts(ctx context.Context)  { m.attempts.Add(ctx, 1) }
func (m *schedulerMetrics) incSuccesses(ctx context.Context) { m.successes.Add(ctx, 1) }
func (m *schedulerMetrics) incExhausted(ctx context.Context) { m.exhausted.Add(ctx, 1) }
func (m *schedulerMetrics) incTimeouts(ctx context.Context)  { m.timeouts.Add(ctx, 1) }
func (m *schedulerMetrics) incSoftFails(ctx context.Context) { m.softFails.Add(ctx, 1) }
