package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// PipelineMetrics counts synthesis work. A nil receiver is valid and
// records nothing, so callers can run without telemetry wired up.
type PipelineMetrics struct {
	jobs          metric.Int64Counter
	jobsFinished  metric.Int64Counter
	chunks        metric.Int64Counter
	chunkDuration metric.Float64Histogram
}

func NewPipelineMetrics() (*PipelineMetrics, error) {
	meter := otel.Meter("github.com/chanterlabs/chanter/internal/pipeline")

	jobs, err := meter.Int64Counter("chanter.jobs.started",
		metric.WithDescription("Synthesis jobs started"))
	if err != nil {
		return nil, err
	}
	finished, err := meter.Int64Counter("chanter.jobs.finished",
		metric.WithDescription("Synthesis jobs finished by status"))
	if err != nil {
		return nil, err
	}
	chunks, err := meter.Int64Counter("chanter.chunks.synthesized",
		metric.WithDescription("Text chunks synthesized"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("chanter.chunk.duration",
		metric.WithDescription("Per-chunk synthesis duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &PipelineMetrics{
		jobs:          jobs,
		jobsFinished:  finished,
		chunks:        chunks,
		chunkDuration: duration,
	}, nil
}

func (m *PipelineMetrics) JobStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.jobs.Add(ctx, 1)
}

func (m *PipelineMetrics) JobFinished(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.jobsFinished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *PipelineMetrics) ChunkSynthesized(ctx context.Context, took time.Duration) {
	if m == nil {
		return
	}
	m.chunks.Add(ctx, 1)
	m.chunkDuration.Record(ctx, took.Seconds())
}
