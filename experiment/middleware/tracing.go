package middleware

import (
	"context"

	"github.com/absmach/fedsim"
	"github.com/absmach/fedsim/experiment"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var _ experiment.Service = (*tracing)(nil)

type tracing struct {
	tracer trace.Tracer
	svc    experiment.Service
}

func Tracing(tracer trace.Tracer, svc experiment.Service) experiment.Service {
	return &tracing{tracer, svc}
}

func (tm *tracing) CreateExperiment(ctx context.Context, cfg fedsim.Config) (fedsim.Experiment, error) {
	ctx, span := tm.tracer.Start(ctx, "create-experiment", trace.WithAttributes(
		attribute.String("name", cfg.Experiment.Name),
		attribute.String("model_id", cfg.Task.ModelID),
		attribute.Int("rounds", cfg.Experiment.Rounds),
	))
	defer span.End()

	return tm.svc.CreateExperiment(ctx, cfg)
}

func (tm *tracing) GetExperiment(ctx context.Context, id string) (fedsim.Experiment, error) {
	ctx, span := tm.tracer.Start(ctx, "get-experiment", trace.WithAttributes(
		attribute.String("id", id),
	))
	defer span.End()

	return tm.svc.GetExperiment(ctx, id)
}

func (tm *tracing) ListExperiments(ctx context.Context, offset, limit uint64) (fedsim.ExperimentPage, error) {
	ctx, span := tm.tracer.Start(ctx, "list-experiments", trace.WithAttributes(
		attribute.Int64("offset", int64(offset)),
		attribute.Int64("limit", int64(limit)),
	))
	defer span.End()

	return tm.svc.ListExperiments(ctx, offset, limit)
}

func (tm *tracing) RunExperiment(ctx context.Context, id string) (fedsim.Experiment, error) {
	ctx, span := tm.tracer.Start(ctx, "run-experiment", trace.WithAttributes(
		attribute.String("id", id),
	))
	defer span.End()

	return tm.svc.RunExperiment(ctx, id)
}

func (tm *tracing) StopExperiment(ctx context.Context, id string) error {
	ctx, span := tm.tracer.Start(ctx, "stop-experiment", trace.WithAttributes(
		attribute.String("id", id),
	))
	defer span.End()

	return tm.svc.StopExperiment(ctx, id)
}

func (tm *tracing) ListRounds(ctx context.Context, id string, offset, limit uint64) (fedsim.RoundPage, error) {
	ctx, span := tm.tracer.Start(ctx, "list-rounds", trace.WithAttributes(
		attribute.String("id", id),
		attribute.Int64("offset", int64(offset)),
		attribute.Int64("limit", int64(limit)),
	))
	defer span.End()

	return tm.svc.ListRounds(ctx, id, offset, limit)
}

func (tm *tracing) Shutdown(ctx context.Context) error {
	ctx, span := tm.tracer.Start(ctx, "shutdown")
	defer span.End()

	return tm.svc.Shutdown(ctx)
}
