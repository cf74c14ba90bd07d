package middleware

import (
	"context"
	"time"

	"github.com/absmach/fedsim"
	"github.com/absmach/fedsim/experiment"
	"github.com/go-kit/kit/metrics"
)

var _ experiment.Service = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	counter metrics.Counter
	latency metrics.Histogram
	svc     experiment.Service
}

func Metrics(counter metrics.Counter, latency metrics.Histogram, svc experiment.Service) experiment.Service {
	return &metricsMiddleware{
		counter: counter,
		latency: latency,
		svc:     svc,
	}
}

func (mm *metricsMiddleware) CreateExperiment(ctx context.Context, cfg fedsim.Config) (fedsim.Experiment, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "create-experiment").Add(1)
		mm.latency.With("method", "create-experiment").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.CreateExperiment(ctx, cfg)
}

func (mm *metricsMiddleware) GetExperiment(ctx context.Context, id string) (fedsim.Experiment, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "get-experiment").Add(1)
		mm.latency.With("method", "get-experiment").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.GetExperiment(ctx, id)
}

func (mm *metricsMiddleware) ListExperiments(ctx context.Context, offset, limit uint64) (fedsim.ExperimentPage, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "list-experiments").Add(1)
		mm.latency.With("method", "list-experiments").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.ListExperiments(ctx, offset, limit)
}

func (mm *metricsMiddleware) RunExperiment(ctx context.Context, id string) (fedsim.Experiment, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "run-experiment").Add(1)
		mm.latency.With("method", "run-experiment").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.RunExperiment(ctx, id)
}

func (mm *metricsMiddleware) StopExperiment(ctx context.Context, id string) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "stop-experiment").Add(1)
		mm.latency.With("method", "stop-experiment").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.StopExperiment(ctx, id)
}

func (mm *metricsMiddleware) ListRounds(ctx context.Context, id string, offset, limit uint64) (fedsim.RoundPage, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "list-rounds").Add(1)
		mm.latency.With("method", "list-rounds").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.ListRounds(ctx, id, offset, limit)
}

func (mm *metricsMiddleware) Shutdown(ctx context.Context) error {
	return mm.svc.Shutdown(ctx)
}
