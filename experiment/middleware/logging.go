package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/absmach/fedsim"
	"github.com/absmach/fedsim/experiment"
)

var _ experiment.Service = (*loggingMiddleware)(nil)

type loggingMiddleware struct {
	logger *slog.Logger
	svc    experiment.Service
}

func Logging(logger *slog.Logger, svc experiment.Service) experiment.Service {
	return &loggingMiddleware{
		logger: logger,
		svc:    svc,
	}
}

func (lm *loggingMiddleware) CreateExperiment(ctx context.Context, cfg fedsim.Config) (resp fedsim.Experiment, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("experiment",
				slog.String("id", resp.ID),
				slog.String("name", resp.Name),
				slog.String("model_id", cfg.Task.ModelID),
				slog.Int("rounds", cfg.Experiment.Rounds),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Create experiment failed", args...)

			return
		}
		lm.logger.Info("Create experiment completed successfully", args...)
	}(time.Now())

	return lm.svc.CreateExperiment(ctx, cfg)
}

func (lm *loggingMiddleware) GetExperiment(ctx context.Context, id string) (resp fedsim.Experiment, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("experiment",
				slog.String("id", id),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get experiment failed", args...)

			return
		}
		lm.logger.Info("Get experiment completed successfully", args...)
	}(time.Now())

	return lm.svc.GetExperiment(ctx, id)
}

func (lm *loggingMiddleware) ListExperiments(ctx context.Context, offset, limit uint64) (resp fedsim.ExperimentPage, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Uint64("offset", offset),
			slog.Uint64("limit", limit),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("List experiments failed", args...)

			return
		}
		lm.logger.Info("List experiments completed successfully", args...)
	}(time.Now())

	return lm.svc.ListExperiments(ctx, offset, limit)
}

func (lm *loggingMiddleware) RunExperiment(ctx context.Context, id string) (resp fedsim.Experiment, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("experiment",
				slog.String("id", id),
				slog.Int("round", resp.Round),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Run experiment failed", args...)

			return
		}
		lm.logger.Info("Run experiment completed successfully", args...)
	}(time.Now())

	return lm.svc.RunExperiment(ctx, id)
}

func (lm *loggingMiddleware) StopExperiment(ctx context.Context, id string) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("experiment",
				slog.String("id", id),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Stop experiment failed", args...)

			return
		}
		lm.logger.Info("Stop experiment completed successfully", args...)
	}(time.Now())

	return lm.svc.StopExperiment(ctx, id)
}

func (lm *loggingMiddleware) ListRounds(ctx context.Context, id string, offset, limit uint64) (resp fedsim.RoundPage, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("experiment",
				slog.String("id", id),
			),
			slog.Uint64("offset", offset),
			slog.Uint64("limit", limit),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("List rounds failed", args...)

			return
		}
		lm.logger.Info("List rounds completed successfully", args...)
	}(time.Now())

	return lm.svc.ListRounds(ctx, id, offset, limit)
}

func (lm *loggingMiddleware) Shutdown(ctx context.Context) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Shutdown failed", args...)

			return
		}
		lm.logger.Info("Shutdown completed successfully", args...)
	}(time.Now())

	return lm.svc.Shutdown(ctx)
}
