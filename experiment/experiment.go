// Package experiment runs federated averaging experiments in the background
// and records their progress round by round.
package experiment

import (
	"context"

	"github.com/absmach/fedsim"
)

type Service interface {
	// CreateExperiment validates cfg and stores a pending experiment.
	CreateExperiment(ctx context.Context, cfg fedsim.Config) (fedsim.Experiment, error)
	GetExperiment(ctx context.Context, id string) (fedsim.Experiment, error)
	ListExperiments(ctx context.Context, offset, limit uint64) (fedsim.ExperimentPage, error)
	// RunExperiment starts training in the background and returns once the
	// experiment is running.
	RunExperiment(ctx context.Context, id string) (fedsim.Experiment, error)
	StopExperiment(ctx context.Context, id string) error
	ListRounds(ctx context.Context, id string, offset, limit uint64) (fedsim.RoundPage, error)

	// Shutdown stops every running experiment and waits for them to exit.
	Shutdown(ctx context.Context) error
}
