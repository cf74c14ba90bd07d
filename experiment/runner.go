package experiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/absmach/fedsim"
	"github.com/absmach/fedsim/pkg/aggregator"
	"github.com/absmach/fedsim/pkg/baselines"
	"github.com/absmach/fedsim/pkg/baselines/emnist"
	"github.com/absmach/fedsim/pkg/checkpoint"
	"github.com/absmach/fedsim/pkg/data"
	"github.com/absmach/fedsim/pkg/data/sqlite"
	pkgerrors "github.com/absmach/fedsim/pkg/errors"
	"github.com/absmach/fedsim/pkg/learning"
	"github.com/absmach/fedsim/pkg/optimizer"
	"github.com/absmach/fedsim/pkg/sampler"
)

// Runner owns everything one experiment needs to train: the task, the
// process, the client sampler and, when configured, evaluation data and a
// checkpoint manager.
type Runner struct {
	cfg         fedsim.Config
	task        baselines.Task
	process     *learning.Process
	sampler     sampler.Sampler
	aggregator  aggregator.Aggregator
	eval        *learning.Evaluation
	testData    data.Batcher
	checkpoints *checkpoint.Manager
	dbs         []*sqlite.Database
	logger      *slog.Logger
}

// Observer is called after every completed round with the new state.
type Observer func(ctx context.Context, state learning.State, round fedsim.Round) error

// NewRunner builds the task and process described by cfg. The caller must
// Close the runner.
func NewRunner(ctx context.Context, cfg fedsim.Config, logger *slog.Logger) (r *Runner, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r = &Runner{
		cfg:     cfg,
		sampler: sampler.New(cfg.Experiment.Seed),
		logger:  logger,
	}
	defer func() {
		if err != nil {
			_ = r.Close(ctx)
		}
	}()

	if r.task, err = r.buildTask(ctx); err != nil {
		return nil, err
	}
	if r.aggregator, err = aggregator.New(ctx, cfg.Aggregator); err != nil {
		return nil, err
	}
	if r.process, err = r.buildProcess(); err != nil {
		return nil, err
	}
	if cfg.Experiment.EvalEvery > 0 {
		if r.eval, err = learning.BuildFederatedEvaluation(r.task.ModelFn); err != nil {
			return nil, err
		}
		if r.testData, err = r.task.Datasets.CentralizedTestData(ctx); err != nil {
			return nil, fmt.Errorf("eval data: %w", err)
		}
	}
	if cfg.Checkpoint.Backend != fedsim.CheckpointNone {
		store, err := checkpoint.Open(cfg.Checkpoint.Backend, cfg.Checkpoint.Dir)
		if err != nil {
			return nil, err
		}
		r.checkpoints = checkpoint.NewManager(store, cfg.Checkpoint.Every)
	}

	return r, nil
}

func (r *Runner) buildTask(ctx context.Context) (baselines.Task, error) {
	tc := r.cfg.Task
	opts := []emnist.Option{
		emnist.WithModelID(emnist.ModelID(tc.ModelID)),
		emnist.WithOnlyDigits(tc.OnlyDigits),
		emnist.WithSeed(r.cfg.Experiment.Seed),
	}
	if r.cfg.EvalEnabled() {
		opts = append(opts, emnist.WithEvalClientSpec(r.cfg.EvalClientSpec))
	}

	switch {
	case tc.Synthetic:
		opts = append(opts, emnist.WithSyntheticConfig(emnist.SyntheticConfig{
			TrainClients:      tc.SyntheticData.TrainClients,
			TestClients:       tc.SyntheticData.TestClients,
			ExamplesPerClient: tc.SyntheticData.ExamplesPerClient,
			FlipProbability:   tc.SyntheticData.FlipProbability,
		}))
	default:
		train, err := r.openClientData(ctx, tc.TrainDB)
		if err != nil {
			return baselines.Task{}, fmt.Errorf("train data: %w", err)
		}
		var test data.ClientData
		if tc.TestDB != "" {
			if test, err = r.openClientData(ctx, tc.TestDB); err != nil {
				return baselines.Task{}, fmt.Errorf("test data: %w", err)
			}
		}
		opts = append(opts, emnist.WithClientData(train, test))
	}

	if tc.Kind == fedsim.TaskAutoencoder {
		return emnist.CreateAutoencoderTask(r.cfg.TrainClientSpec, opts...)
	}

	return emnist.CreateCharacterRecognitionTask(r.cfg.TrainClientSpec, opts...)
}

func (r *Runner) openClientData(ctx context.Context, path string) (data.ClientData, error) {
	db, err := sqlite.NewDatabase(path)
	if err != nil {
		return nil, err
	}
	r.dbs = append(r.dbs, db)

	return sqlite.NewClientData(ctx, db)
}

func (r *Runner) buildProcess() (*learning.Process, error) {
	clientOpt, err := optimizer.New(r.cfg.ClientOptimizer)
	if err != nil {
		return nil, err
	}
	serverOpt, err := optimizer.New(r.cfg.ServerOptimizer)
	if err != nil {
		return nil, err
	}
	policy, err := learning.ParseStragglerPolicy(r.cfg.Process.StragglerPolicy)
	if err != nil {
		return nil, err
	}
	timeout, err := r.cfg.ClientTimeout()
	if err != nil {
		return nil, err
	}

	opts := []learning.Option{
		learning.WithServerOptimizer(serverOpt),
		learning.WithAggregator(r.aggregator),
		learning.WithStragglerPolicy(policy),
		learning.WithClientTimeout(timeout),
		learning.WithLogger(r.logger),
	}
	if r.cfg.Process.Parallelism > 0 {
		opts = append(opts, learning.WithParallelism(r.cfg.Process.Parallelism))
	}

	return learning.BuildFederatedAveragingProcess(r.task.ModelFn, clientOpt, opts...)
}

// Start returns the state to train from: the latest checkpoint of
// experimentID when resuming, otherwise a fresh initial state.
func (r *Runner) Start(ctx context.Context, experimentID string) (learning.State, error) {
	if r.checkpoints != nil && r.cfg.Checkpoint.Resume {
		state, err := r.checkpoints.Latest(ctx, experimentID)
		switch {
		case err == nil:
			r.logger.Info("resuming from checkpoint",
				slog.String("experiment_id", experimentID),
				slog.Int("round", state.Round),
			)

			return state, nil
		case !errors.Is(err, pkgerrors.ErrNotFound):
			return learning.State{}, err
		}
	}

	return r.process.Initialize()
}

// Step runs the round following state: it samples clients, trains and
// aggregates them, and evaluates the new weights when evaluation is due.
func (r *Runner) Step(ctx context.Context, experimentID string, state learning.State) (learning.State, fedsim.Round, error) {
	begin := time.Now()
	ids, ds, err := r.task.Datasets.SampleTrainClients(ctx, r.sampler, state.Round, r.cfg.Experiment.ClientsPerRound)
	if err != nil {
		return learning.State{}, fedsim.Round{}, err
	}

	next, metrics, err := r.process.Next(ctx, state, learning.NewClients(ids, ds))
	if err != nil {
		return learning.State{}, fedsim.Round{}, err
	}

	if r.eval != nil && next.Round%r.cfg.Experiment.EvalEvery == 0 {
		em, err := r.eval.Evaluate(ctx, next.GlobalWeights, []learning.Client{{ID: "test", Data: r.testData}})
		if err != nil {
			return learning.State{}, fedsim.Round{}, fmt.Errorf("evaluation: %w", err)
		}
		metrics[learning.GroupEval] = em
	}

	return next, fedsim.Round{
		ExperimentID: experimentID,
		Number:       next.Round,
		Clients:      ids,
		Metrics:      metrics,
		Duration:     time.Since(begin),
		FinishedAt:   time.Now().UTC(),
	}, nil
}

// Loop steps from state until the configured number of rounds, saving
// checkpoints as configured and calling observe after every round. It
// returns the last state reached, also when it fails.
func (r *Runner) Loop(ctx context.Context, experimentID string, state learning.State, observe Observer) (learning.State, error) {
	for state.Round < r.cfg.Experiment.Rounds {
		if err := ctx.Err(); err != nil {
			return state, err
		}

		next, round, err := r.Step(ctx, experimentID, state)
		if err != nil {
			return state, err
		}
		state = next

		if r.checkpoints != nil {
			final := state.Round == r.cfg.Experiment.Rounds
			if _, err := r.checkpoints.MaybeSave(ctx, experimentID, state, final); err != nil {
				return state, fmt.Errorf("checkpoint: %w", err)
			}
		}
		if observe != nil {
			if err := observe(ctx, state, round); err != nil {
				return state, err
			}
		}
	}

	return state, nil
}

// Close releases the data stores, checkpoint store and aggregator runtime.
func (r *Runner) Close(ctx context.Context) error {
	var errs []error
	for _, db := range r.dbs {
		errs = append(errs, db.Close())
	}
	if r.checkpoints != nil {
		errs = append(errs, r.checkpoints.Close())
	}
	if c, ok := r.aggregator.(interface{ Close(context.Context) error }); ok {
		errs = append(errs, c.Close(ctx))
	}

	return errors.Join(errs...)
}
