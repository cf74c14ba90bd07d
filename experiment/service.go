package experiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/0x6flab/namegenerator"
	"github.com/absmach/fedsim"
	pkgerrors "github.com/absmach/fedsim/pkg/errors"
	"github.com/absmach/fedsim/pkg/events"
	"github.com/absmach/fedsim/pkg/learning"
	"github.com/absmach/fedsim/pkg/storage"
	"github.com/google/uuid"
)

const (
	experimentsPrefix = "experiments/"
	roundsPrefix      = "rounds/"
)

var namegen = namegenerator.NewGenerator()

type service struct {
	db      storage.Storage
	emitter events.Emitter
	logger  *slog.Logger

	newRunner func(context.Context, fedsim.Config, *slog.Logger) (*Runner, error)

	mu      sync.Mutex
	running map[string]context.CancelFunc
	closed  bool
	wg      sync.WaitGroup
}

func NewService(db storage.Storage, emitter events.Emitter, logger *slog.Logger) Service {
	return &service{
		db:        db,
		emitter:   emitter,
		logger:    logger,
		newRunner: NewRunner,
		running:   make(map[string]context.CancelFunc),
	}
}

func experimentKey(id string) string {
	return experimentsPrefix + id
}

func roundKey(id string, round int) string {
	return fmt.Sprintf("%s%s/%06d", roundsPrefix, id, round)
}

func (svc *service) CreateExperiment(ctx context.Context, cfg fedsim.Config) (fedsim.Experiment, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return fedsim.Experiment{}, err
	}

	exp := fedsim.Experiment{
		ID:        uuid.NewString(),
		Name:      cfg.Experiment.Name,
		Config:    cfg,
		Status:    fedsim.Pending,
		CreatedAt: time.Now().UTC(),
	}
	if exp.Name == "" {
		exp.Name = namegen.Generate()
		exp.Config.Experiment.Name = exp.Name
	}
	if err := svc.db.Create(ctx, experimentKey(exp.ID), exp); err != nil {
		return fedsim.Experiment{}, err
	}

	return exp, nil
}

func (svc *service) GetExperiment(ctx context.Context, id string) (fedsim.Experiment, error) {
	data, err := svc.db.Get(ctx, experimentKey(id))
	if err != nil {
		return fedsim.Experiment{}, err
	}
	exp, ok := data.(fedsim.Experiment)
	if !ok {
		return fedsim.Experiment{}, pkgerrors.ErrInvalidData
	}

	return exp, nil
}

func (svc *service) ListExperiments(ctx context.Context, offset, limit uint64) (fedsim.ExperimentPage, error) {
	data, total, err := svc.db.List(ctx, experimentsPrefix, offset, limit)
	if err != nil {
		return fedsim.ExperimentPage{}, err
	}

	exps := make([]fedsim.Experiment, len(data))
	for i := range data {
		exp, ok := data[i].(fedsim.Experiment)
		if !ok {
			return fedsim.ExperimentPage{}, pkgerrors.ErrInvalidData
		}
		exps[i] = exp
	}

	return fedsim.ExperimentPage{
		Offset:      offset,
		Limit:       limit,
		Total:       total,
		Experiments: exps,
	}, nil
}

func (svc *service) ListRounds(ctx context.Context, id string, offset, limit uint64) (fedsim.RoundPage, error) {
	if _, err := svc.GetExperiment(ctx, id); err != nil {
		return fedsim.RoundPage{}, err
	}
	data, total, err := svc.db.List(ctx, roundsPrefix+id+"/", offset, limit)
	if err != nil {
		return fedsim.RoundPage{}, err
	}

	rounds := make([]fedsim.Round, len(data))
	for i := range data {
		r, ok := data[i].(fedsim.Round)
		if !ok {
			return fedsim.RoundPage{}, pkgerrors.ErrInvalidData
		}
		rounds[i] = r
	}

	return fedsim.RoundPage{
		Offset: offset,
		Limit:  limit,
		Total:  total,
		Rounds: rounds,
	}, nil
}

func (svc *service) RunExperiment(ctx context.Context, id string) (fedsim.Experiment, error) {
	exp, err := svc.GetExperiment(ctx, id)
	if err != nil {
		return fedsim.Experiment{}, err
	}

	runCtx, cancel, err := svc.reserve(id)
	if err != nil {
		return fedsim.Experiment{}, err
	}

	// Runner setup may load data, compile modules and read checkpoints, so
	// it runs without holding the lock. A stop or shutdown meanwhile cancels
	// runCtx and the run ends as Stopped before its first round.
	runner, state, err := svc.prepare(ctx, &exp)
	if err != nil {
		svc.release(id, cancel)

		return fedsim.Experiment{}, err
	}

	go svc.run(runCtx, exp, runner, state)

	return exp, nil
}

// reserve marks id as running. The caller owns one wait group slot until
// it either starts run or calls release.
func (svc *service) reserve(id string) (context.Context, context.CancelFunc, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	if svc.closed {
		return nil, nil, errors.New("service is shutting down")
	}
	if _, ok := svc.running[id]; ok {
		return nil, nil, pkgerrors.ErrRunning
	}

	runCtx, cancel := context.WithCancel(context.Background())
	svc.running[id] = cancel
	svc.wg.Add(1)

	return runCtx, cancel, nil
}

func (svc *service) release(id string, cancel context.CancelFunc) {
	cancel()

	svc.mu.Lock()
	delete(svc.running, id)
	svc.mu.Unlock()

	svc.wg.Done()
}

// prepare builds and starts a runner for exp and records exp as running.
func (svc *service) prepare(ctx context.Context, exp *fedsim.Experiment) (*Runner, learning.State, error) {
	runner, err := svc.newRunner(ctx, exp.Config, svc.logger.With(slog.String("experiment_id", exp.ID)))
	if err != nil {
		return nil, learning.State{}, err
	}
	state, err := runner.Start(ctx, exp.ID)
	if err != nil {
		_ = runner.Close(ctx)

		return nil, learning.State{}, err
	}

	exp.Status = fedsim.Running
	exp.Round = state.Round
	exp.Error = ""
	exp.StartTime = time.Now().UTC()
	exp.EndTime = time.Time{}
	if err := svc.db.Update(ctx, experimentKey(exp.ID), *exp); err != nil {
		_ = runner.Close(ctx)

		return nil, learning.State{}, err
	}

	return runner, state, nil
}

func (svc *service) StopExperiment(ctx context.Context, id string) error {
	if _, err := svc.GetExperiment(ctx, id); err != nil {
		return err
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()

	cancel, ok := svc.running[id]
	if !ok {
		return pkgerrors.ErrNotRunning
	}
	cancel()

	return nil
}

func (svc *service) Shutdown(ctx context.Context) error {
	svc.mu.Lock()
	svc.closed = true
	for _, cancel := range svc.running {
		cancel()
	}
	svc.mu.Unlock()

	done := make(chan struct{})
	go func() {
		svc.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run trains exp to completion or cancellation and records the outcome.
// Bookkeeping after the loop uses a fresh context so a stopped run is still
// persisted.
func (svc *service) run(ctx context.Context, exp fedsim.Experiment, runner *Runner, state learning.State) {
	defer svc.wg.Done()

	svc.emit(ctx, events.Event{Kind: events.ExperimentStarted, ExperimentID: exp.ID, Round: state.Round})

	final, err := runner.Loop(ctx, exp.ID, state, func(ctx context.Context, s learning.State, r fedsim.Round) error {
		if err := svc.saveRound(ctx, r); err != nil {
			return err
		}
		exp.Round = s.Round
		if err := svc.db.Update(ctx, experimentKey(exp.ID), exp); err != nil {
			return err
		}
		svc.emit(ctx, events.Event{Kind: events.RoundCompleted, ExperimentID: exp.ID, Round: r.Number, Metrics: r.Metrics})

		return nil
	})

	bg := context.Background()
	if cerr := runner.Close(bg); cerr != nil {
		svc.logger.Warn("failed to close experiment runner", slog.String("experiment_id", exp.ID), slog.Any("error", cerr))
	}

	exp.Round = final.Round
	exp.EndTime = time.Now().UTC()
	kind := events.ExperimentCompleted
	switch {
	case err == nil:
		exp.Status = fedsim.Completed
	case errors.Is(err, context.Canceled):
		exp.Status = fedsim.Stopped
		kind = events.ExperimentStopped
	default:
		exp.Status = fedsim.Failed
		exp.Error = err.Error()
		kind = events.ExperimentFailed
	}

	// The outcome is recorded before the experiment can be run again.
	svc.mu.Lock()
	if uerr := svc.db.Update(bg, experimentKey(exp.ID), exp); uerr != nil {
		svc.logger.Error("failed to record experiment outcome", slog.String("experiment_id", exp.ID), slog.Any("error", uerr))
	}
	delete(svc.running, exp.ID)
	svc.mu.Unlock()

	svc.emit(bg, events.Event{Kind: kind, ExperimentID: exp.ID, Round: exp.Round, Error: exp.Error})
}

// saveRound stores r, replacing the record of an earlier run of the same
// round.
func (svc *service) saveRound(ctx context.Context, r fedsim.Round) error {
	key := roundKey(r.ExperimentID, r.Number)
	err := svc.db.Create(ctx, key, r)
	if errors.Is(err, pkgerrors.ErrEntityExists) {
		return svc.db.Update(ctx, key, r)
	}

	return err
}

// emit logs publish failures instead of failing the run.
func (svc *service) emit(ctx context.Context, e events.Event) {
	if err := svc.emitter.Emit(ctx, e); err != nil {
		svc.logger.Warn("failed to emit event",
			slog.String("kind", string(e.Kind)),
			slog.String("experiment_id", e.ExperimentID),
			slog.Any("error", err),
		)
	}
}
