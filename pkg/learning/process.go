package learning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/absmach/fedsim/pkg/aggregator"
	pkgerrors "github.com/absmach/fedsim/pkg/errors"
	"github.com/absmach/fedsim/pkg/model"
	"github.com/absmach/fedsim/pkg/optimizer"
	"github.com/absmach/fedsim/pkg/tensor"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

const (
	MetricLoss        = "loss"
	MetricNumExamples = "num_examples"
	MetricNumBatches  = "num_batches"
	MetricNumClients  = "num_clients"
	MetricNumExcluded = "num_excluded"

	GroupTrain       = "train"
	GroupAggregation = "aggregation"
	GroupEval        = "eval"
)

// State is the global state passed between rounds. Callers treat it as an
// opaque value: Next never modifies the State it is given.
type State struct {
	Round                int             `json:"round"`
	GlobalWeights        tensor.Weights  `json:"global_weights"`
	ServerOptimizerState optimizer.State `json:"server_optimizer_state"`
}

func (s State) Clone() State {
	return State{
		Round:                s.Round,
		GlobalWeights:        s.GlobalWeights.Clone(),
		ServerOptimizerState: s.ServerOptimizerState.Clone(),
	}
}

// Metrics groups round metrics by namespace, e.g. metrics["train"]["loss"].
type Metrics map[string]map[string]float64

// Process is the federated averaging state machine. Rounds on one Process
// are serialized; distinct Processes share nothing.
type Process struct {
	modelFn     model.Fn
	trainer     LocalTrainer
	serverOpt   optimizer.Optimizer
	aggregator  aggregator.Aggregator
	policy      StragglerPolicy
	parallelism int
	timeout     time.Duration
	logger      *slog.Logger

	structure tensor.Weights
	mu        sync.Mutex
}

// BuildFederatedAveragingProcess builds a process that trains every client
// with an optimizer from clientOptimizerFn and applies the aggregated delta
// with the server optimizer, SGD with learning rate 1 unless overridden.
func BuildFederatedAveragingProcess(modelFn model.Fn, clientOptimizerFn optimizer.Fn, opts ...Option) (*Process, error) {
	if modelFn == nil || clientOptimizerFn == nil {
		return nil, fmt.Errorf("%w: model and client optimizer are required", pkgerrors.ErrConfiguration)
	}
	o := newOptions(opts)
	if !o.policy.Valid() {
		return nil, fmt.Errorf("%w: unknown straggler policy %d", pkgerrors.ErrConfiguration, o.policy)
	}

	m, err := modelFn()
	if err != nil {
		return nil, err
	}

	return &Process{
		modelFn:     modelFn,
		trainer:     NewLocalTrainer(modelFn, clientOptimizerFn),
		serverOpt:   o.serverOptimizerFn(),
		aggregator:  o.aggregator,
		policy:      o.policy,
		parallelism: o.parallelism,
		timeout:     o.clientTimeout,
		logger:      o.logger,
		structure:   m.TrainableVariables().ZerosLike(),
	}, nil
}

// Initialize returns round 0: the weights of a freshly built model and a
// zero server optimizer state. Every call returns an independent State.
func (p *Process) Initialize() (State, error) {
	m, err := p.modelFn()
	if err != nil {
		return State{}, err
	}
	w := m.TrainableVariables().Clone()

	return State{
		Round:                0,
		GlobalWeights:        w,
		ServerOptimizerState: p.serverOpt.Init(w),
	}, nil
}

// Next trains every client from state, aggregates their deltas and returns
// the state of the following round along with the round metrics.
func (p *Process) Next(ctx context.Context, state State, clients []Client) (State, Metrics, error) {
	if len(clients) == 0 {
		return State{}, nil, pkgerrors.ErrEmptyRound
	}
	if err := p.structure.CheckStructure(state.GlobalWeights); err != nil {
		return State{}, nil, fmt.Errorf("state does not match model: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	begin := time.Now()
	outputs, excluded, err := p.trainClients(ctx, state.GlobalWeights, clients)
	if err != nil {
		return State{}, nil, err
	}

	updates := make([]aggregator.ClientUpdate, len(outputs))
	for i, out := range outputs {
		updates[i] = aggregator.ClientUpdate{
			ClientID: out.ClientID,
			Delta:    out.Delta,
			Weight:   float64(out.NumExamples),
		}
	}
	agg, err := p.aggregator.Aggregate(ctx, updates)
	if err != nil {
		return State{}, nil, fmt.Errorf("round %d: %w", state.Round, err)
	}

	next := state.Clone()
	next.Round++
	// The server optimizer descends along the pseudo-gradient -delta.
	pseudo := agg.Delta.Clone()
	pseudo.Scale(-1)
	if err := p.serverOpt.Apply(&next.ServerOptimizerState, next.GlobalWeights, pseudo); err != nil {
		return State{}, nil, err
	}

	metrics := Metrics{
		GroupTrain: trainMetrics(outputs),
		GroupAggregation: {
			MetricNumClients:  float64(len(outputs)),
			MetricNumExcluded: float64(excluded),
		},
	}
	p.logger.Info("round completed",
		slog.Int("round", next.Round),
		slog.Int("clients", len(outputs)),
		slog.Int("excluded", excluded),
		slog.Float64("loss", metrics[GroupTrain][MetricLoss]),
		slog.String("duration", time.Since(begin).String()),
	)

	return next, metrics, nil
}

// trainClients runs the local trainer on every client, at most parallelism at
// a time. Outputs keep the order of clients; excluded clients are skipped.
func (p *Process) trainClients(ctx context.Context, initial tensor.Weights, clients []Client) ([]ClientOutput, int, error) {
	results := make([]*ClientOutput, len(clients))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallelism)
	for i, c := range clients {
		g.Go(func() error {
			cctx := gctx
			if p.timeout > 0 {
				var cancel context.CancelFunc
				cctx, cancel = context.WithTimeout(gctx, p.timeout)
				defer cancel()
			}

			begin := time.Now()
			out, err := p.trainer.Train(cctx, initial, c)
			if err != nil {
				if p.policy == ExcludeStragglers && ctx.Err() == nil {
					p.logger.Warn("excluding client from round",
						slog.String("client_id", c.ID),
						slog.String("error", err.Error()),
					)

					return nil
				}

				return fmt.Errorf("client %q: %w", c.ID, err)
			}
			p.logger.Debug("client trained",
				slog.String("client_id", c.ID),
				slog.Int("examples", out.NumExamples),
				slog.Float64("loss", out.Loss),
				slog.String("duration", time.Since(begin).String()),
			)
			results[i] = &out

			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	outputs := make([]ClientOutput, 0, len(clients))
	for _, r := range results {
		if r != nil {
			outputs = append(outputs, *r)
		}
	}
	excluded := len(clients) - len(outputs)
	if len(outputs) == 0 {
		return nil, excluded, fmt.Errorf("%w: all %d clients were excluded", pkgerrors.ErrEmptyRound, excluded)
	}

	return outputs, excluded, nil
}

// trainMetrics averages client loss and metrics weighted by example count.
func trainMetrics(outputs []ClientOutput) map[string]float64 {
	weights := make([]float64, len(outputs))
	losses := make([]float64, len(outputs))
	names := map[string]struct{}{}
	var examples, batches int
	for i, out := range outputs {
		weights[i] = float64(out.NumExamples)
		losses[i] = out.Loss
		examples += out.NumExamples
		batches += out.NumBatches
		for k := range out.Metrics {
			names[k] = struct{}{}
		}
	}

	m := map[string]float64{
		MetricNumExamples: float64(examples),
		MetricNumBatches:  float64(batches),
		MetricLoss:        0,
	}
	if examples == 0 {
		return m
	}
	m[MetricLoss] = stat.Mean(losses, weights)
	for _, name := range slices.Sorted(maps.Keys(names)) {
		vals := make([]float64, len(outputs))
		for i, out := range outputs {
			vals[i] = out.Metrics[name]
		}
		m[name] = stat.Mean(vals, weights)
	}

	return m
}

// StragglerPolicy decides what happens to a round when a client fails or
// exceeds the client timeout.
type StragglerPolicy int

const (
	// AbortRound fails the whole round with the client error.
	AbortRound StragglerPolicy = iota
	// ExcludeStragglers drops failing clients from aggregation and reports
	// how many were dropped as aggregation/num_excluded.
	ExcludeStragglers
)

var errUnknownPolicy = errors.New("unknown straggler policy")

func (s StragglerPolicy) Valid() bool {
	return s == AbortRound || s == ExcludeStragglers
}

func (s StragglerPolicy) String() string {
	switch s {
	case AbortRound:
		return "abort_round"
	case ExcludeStragglers:
		return "exclude_stragglers"
	default:
		return fmt.Sprintf("StragglerPolicy(%d)", int(s))
	}
}

// ParseStragglerPolicy parses the names printed by String. An empty name
// selects AbortRound.
func ParseStragglerPolicy(s string) (StragglerPolicy, error) {
	switch s {
	case "", "abort_round":
		return AbortRound, nil
	case "exclude_stragglers":
		return ExcludeStragglers, nil
	default:
		return 0, fmt.Errorf("%w: %w %q", pkgerrors.ErrConfiguration, errUnknownPolicy, s)
	}
}
