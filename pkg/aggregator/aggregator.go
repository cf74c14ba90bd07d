// Package aggregator combines per-client model updates into one global
// update.
package aggregator

import (
	"context"
	"fmt"
	"math"

	pkgerrors "github.com/absmach/fedsim/pkg/errors"
	"github.com/absmach/fedsim/pkg/tensor"
)

const (
	KindWeightedMean = "weighted_mean"
	KindSecure       = "secure"
	KindWasm         = "wasm"
)

// ClientUpdate is one client's contribution to a round. It is discarded once
// the round is aggregated.
type ClientUpdate struct {
	ClientID string         `json:"client_id"`
	Delta    tensor.Weights `json:"delta"`
	// Weight is typically the number of examples the client trained on.
	Weight float64 `json:"weight"`
}

type AggregatedUpdate struct {
	Delta       tensor.Weights `json:"delta"`
	TotalWeight float64        `json:"total_weight"`
	NumClients  int            `json:"num_clients"`
}

// Aggregator computes the weighted mean of client deltas. Implementations
// differ in what an observer of the protocol can learn, never in the result.
type Aggregator interface {
	Name() string
	Aggregate(ctx context.Context, updates []ClientUpdate) (AggregatedUpdate, error)
}

// Config selects an aggregator.
type Config struct {
	Kind     string `toml:"kind"      json:"kind"`
	WasmPath string `toml:"wasm_path" json:"wasm_path,omitempty"`
}

// New builds the aggregator named by cfg. An empty kind selects the weighted
// mean.
func New(ctx context.Context, cfg Config) (Aggregator, error) {
	switch cfg.Kind {
	case "", KindWeightedMean:
		return NewWeightedMean(), nil
	case KindSecure:
		return NewSecure(), nil
	case KindWasm:
		return NewWasm(ctx, cfg.WasmPath)
	default:
		return nil, fmt.Errorf("%w: unknown aggregator %q", pkgerrors.ErrConfiguration, cfg.Kind)
	}
}

type weightedMean struct{}

func NewWeightedMean() Aggregator {
	return weightedMean{}
}

func (weightedMean) Name() string {
	return KindWeightedMean
}

func (weightedMean) Aggregate(_ context.Context, updates []ClientUpdate) (AggregatedUpdate, error) {
	if err := validate(updates); err != nil {
		return AggregatedUpdate{}, err
	}

	sum := updates[0].Delta.ZerosLike()
	var total float64
	for _, u := range updates {
		if err := sum.AddScaled(u.Weight, u.Delta); err != nil {
			return AggregatedUpdate{}, err
		}
		total += u.Weight
	}

	return mean(sum, total, len(updates)), nil
}

// validate checks the round is non-empty, every delta shares the structure of
// the first, and weights are finite and non-negative.
func validate(updates []ClientUpdate) error {
	if len(updates) == 0 {
		return pkgerrors.ErrEmptyRound
	}
	for _, u := range updates {
		if err := updates[0].Delta.CheckStructure(u.Delta); err != nil {
			return fmt.Errorf("client %q: %w", u.ClientID, err)
		}
		if u.Weight < 0 || math.IsNaN(u.Weight) || math.IsInf(u.Weight, 0) {
			return fmt.Errorf("%w: client %q has weight %v", pkgerrors.ErrInvalidData, u.ClientID, u.Weight)
		}
	}

	return nil
}

// mean divides a weighted sum by its total. A zero total yields a zero delta.
func mean(sum tensor.Weights, total float64, n int) AggregatedUpdate {
	if total > 0 {
		sum.Scale(1 / total)
	} else {
		sum = sum.ZerosLike()
	}

	return AggregatedUpdate{Delta: sum, TotalWeight: total, NumClients: n}
}
