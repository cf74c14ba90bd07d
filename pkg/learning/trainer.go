// Package learning implements federated averaging: local client training,
// aggregation of client deltas, and the server update that advances the
// global model one round at a time.
package learning

import (
	"context"
	"fmt"

	"github.com/absmach/fedsim/pkg/data"
	pkgerrors "github.com/absmach/fedsim/pkg/errors"
	"github.com/absmach/fedsim/pkg/model"
	"github.com/absmach/fedsim/pkg/optimizer"
	"github.com/absmach/fedsim/pkg/tensor"
)

// Client is a selected client and its preprocessed dataset.
type Client struct {
	ID   string
	Data data.Batcher
}

// NewClients pairs ids with their datasets, e.g. the results of
// TaskDatasets.SampleTrainClients.
func NewClients(ids []string, ds []data.Batcher) []Client {
	out := make([]Client, 0, min(len(ids), len(ds)))
	for i := range min(len(ids), len(ds)) {
		out = append(out, Client{ID: ids[i], Data: ds[i]})
	}

	return out
}

// ClientOutput is the result of local training on one client.
type ClientOutput struct {
	ClientID string
	// Delta is the trained weights minus the weights training started from.
	Delta       tensor.Weights
	NumExamples int
	NumBatches  int
	// Loss and Metrics are example-weighted means over the training batches,
	// each measured before the step it produced.
	Loss    float64
	Metrics map[string]float64
}

// LocalTrainer runs local optimization on a private model copy.
type LocalTrainer struct {
	modelFn     model.Fn
	optimizerFn optimizer.Fn
}

func NewLocalTrainer(modelFn model.Fn, optimizerFn optimizer.Fn) LocalTrainer {
	return LocalTrainer{modelFn: modelFn, optimizerFn: optimizerFn}
}

// Train copies initial into a fresh model, runs every batch the client
// dataset yields through one optimizer step, and returns the resulting delta.
// initial is never modified.
func (t LocalTrainer) Train(ctx context.Context, initial tensor.Weights, client Client) (ClientOutput, error) {
	m, err := t.modelFn()
	if err != nil {
		return ClientOutput{}, err
	}
	if !client.Data.ElementSpec().Equal(m.InputSpec()) {
		return ClientOutput{}, fmt.Errorf("%w: client %q yields %s, model accepts %s",
			pkgerrors.ErrShapeMismatch, client.ID, client.Data.ElementSpec(), m.InputSpec())
	}
	vars := m.TrainableVariables()
	if err := vars.Assign(initial); err != nil {
		return ClientOutput{}, err
	}

	opt := t.optimizerFn()
	state := opt.Init(vars)
	acc := newAccumulator()
	err = client.Data.ForEach(ctx, func(b data.Batch) error {
		grads, out, err := m.Gradients(b)
		if err != nil {
			return err
		}
		acc.add(out)

		return opt.Apply(&state, vars, grads)
	})
	if err != nil {
		return ClientOutput{}, err
	}

	delta, err := vars.Sub(initial)
	if err != nil {
		return ClientOutput{}, err
	}
	loss, metrics := acc.means()

	return ClientOutput{
		ClientID:    client.ID,
		Delta:       delta,
		NumExamples: acc.examples,
		NumBatches:  acc.batches,
		Loss:        loss,
		Metrics:     metrics,
	}, nil
}

// accumulator keeps example-weighted sums of batch outputs.
type accumulator struct {
	examples int
	batches  int
	loss     float64
	metrics  map[string]float64
}

func newAccumulator() *accumulator {
	return &accumulator{metrics: map[string]float64{}}
}

func (a *accumulator) add(out model.BatchOutput) {
	n := float64(out.NumExamples)
	a.examples += out.NumExamples
	a.batches++
	a.loss += out.Loss * n
	for k, v := range out.Metrics {
		a.metrics[k] += v * n
	}
}

func (a *accumulator) means() (float64, map[string]float64) {
	metrics := make(map[string]float64, len(a.metrics))
	if a.examples == 0 {
		return 0, metrics
	}
	n := float64(a.examples)
	for k, v := range a.metrics {
		metrics[k] = v / n
	}

	return a.loss / n, metrics
}
