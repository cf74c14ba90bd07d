package learning

import (
	"context"
	"fmt"

	"github.com/absmach/fedsim/pkg/data"
	pkgerrors "github.com/absmach/fedsim/pkg/errors"
	"github.com/absmach/fedsim/pkg/model"
	"github.com/absmach/fedsim/pkg/tensor"
)

// Evaluation scores global weights on client data without training.
type Evaluation struct {
	modelFn model.Fn
}

func BuildFederatedEvaluation(modelFn model.Fn) (*Evaluation, error) {
	if modelFn == nil {
		return nil, fmt.Errorf("%w: model is required", pkgerrors.ErrConfiguration)
	}

	return &Evaluation{modelFn: modelFn}, nil
}

// Evaluate returns the example-weighted loss and metrics of weights over every
// client, keyed like the train metrics of a round.
func (e *Evaluation) Evaluate(ctx context.Context, weights tensor.Weights, clients []Client) (map[string]float64, error) {
	if len(clients) == 0 {
		return nil, pkgerrors.ErrEmptyRound
	}
	m, err := e.modelFn()
	if err != nil {
		return nil, err
	}
	if err := m.TrainableVariables().Assign(weights); err != nil {
		return nil, err
	}

	acc := newAccumulator()
	for _, c := range clients {
		if !c.Data.ElementSpec().Equal(m.InputSpec()) {
			return nil, fmt.Errorf("%w: client %q yields %s, model accepts %s",
				pkgerrors.ErrShapeMismatch, c.ID, c.Data.ElementSpec(), m.InputSpec())
		}
		err := c.Data.ForEach(ctx, func(b data.Batch) error {
			out, err := m.ForwardPass(b, false)
			if err != nil {
				return err
			}
			acc.add(out)

			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("client %q: %w", c.ID, err)
		}
	}

	loss, metrics := acc.means()
	metrics[MetricLoss] = loss
	metrics[MetricNumExamples] = float64(acc.examples)

	return metrics, nil
}
