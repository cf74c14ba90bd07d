package nn

import (
	"fmt"
	"math"

	pkgerrors "github.com/absmach/fedsim/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Loss scores a batch of network outputs against labels.
type Loss interface {
	Name() string
	// Evaluate returns the batch-mean loss, batch-mean metrics keyed by name
	// and the gradient of the mean loss w.r.t. the outputs.
	Evaluate(out *mat.Dense, y []float64) (float64, map[string]float64, *mat.Dense, error)
}

const (
	MetricAccuracy = "sparse_categorical_accuracy"
	MetricMSE      = "mean_squared_error"
	MetricMAE      = "mean_absolute_error"
)

// SparseCategoricalCrossentropy takes logits and one integer class per row.
type SparseCategoricalCrossentropy struct{}

func (SparseCategoricalCrossentropy) Name() string { return "sparse_categorical_crossentropy" }

func (SparseCategoricalCrossentropy) Evaluate(out *mat.Dense, y []float64) (float64, map[string]float64, *mat.Dense, error) {
	rows, classes := out.Dims()
	if len(y) != rows {
		return 0, nil, nil, fmt.Errorf("%w: %d labels for %d rows", pkgerrors.ErrShapeMismatch, len(y), rows)
	}

	logits := rawData(out)
	grad := make([]float64, len(logits))
	var loss, correct float64
	for r := range rows {
		label := int(y[r])
		if label < 0 || label >= classes {
			return 0, nil, nil, fmt.Errorf("%w: label %d outside %d classes", pkgerrors.ErrInvalidData, label, classes)
		}

		row := logits[r*classes : (r+1)*classes]
		g := grad[r*classes : (r+1)*classes]
		top := floats.MaxIdx(row)
		if top == label {
			correct++
		}

		// log-sum-exp shifted by the max logit
		m := row[top]
		var sum float64
		for i, v := range row {
			g[i] = math.Exp(v - m)
			sum += g[i]
		}
		loss += math.Log(sum) + m - row[label]
		floats.Scale(1/(sum*float64(rows)), g)
		g[label] -= 1 / float64(rows)
	}

	n := float64(rows)
	metrics := map[string]float64{MetricAccuracy: correct / n}

	return loss / n, metrics, mat.NewDense(rows, classes, grad), nil
}

// MeanSquaredError averages the squared error over features, then over rows.
type MeanSquaredError struct{}

func (MeanSquaredError) Name() string { return "mean_squared_error" }

func (MeanSquaredError) Evaluate(out *mat.Dense, y []float64) (float64, map[string]float64, *mat.Dense, error) {
	pred := rawData(out)
	if len(y) != len(pred) {
		return 0, nil, nil, fmt.Errorf("%w: %d targets for %d outputs", pkgerrors.ErrShapeMismatch, len(y), len(pred))
	}

	rows, cols := out.Dims()
	n := float64(len(pred))
	grad := make([]float64, len(pred))
	var se, ae float64
	for i, p := range pred {
		d := p - y[i]
		se += d * d
		ae += math.Abs(d)
		grad[i] = 2 * d / n
	}
	mse := se / n
	metrics := map[string]float64{
		MetricMSE: mse,
		MetricMAE: ae / n,
	}

	return mse, metrics, mat.NewDense(rows, cols, grad), nil
}
