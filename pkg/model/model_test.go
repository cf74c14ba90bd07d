package model_test

import (
	"testing"

	"github.com/absmach/fedsim/pkg/data"
	pkgerrors "github.com/absmach/fedsim/pkg/errors"
	"github.com/absmach/fedsim/pkg/model"
	"github.com/absmach/fedsim/pkg/nn"
	"github.com/absmach/fedsim/pkg/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var spec = tensor.ElementSpec{
	X: tensor.NewSpec(tensor.Float32, 3),
	Y: tensor.NewSpec(tensor.Int32, 1),
}

func newModel(t *testing.T) model.Model {
	t.Helper()

	net, err := nn.NewNetwork([]int{3}, 1, nn.Dense(2, nn.Linear))
	require.NoError(t, err)
	m, err := model.FromNetwork(spec, net, nn.SparseCategoricalCrossentropy{})
	require.NoError(t, err)

	return m
}

func TestFromNetwork(t *testing.T) {
	t.Parallel()

	m := newModel(t)
	assert.True(t, m.InputSpec().Equal(spec.Batched()))

	vars := m.TrainableVariables()
	require.Len(t, vars, 2)
	assert.Equal(t, "dense/kernel", vars[0].Name)
	assert.Equal(t, []int{3, 2}, vars[0].Shape)
	assert.Equal(t, "dense/bias", vars[1].Name)

	net, err := nn.NewNetwork([]int{4}, 1, nn.Dense(2, nn.Linear))
	require.NoError(t, err)
	_, err = model.FromNetwork(spec, net, nn.SparseCategoricalCrossentropy{})
	assert.ErrorIs(t, err, pkgerrors.ErrShapeMismatch)
}

func TestTrainableVariablesAreLive(t *testing.T) {
	t.Parallel()

	m := newModel(t)
	b := data.Batch{X: []float64{1, 2, 3}, Y: []float64{1}, Size: 1}

	zero := m.TrainableVariables().ZerosLike()
	require.NoError(t, m.TrainableVariables().Assign(zero))

	out, err := m.ForwardPass(b, false)
	require.NoError(t, err)
	assert.InDelta(t, 0.6931471805599453, out.Loss, 1e-12)
	assert.Equal(t, 1, out.NumExamples)
}

func TestGradientStepReducesLoss(t *testing.T) {
	t.Parallel()

	m := newModel(t)
	b := data.Batch{X: []float64{1, 0, -1, 0, 1, 0}, Y: []float64{0, 1}, Size: 2}

	before, err := m.ForwardPass(b, false)
	require.NoError(t, err)

	for range 20 {
		grads, _, err := m.Gradients(b)
		require.NoError(t, err)
		require.NoError(t, m.TrainableVariables().AddScaled(-0.5, grads))
	}

	after, err := m.ForwardPass(b, false)
	require.NoError(t, err)
	assert.Less(t, after.Loss, before.Loss)
	assert.Equal(t, 1.0, after.Metrics[nn.MetricAccuracy])
}
