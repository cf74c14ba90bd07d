package tensor_test

import (
	"testing"

	pkgerrors "github.com/absmach/fedsim/pkg/errors"
	"github.com/absmach/fedsim/pkg/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func weights(vals ...float64) tensor.Weights {
	k := tensor.New("kernel", 2)
	copy(k.Data, vals[:2])
	b := tensor.New("bias", 1)
	b.Data[0] = vals[2]

	return tensor.Weights{k, b}
}

func TestSpecEqual(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		a, b tensor.Spec
		want bool
	}{
		{"identical", tensor.NewSpec(tensor.Float32, -1, 28, 28, 1), tensor.NewSpec(tensor.Float32, -1, 28, 28, 1), true},
		{"dtype differs", tensor.NewSpec(tensor.Float32, -1, 1), tensor.NewSpec(tensor.Int32, -1, 1), false},
		{"rank differs", tensor.NewSpec(tensor.Float32, -1, 784), tensor.NewSpec(tensor.Float32, -1, 28, 28), false},
		{"batch dim differs", tensor.NewSpec(tensor.Float32, -1, 784), tensor.NewSpec(tensor.Float32, 32, 784), false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, c.want, c.a.Equal(c.b))
		})
	}
}

func TestSpecBatching(t *testing.T) {
	t.Parallel()

	s := tensor.NewSpec(tensor.Float32, 28, 28, 1)
	b := s.Batched()
	assert.Equal(t, []int{-1, 28, 28, 1}, b.Shape)
	assert.True(t, b.Unbatched().Equal(s))
	assert.Equal(t, 784, b.Size())
	assert.Equal(t, "float32[None,28,28,1]", b.String())
}

func TestWeightsArithmetic(t *testing.T) {
	t.Parallel()

	a := weights(1, 2, 3)
	b := weights(0.5, 0.5, 1)

	d, err := a.Sub(b)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 1.5}, d[0].Data)
	assert.Equal(t, []float64{2}, d[1].Data)

	require.NoError(t, b.AddScaled(2, d))
	assert.Equal(t, []float64{1.5, 3.5}, b[0].Data)
	assert.Equal(t, []float64{5}, b[1].Data)

	assert.Equal(t, []float64{1, 2, 3}, a.Flatten())
	assert.Equal(t, 3, a.NumParams())
	assert.InDelta(t, 3.7416573, a.L2Norm(), 1e-6)
}

func TestWeightsCloneDoesNotAlias(t *testing.T) {
	t.Parallel()

	a := weights(1, 2, 3)
	c := a.Clone()
	c[0].Data[0] = 100

	assert.Equal(t, 1.0, a[0].Data[0])
	assert.False(t, a.Equal(c, 0))
}

func TestWeightsStructureMismatch(t *testing.T) {
	t.Parallel()

	a := weights(1, 2, 3)
	other := tensor.Weights{tensor.New("kernel", 3), tensor.New("bias", 1)}

	_, err := a.Sub(other)
	assert.ErrorIs(t, err, pkgerrors.ErrShapeMismatch)
	assert.ErrorIs(t, a.Assign(other), pkgerrors.ErrShapeMismatch)
	assert.ErrorIs(t, a.Unflatten([]float64{1}), pkgerrors.ErrShapeMismatch)
}
