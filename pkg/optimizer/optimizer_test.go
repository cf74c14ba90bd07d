package optimizer_test

import (
	"math"
	"testing"

	pkgerrors "github.com/absmach/fedsim/pkg/errors"
	"github.com/absmach/fedsim/pkg/optimizer"
	"github.com/absmach/fedsim/pkg/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vec(vals ...float64) tensor.Weights {
	t := tensor.New("w", len(vals))
	copy(t.Data, vals)

	return tensor.Weights{t}
}

func TestNew(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  optimizer.Config
		want string
		err  error
	}{
		{"default is sgd", optimizer.Config{LearningRate: 0.1}, optimizer.NameSGD, nil},
		{"sgdm", optimizer.Config{Name: "sgdm", LearningRate: 0.1, Momentum: 0.9}, optimizer.NameSGDM, nil},
		{"adam", optimizer.Config{Name: "adam", LearningRate: 0.01}, optimizer.NameAdam, nil},
		{"adagrad", optimizer.Config{Name: "adagrad", LearningRate: 0.01}, optimizer.NameAdagrad, nil},
		{"unknown", optimizer.Config{Name: "lamb", LearningRate: 0.1}, "", pkgerrors.ErrConfiguration},
		{"zero learning rate", optimizer.Config{Name: "sgd"}, "", pkgerrors.ErrConfiguration},
		{"momentum out of range", optimizer.Config{Name: "sgdm", LearningRate: 0.1, Momentum: 1}, "", pkgerrors.ErrConfiguration},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			fn, err := optimizer.New(c.cfg)
			if c.err != nil {
				assert.ErrorIs(t, err, c.err)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.want, fn().Name())
		})
	}
}

func TestSGD(t *testing.T) {
	t.Parallel()

	w := vec(1, 2)
	opt := optimizer.SGD(0.5)
	st := opt.Init(w)
	require.NoError(t, opt.Apply(&st, w, vec(2, -2)))
	assert.Equal(t, []float64{0, 3}, w[0].Data)
	assert.Equal(t, 1, st.Step)
}

func TestSGDMAccumulates(t *testing.T) {
	t.Parallel()

	w := vec(0)
	opt := optimizer.SGDM(1, 0.5)
	st := opt.Init(w)
	require.NoError(t, opt.Apply(&st, w, vec(1)))
	require.NoError(t, opt.Apply(&st, w, vec(1)))
	// m1 = 1, m2 = 0.5 + 1
	assert.InDelta(t, -2.5, w[0].Data[0], 1e-12)

	zero := optimizer.SGDM(1, 0)
	zst := zero.Init(w)
	assert.Empty(t, zst.Slots)
}

func TestAdamFirstStep(t *testing.T) {
	t.Parallel()

	w := vec(1, 1)
	opt := optimizer.Adam(0.1, 0.9, 0.999, 1e-7)
	st := opt.Init(w)
	require.NoError(t, opt.Apply(&st, w, vec(3, -0.001)))
	// the bias-corrected first step moves every coordinate by about lr
	assert.InDelta(t, 0.9, w[0].Data[0], 1e-4)
	assert.InDelta(t, 1.1, w[0].Data[1], 1e-3)
}

func TestAdagrad(t *testing.T) {
	t.Parallel()

	w := vec(1)
	opt := optimizer.Adagrad(0.1, 0.1, 0)
	st := opt.Init(w)
	require.NoError(t, opt.Apply(&st, w, vec(1)))
	assert.InDelta(t, 1-0.1/math.Sqrt(1.1), w[0].Data[0], 1e-12)
}

func TestStateClone(t *testing.T) {
	t.Parallel()

	w := vec(1)
	opt := optimizer.SGDM(1, 0.9)
	st := opt.Init(w)
	cp := st.Clone()
	require.NoError(t, opt.Apply(&st, w, vec(1)))

	assert.Equal(t, 0, cp.Step)
	assert.Equal(t, []float64{0}, cp.Slots["momentum"][0].Data)
}

func TestApplyShapeMismatch(t *testing.T) {
	t.Parallel()

	for _, opt := range []optimizer.Optimizer{
		optimizer.SGD(1),
		optimizer.SGDM(1, 0.9),
		optimizer.Adam(1, 0.9, 0.999, 1e-7),
		optimizer.Adagrad(1, 0.1, 1e-7),
	} {
		w := vec(1, 2)
		st := opt.Init(w)
		err := opt.Apply(&st, w, vec(1))
		assert.ErrorIs(t, err, pkgerrors.ErrShapeMismatch, opt.Name())
	}
}
