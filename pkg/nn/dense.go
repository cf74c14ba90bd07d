package nn

import (
	"fmt"
	"math/rand/v2"

	pkgerrors "github.com/absmach/fedsim/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

type denseSpec struct {
	units int
	act   Activation
}

// Dense is a fully connected layer over rank-1 inputs.
func Dense(units int, act Activation) LayerSpec {
	return denseSpec{units: units, act: act}
}

func (denseSpec) kind() string { return "dense" }

func (s denseSpec) build(name string, in []int, rng *rand.Rand) (Layer, error) {
	if err := expectRank("dense", in, 1); err != nil {
		return nil, err
	}
	if s.units <= 0 {
		return nil, fmt.Errorf("%w: dense units must be positive", pkgerrors.ErrConfiguration)
	}

	d := &dense{
		name:   name,
		in:     in[0],
		units:  s.units,
		act:    s.act,
		kernel: newParam(name+"/kernel", in[0], s.units),
		bias:   newParam(name+"/bias", s.units),
	}
	d.kernel.glorotUniform(rng, d.in, d.units)

	return d, nil
}

type dense struct {
	name      string
	in, units int
	act       Activation
	kernel    *Param
	bias      *Param

	x, out *mat.Dense
}

func (d *dense) Name() string        { return d.name }
func (d *dense) OutputShape() []int  { return []int{d.units} }
func (d *dense) Params() []*Param    { return []*Param{d.kernel, d.bias} }
func (d *dense) weights() *mat.Dense { return mat.NewDense(d.in, d.units, d.kernel.Value) }

func (d *dense) Forward(x *mat.Dense, _ bool) *mat.Dense {
	out := new(mat.Dense)
	out.Mul(x, d.weights())
	addRowBias(out, d.bias.Value)
	d.act.apply(out)
	d.x, d.out = x, out

	return out
}

func (d *dense) Backward(dy *mat.Dense, needInput bool) *mat.Dense {
	d.act.grad(d.out, dy)

	var gw mat.Dense
	gw.Mul(d.x.T(), dy)
	floats.Add(d.kernel.Grad, rawData(&gw))
	addColumnSums(d.bias.Grad, dy)

	if !needInput {
		return nil
	}
	dx := new(mat.Dense)
	dx.Mul(dy, d.weights().T())

	return dx
}

// addRowBias adds b to every len(b)-wide row of m's packed data.
func addRowBias(m *mat.Dense, b []float64) {
	data := rawData(m)
	for off := 0; off < len(data); off += len(b) {
		floats.Add(data[off:off+len(b)], b)
	}
}

// addColumnSums adds the sums of every len(dst)-wide row chunk of m to dst.
func addColumnSums(dst []float64, m *mat.Dense) {
	data := rawData(m)
	for off := 0; off < len(data); off += len(dst) {
		floats.Add(dst, data[off:off+len(dst)])
	}
}
