// Package nn implements the small set of neural network layers the baseline
// tasks need: dense, 2D convolution, max pooling and dropout over row-major
// float64 batches. Activations of a batch are a mat.Dense with one row per
// example, and image tensors are flattened in NHWC order.
package nn

import (
	"fmt"
	"math"
	"math/rand/v2"

	pkgerrors "github.com/absmach/fedsim/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Param is a trainable variable and its accumulated gradient. Value and Grad
// are row-major and never reallocated after construction.
type Param struct {
	Name  string
	Shape []int
	Value []float64
	Grad  []float64
}

func newParam(name string, shape ...int) *Param {
	n := 1
	for _, d := range shape {
		n *= d
	}

	return &Param{
		Name:  name,
		Shape: shape,
		Value: make([]float64, n),
		Grad:  make([]float64, n),
	}
}

// glorotUniform fills p with U(-l, l), l = sqrt(6 / (fanIn + fanOut)).
func (p *Param) glorotUniform(rng *rand.Rand, fanIn, fanOut int) {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	for i := range p.Value {
		p.Value[i] = (rng.Float64()*2 - 1) * limit
	}
}

// Layer is one differentiable stage of a Network.
type Layer interface {
	Name() string
	// OutputShape is the per-example output shape.
	OutputShape() []int
	Params() []*Param
	Forward(x *mat.Dense, training bool) *mat.Dense
	// Backward accumulates parameter gradients for the last Forward call and
	// returns the gradient w.r.t. its input when needInput is set. It may
	// overwrite dy.
	Backward(dy *mat.Dense, needInput bool) *mat.Dense
}

// LayerSpec builds a layer for a known input shape.
type LayerSpec interface {
	kind() string
	build(name string, in []int, rng *rand.Rand) (Layer, error)
}

type Activation uint8

const (
	Linear Activation = iota
	ReLU
	Sigmoid
)

func (a Activation) apply(m *mat.Dense) {
	data := rawData(m)
	switch a {
	case ReLU:
		for i, v := range data {
			if v < 0 {
				data[i] = 0
			}
		}
	case Sigmoid:
		for i, v := range data {
			data[i] = 1 / (1 + math.Exp(-v))
		}
	}
}

// grad multiplies dy by the activation derivative, given the activated output.
func (a Activation) grad(out, dy *mat.Dense) {
	o, d := rawData(out), rawData(dy)
	switch a {
	case ReLU:
		for i, v := range o {
			if v <= 0 {
				d[i] = 0
			}
		}
	case Sigmoid:
		for i, v := range o {
			d[i] *= v * (1 - v)
		}
	}
}

// rawData returns the backing slice of a densely packed matrix.
func rawData(m *mat.Dense) []float64 {
	raw := m.RawMatrix()
	if raw.Stride != raw.Cols {
		panic("nn: matrix is not densely packed")
	}

	return raw.Data[:raw.Rows*raw.Cols]
}

func shapeSize(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}

	return n
}

func expectRank(kind string, in []int, rank int) error {
	if len(in) != rank {
		return fmt.Errorf("%w: %s expects rank %d input, got %v", pkgerrors.ErrShapeMismatch, kind, rank, in)
	}

	return nil
}
