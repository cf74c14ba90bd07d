package nn

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"

	pkgerrors "github.com/absmach/fedsim/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Network is a feed-forward stack of layers. It keeps per-call activations, so
// a Network must not be used from more than one goroutine at a time.
type Network struct {
	input  []int
	layers []Layer
	params []*Param
}

// NewNetwork builds layers in order for the per-example input shape. Layer
// names follow the "dense", "dense_1", ... convention; seed fixes the initial
// weights and the dropout masks.
func NewNetwork(input []int, seed uint64, specs ...LayerSpec) (*Network, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: network has no layers", pkgerrors.ErrConfiguration)
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	n := &Network{input: slices.Clone(input)}
	seen := map[string]int{}
	shape := n.input
	for _, s := range specs {
		name := s.kind()
		if i := seen[name]; i > 0 {
			name += "_" + strconv.Itoa(i)
		}
		seen[s.kind()]++

		l, err := s.build(name, shape, rng)
		if err != nil {
			return nil, fmt.Errorf("layer %s: %w", name, err)
		}
		n.layers = append(n.layers, l)
		n.params = append(n.params, l.Params()...)
		shape = l.OutputShape()
	}

	return n, nil
}

func (n *Network) InputShape() []int {
	return slices.Clone(n.input)
}

func (n *Network) OutputShape() []int {
	return n.layers[len(n.layers)-1].OutputShape()
}

func (n *Network) Layers() []Layer {
	return n.layers
}

// Params returns the trainable variables in layer order.
func (n *Network) Params() []*Param {
	return n.params
}

// Forward runs a batch of size rows through the network. x holds the batch
// packed row-major and is not modified.
func (n *Network) Forward(x []float64, rows int, training bool) (*mat.Dense, error) {
	cols := shapeSize(n.input)
	if rows <= 0 || len(x) != rows*cols {
		return nil, fmt.Errorf("%w: %d values for a batch of %d x %v", pkgerrors.ErrShapeMismatch, len(x), rows, n.input)
	}

	out := mat.NewDense(rows, cols, slices.Clone(x))
	for _, l := range n.layers {
		out = l.Forward(out, training)
	}

	return out, nil
}

// Backward propagates the loss gradient of the last Forward call and
// accumulates it into every Param.Grad.
func (n *Network) Backward(dy *mat.Dense) {
	for i := len(n.layers) - 1; i >= 0; i-- {
		dy = n.layers[i].Backward(dy, i > 0)
	}
}

func (n *Network) ZeroGrad() {
	for _, p := range n.params {
		clear(p.Grad)
	}
}
