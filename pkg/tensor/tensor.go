package tensor

import (
	"fmt"
	"math"
	"slices"

	pkgerrors "github.com/absmach/fedsim/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// Tensor is a named, dense, row-major float64 array.
type Tensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

func New(name string, shape ...int) Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}

	return Tensor{
		Name:  name,
		Shape: slices.Clone(shape),
		Data:  make([]float64, n),
	}
}

func (t Tensor) Size() int {
	return len(t.Data)
}

func (t Tensor) Clone() Tensor {
	return Tensor{
		Name:  t.Name,
		Shape: slices.Clone(t.Shape),
		Data:  slices.Clone(t.Data),
	}
}

func (t Tensor) sameStructure(o Tensor) bool {
	return t.Name == o.Name && slices.Equal(t.Shape, o.Shape) && len(t.Data) == len(o.Data)
}

// Weights is an ordered list of tensors, e.g. a model's trainable variables.
type Weights []Tensor

func (w Weights) Clone() Weights {
	if w == nil {
		return nil
	}
	out := make(Weights, len(w))
	for i, t := range w {
		out[i] = t.Clone()
	}

	return out
}

// ZerosLike returns zero-valued weights with the structure of w.
func (w Weights) ZerosLike() Weights {
	out := make(Weights, len(w))
	for i, t := range w {
		out[i] = New(t.Name, t.Shape...)
	}

	return out
}

// CheckStructure reports ErrShapeMismatch when o differs from w in length,
// names or shapes.
func (w Weights) CheckStructure(o Weights) error {
	if len(w) != len(o) {
		return fmt.Errorf("%w: %d tensors vs %d", pkgerrors.ErrShapeMismatch, len(w), len(o))
	}
	for i := range w {
		if !w[i].sameStructure(o[i]) {
			return fmt.Errorf("%w: tensor %d is %s%v, want %s%v",
				pkgerrors.ErrShapeMismatch, i, o[i].Name, o[i].Shape, w[i].Name, w[i].Shape)
		}
	}

	return nil
}

func (w Weights) NumParams() int {
	n := 0
	for _, t := range w {
		n += t.Size()
	}

	return n
}

// Sub returns w - o as new weights.
func (w Weights) Sub(o Weights) (Weights, error) {
	if err := w.CheckStructure(o); err != nil {
		return nil, err
	}
	out := w.ZerosLike()
	for i := range w {
		floats.SubTo(out[i].Data, w[i].Data, o[i].Data)
	}

	return out, nil
}

// AddScaled sets w = w + alpha*o in place.
func (w Weights) AddScaled(alpha float64, o Weights) error {
	if err := w.CheckStructure(o); err != nil {
		return err
	}
	for i := range w {
		floats.AddScaled(w[i].Data, alpha, o[i].Data)
	}

	return nil
}

// Scale multiplies every element of w by c in place.
func (w Weights) Scale(c float64) {
	for i := range w {
		floats.Scale(c, w[i].Data)
	}
}

// Assign copies the values of src into w without reallocating.
func (w Weights) Assign(src Weights) error {
	if err := w.CheckStructure(src); err != nil {
		return err
	}
	for i := range w {
		copy(w[i].Data, src[i].Data)
	}

	return nil
}

// L2Norm is the global Euclidean norm over every tensor.
func (w Weights) L2Norm() float64 {
	var sum float64
	for _, t := range w {
		n := floats.Norm(t.Data, 2)
		sum += n * n
	}

	return math.Sqrt(sum)
}

// Equal reports whether both weight sets have the same structure and values
// within tol.
func (w Weights) Equal(o Weights, tol float64) bool {
	if w.CheckStructure(o) != nil {
		return false
	}
	for i := range w {
		if !floats.EqualApprox(w[i].Data, o[i].Data, tol) {
			return false
		}
	}

	return true
}

// Flatten concatenates every tensor into one vector.
func (w Weights) Flatten() []float64 {
	out := make([]float64, 0, w.NumParams())
	for _, t := range w {
		out = append(out, t.Data...)
	}

	return out
}

// Unflatten fills w from a vector produced by Flatten.
func (w Weights) Unflatten(v []float64) error {
	if len(v) != w.NumParams() {
		return fmt.Errorf("%w: vector of %d values for %d parameters", pkgerrors.ErrShapeMismatch, len(v), w.NumParams())
	}
	off := 0
	for i := range w {
		off += copy(w[i].Data, v[off:off+len(w[i].Data)])
	}

	return nil
}
