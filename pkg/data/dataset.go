package data

import (
	"fmt"
	"slices"

	pkgerrors "github.com/absmach/fedsim/pkg/errors"
	"github.com/absmach/fedsim/pkg/tensor"
)

// Example is one unbatched element. Integer labels are stored as their
// float64 value.
type Example struct {
	X []float64 `json:"x"`
	Y []float64 `json:"y"`
}

func (e Example) Clone() Example {
	return Example{X: slices.Clone(e.X), Y: slices.Clone(e.Y)}
}

// Dataset is a finite, ordered, immutable collection of examples.
type Dataset struct {
	spec     tensor.ElementSpec
	examples []Example
}

func NewDataset(spec tensor.ElementSpec, examples []Example) (*Dataset, error) {
	spec = spec.Unbatched()
	xs, ys := spec.X.Size(), spec.Y.Size()
	for i, e := range examples {
		if len(e.X) != xs || len(e.Y) != ys {
			return nil, fmt.Errorf("%w: example %d has %d/%d values, spec %s wants %d/%d",
				pkgerrors.ErrShapeMismatch, i, len(e.X), len(e.Y), spec, xs, ys)
		}
	}

	return &Dataset{spec: spec, examples: examples}, nil
}

func (d *Dataset) ElementSpec() tensor.ElementSpec {
	return d.spec
}

func (d *Dataset) Len() int {
	return len(d.examples)
}

func (d *Dataset) Example(i int) Example {
	return d.examples[i]
}

// Take returns the first n examples. A negative n keeps everything.
func (d *Dataset) Take(n int) *Dataset {
	if n < 0 || n >= len(d.examples) {
		return d
	}

	return &Dataset{spec: d.spec, examples: d.examples[:n]}
}

// Map applies fn to every example and tags the result with spec.
func (d *Dataset) Map(spec tensor.ElementSpec, fn func(Example) (Example, error)) (*Dataset, error) {
	out := make([]Example, len(d.examples))
	for i, e := range d.examples {
		m, err := fn(e)
		if err != nil {
			return nil, fmt.Errorf("map example %d: %w", i, err)
		}
		out[i] = m
	}

	return NewDataset(spec, out)
}

// Concatenate joins datasets sharing one element spec.
func Concatenate(ds ...*Dataset) (*Dataset, error) {
	if len(ds) == 0 {
		return nil, fmt.Errorf("%w: nothing to concatenate", pkgerrors.ErrInvalidData)
	}
	spec := ds[0].spec
	var out []Example
	for _, d := range ds {
		if !d.spec.Equal(spec) {
			return nil, fmt.Errorf("%w: cannot concatenate %s with %s", pkgerrors.ErrShapeMismatch, d.spec, spec)
		}
		out = append(out, d.examples...)
	}

	return &Dataset{spec: spec, examples: out}, nil
}
