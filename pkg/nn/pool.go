package nn

import (
	"fmt"
	"math"
	"math/rand/v2"

	pkgerrors "github.com/absmach/fedsim/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

type poolSpec struct {
	size int
}

// MaxPool2D takes the maximum over non-overlapping size x size windows.
func MaxPool2D(size int) LayerSpec {
	return poolSpec{size: size}
}

func (poolSpec) kind() string { return "max_pooling2d" }

func (s poolSpec) build(name string, in []int, _ *rand.Rand) (Layer, error) {
	if err := expectRank("max_pooling2d", in, 3); err != nil {
		return nil, err
	}
	if s.size <= 0 || in[0] < s.size || in[1] < s.size {
		return nil, fmt.Errorf("%w: pool size %d for input %v", pkgerrors.ErrShapeMismatch, s.size, in)
	}

	return &maxPool{
		name: name,
		size: s.size,
		h:    in[0],
		w:    in[1],
		ch:   in[2],
		oh:   in[0] / s.size,
		ow:   in[1] / s.size,
	}, nil
}

type maxPool struct {
	name     string
	size     int
	h, w, ch int
	oh, ow   int

	batch  int
	argmax []int
}

func (p *maxPool) Name() string       { return p.name }
func (p *maxPool) OutputShape() []int { return []int{p.oh, p.ow, p.ch} }
func (p *maxPool) Params() []*Param   { return nil }

func (p *maxPool) Forward(x *mat.Dense, _ bool) *mat.Dense {
	p.batch, _ = x.Dims()
	in := rawData(x)
	inLen, outLen := p.h*p.w*p.ch, p.oh*p.ow*p.ch
	out := make([]float64, p.batch*outLen)
	p.argmax = make([]int, len(out))

	for b := range p.batch {
		for oy := range p.oh {
			for ox := range p.ow {
				for c := range p.ch {
					best, bestIdx := math.Inf(-1), -1
					for dy := range p.size {
						for dx := range p.size {
							idx := b*inLen + ((oy*p.size+dy)*p.w+ox*p.size+dx)*p.ch + c
							if in[idx] > best {
								best, bestIdx = in[idx], idx
							}
						}
					}
					o := b*outLen + (oy*p.ow+ox)*p.ch + c
					out[o], p.argmax[o] = best, bestIdx
				}
			}
		}
	}

	return mat.NewDense(p.batch, outLen, out)
}

func (p *maxPool) Backward(dy *mat.Dense, needInput bool) *mat.Dense {
	if !needInput {
		return nil
	}
	dx := make([]float64, p.batch*p.h*p.w*p.ch)
	for o, g := range rawData(dy) {
		dx[p.argmax[o]] += g
	}

	return mat.NewDense(p.batch, p.h*p.w*p.ch, dx)
}

type dropoutSpec struct {
	rate float64
}

// Dropout zeroes a rate fraction of activations while training and scales the
// rest by 1/(1-rate).
func Dropout(rate float64) LayerSpec {
	return dropoutSpec{rate: rate}
}

func (dropoutSpec) kind() string { return "dropout" }

func (s dropoutSpec) build(name string, in []int, rng *rand.Rand) (Layer, error) {
	if s.rate < 0 || s.rate >= 1 {
		return nil, fmt.Errorf("%w: dropout rate %v not in [0, 1)", pkgerrors.ErrConfiguration, s.rate)
	}

	return &dropout{name: name, rate: s.rate, shape: in, rng: rand.New(rand.NewPCG(rng.Uint64(), rng.Uint64()))}, nil
}

type dropout struct {
	name  string
	rate  float64
	shape []int
	rng   *rand.Rand
	mask  []float64
}

func (d *dropout) Name() string       { return d.name }
func (d *dropout) OutputShape() []int { return d.shape }
func (d *dropout) Params() []*Param   { return nil }

func (d *dropout) Forward(x *mat.Dense, training bool) *mat.Dense {
	if !training || d.rate == 0 {
		d.mask = nil

		return x
	}

	in := rawData(x)
	out := make([]float64, len(in))
	d.mask = make([]float64, len(in))
	keep := 1 / (1 - d.rate)
	for i, v := range in {
		if d.rng.Float64() >= d.rate {
			d.mask[i] = keep
			out[i] = v * keep
		}
	}
	r, c := x.Dims()

	return mat.NewDense(r, c, out)
}

func (d *dropout) Backward(dy *mat.Dense, needInput bool) *mat.Dense {
	if !needInput {
		return nil
	}
	if d.mask != nil {
		g := rawData(dy)
		for i := range g {
			g[i] *= d.mask[i]
		}
	}

	return dy
}

type flattenSpec struct{}

// Flatten reshapes any input to rank 1. Batches are already packed row-major,
// so only the reported shape changes.
func Flatten() LayerSpec {
	return flattenSpec{}
}

func (flattenSpec) kind() string { return "flatten" }

func (flattenSpec) build(name string, in []int, _ *rand.Rand) (Layer, error) {
	return &flatten{name: name, size: shapeSize(in)}, nil
}

type flatten struct {
	name string
	size int
}

func (f *flatten) Name() string                            { return f.name }
func (f *flatten) OutputShape() []int                      { return []int{f.size} }
func (f *flatten) Params() []*Param                        { return nil }
func (f *flatten) Forward(x *mat.Dense, _ bool) *mat.Dense { return x }

func (f *flatten) Backward(dy *mat.Dense, needInput bool) *mat.Dense {
	if !needInput {
		return nil
	}

	return dy
}
