package nn

import (
	"fmt"
	"math/rand/v2"

	pkgerrors "github.com/absmach/fedsim/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

type Padding uint8

const (
	Valid Padding = iota
	Same
)

type convSpec struct {
	filters, kernel int
	padding         Padding
	act             Activation
}

// Conv2D is a stride-1 square convolution over HWC inputs.
func Conv2D(filters, kernel int, padding Padding, act Activation) LayerSpec {
	return convSpec{filters: filters, kernel: kernel, padding: padding, act: act}
}

func (convSpec) kind() string { return "conv2d" }

func (s convSpec) build(name string, in []int, rng *rand.Rand) (Layer, error) {
	if err := expectRank("conv2d", in, 3); err != nil {
		return nil, err
	}
	if s.filters <= 0 || s.kernel <= 0 {
		return nil, fmt.Errorf("%w: conv2d filters and kernel must be positive", pkgerrors.ErrConfiguration)
	}

	c := &conv2D{
		name:    name,
		h:       in[0],
		w:       in[1],
		ch:      in[2],
		k:       s.kernel,
		filters: s.filters,
		act:     s.act,
	}
	switch s.padding {
	case Same:
		if s.kernel%2 == 0 {
			return nil, fmt.Errorf("%w: same padding needs an odd kernel", pkgerrors.ErrConfiguration)
		}
		c.pad = (s.kernel - 1) / 2
		c.oh, c.ow = c.h, c.w
	default:
		c.oh, c.ow = c.h-s.kernel+1, c.w-s.kernel+1
	}
	if c.oh <= 0 || c.ow <= 0 {
		return nil, fmt.Errorf("%w: kernel %d does not fit input %v", pkgerrors.ErrShapeMismatch, s.kernel, in)
	}

	c.kernelP = newParam(name+"/kernel", s.kernel, s.kernel, c.ch, s.filters)
	c.bias = newParam(name+"/bias", s.filters)
	c.kernelP.glorotUniform(rng, s.kernel*s.kernel*c.ch, s.kernel*s.kernel*s.filters)

	return c, nil
}

type conv2D struct {
	name          string
	h, w, ch      int
	k, pad        int
	oh, ow        int
	filters       int
	act           Activation
	kernelP, bias *Param
	batch         int
	cols, out     *mat.Dense
}

func (c *conv2D) Name() string       { return c.name }
func (c *conv2D) OutputShape() []int { return []int{c.oh, c.ow, c.filters} }
func (c *conv2D) Params() []*Param   { return []*Param{c.kernelP, c.bias} }

func (c *conv2D) weights() *mat.Dense {
	return mat.NewDense(c.k*c.k*c.ch, c.filters, c.kernelP.Value)
}

func (c *conv2D) Forward(x *mat.Dense, _ bool) *mat.Dense {
	c.batch, _ = x.Dims()
	c.cols = c.im2col(rawData(x))

	var out mat.Dense
	out.Mul(c.cols, c.weights())
	addRowBias(&out, c.bias.Value)
	c.act.apply(&out)

	c.out = mat.NewDense(c.batch, c.oh*c.ow*c.filters, rawData(&out))

	return c.out
}

func (c *conv2D) Backward(dy *mat.Dense, needInput bool) *mat.Dense {
	c.act.grad(c.out, dy)
	dyCols := mat.NewDense(c.batch*c.oh*c.ow, c.filters, rawData(dy))

	var gk mat.Dense
	gk.Mul(c.cols.T(), dyCols)
	floats.Add(c.kernelP.Grad, rawData(&gk))
	addColumnSums(c.bias.Grad, dyCols)

	if !needInput {
		return nil
	}

	var dcols mat.Dense
	dcols.Mul(dyCols, c.weights().T())

	return mat.NewDense(c.batch, c.h*c.w*c.ch, c.col2im(rawData(&dcols)))
}

// im2col lays every receptive field out as one row of k*k*ch values ordered
// (ky, kx, channel); out-of-bounds taps stay zero.
func (c *conv2D) im2col(x []float64) *mat.Dense {
	rowLen := c.k * c.k * c.ch
	inLen := c.h * c.w * c.ch
	cols := make([]float64, c.batch*c.oh*c.ow*rowLen)

	for b := range c.batch {
		img := x[b*inLen : (b+1)*inLen]
		for oy := range c.oh {
			for ox := range c.ow {
				row := cols[((b*c.oh+oy)*c.ow+ox)*rowLen:]
				idx := 0
				for ky := range c.k {
					iy := oy + ky - c.pad
					for kx := range c.k {
						ix := ox + kx - c.pad
						if iy >= 0 && iy < c.h && ix >= 0 && ix < c.w {
							src := (iy*c.w + ix) * c.ch
							copy(row[idx:idx+c.ch], img[src:src+c.ch])
						}
						idx += c.ch
					}
				}
			}
		}
	}

	return mat.NewDense(c.batch*c.oh*c.ow, rowLen, cols)
}

// col2im scatters receptive-field gradients back onto the input grid.
func (c *conv2D) col2im(dcols []float64) []float64 {
	rowLen := c.k * c.k * c.ch
	inLen := c.h * c.w * c.ch
	dx := make([]float64, c.batch*inLen)

	for b := range c.batch {
		img := dx[b*inLen : (b+1)*inLen]
		for oy := range c.oh {
			for ox := range c.ow {
				row := dcols[((b*c.oh+oy)*c.ow+ox)*rowLen:]
				idx := 0
				for ky := range c.k {
					iy := oy + ky - c.pad
					for kx := range c.k {
						ix := ox + kx - c.pad
						if iy >= 0 && iy < c.h && ix >= 0 && ix < c.w {
							dst := (iy*c.w + ix) * c.ch
							floats.Add(img[dst:dst+c.ch], row[idx:idx+c.ch])
						}
						idx += c.ch
					}
				}
			}
		}
	}

	return dx
}
