package data

import (
	"context"
	"math/rand/v2"

	"github.com/absmach/fedsim/pkg/tensor"
)

// Batch holds Size examples flattened row-major into X and Y.
type Batch struct {
	X    []float64
	Y    []float64
	Size int
}

// Batcher yields batches of a client's data in a fixed order.
type Batcher interface {
	// ElementSpec is the batched structure of every yielded batch.
	ElementSpec() tensor.ElementSpec
	// ForEach calls fn for every batch, stopping at the first error.
	ForEach(ctx context.Context, fn func(Batch) error) error
}

// PipelineConfig controls how a dataset is traversed.
type PipelineConfig struct {
	NumEpochs         int
	BatchSize         int
	MaxElements       int
	ShuffleBufferSize int
	Seed              uint64
}

// Pipeline truncates a dataset to MaxElements, then for every epoch shuffles it
// through a bounded buffer, and batches the repeated stream. Batches may span
// epoch boundaries; the last batch may be short.
type Pipeline struct {
	src *Dataset
	cfg PipelineConfig
}

var _ Batcher = (*Pipeline)(nil)

func NewPipeline(src *Dataset, cfg PipelineConfig) *Pipeline {
	return &Pipeline{
		src: src.Take(cfg.MaxElements),
		cfg: cfg,
	}
}

func (p *Pipeline) ElementSpec() tensor.ElementSpec {
	return p.src.ElementSpec().Batched()
}

// NumExamples is the number of examples ForEach yields in total.
func (p *Pipeline) NumExamples() int {
	return p.src.Len() * max(p.cfg.NumEpochs, 1)
}

// Order returns the example indices in the order ForEach visits them.
func (p *Pipeline) Order() []int {
	n := p.src.Len()
	order := make([]int, 0, p.NumExamples())
	for epoch := range max(p.cfg.NumEpochs, 1) {
		rng := rand.New(rand.NewPCG(p.cfg.Seed, uint64(epoch)))
		order = append(order, bufferedShuffle(n, p.cfg.ShuffleBufferSize, rng)...)
	}

	return order
}

func (p *Pipeline) ForEach(ctx context.Context, fn func(Batch) error) error {
	spec := p.src.ElementSpec()
	xs, ys := spec.X.Size(), spec.Y.Size()
	bs := max(p.cfg.BatchSize, 1)

	order := p.Order()
	for start := 0; start < len(order); start += bs {
		if err := ctx.Err(); err != nil {
			return err
		}

		idx := order[start:min(start+bs, len(order))]
		b := Batch{
			X:    make([]float64, 0, len(idx)*xs),
			Y:    make([]float64, 0, len(idx)*ys),
			Size: len(idx),
		}
		for _, i := range idx {
			e := p.src.Example(i)
			b.X = append(b.X, e.X...)
			b.Y = append(b.Y, e.Y...)
		}
		if err := fn(b); err != nil {
			return err
		}
	}

	return nil
}

// bufferedShuffle emits 0..n-1 the way a bounded shuffle buffer would: the
// buffer is filled with the first elements, then a random slot is emitted and
// refilled with the next input element. A buffer of size 0 or 1 keeps order.
func bufferedShuffle(n, size int, rng *rand.Rand) []int {
	order := make([]int, 0, n)
	if size <= 1 {
		for i := range n {
			order = append(order, i)
		}

		return order
	}

	buf := make([]int, 0, min(size, n))
	next := 0
	for ; next < n && len(buf) < size; next++ {
		buf = append(buf, next)
	}
	for len(buf) > 0 {
		i := rng.IntN(len(buf))
		order = append(order, buf[i])
		if next < n {
			buf[i] = next
			next++

			continue
		}
		buf[i] = buf[len(buf)-1]
		buf = buf[:len(buf)-1]
	}

	return order
}
