package baselines

import (
	"fmt"

	"github.com/absmach/fedsim/pkg/data"
	pkgerrors "github.com/absmach/fedsim/pkg/errors"
)

// Unbounded disables truncation of client datasets.
const Unbounded = -1

// ClientSpec controls how one role (train or eval) traverses a client dataset.
type ClientSpec struct {
	NumEpochs         int `toml:"num_epochs"          json:"num_epochs"`
	BatchSize         int `toml:"batch_size"          json:"batch_size"`
	MaxElements       int `toml:"max_elements"        json:"max_elements"`
	ShuffleBufferSize int `toml:"shuffle_buffer_size" json:"shuffle_buffer_size"`
}

// NewClientSpec validates and returns a ClientSpec.
func NewClientSpec(numEpochs, batchSize, maxElements, shuffleBufferSize int) (ClientSpec, error) {
	cs := ClientSpec{
		NumEpochs:         numEpochs,
		BatchSize:         batchSize,
		MaxElements:       maxElements,
		ShuffleBufferSize: shuffleBufferSize,
	}
	if err := cs.Validate(); err != nil {
		return ClientSpec{}, err
	}

	return cs, nil
}

// MustClientSpec is NewClientSpec for statically known values.
func MustClientSpec(numEpochs, batchSize, maxElements, shuffleBufferSize int) ClientSpec {
	cs, err := NewClientSpec(numEpochs, batchSize, maxElements, shuffleBufferSize)
	if err != nil {
		panic(err)
	}

	return cs
}

func (cs ClientSpec) Validate() error {
	switch {
	case cs.NumEpochs <= 0:
		return fmt.Errorf("%w: num_epochs must be positive, got %d", pkgerrors.ErrConfiguration, cs.NumEpochs)
	case cs.BatchSize <= 0:
		return fmt.Errorf("%w: batch_size must be positive, got %d", pkgerrors.ErrConfiguration, cs.BatchSize)
	case cs.MaxElements <= 0 && cs.MaxElements != Unbounded:
		return fmt.Errorf("%w: max_elements must be positive or %d, got %d", pkgerrors.ErrConfiguration, Unbounded, cs.MaxElements)
	case cs.ShuffleBufferSize < 0:
		return fmt.Errorf("%w: shuffle_buffer_size must not be negative, got %d", pkgerrors.ErrConfiguration, cs.ShuffleBufferSize)
	}

	return nil
}

// Pipeline converts the spec into a dataset traversal seeded with seed.
func (cs ClientSpec) Pipeline(seed uint64) data.PipelineConfig {
	return data.PipelineConfig{
		NumEpochs:         cs.NumEpochs,
		BatchSize:         cs.BatchSize,
		MaxElements:       cs.MaxElements,
		ShuffleBufferSize: cs.ShuffleBufferSize,
		Seed:              seed,
	}
}
