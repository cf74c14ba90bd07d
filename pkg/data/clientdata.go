package data

import (
	"context"
	"fmt"
	"hash/fnv"
	"maps"
	"slices"

	pkgerrors "github.com/absmach/fedsim/pkg/errors"
	"github.com/absmach/fedsim/pkg/tensor"
)

// ClientData is a collection of datasets keyed by client id.
type ClientData interface {
	// ClientIDs returns the ids in ascending order.
	ClientIDs() []string
	// ElementSpec is the unbatched structure of every raw example.
	ElementSpec() tensor.ElementSpec
	CreateDatasetForClient(ctx context.Context, id string) (*Dataset, error)
}

type inMemoryClientData struct {
	spec    tensor.ElementSpec
	ids     []string
	clients map[string]*Dataset
}

func NewInMemoryClientData(spec tensor.ElementSpec, clients map[string][]Example) (ClientData, error) {
	spec = spec.Unbatched()
	cd := &inMemoryClientData{
		spec:    spec,
		ids:     slices.Sorted(maps.Keys(clients)),
		clients: make(map[string]*Dataset, len(clients)),
	}
	for id, examples := range clients {
		ds, err := NewDataset(spec, examples)
		if err != nil {
			return nil, fmt.Errorf("client %q: %w", id, err)
		}
		cd.clients[id] = ds
	}

	return cd, nil
}

func (cd *inMemoryClientData) ClientIDs() []string {
	return slices.Clone(cd.ids)
}

func (cd *inMemoryClientData) ElementSpec() tensor.ElementSpec {
	return cd.spec
}

func (cd *inMemoryClientData) CreateDatasetForClient(_ context.Context, id string) (*Dataset, error) {
	ds, ok := cd.clients[id]
	if !ok {
		return nil, fmt.Errorf("client %q: %w", id, pkgerrors.ErrNotFound)
	}

	return ds, nil
}

// Preprocessor maps raw examples to the model's element structure and
// traverses them with a pipeline.
type Preprocessor struct {
	// Output is the unbatched element structure produced by Map.
	Output   tensor.ElementSpec
	Map      func(Example) (Example, error)
	Pipeline PipelineConfig
}

// ElementSpec is the batched structure of the preprocessed data.
func (p Preprocessor) ElementSpec() tensor.ElementSpec {
	return p.Output.Unbatched().Batched()
}

// Apply preprocesses ds, seeding the shuffle with seed.
func (p Preprocessor) Apply(ds *Dataset, seed uint64) (*Pipeline, error) {
	mapped := ds.Take(p.Pipeline.MaxElements)
	if p.Map != nil {
		var err error
		if mapped, err = mapped.Map(p.Output, p.Map); err != nil {
			return nil, err
		}
	}
	if !mapped.ElementSpec().Equal(p.Output.Unbatched()) {
		return nil, fmt.Errorf("%w: preprocessed %s, declared %s", pkgerrors.ErrShapeMismatch, mapped.ElementSpec(), p.Output)
	}
	cfg := p.Pipeline
	cfg.Seed ^= seed

	return NewPipeline(mapped, cfg), nil
}

// PreprocessedClientData applies a Preprocessor to every client dataset on
// demand. Each client's shuffle is seeded from its id, so a client yields the
// same batches every time it is requested.
type PreprocessedClientData struct {
	src ClientData
	pre Preprocessor
}

func Preprocess(src ClientData, pre Preprocessor) *PreprocessedClientData {
	return &PreprocessedClientData{src: src, pre: pre}
}

func (p *PreprocessedClientData) ClientIDs() []string {
	return p.src.ClientIDs()
}

func (p *PreprocessedClientData) ElementSpec() tensor.ElementSpec {
	return p.pre.ElementSpec()
}

func (p *PreprocessedClientData) CreateDatasetForClient(ctx context.Context, id string) (*Pipeline, error) {
	ds, err := p.src.CreateDatasetForClient(ctx, id)
	if err != nil {
		return nil, err
	}

	return p.pre.Apply(ds, ClientSeed(id))
}

// ClientSeed derives a stable shuffle seed from a client id.
func ClientSeed(id string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))

	return h.Sum64()
}
