// Package sampler picks the clients that take part in a round.
package sampler

import (
	"fmt"
	"math/rand/v2"
	"slices"

	pkgerrors "github.com/absmach/fedsim/pkg/errors"
)

// Sampler selects clients without replacement. The choice depends only on the
// sampler seed, the round number and the inputs, so any round of an
// experiment can be replayed.
type Sampler struct {
	seed uint64
}

func New(seed uint64) Sampler {
	return Sampler{seed: seed}
}

// Select returns count distinct ids drawn from ids for round roundNum.
func (s Sampler) Select(roundNum int, ids []string, count int) ([]string, error) {
	if count <= 0 {
		return nil, fmt.Errorf("%w: client count must be positive, got %d", pkgerrors.ErrConfiguration, count)
	}
	if count > len(ids) {
		return nil, fmt.Errorf("%w: requested %d of %d clients", pkgerrors.ErrInsufficientClients, count, len(ids))
	}

	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return nil, fmt.Errorf("%w: duplicate client id %q", pkgerrors.ErrConfiguration, id)
		}
		seen[id] = struct{}{}
	}

	rng := rand.New(rand.NewPCG(s.seed, uint64(roundNum)))
	pool := slices.Clone(ids)
	for i := range count {
		j := i + rng.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}

	return pool[:count:count], nil
}
