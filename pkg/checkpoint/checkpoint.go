// Package checkpoint persists the global state of federated experiments so a
// run can be inspected or resumed from its last saved round.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	pkgerrors "github.com/absmach/fedsim/pkg/errors"
	"github.com/absmach/fedsim/pkg/learning"
	"github.com/fxamacker/cbor/v2"
)

var ErrInvalidID = errors.New("invalid experiment id")

type Checkpoint struct {
	ExperimentID string         `cbor:"experiment_id" json:"experiment_id"`
	Round        int            `cbor:"round"         json:"round"`
	State        learning.State `cbor:"state"         json:"state"`
	SavedAt      time.Time      `cbor:"saved_at"      json:"saved_at"`
}

// Store keeps one checkpoint per experiment and round.
type Store interface {
	Save(ctx context.Context, cp Checkpoint) error
	Load(ctx context.Context, experimentID string, round int) (Checkpoint, error)
	// Rounds lists the saved rounds of an experiment in ascending order.
	Rounds(ctx context.Context, experimentID string) ([]int, error)
	Close() error
}

type Manager struct {
	store Store
	every int
}

// NewManager saves every n-th round through store; n below one saves only
// when asked to with final.
func NewManager(store Store, every int) *Manager {
	return &Manager{store: store, every: every}
}

// Save stores state as the checkpoint of its round.
func (m *Manager) Save(ctx context.Context, experimentID string, state learning.State) error {
	return m.store.Save(ctx, Checkpoint{
		ExperimentID: experimentID,
		Round:        state.Round,
		State:        state.Clone(),
		SavedAt:      time.Now().UTC(),
	})
}

// MaybeSave saves state when its round is due or final is set, and reports
// whether it did.
func (m *Manager) MaybeSave(ctx context.Context, experimentID string, state learning.State, final bool) (bool, error) {
	due := m.every > 0 && state.Round%m.every == 0
	if !due && !final {
		return false, nil
	}
	if err := m.Save(ctx, experimentID, state); err != nil {
		return false, err
	}

	return true, nil
}

func (m *Manager) Load(ctx context.Context, experimentID string, round int) (learning.State, error) {
	cp, err := m.store.Load(ctx, experimentID, round)
	if err != nil {
		return learning.State{}, err
	}

	return cp.State, nil
}

// Latest returns the checkpoint of the highest saved round.
func (m *Manager) Latest(ctx context.Context, experimentID string) (learning.State, error) {
	rounds, err := m.store.Rounds(ctx, experimentID)
	if err != nil {
		return learning.State{}, err
	}
	if len(rounds) == 0 {
		return learning.State{}, fmt.Errorf("checkpoint of %q: %w", experimentID, pkgerrors.ErrNotFound)
	}

	return m.Load(ctx, experimentID, slices.Max(rounds))
}

func (m *Manager) List(ctx context.Context, experimentID string) ([]int, error) {
	return m.store.Rounds(ctx, experimentID)
}

func (m *Manager) Close() error {
	return m.store.Close()
}

func encode(cp Checkpoint) ([]byte, error) {
	b, err := cbor.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	return b, nil
}

func decode(b []byte) (Checkpoint, error) {
	var cp Checkpoint
	if err := cbor.Unmarshal(b, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("%w: %w", pkgerrors.ErrInvalidData, err)
	}

	return cp, nil
}

const (
	BackendFile   = "file"
	BackendBadger = "badger"
)

// Open returns the store of the named backend rooted at dir.
func Open(backend, dir string) (Store, error) {
	switch backend {
	case BackendFile:
		return NewFileStore(dir)
	case BackendBadger:
		return NewBadgerStore(dir)
	default:
		return nil, fmt.Errorf("%w: unknown checkpoint backend %q", pkgerrors.ErrConfiguration, backend)
	}
}
