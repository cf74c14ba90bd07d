package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	pkgerrors "github.com/absmach/fedsim/pkg/errors"
	"github.com/dgraph-io/badger/v4"
)

// BadgerStore keeps checkpoints under keys "checkpoints/<id>/<round>".
type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(dir string) (*BadgerStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open Badger database: %w", err)
	}

	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Save(_ context.Context, cp Checkpoint) error {
	if sanitizeID(cp.ExperimentID) != cp.ExperimentID || cp.ExperimentID == "" {
		return fmt.Errorf("%w: %q", ErrInvalidID, cp.ExperimentID)
	}
	data, err := encode(cp)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(cp.ExperimentID, cp.Round), data)
	})
}

func (s *BadgerStore) Load(_ context.Context, experimentID string, round int) (Checkpoint, error) {
	var cp Checkpoint
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(experimentID, round))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("round %d of %q: %w", round, experimentID, pkgerrors.ErrNotFound)
			}

			return err
		}

		return item.Value(func(val []byte) error {
			cp, err = decode(val)

			return err
		})
	})

	return cp, err
}

func (s *BadgerStore) Rounds(_ context.Context, experimentID string) ([]int, error) {
	p := prefix(experimentID)
	var rounds []int
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(p)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			round, err := strconv.Atoi(strings.TrimPrefix(string(it.Item().Key()), p))
			if err != nil {
				continue
			}
			rounds = append(rounds, round)
		}

		return nil
	})

	return rounds, err
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func prefix(experimentID string) string {
	return "checkpoints/" + experimentID + "/"
}

// key zero-pads the round so byte order is round order.
func key(experimentID string, round int) []byte {
	return fmt.Appendf(nil, "%s%09d", prefix(experimentID), round)
}
