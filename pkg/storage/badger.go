package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/absmach/fedsim"
	pkgerrors "github.com/absmach/fedsim/pkg/errors"
	"github.com/dgraph-io/badger/v4"
)

const defaultBadgerDir = "./data"

// record is the on-disk form of a value. Kind selects the Go type Get
// decodes Value into.
type record struct {
	Kind  string          `json:"kind"`
	Value json.RawMessage `json:"value"`
}

const (
	kindExperiment = "experiment"
	kindRound      = "round"
	kindString     = "string"
	kindMap        = "map"
)

var decoders = map[string]func(json.RawMessage) (any, error){
	kindExperiment: decodeAs[fedsim.Experiment],
	kindRound:      decodeAs[fedsim.Round],
	kindString:     decodeAs[string],
	kindMap:        decodeAs[map[string]any],
}

// BadgerStorage persists experiment and round records in a badger database.
// Writes are serialized so concurrent updates of one key never conflict.
type BadgerStorage struct {
	mu sync.Mutex
	db *badger.DB
}

func NewBadgerStorage(dataDir string) (*BadgerStorage, error) {
	if dataDir == "" {
		dataDir = defaultBadgerDir
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	opts := badger.DefaultOptions(filepath.Join(dataDir, "badger.db")).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open Badger database: %w", err)
	}

	return &BadgerStorage{db: db}, nil
}

func (s *BadgerStorage) Create(_ context.Context, key string, value any) error {
	rec, err := encode(key, value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		switch err := exists(txn, key); {
		case err == nil:
			return pkgerrors.ErrEntityExists
		case !errors.Is(err, pkgerrors.ErrNotFound):
			return err
		}

		return txn.Set([]byte(key), rec)
	})
}

func (s *BadgerStorage) Get(_ context.Context, key string) (any, error) {
	if key == "" {
		return nil, pkgerrors.ErrEmptyKey
	}

	var value any
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return pkgerrors.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", key, err)
		}
		value, err = decodeItem(item)

		return err
	})

	return value, err
}

func (s *BadgerStorage) Update(_ context.Context, key string, value any) error {
	rec, err := encode(key, value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		if err := exists(txn, key); err != nil {
			return err
		}

		return txn.Set([]byte(key), rec)
	})
}

// List walks keys under prefix in byte order. Only values inside the
// requested page are read from the value log.
func (s *BadgerStorage) List(_ context.Context, prefix string, offset, limit uint64) ([]any, uint64, error) {
	var (
		values []any
		total  uint64
	)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			inPage := total >= offset && total-offset < limit
			total++
			if !inPage {
				continue
			}
			v, err := decodeItem(it.Item())
			if err != nil {
				return err
			}
			values = append(values, v)
		}

		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list %s: %w", prefix, err)
	}

	return values, total, nil
}

func (s *BadgerStorage) Delete(_ context.Context, key string) error {
	if key == "" {
		return pkgerrors.ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		if err := exists(txn, key); err != nil {
			return err
		}

		return txn.Delete([]byte(key))
	})
}

func (s *BadgerStorage) Close() error {
	return s.db.Close()
}

// exists returns nil when key is present and ErrNotFound when it is not.
func exists(txn *badger.Txn, key string) error {
	_, err := txn.Get([]byte(key))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return pkgerrors.ErrNotFound
	default:
		return fmt.Errorf("failed to look up %s: %w", key, err)
	}
}

func encode(key string, value any) ([]byte, error) {
	if key == "" {
		return nil, pkgerrors.ErrEmptyKey
	}

	var kind string
	switch value.(type) {
	case fedsim.Experiment:
		kind = kindExperiment
	case fedsim.Round:
		kind = kindRound
	case string:
		kind = kindString
	case map[string]any:
		kind = kindMap
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, value)
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", key, err)
	}

	return json.Marshal(record{Kind: kind, Value: raw})
}

func decodeItem(item *badger.Item) (any, error) {
	var value any
	err := item.Value(func(val []byte) error {
		var rec record
		if err := json.Unmarshal(val, &rec); err != nil {
			return fmt.Errorf("%w: %w", pkgerrors.ErrInvalidData, err)
		}
		dec, ok := decoders[rec.Kind]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownType, rec.Kind)
		}

		var err error
		value, err = dec(rec.Value)

		return err
	})

	return value, err
}

func decodeAs[T any](raw json.RawMessage) (any, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %w", pkgerrors.ErrInvalidData, err)
	}

	return v, nil
}
