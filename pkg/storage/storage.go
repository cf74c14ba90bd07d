// Package storage is a key-value store for experiment and round records.
package storage

import (
	"context"
	"fmt"
	"io"
)

const (
	TypeMemory = "memory"
	TypeBadger = "badger"
)

type Storage interface {
	Create(ctx context.Context, key string, value any) error
	Get(ctx context.Context, key string) (any, error)
	Update(ctx context.Context, key string, value any) error
	// List returns the values whose keys start with prefix, in key order.
	List(ctx context.Context, prefix string, offset, limit uint64) ([]any, uint64, error)
	Delete(ctx context.Context, key string) error
}

type Config struct {
	Type       string `env:"STORAGE_TYPE" envDefault:"memory"`
	BadgerPath string `env:"BADGER_PATH"  envDefault:"./data/badger"`
}

// New opens the configured backend. The closer is a no-op for memory.
func New(cfg Config) (Storage, io.Closer, error) {
	switch cfg.Type {
	case TypeMemory, "":
		return NewInMemoryStorage(), io.NopCloser(nil), nil
	case TypeBadger:
		s, err := NewBadgerStorage(cfg.BadgerPath)
		if err != nil {
			return nil, nil, err
		}

		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
