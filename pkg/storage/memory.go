package storage

import (
	"context"
	"iter"
	"maps"
	"slices"
	"strings"
	"sync"

	pkgerrors "github.com/absmach/fedsim/pkg/errors"
)

// memoryStorage keeps values as given, so Get returns the stored value
// itself rather than a decoded copy.
type memoryStorage struct {
	mu   sync.RWMutex
	data map[string]any
}

func NewInMemoryStorage() Storage {
	return &memoryStorage{data: make(map[string]any)}
}

func (s *memoryStorage) Create(_ context.Context, key string, value any) error {
	return s.write(key, func(found bool) error {
		if found {
			return pkgerrors.ErrEntityExists
		}
		s.data[key] = value

		return nil
	})
}

func (s *memoryStorage) Get(_ context.Context, key string) (any, error) {
	if key == "" {
		return nil, pkgerrors.ErrEmptyKey
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[key]
	if !ok {
		return nil, pkgerrors.ErrNotFound
	}

	return v, nil
}

func (s *memoryStorage) Update(_ context.Context, key string, value any) error {
	return s.write(key, func(found bool) error {
		if !found {
			return pkgerrors.ErrNotFound
		}
		s.data[key] = value

		return nil
	})
}

func (s *memoryStorage) List(_ context.Context, prefix string, offset, limit uint64) ([]any, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := slices.Sorted(withPrefix(maps.Keys(s.data), prefix))
	total := uint64(len(keys))
	if offset >= total {
		return nil, total, nil
	}

	page := keys[offset:min(offset+limit, total)]
	values := make([]any, len(page))
	for i, k := range page {
		values[i] = s.data[k]
	}

	return values, total, nil
}

func (s *memoryStorage) Delete(_ context.Context, key string) error {
	return s.write(key, func(found bool) error {
		if !found {
			return pkgerrors.ErrNotFound
		}
		delete(s.data, key)

		return nil
	})
}

// write runs fn under the write lock, telling it whether key is present.
func (s *memoryStorage) write(key string, fn func(found bool) error) error {
	if key == "" {
		return pkgerrors.ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, found := s.data[key]

	return fn(found)
}

func withPrefix(keys iter.Seq[string], prefix string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for k := range keys {
			if strings.HasPrefix(k, prefix) && !yield(k) {
				return
			}
		}
	}
}
