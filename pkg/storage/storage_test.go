package storage_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/absmach/fedsim"
	pkgerrors "github.com/absmach/fedsim/pkg/errors"
	"github.com/absmach/fedsim/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]storage.Storage {
	t.Helper()

	b, err := storage.NewBadgerStorage(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	return map[string]storage.Storage{
		"memory": storage.NewInMemoryStorage(),
		"badger": b,
	}
}

func TestCRUD(t *testing.T) {
	t.Parallel()

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			exp := fedsim.Experiment{
				ID:        "e1",
				Name:      "brave-turing",
				Status:    fedsim.Pending,
				CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			}

			require.NoError(t, s.Create(ctx, "experiments/e1", exp))
			assert.ErrorIs(t, s.Create(ctx, "experiments/e1", exp), pkgerrors.ErrEntityExists)
			assert.ErrorIs(t, s.Create(ctx, "", exp), pkgerrors.ErrEmptyKey)

			got, err := s.Get(ctx, "experiments/e1")
			require.NoError(t, err)
			assert.Equal(t, exp, got)

			exp.Status = fedsim.Running
			exp.Round = 3
			require.NoError(t, s.Update(ctx, "experiments/e1", exp))
			got, err = s.Get(ctx, "experiments/e1")
			require.NoError(t, err)
			assert.Equal(t, fedsim.Running, got.(fedsim.Experiment).Status)
			assert.Equal(t, 3, got.(fedsim.Experiment).Round)

			assert.ErrorIs(t, s.Update(ctx, "experiments/missing", exp), pkgerrors.ErrNotFound)
			_, err = s.Get(ctx, "experiments/missing")
			assert.ErrorIs(t, err, pkgerrors.ErrNotFound)

			require.NoError(t, s.Delete(ctx, "experiments/e1"))
			_, err = s.Get(ctx, "experiments/e1")
			assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
			assert.ErrorIs(t, s.Delete(ctx, "experiments/e1"), pkgerrors.ErrNotFound)
			assert.ErrorIs(t, s.Delete(ctx, ""), pkgerrors.ErrEmptyKey)
		})
	}
}

func TestListPrefix(t *testing.T) {
	t.Parallel()

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			for i := range 5 {
				r := fedsim.Round{ExperimentID: "e1", Number: i + 1, Metrics: map[string]map[string]float64{"train": {"loss": float64(i)}}}
				require.NoError(t, s.Create(ctx, fmt.Sprintf("rounds/e1/%06d", i+1), r))
			}
			require.NoError(t, s.Create(ctx, "rounds/e2/000001", fedsim.Round{ExperimentID: "e2", Number: 1}))
			require.NoError(t, s.Create(ctx, "experiments/e1", fedsim.Experiment{ID: "e1"}))

			cases := []struct {
				desc          string
				offset, limit uint64
				numbers       []int
			}{
				{"first page", 0, 2, []int{1, 2}},
				{"middle page", 2, 2, []int{3, 4}},
				{"last partial page", 4, 10, []int{5}},
				{"past the end", 5, 10, nil},
			}
			for _, c := range cases {
				vals, total, err := s.List(ctx, "rounds/e1/", c.offset, c.limit)
				require.NoError(t, err, c.desc)
				assert.Equal(t, uint64(5), total, c.desc)
				var numbers []int
				for _, v := range vals {
					numbers = append(numbers, v.(fedsim.Round).Number)
				}
				assert.Equal(t, c.numbers, numbers, c.desc)
			}
		})
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	cases := []struct {
		desc string
		cfg  storage.Config
		err  bool
	}{
		{"memory", storage.Config{Type: storage.TypeMemory}, false},
		{"default", storage.Config{}, false},
		{"badger", storage.Config{Type: storage.TypeBadger, BadgerPath: t.TempDir()}, false},
		{"unknown", storage.Config{Type: "postgres"}, true},
	}
	for _, c := range cases {
		t.Run(c.desc, func(t *testing.T) {
			t.Parallel()
			s, closer, err := storage.New(c.cfg)
			if c.err {
				assert.Error(t, err)

				return
			}
			require.NoError(t, err)
			assert.NotNil(t, s)
			assert.NoError(t, closer.Close())
		})
	}
}

func TestBadgerRejectsUnknownType(t *testing.T) {
	t.Parallel()

	s, err := storage.NewBadgerStorage(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	err = s.Create(context.Background(), "experiments/e1", &fedsim.Experiment{ID: "e1"})
	assert.ErrorIs(t, err, storage.ErrUnknownType)

	_, total, err := s.List(context.Background(), "experiments/", 0, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
}
