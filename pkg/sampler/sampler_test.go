package sampler_test

import (
	"fmt"
	"testing"

	pkgerrors "github.com/absmach/fedsim/pkg/errors"
	"github.com/absmach/fedsim/pkg/sampler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clientIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("f%04d", i)
	}

	return ids
}

func TestSelectDeterministic(t *testing.T) {
	t.Parallel()

	ids := clientIDs(100)
	s := sampler.New(0)
	for round := range 20 {
		first, err := s.Select(round, ids, 10)
		require.NoError(t, err)
		second, err := s.Select(round, ids, 10)
		require.NoError(t, err)
		assert.Equal(t, first, second, "round %d", round)
	}
}

func TestSelectWithoutReplacement(t *testing.T) {
	t.Parallel()

	ids := clientIDs(30)
	got, err := sampler.New(3).Select(7, ids, 30)
	require.NoError(t, err)
	assert.ElementsMatch(t, ids, got)

	got, err = sampler.New(3).Select(8, ids, 12)
	require.NoError(t, err)
	assert.Len(t, got, 12)
	seen := map[string]bool{}
	for _, id := range got {
		assert.Contains(t, ids, id)
		assert.False(t, seen[id], "duplicate %s", id)
		seen[id] = true
	}
}

func TestSelectVariesWithRoundAndSeed(t *testing.T) {
	t.Parallel()

	ids := clientIDs(100)
	a, err := sampler.New(0).Select(1, ids, 10)
	require.NoError(t, err)
	b, err := sampler.New(0).Select(2, ids, 10)
	require.NoError(t, err)
	c, err := sampler.New(1).Select(1, ids, 10)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestSelectDoesNotModifyInput(t *testing.T) {
	t.Parallel()

	ids := clientIDs(10)
	_, err := sampler.New(0).Select(0, ids, 5)
	require.NoError(t, err)
	assert.Equal(t, clientIDs(10), ids)
}

func TestSelectErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		ids   []string
		count int
		err   error
	}{
		{"more than population", clientIDs(3), 4, pkgerrors.ErrInsufficientClients},
		{"empty population", nil, 1, pkgerrors.ErrInsufficientClients},
		{"zero count", clientIDs(3), 0, pkgerrors.ErrConfiguration},
		{"duplicate ids", []string{"a", "b", "a"}, 2, pkgerrors.ErrConfiguration},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			_, err := sampler.New(0).Select(0, c.ids, c.count)
			assert.ErrorIs(t, err, c.err)
		})
	}
}
