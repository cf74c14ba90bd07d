package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/absmach/fedsim/pkg/data"
	"github.com/absmach/fedsim/pkg/data/sqlite"
	pkgerrors "github.com/absmach/fedsim/pkg/errors"
	"github.com/absmach/fedsim/pkg/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sqlite.Database {
	t.Helper()
	db, err := sqlite.NewDatabase(filepath.Join(t.TempDir(), "clients.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func TestImportAndRead(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)

	spec := tensor.ElementSpec{X: tensor.NewSpec(tensor.Float32, 2), Y: tensor.NewSpec(tensor.Int32)}
	src, err := data.NewInMemoryClientData(spec, map[string][]data.Example{
		"b": {{X: []float64{0.5, 1}, Y: []float64{3}}},
		"a": {{X: []float64{1, 2}, Y: []float64{0}}, {X: []float64{3, 4}, Y: []float64{1}}},
	})
	require.NoError(t, err)
	require.NoError(t, sqlite.Import(ctx, db, src))

	cd, err := sqlite.NewClientData(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, cd.ClientIDs())
	assert.True(t, cd.ElementSpec().Equal(spec))

	ds, err := cd.CreateDatasetForClient(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, 2, ds.Len())
	assert.Equal(t, []float64{3, 4}, ds.Example(1).X)
	assert.Equal(t, []float64{1}, ds.Example(1).Y)

	_, err = cd.CreateDatasetForClient(ctx, "missing")
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
}

func TestImportReplaces(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)

	spec := tensor.ElementSpec{X: tensor.NewSpec(tensor.Float32, 1), Y: tensor.NewSpec(tensor.Int32)}
	first, err := data.NewInMemoryClientData(spec, map[string][]data.Example{"old": {{X: []float64{1}, Y: []float64{0}}}})
	require.NoError(t, err)
	second, err := data.NewInMemoryClientData(spec, map[string][]data.Example{"new": {{X: []float64{2}, Y: []float64{1}}}})
	require.NoError(t, err)

	require.NoError(t, sqlite.Import(ctx, db, first))
	require.NoError(t, sqlite.Import(ctx, db, second))

	cd, err := sqlite.NewClientData(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, cd.ClientIDs())
}

func TestNewClientDataEmpty(t *testing.T) {
	t.Parallel()

	_, err := sqlite.NewClientData(context.Background(), newTestDB(t))
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
}
