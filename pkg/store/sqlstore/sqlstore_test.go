package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/soundprediction/ipifhub/pkg/store"
	"github.com/soundprediction/ipifhub/pkg/store/storetest"
	"github.com/soundprediction/ipifhub/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConformanceSQLite(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "hub.db"))
		require.NoError(t, err)
		return s
	})
}

func TestConformanceSQLiteMemory(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := OpenSQLite(context.Background(), ":memory:")
		require.NoError(t, err)
		return s
	})
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "hub.db")

	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, store.Update(ctx, s, func(tx store.Tx) error {
		return tx.PutEntity(ctx, &types.Entity{ID: "p1", Kind: types.PersonKind, Repo: "r", URIs: []string{"u"}})
	}))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.View(ctx, func(r store.Reader) error {
		e, err := r.GetEntity(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, []string{"u"}, e.URIs)
		return nil
	}))
}

func TestRebind(t *testing.T) {
	pg, err := dialectFor(DriverPostgres)
	require.NoError(t, err)
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y IN ($2,$3)", pg.rebind("SELECT a FROM t WHERE x = ? AND y IN ("+placeholders(2)+")"))

	lite, err := dialectFor(DriverSQLite)
	require.NoError(t, err)
	assert.Equal(t, "x = ?", lite.rebind("x = ?"))

	_, err = dialectFor("mysql")
	assert.Error(t, err)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle"})
	assert.Error(t, err)
}
