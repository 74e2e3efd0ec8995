// Package storetest is a conformance suite for store.Store implementations.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/soundprediction/ipifhub/pkg/store"
	"github.com/soundprediction/ipifhub/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

// Run executes every conformance test against stores built by open.
func Run(t *testing.T, open Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"Repos", testRepos},
		{"Entities", testEntities},
		{"EntityKindMismatch", testEntityKindMismatch},
		{"Clusters", testClusters},
		{"ClusterMembershipIsExclusive", testClusterExclusive},
		{"ClustersSharingURIs", testClustersSharingURIs},
		{"StatementsAndFactoids", testStatementsAndFactoids},
		{"RollbackDiscards", testRollback},
		{"CommitRunsHooks", testCommitHooks},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func update(t *testing.T, s store.Store, fn func(ctx context.Context, tx store.Tx)) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Update(ctx, s, func(tx store.Tx) error {
		fn(ctx, tx)
		return nil
	}))
}

func view(t *testing.T, s store.Store, fn func(ctx context.Context, r store.Reader)) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.View(ctx, func(r store.Reader) error {
		fn(ctx, r)
		return nil
	}))
}

func person(id string, uris ...string) *types.Entity {
	return &types.Entity{
		ID:         id,
		Kind:       types.PersonKind,
		Repo:       "repo",
		LocalID:    id,
		Identifier: "http://repo/persons/" + id,
		Label:      "Person " + id,
		URIs:       uris,
		UpdatedAt:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func testRepos(t *testing.T, s store.Store) {
	update(t, s, func(ctx context.Context, tx store.Tx) {
		require.NoError(t, tx.PutRepo(ctx, &types.Repo{Slug: "b", EndpointURI: "http://b"}))
		require.NoError(t, tx.PutRepo(ctx, &types.Repo{Slug: "a", Name: "A"}))
		assert.ErrorIs(t, tx.PutRepo(ctx, &types.Repo{}), types.ErrEmptyRepo)
	})
	view(t, s, func(ctx context.Context, r store.Reader) {
		got, err := r.GetRepo(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, "http://b", got.EndpointURI)

		_, err = r.GetRepo(ctx, "zzz")
		assert.ErrorIs(t, err, types.ErrNotFound)

		all, err := r.ListRepos(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "a", all[0].Slug)
	})
}

func testEntities(t *testing.T, s store.Store) {
	update(t, s, func(ctx context.Context, tx store.Tx) {
		require.NoError(t, tx.PutEntity(ctx, person("p2", "u2", "u1", "u2")))
		require.NoError(t, tx.PutEntity(ctx, person("p1", "u1")))
		src := person("s1", "u1")
		src.Kind = types.SourceKind
		require.NoError(t, tx.PutEntity(ctx, src))
	})
	view(t, s, func(ctx context.Context, r store.Reader) {
		got, err := r.GetEntity(ctx, "p2")
		require.NoError(t, err)
		assert.Equal(t, []string{"u1", "u2"}, got.URIs)
		assert.Equal(t, "Person p2", got.Label)
		assert.True(t, got.UpdatedAt.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))

		found, err := r.FindEntity(ctx, types.PersonKind, "repo", "p1")
		require.NoError(t, err)
		assert.Equal(t, "p1", found.ID)

		_, err = r.FindEntity(ctx, types.SourceKind, "repo", "p1")
		assert.ErrorIs(t, err, types.ErrNotFound)

		persons, err := r.ListEntities(ctx, types.PersonKind)
		require.NoError(t, err)
		require.Len(t, persons, 2)
		assert.Equal(t, "p1", persons[0].ID)
	})

	update(t, s, func(ctx context.Context, tx store.Tx) {
		require.NoError(t, tx.PutEntity(ctx, person("p2", "u3")))
		require.NoError(t, tx.DeleteEntity(ctx, "p1"))
		assert.ErrorIs(t, tx.DeleteEntity(ctx, "nope"), types.ErrNotFound)
	})
	view(t, s, func(ctx context.Context, r store.Reader) {
		got, err := r.GetEntity(ctx, "p2")
		require.NoError(t, err)
		assert.Equal(t, []string{"u3"}, got.URIs)

		_, err = r.GetEntity(ctx, "p1")
		assert.ErrorIs(t, err, types.ErrNotFound)
	})
}

func testEntityKindMismatch(t *testing.T, s store.Store) {
	update(t, s, func(ctx context.Context, tx store.Tx) {
		require.NoError(t, tx.PutEntity(ctx, person("p1", "u1")))
		changed := person("p1", "u1")
		changed.Kind = types.SourceKind
		assert.ErrorIs(t, tx.PutEntity(ctx, changed), types.ErrKindMismatch)
	})
}

func testClusters(t *testing.T, s store.Store) {
	now := time.Now().UTC().Truncate(time.Second)
	update(t, s, func(ctx context.Context, tx store.Tx) {
		for _, id := range []string{"a", "b", "c"} {
			require.NoError(t, tx.PutEntity(ctx, person(id, "u-"+id)))
		}
		require.NoError(t, tx.CreateCluster(ctx, &types.MergeEntity{
			ID: "m1", Kind: types.PersonKind, Members: []string{"b", "a"}, CreatedAt: now, ModifiedAt: now,
		}))
		assert.ErrorIs(t, tx.CreateCluster(ctx, &types.MergeEntity{ID: "m2", Kind: types.PersonKind}), types.ErrEmptyMembers)
	})

	view(t, s, func(ctx context.Context, r store.Reader) {
		m, err := r.GetCluster(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, m.Members)
		assert.Equal(t, types.PersonKind, m.Kind)

		of, err := r.ClusterOf(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, "m1", of.ID)

		_, err = r.ClusterOf(ctx, "c")
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	update(t, s, func(ctx context.Context, tx store.Tx) {
		require.NoError(t, tx.AddClusterMember(ctx, "m1", "c"))
		require.NoError(t, tx.RemoveClusterMember(ctx, "m1", "a"))
		assert.ErrorIs(t, tx.RemoveClusterMember(ctx, "m1", "a"), types.ErrInvariant)
		assert.ErrorIs(t, tx.AddClusterMember(ctx, "missing", "a"), types.ErrNotFound)
	})
	view(t, s, func(ctx context.Context, r store.Reader) {
		m, err := r.GetCluster(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "c"}, m.Members)

		all, err := r.ListClusters(ctx, types.PersonKind)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	update(t, s, func(ctx context.Context, tx store.Tx) {
		require.NoError(t, tx.DeleteCluster(ctx, "m1"))
		assert.ErrorIs(t, tx.DeleteCluster(ctx, "m1"), types.ErrNotFound)
	})
	view(t, s, func(ctx context.Context, r store.Reader) {
		_, err := r.ClusterOf(ctx, "b")
		assert.ErrorIs(t, err, types.ErrNotFound)
	})
}

func testClusterExclusive(t *testing.T, s store.Store) {
	update(t, s, func(ctx context.Context, tx store.Tx) {
		require.NoError(t, tx.PutEntity(ctx, person("a", "u1")))
		require.NoError(t, tx.PutEntity(ctx, person("b", "u2")))
		src := person("s", "u3")
		src.Kind = types.SourceKind
		require.NoError(t, tx.PutEntity(ctx, src))

		require.NoError(t, tx.CreateCluster(ctx, &types.MergeEntity{ID: "m1", Kind: types.PersonKind, Members: []string{"a"}}))
		assert.ErrorIs(t, tx.CreateCluster(ctx, &types.MergeEntity{ID: "m2", Kind: types.PersonKind, Members: []string{"a", "b"}}), types.ErrInvariant)
		assert.ErrorIs(t, tx.AddClusterMember(ctx, "m1", "a"), types.ErrInvariant)
		assert.ErrorIs(t, tx.AddClusterMember(ctx, "m1", "s"), types.ErrInvariant)
	})
}

func testClustersSharingURIs(t *testing.T, s store.Store) {
	update(t, s, func(ctx context.Context, tx store.Tx) {
		require.NoError(t, tx.PutEntity(ctx, person("a", "u1", "u2")))
		require.NoError(t, tx.PutEntity(ctx, person("b", "u3")))
		require.NoError(t, tx.PutEntity(ctx, person("c", "u9")))
		src := person("s", "u1")
		src.Kind = types.SourceKind
		require.NoError(t, tx.PutEntity(ctx, src))

		require.NoError(t, tx.CreateCluster(ctx, &types.MergeEntity{ID: "m-a", Kind: types.PersonKind, Members: []string{"a"}}))
		require.NoError(t, tx.CreateCluster(ctx, &types.MergeEntity{ID: "m-b", Kind: types.PersonKind, Members: []string{"b"}}))
		require.NoError(t, tx.CreateCluster(ctx, &types.MergeEntity{ID: "m-s", Kind: types.SourceKind, Members: []string{"s"}}))

		// reads inside the transaction see its own writes
		got, err := tx.ClustersSharingURIs(ctx, types.PersonKind, []string{"u2", "u3", "u4"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "m-a", got[0].ID)
		assert.Equal(t, "m-b", got[1].ID)
	})
	view(t, s, func(ctx context.Context, r store.Reader) {
		got, err := r.ClustersSharingURIs(ctx, types.SourceKind, []string{"u1"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "m-s", got[0].ID)

		got, err = r.ClustersSharingURIs(ctx, types.PersonKind, nil)
		require.NoError(t, err)
		assert.Empty(t, got)

		got, err = r.ClustersSharingURIs(ctx, types.PersonKind, []string{"u9"})
		require.NoError(t, err)
		assert.Empty(t, got, "unclustered entities match nothing")
	})
}

func testStatementsAndFactoids(t *testing.T, s store.Store) {
	update(t, s, func(ctx context.Context, tx store.Tx) {
		require.NoError(t, tx.PutEntity(ctx, person("p", "u1")))
		src := person("s", "u2")
		src.Kind = types.SourceKind
		require.NoError(t, tx.PutEntity(ctx, src))
		require.NoError(t, tx.PutStatement(ctx, &types.Statement{ID: "st1", Repo: "repo", Name: "Jane"}))
		require.NoError(t, tx.PutStatement(ctx, &types.Statement{ID: "st2", Repo: "repo", Role: "Abbess", Date: "1200"}))
		require.NoError(t, tx.PutFactoid(ctx, &types.Factoid{
			ID: "f1", Repo: "repo", PersonID: "p", SourceID: "s", StatementIDs: []string{"st2", "st1"},
		}))
		require.NoError(t, tx.PutFactoid(ctx, &types.Factoid{
			ID: "f2", Repo: "repo", PersonID: "p", SourceID: "s", StatementIDs: []string{"st2"},
		}))
		assert.Error(t, tx.PutFactoid(ctx, &types.Factoid{ID: "f3", Repo: "repo"}))
	})

	view(t, s, func(ctx context.Context, r store.Reader) {
		f, err := r.GetFactoid(ctx, "f1")
		require.NoError(t, err)
		assert.Equal(t, []string{"st1", "st2"}, f.StatementIDs)

		st, err := r.GetStatement(ctx, "st2")
		require.NoError(t, err)
		assert.Equal(t, "Abbess", st.Role)

		byEntity, err := r.FactoidsByEntity(ctx, "s")
		require.NoError(t, err)
		assert.Len(t, byEntity, 2)

		byStatement, err := r.FactoidsByStatement(ctx, "st1")
		require.NoError(t, err)
		require.Len(t, byStatement, 1)
		assert.Equal(t, "f1", byStatement[0].ID)

		all, err := r.ListFactoids(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		stmts, err := r.ListStatements(ctx)
		require.NoError(t, err)
		assert.Len(t, stmts, 2)
	})

	update(t, s, func(ctx context.Context, tx store.Tx) {
		require.NoError(t, tx.DeleteStatement(ctx, "st1"))
		require.NoError(t, tx.DeleteFactoid(ctx, "f2"))
		assert.ErrorIs(t, tx.DeleteFactoid(ctx, "f2"), types.ErrNotFound)
	})
	view(t, s, func(ctx context.Context, r store.Reader) {
		f, err := r.GetFactoid(ctx, "f1")
		require.NoError(t, err)
		assert.Equal(t, []string{"st2"}, f.StatementIDs)

		_, err = r.GetFactoid(ctx, "f2")
		assert.ErrorIs(t, err, types.ErrNotFound)
	})
}

func testRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	ran := false
	tx.OnCommit(func(context.Context) { ran = true })
	require.NoError(t, tx.PutEntity(ctx, person("p", "u")))
	require.NoError(t, tx.Rollback())

	assert.False(t, ran)
	view(t, s, func(ctx context.Context, r store.Reader) {
		_, err := r.GetEntity(ctx, "p")
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	// the store accepts new writers after a rollback
	update(t, s, func(ctx context.Context, tx store.Tx) {
		require.NoError(t, tx.PutEntity(ctx, person("p", "u")))
	})
}

func testCommitHooks(t *testing.T, s store.Store) {
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	var seen *types.Entity
	tx.OnCommit(func(ctx context.Context) {
		_ = s.View(ctx, func(r store.Reader) error {
			e, err := r.GetEntity(ctx, "p")
			if err == nil {
				seen = e
			}
			return nil
		})
	})
	require.NoError(t, tx.PutEntity(ctx, person("p", "u")))
	assert.Nil(t, seen, "hook must not run before commit")
	require.NoError(t, tx.Commit())

	require.NotNil(t, seen, "hook must observe committed state")
	assert.Equal(t, "p", seen.ID)
}
