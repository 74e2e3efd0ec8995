package merge

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/soundprediction/ipifhub/pkg/cluster"
	"github.com/soundprediction/ipifhub/pkg/store"
	"github.com/soundprediction/ipifhub/pkg/store/memstore"
	"github.com/soundprediction/ipifhub/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type markSet map[types.Ref]struct{}

func (m markSet) MarkDirty(refs ...types.Ref) {
	for _, r := range refs {
		m[r] = struct{}{}
	}
}

type harness struct {
	t     *testing.T
	s     *memstore.Store
	m     *Maintainer
	marks markSet
	seq   int
}

func newHarness(t *testing.T) *harness {
	return &harness{t: t, s: memstore.New(), m: NewMaintainer("", nil), marks: markSet{}}
}

func (h *harness) update(fn func(ctx context.Context, cs *ClusterStore) error) error {
	ctx := context.Background()
	return store.Update(ctx, h.s, func(tx store.Tx) error {
		cs := NewClusterStore(tx, h.marks, WithIDGenerator(func() string {
			h.seq++
			return fmt.Sprintf("m%03d", h.seq)
		}))
		return fn(ctx, cs)
	})
}

func person(id string, uris ...string) *types.Entity {
	return &types.Entity{ID: id, Kind: types.PersonKind, Repo: "r", LocalID: id, URIs: uris}
}

func (h *harness) upsert(e *types.Entity) {
	h.t.Helper()
	require.NoError(h.t, h.update(func(ctx context.Context, cs *ClusterStore) error {
		if err := cs.Tx().PutEntity(ctx, e); err != nil {
			return err
		}
		return h.m.OnEntityUpserted(ctx, cs, e)
	}))
}

func (h *harness) delete(id string) {
	h.t.Helper()
	require.NoError(h.t, h.update(func(ctx context.Context, cs *ClusterStore) error {
		e, err := cs.Tx().GetEntity(ctx, id)
		if err != nil {
			return err
		}
		if err := h.m.OnEntityDeleted(ctx, cs, e); err != nil {
			return err
		}
		return cs.Tx().DeleteEntity(ctx, id)
	}))
}

func (h *harness) removeURIs(id string, removed ...string) {
	h.t.Helper()
	require.NoError(h.t, h.update(func(ctx context.Context, cs *ClusterStore) error {
		e, err := cs.Tx().GetEntity(ctx, id)
		if err != nil {
			return err
		}
		drop := types.NewURISet(removed...)
		kept := e.URIs[:0]
		for _, u := range e.URIs {
			if !drop.Has(u) {
				kept = append(kept, u)
			}
		}
		e.URIs = kept
		if err := cs.Tx().PutEntity(ctx, e); err != nil {
			return err
		}
		return h.m.OnIdentifiersRemoved(ctx, cs, e, removed)
	}))
}

// partition returns the member lists of every person cluster, sorted.
func (h *harness) partition() [][]string {
	h.t.Helper()
	var out [][]string
	require.NoError(h.t, h.s.View(context.Background(), func(r store.Reader) error {
		cs, err := r.ListClusters(context.Background(), types.PersonKind)
		for _, c := range cs {
			out = append(out, c.Members)
		}
		return err
	}))
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

func (h *harness) clusterOf(id string) string {
	h.t.Helper()
	var cid string
	require.NoError(h.t, h.s.View(context.Background(), func(r store.Reader) error {
		c, err := r.ClusterOf(context.Background(), id)
		if err == nil {
			cid = c.ID
		}
		return err
	}))
	return cid
}

func TestUpsertCreatesSingleton(t *testing.T) {
	h := newHarness(t)
	h.upsert(person("a", "u1"))
	assert.Equal(t, [][]string{{"a"}}, h.partition())
	assert.Contains(t, h.marks, types.Ref{Kind: types.MergePerson, ID: "m001"})
	assert.Contains(t, h.marks, types.Ref{Kind: types.Person, ID: "a"})
}

func TestUpsertJoinsSharedCluster(t *testing.T) {
	h := newHarness(t)
	h.upsert(person("a", "u1"))
	h.upsert(person("b", "u1", "u9"))
	assert.Equal(t, [][]string{{"a", "b"}}, h.partition())
	assert.Equal(t, "m001", h.clusterOf("b"))
}

func TestUpsertIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.upsert(person("a", "u1"))
	h.upsert(person("a", "u1"))
	h.upsert(person("a", "u1"))
	assert.Equal(t, [][]string{{"a"}}, h.partition())
	assert.Equal(t, "m001", h.clusterOf("a"))
}

func TestUpsertCoalescesAndDeleteSplits(t *testing.T) {
	h := newHarness(t)
	h.upsert(person("a", "u1"))
	h.upsert(person("b", "u2"))
	require.Equal(t, [][]string{{"a"}, {"b"}}, h.partition())

	h.upsert(person("c", "u1", "u2"))
	assert.Equal(t, [][]string{{"a", "b", "c"}}, h.partition())
	merged := h.clusterOf("a")
	assert.NotContains(t, []string{"m001", "m002"}, merged, "coalescing creates a fresh cluster")
	for _, old := range []string{"m001", "m002"} {
		assert.Contains(t, h.marks, types.Ref{Kind: types.MergePerson, ID: old})
	}

	h.delete("c")
	assert.Equal(t, [][]string{{"a"}, {"b"}}, h.partition())
	assert.NotEqual(t, h.clusterOf("a"), h.clusterOf("b"))
}

func TestUpsertWithChangedURIsCoalescesCurrentCluster(t *testing.T) {
	h := newHarness(t)
	h.upsert(person("a", "u1"))
	h.upsert(person("b", "u2"))
	// a keeps its old cluster in the match set even though u1 no longer
	// appears anywhere else
	h.upsert(person("a", "u1", "u2"))
	assert.Equal(t, [][]string{{"a", "b"}}, h.partition())
}

func TestDeleteLastMemberRemovesCluster(t *testing.T) {
	h := newHarness(t)
	h.upsert(person("a", "u1"))
	h.delete("a")
	assert.Empty(t, h.partition())
}

func TestDeleteKeepsConnectedCluster(t *testing.T) {
	h := newHarness(t)
	h.upsert(person("a", "u1"))
	h.upsert(person("b", "u1"))
	h.upsert(person("c", "u1"))
	id := h.clusterOf("a")

	h.delete("b")
	assert.Equal(t, [][]string{{"a", "c"}}, h.partition())
	assert.Equal(t, id, h.clusterOf("a"))
}

func TestIdentifierRemovalSplits(t *testing.T) {
	h := newHarness(t)
	h.upsert(person("a", "u1", "u2"))
	h.upsert(person("b", "u2"))
	h.upsert(person("c", "u1"))
	require.Equal(t, [][]string{{"a", "b", "c"}}, h.partition())

	h.removeURIs("a", "u2")

	want := expected(map[string][]string{"a": {"u1"}, "b": {"u2"}, "c": {"u1"}})
	assert.Equal(t, [][]string{{"a", "c"}, {"b"}}, want)
	assert.Equal(t, want, h.partition())
}

func TestIdentifierRemovalWithoutSplitKeepsCluster(t *testing.T) {
	h := newHarness(t)
	h.upsert(person("a", "u1", "u2"))
	h.upsert(person("b", "u1"))
	id := h.clusterOf("a")
	delete(h.marks, types.Ref{Kind: types.MergePerson, ID: id})

	h.removeURIs("a", "u2")
	assert.Equal(t, [][]string{{"a", "b"}}, h.partition())
	assert.Equal(t, id, h.clusterOf("a"))
	assert.Contains(t, h.marks, types.Ref{Kind: types.MergePerson, ID: id}, "cluster view still needs a refresh")
}

func TestAutocreatedEntitiesAreNotClustered(t *testing.T) {
	h := newHarness(t)
	placeholder := &types.Entity{ID: "x", Kind: types.PersonKind, Repo: types.DefaultAutocreatedRepo, LocalID: "x", URIs: []string{"u1"}}
	h.upsert(placeholder)
	h.upsert(person("a", "u1"))
	assert.Equal(t, [][]string{{"a"}}, h.partition())

	require.NoError(t, h.update(func(ctx context.Context, cs *ClusterStore) error {
		return h.m.OnEntityDeleted(ctx, cs, placeholder)
	}))
}

func TestInvariantViolations(t *testing.T) {
	h := newHarness(t)
	h.upsert(person("a", "u1"))

	err := h.update(func(ctx context.Context, cs *ClusterStore) error {
		return h.m.OnEntityUpserted(ctx, cs, nil)
	})
	assert.ErrorIs(t, err, types.ErrInvariant)

	err = h.update(func(ctx context.Context, cs *ClusterStore) error {
		return h.m.OnEntityDeleted(ctx, cs, person("ghost", "u1"))
	})
	assert.ErrorIs(t, err, types.ErrInvariant)

	err = h.update(func(ctx context.Context, cs *ClusterStore) error {
		return h.m.OnIdentifiersRemoved(ctx, cs, person("ghost"), []string{"u1"})
	})
	assert.ErrorIs(t, err, types.ErrInvariant)

	assert.Equal(t, [][]string{{"a"}}, h.partition(), "failed units leave the partition untouched")
}

func TestRebuild(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, store.Update(ctx, h.s, func(tx store.Tx) error {
		for _, e := range []*types.Entity{person("a", "u1"), person("b", "u1", "u2"), person("c", "u3")} {
			if err := tx.PutEntity(ctx, e); err != nil {
				return err
			}
		}
		return nil
	}))

	var n int
	require.NoError(t, h.update(func(ctx context.Context, cs *ClusterStore) error {
		var err error
		n, err = h.m.Rebuild(ctx, cs, types.PersonKind)
		return err
	}))
	assert.Equal(t, 2, n)
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, h.partition())
}

// expected computes the partition of the surviving entities from scratch.
func expected(entities map[string][]string) [][]string {
	ids := make([]string, 0, len(entities))
	for id := range entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	sets := make([]types.URISet, len(ids))
	for i, id := range ids {
		sets[i] = types.NewURISet(entities[id]...)
	}
	var out [][]string
	for _, g := range cluster.Group(sets) {
		members := make([]string, len(g))
		for i, idx := range g {
			members[i] = ids[idx]
		}
		sort.Strings(members)
		out = append(out, members)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

func TestIncrementalMatchesBatchClustering(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	pool := []string{"u0", "u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8", "u9"}

	for round := 0; round < 20; round++ {
		h := newHarness(t)
		live := map[string][]string{}

		for step := 0; step < 40; step++ {
			id := fmt.Sprintf("e%02d", rng.Intn(15))
			uris, exists := live[id]
			switch op := rng.Intn(4); {
			case op == 0 && exists:
				h.delete(id)
				delete(live, id)
			case op == 1 && exists && len(uris) > 1:
				drop := uris[rng.Intn(len(uris))]
				h.removeURIs(id, drop)
				var kept []string
				for _, u := range uris {
					if u != drop {
						kept = append(kept, u)
					}
				}
				live[id] = kept
			default:
				n := 1 + rng.Intn(3)
				next := make([]string, n)
				for i := range next {
					next[i] = pool[rng.Intn(len(pool))]
				}
				if exists {
					// only additions go through upsert; removals take the
					// split path
					merged := types.NewURISet(uris...)
					merged.Add(next...)
					next = merged.Sorted()
				}
				h.upsert(person(id, next...))
				live[id] = types.SortedUnique(next)
			}

			require.Equal(t, expected(live), h.partition(), "round %d step %d", round, step)
		}
	}
}
