package indexsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/ipifhub/pkg/index"
	"github.com/soundprediction/ipifhub/pkg/queue"
	"github.com/soundprediction/ipifhub/pkg/store"
	"github.com/soundprediction/ipifhub/pkg/store/memstore"
	"github.com/soundprediction/ipifhub/pkg/types"
)

func seed(t *testing.T) *memstore.Store {
	t.Helper()
	s := memstore.New()
	ctx := context.Background()
	require.NoError(t, store.Update(ctx, s, func(tx store.Tx) error {
		for _, e := range []*types.Entity{
			{ID: "p1", Kind: types.PersonKind, Repo: "alpha", Identifier: "http://alpha.org/p/1", Label: "Ada", URIs: []string{"http://alpha.org/p/1", "http://viaf.org/1"}},
			{ID: "p2", Kind: types.PersonKind, Repo: "beta", Identifier: "http://beta.org/p/a", Label: "Ada L.", URIs: []string{"http://beta.org/p/a", "http://viaf.org/1"}},
			{ID: "s1", Kind: types.SourceKind, Repo: types.DefaultAutocreatedRepo, Identifier: "http://x.org/src", URIs: []string{"http://x.org/src"}},
		} {
			if err := tx.PutEntity(ctx, e); err != nil {
				return err
			}
		}
		if err := tx.CreateCluster(ctx, &types.MergeEntity{ID: "m1", Kind: types.PersonKind, Members: []string{"p1", "p2"}}); err != nil {
			return err
		}
		if err := tx.PutStatement(ctx, &types.Statement{ID: "st1", Repo: "alpha", Identifier: "http://alpha.org/st/1", Name: "Ada Lovelace"}); err != nil {
			return err
		}
		return tx.PutFactoid(ctx, &types.Factoid{
			ID: "f1", Repo: "alpha", Identifier: "http://alpha.org/f/1",
			PersonID: "p1", SourceID: "s1", StatementIDs: []string{"st1"},
		})
	}))
	return s
}

func newSync(t *testing.T, idx index.Index, opts ...Option) (*Synchronizer, *memstore.Store, *queue.MemoryQueue) {
	t.Helper()
	st := seed(t)
	q := queue.NewMemoryQueue()
	t.Cleanup(func() { _ = q.Close() })
	return New(st, q, idx, index.NewProjector("https://hub.example.org", ""), opts...), st, q
}

func task(kind types.RecordKind, id string) types.Task {
	return types.Task{ID: kind.String() + "-" + id, Ref: types.Ref{Kind: kind, ID: id}, EnqueuedAt: time.Now()}
}

func TestProcessEntity(t *testing.T) {
	idx := index.NewMemoryIndex()
	s, _, _ := newSync(t, idx)
	ctx := context.Background()

	before := testutil.ToFloat64(TaskCount.WithLabelValues("person", string(Upserted)))
	out, err := s.Process(ctx, task(types.Person, "p2"))
	require.NoError(t, err)
	assert.Equal(t, Upserted, out)
	assert.Equal(t, before+1, testutil.ToFloat64(TaskCount.WithLabelValues("person", string(Upserted))))

	doc, err := idx.Get(ctx, "person:p2")
	require.NoError(t, err)
	assert.Equal(t, "Ada L.", doc.Label)
	assert.Equal(t, 1, idx.Len(), "entity tasks do not fan out")
}

func TestProcessPlaceholderIsRemoved(t *testing.T) {
	idx := index.NewMemoryIndex()
	require.NoError(t, idx.Upsert(context.Background(), &index.Document{ID: "source:s1", Kind: types.Source}))
	s, _, _ := newSync(t, idx)

	out, err := s.Process(context.Background(), task(types.Source, "s1"))
	require.NoError(t, err)
	assert.Equal(t, Removed, out)
	assert.Equal(t, 0, idx.Len())
}

func TestProcessFactoidRefreshesOneHop(t *testing.T) {
	idx := index.NewMemoryIndex()
	s, _, _ := newSync(t, idx)
	ctx := context.Background()

	out, err := s.Process(ctx, task(types.FactoidRecord, "f1"))
	require.NoError(t, err)
	assert.Equal(t, Upserted, out)

	for _, id := range []string{"factoid:f1", "person:p1", "statement:st1", "merge_person:m1"} {
		_, err := idx.Get(ctx, id)
		assert.NoError(t, err, id)
	}
	_, err = idx.Get(ctx, "person:p2")
	assert.ErrorIs(t, err, types.ErrNotFound, "cluster members are not refreshed transitively")
	_, err = idx.Get(ctx, "source:s1")
	assert.ErrorIs(t, err, types.ErrNotFound, "placeholders stay out of the index")
	assert.Equal(t, 4, idx.Len())
}

func TestProcessDeletedClusterRemovesEntry(t *testing.T) {
	idx := index.NewMemoryIndex()
	s, st, _ := newSync(t, idx)
	ctx := context.Background()

	_, err := s.Process(ctx, task(types.MergePerson, "m1"))
	require.NoError(t, err)
	require.Equal(t, 1, idx.Len())

	require.NoError(t, store.Update(ctx, st, func(tx store.Tx) error {
		return tx.DeleteCluster(ctx, "m1")
	}))

	out, err := s.Process(ctx, task(types.MergePerson, "m1"))
	require.NoError(t, err, "a raced delete is not an error")
	assert.Equal(t, Removed, out)
	assert.Equal(t, 0, idx.Len())

	out, err = s.Process(ctx, task(types.MergePerson, "m1"))
	require.NoError(t, err)
	assert.Equal(t, Removed, out)
}

type brokenIndex struct {
	*index.MemoryIndex
	err   error
	panic bool
}

func (b *brokenIndex) Upsert(ctx context.Context, doc *index.Document) error {
	if b.panic {
		panic("index exploded")
	}
	return b.err
}

func TestDrainDropsFailedTasks(t *testing.T) {
	idx := &brokenIndex{MemoryIndex: index.NewMemoryIndex(), err: errors.New("index down")}
	s, _, q := newSync(t, idx)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, task(types.Person, "p1"), task(types.Person, "p2")))
	out, err := s.Process(ctx, task(types.Person, "p1"))
	assert.Error(t, err)
	assert.Equal(t, Failed, out)

	n, err := s.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, q.Len())
}

func TestDrainRecoversPanics(t *testing.T) {
	idx := &brokenIndex{MemoryIndex: index.NewMemoryIndex(), panic: true}
	s, _, q := newSync(t, idx)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, task(types.Person, "p1")))
	n, err := s.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, q.Len())
}

func TestRunProcessesUntilCancelled(t *testing.T) {
	idx := index.NewMemoryIndex()
	s, _, _ := newSync(t, idx, WithWorkers(3), WithRateLimit(1000, 10))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.NoError(t, s.Enqueue(ctx,
		task(types.Person, "p1"),
		task(types.Person, "p2"),
		task(types.StatementRecord, "st1"),
		task(types.MergePerson, "m1"),
	))
	assert.Eventually(t, func() bool { return idx.Len() == 4 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunStopsOnQueueClose(t *testing.T) {
	s, _, q := newSync(t, index.NewMemoryIndex(), WithWorkers(2))
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	require.NoError(t, q.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after close")
	}
}

func TestCollectors(t *testing.T) {
	assert.Len(t, Collectors(), 3)
}
