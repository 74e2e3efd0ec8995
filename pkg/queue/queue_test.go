package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/ipifhub/pkg/types"
)

func task(i int) types.Task {
	return types.Task{
		ID:         fmt.Sprintf("t%d", i),
		Ref:        types.Ref{Kind: types.FactoidRecord, ID: fmt.Sprintf("f%d", i)},
		EnqueuedAt: time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC),
	}
}

func backends(t *testing.T) map[string]Queue {
	bq, err := OpenBadger("", nil)
	require.NoError(t, err)
	qs := map[string]Queue{"memory": NewMemoryQueue(), "badger": bq}
	t.Cleanup(func() {
		for _, q := range qs {
			q.Close()
		}
	})
	return qs
}

func TestFIFO(t *testing.T) {
	for name, q := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, q.Enqueue(ctx, task(1), task(2)))
			require.NoError(t, q.Enqueue(ctx, task(3)))
			assert.Equal(t, 3, q.Len())

			for i := 1; i <= 3; i++ {
				d, err := q.Dequeue(ctx)
				require.NoError(t, err)
				assert.Equal(t, task(i).ID, d.Task.ID)
				assert.Equal(t, task(i).Ref, d.Task.Ref)
				assert.NoError(t, d.Ack())
			}
			assert.Equal(t, 0, q.Len())
		})
	}
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	for name, q := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			got := make(chan types.Task, 1)
			go func() {
				d, err := q.Dequeue(ctx)
				if err == nil {
					got <- d.Task
				}
			}()
			time.Sleep(20 * time.Millisecond)
			require.NoError(t, q.Enqueue(ctx, task(7)))

			select {
			case tk := <-got:
				assert.Equal(t, "t7", tk.ID)
			case <-ctx.Done():
				t.Fatal("dequeue did not wake up")
			}
		})
	}
}

func TestDequeueHonoursContext(t *testing.T) {
	for name, q := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			_, err := q.Dequeue(ctx)
			assert.ErrorIs(t, err, context.DeadlineExceeded)
		})
	}
}

func TestConcurrentConsumersSeeEveryTask(t *testing.T) {
	for name, q := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			const n = 50
			var (
				mu   sync.Mutex
				seen = map[string]int{}
				wg   sync.WaitGroup
			)
			for w := 0; w < 4; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for {
						d, err := q.Dequeue(ctx)
						if err != nil {
							return
						}
						mu.Lock()
						seen[d.Task.ID]++
						done := len(seen) == n
						mu.Unlock()
						d.Ack()
						if done {
							cancel()
						}
					}
				}()
			}
			for i := 0; i < n; i++ {
				require.NoError(t, q.Enqueue(context.Background(), task(i)))
			}
			wg.Wait()

			assert.Len(t, seen, n)
			for id, c := range seen {
				assert.Equal(t, 1, c, id)
			}
		})
	}
}

func TestClose(t *testing.T) {
	for name, q := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, q.Close())
			assert.ErrorIs(t, q.Enqueue(context.Background(), task(1)), ErrClosed)
			_, err := q.Dequeue(context.Background())
			assert.ErrorIs(t, err, ErrClosed)
			assert.NoError(t, q.Close())
		})
	}
}

func TestBadgerReplaysUnacknowledged(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	q, err := OpenBadger(dir, nil)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, task(1), task(2), task(3)))

	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, d.Ack())
	// t2 handed out but not acknowledged
	_, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Close())

	q, err = OpenBadger(dir, nil)
	require.NoError(t, err)
	defer q.Close()
	assert.Equal(t, 2, q.Len())

	var ids []string
	for q.Len() > 0 {
		d, err := q.Dequeue(ctx)
		require.NoError(t, err)
		ids = append(ids, d.Task.ID)
		require.NoError(t, d.Ack())
	}
	assert.Equal(t, []string{"t2", "t3"}, ids)

	// sequence numbers continue after the replayed ones
	require.NoError(t, q.Enqueue(ctx, task(4)))
	d, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t4", d.Task.ID)
}

func TestNew(t *testing.T) {
	q, err := New(&Config{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryQueue{}, q)

	q, err = New(&Config{Type: TypeBadger}, nil)
	require.NoError(t, err)
	assert.IsType(t, &BadgerQueue{}, q)
	q.Close()

	_, err = New(&Config{Type: "kafka"}, nil)
	assert.Error(t, err)
	_, err = New(nil, nil)
	assert.Error(t, err)
}
