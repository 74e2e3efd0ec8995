package queue

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/soundprediction/ipifhub/pkg/types"
)

var taskPrefix = []byte("task/")

func taskKey(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte(nil), taskPrefix...), seq)
}

// BadgerQueue persists tasks under task/<seq> keys and deletes them on Ack.
// Tasks handed out but never acknowledged are replayed on the next open.
type BadgerQueue struct {
	db     *badger.DB
	logger *slog.Logger

	mu      sync.Mutex
	next    uint64
	pending []uint64
	closed  bool
	sig     signal
}

// OpenBadger opens (or creates) a queue in dir. An empty dir keeps the data
// in memory, which is mostly useful in tests.
func OpenBadger(dir string, logger *slog.Logger) (*BadgerQueue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{logger.With("component", "badger")})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger queue: %w", err)
	}

	q := &BadgerQueue{db: db, logger: logger, sig: newSignal()}
	if err := q.replay(); err != nil {
		db.Close()
		return nil, err
	}
	if len(q.pending) > 0 {
		logger.Info("replaying unacknowledged refresh tasks", "count", len(q.pending))
		q.sig.notify()
	}
	return q, nil
}

func (q *BadgerQueue) replay() error {
	return q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = taskPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			if len(key) != len(taskPrefix)+8 {
				continue
			}
			seq := binary.BigEndian.Uint64(key[len(taskPrefix):])
			q.pending = append(q.pending, seq)
			if seq >= q.next {
				q.next = seq + 1
			}
		}
		return nil
	})
}

func (q *BadgerQueue) Enqueue(_ context.Context, tasks ...types.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}

	first := q.next
	wb := q.db.NewWriteBatch()
	defer wb.Cancel()
	for i, t := range tasks {
		val, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("encode task %s: %w", t.Ref, err)
		}
		if err := wb.Set(taskKey(first+uint64(i)), val); err != nil {
			return fmt.Errorf("write task %s: %w", t.Ref, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush %d tasks: %w", len(tasks), err)
	}

	for i := range tasks {
		q.pending = append(q.pending, first+uint64(i))
	}
	q.next = first + uint64(len(tasks))
	q.sig.notify()
	return nil
}

func (q *BadgerQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		if len(q.pending) > 0 {
			seq := q.pending[0]
			q.pending = q.pending[1:]
			more := len(q.pending) > 0
			q.mu.Unlock()
			if more {
				q.sig.notify()
			}

			t, err := q.load(seq)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			key := taskKey(seq)
			return &Delivery{Task: t, ack: func() error {
				return q.db.Update(func(txn *badger.Txn) error {
					return txn.Delete(key)
				})
			}}, nil
		}
		q.mu.Unlock()

		if err := q.sig.wait(ctx); err != nil {
			return nil, err
		}
	}
}

func (q *BadgerQueue) load(seq uint64) (types.Task, error) {
	var t types.Task
	err := q.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(taskKey(seq))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &t)
		})
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		q.logger.Warn("badger queue read error", "seq", seq, "error", err)
	}
	return t, err
}

func (q *BadgerQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *BadgerQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.sig.done)
	q.mu.Unlock()
	return q.db.Close()
}

// badgerLogger routes badger's internal logging through slog.
type badgerLogger struct {
	l *slog.Logger
}

func (b badgerLogger) Errorf(format string, args ...interface{}) {
	b.l.Error(fmt.Sprintf(format, args...))
}

func (b badgerLogger) Warningf(format string, args ...interface{}) {
	b.l.Warn(fmt.Sprintf(format, args...))
}

func (b badgerLogger) Infof(format string, args ...interface{}) {
	b.l.Debug(fmt.Sprintf(format, args...))
}

func (b badgerLogger) Debugf(format string, args ...interface{}) {
	b.l.Debug(fmt.Sprintf(format, args...))
}
