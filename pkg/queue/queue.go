// Package queue carries refresh tasks from committed units of work to the
// index synchronizer workers.
//
// Two backends are provided:
//   - MemoryQueue: in-process, lost on restart
//   - BadgerQueue: persisted in an embedded badger database; unacknowledged
//     tasks are replayed when the queue is reopened (at-least-once)
//
// Duplicate tasks are harmless: processing a task always re-reads current
// state.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/soundprediction/ipifhub/pkg/types"
)

// ErrClosed is returned by operations on a closed queue.
var ErrClosed = errors.New("queue: closed")

// Queue is a FIFO of refresh tasks.
type Queue interface {
	Enqueue(ctx context.Context, tasks ...types.Task) error
	// Dequeue blocks until a task is available, ctx is done or the queue is
	// closed.
	Dequeue(ctx context.Context) (*Delivery, error)
	// Len returns the number of tasks not yet handed out.
	Len() int
	Close() error
}

// Delivery is one dequeued task. Ack must be called once processing is
// finished, successful or not.
type Delivery struct {
	Task types.Task
	ack  func() error
}

// Ack acknowledges the delivery.
func (d *Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	ack := d.ack
	d.ack = nil
	return ack()
}

// Type selects a queue backend.
type Type string

const (
	TypeMemory Type = "memory"
	TypeBadger Type = "badger"
)

// Config configures the queue backend.
type Config struct {
	// Type is "memory" (default) or "badger".
	Type Type `json:"type,omitempty"`
	// Path is the badger data directory. Empty runs badger in memory.
	Path string `json:"path,omitempty"`
}

// New creates a queue for cfg.
func New(cfg *Config, logger *slog.Logger) (Queue, error) {
	if cfg == nil {
		return nil, fmt.Errorf("queue config is required")
	}
	switch cfg.Type {
	case TypeMemory, "":
		return NewMemoryQueue(), nil
	case TypeBadger:
		return OpenBadger(cfg.Path, logger)
	default:
		return nil, fmt.Errorf("unsupported queue type: %s (supported: memory, badger)", cfg.Type)
	}
}

// signal wakes blocked consumers. It carries at most one pending wakeup;
// a consumer that takes an item and sees more left re-arms it.
type signal struct {
	ch   chan struct{}
	done chan struct{}
}

func newSignal() signal {
	return signal{ch: make(chan struct{}, 1), done: make(chan struct{})}
}

func (s signal) notify() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

func (s signal) wait(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
