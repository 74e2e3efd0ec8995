// Package batch collects the records touched by one unit of work and emits a
// single deduplicated wave of refresh tasks once that unit commits.
//
// A Batch belongs to exactly one transaction. It moves through
//
//	Empty -> Accumulating (MarkDirty) -> Dispatching (OnCommit) -> Empty
//
// and dispatches at most once; a second OnCommit is a no-op. A rolled back
// transaction discards its batch without emitting anything.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soundprediction/ipifhub/pkg/store"
	"github.com/soundprediction/ipifhub/pkg/types"
)

// State is the lifecycle stage of a Batch.
type State int

const (
	Empty State = iota
	Accumulating
	Dispatching
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Accumulating:
		return "accumulating"
	case Dispatching:
		return "dispatching"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Enqueuer receives the refresh wave.
type Enqueuer interface {
	Enqueue(ctx context.Context, tasks ...types.Task) error
}

// Viewer reads committed state for expansion.
type Viewer interface {
	View(ctx context.Context, fn func(r store.Reader) error) error
}

// Batch is a transaction-scoped dirty set.
type Batch struct {
	mu         sync.Mutex
	dirty      map[types.Ref]struct{}
	state      State
	dispatched bool

	viewer   Viewer
	enqueuer Enqueuer
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Batch.
type Option func(*Batch)

// WithLogger sets the logger used for dispatch diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(b *Batch) { b.logger = l }
}

// WithClock overrides the task timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Batch) { b.now = now }
}

// New returns an empty batch that expands through v and emits to q.
func New(v Viewer, q Enqueuer, opts ...Option) *Batch {
	b := &Batch{
		dirty:    map[types.Ref]struct{}{},
		viewer:   v,
		enqueuer: q,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// MarkDirty records refs. Adding a ref twice has no further effect.
func (b *Batch) MarkDirty(refs ...types.Ref) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dispatched {
		b.logger.Warn("mark dirty on finished batch ignored", "refs", len(refs))
		return
	}
	for _, r := range refs {
		b.dirty[r] = struct{}{}
	}
	if len(b.dirty) > 0 {
		b.state = Accumulating
	}
}

// State returns the current lifecycle stage.
func (b *Batch) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Len returns the number of distinct dirty refs.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.dirty)
}

// Dirty returns the dirty refs in canonical order.
func (b *Batch) Dirty() []types.Ref {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.Ref, 0, len(b.dirty))
	for r := range b.dirty {
		out = append(out, r)
	}
	types.SortRefs(out)
	return out
}

// Attach arranges for OnCommit to run after tx commits.
func (b *Batch) Attach(tx store.Tx) {
	tx.OnCommit(func(ctx context.Context) {
		if _, err := b.OnCommit(ctx); err != nil {
			b.logger.ErrorContext(ctx, "refresh dispatch failed", "error", err)
		}
	})
}

// Discard drops every dirty ref and finishes the batch.
func (b *Batch) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dirty = map[types.Ref]struct{}{}
	b.dispatched = true
	b.state = Empty
}

// OnCommit expands the dirty set, emits one task per distinct record and
// resets the batch. Only the first call dispatches.
func (b *Batch) OnCommit(ctx context.Context) ([]types.Task, error) {
	b.mu.Lock()
	if b.dispatched {
		b.mu.Unlock()
		return nil, nil
	}
	b.dispatched = true
	b.state = Dispatching
	dirty := make([]types.Ref, 0, len(b.dirty))
	for r := range b.dirty {
		dirty = append(dirty, r)
	}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.dirty = map[types.Ref]struct{}{}
		b.state = Empty
		b.mu.Unlock()
	}()

	if len(dirty) == 0 {
		return nil, nil
	}

	refs, expandErr := b.expand(ctx, dirty)
	if expandErr != nil {
		b.logger.WarnContext(ctx, "batch expansion incomplete", "error", expandErr)
	}

	now := b.now().UTC()
	tasks := make([]types.Task, len(refs))
	for i, r := range refs {
		tasks[i] = types.Task{ID: uuid.NewString(), Ref: r, EnqueuedAt: now}
	}

	b.logger.DebugContext(ctx, "dispatching refresh wave", "dirty", len(dirty), "tasks", len(tasks))
	if err := b.enqueuer.Enqueue(ctx, tasks...); err != nil {
		return tasks, fmt.Errorf("enqueue %d tasks: %w", len(tasks), err)
	}
	return tasks, expandErr
}

// expand applies the implication rules and returns the refs to refresh in
// canonical order:
//   - a statement implies every factoid referencing it
//   - an entity implies every factoid referencing it
//   - a cluster implies the factoids of every member
//
// Statements are only emitted themselves when nothing references them; the
// factoid refresh covers the rest.
func (b *Batch) expand(ctx context.Context, dirty []types.Ref) ([]types.Ref, error) {
	out := map[types.Ref]struct{}{}
	referenced := map[string]bool{}

	err := b.viewer.View(ctx, func(r store.Reader) error {
		addFactoids := func(fs []*types.Factoid) {
			for _, f := range fs {
				out[f.Ref()] = struct{}{}
			}
		}
		for _, ref := range dirty {
			switch {
			case ref.Kind == types.FactoidRecord:
				out[ref] = struct{}{}
			case ref.Kind == types.StatementRecord:
				fs, err := r.FactoidsByStatement(ctx, ref.ID)
				if err != nil {
					return fmt.Errorf("expand %s: %w", ref, err)
				}
				referenced[ref.ID] = len(fs) > 0
				addFactoids(fs)
			case ref.Kind.IsEntity():
				out[ref] = struct{}{}
				fs, err := r.FactoidsByEntity(ctx, ref.ID)
				if err != nil {
					return fmt.Errorf("expand %s: %w", ref, err)
				}
				addFactoids(fs)
			case ref.Kind.IsCluster():
				out[ref] = struct{}{}
				m, err := r.GetCluster(ctx, ref.ID)
				if err != nil {
					// deleted in this unit of work; the replacement is dirty too
					continue
				}
				for _, member := range m.Members {
					fs, err := r.FactoidsByEntity(ctx, member)
					if err != nil {
						return fmt.Errorf("expand %s member %s: %w", ref, member, err)
					}
					addFactoids(fs)
				}
			}
		}
		return nil
	})

	for _, ref := range dirty {
		if err != nil || (ref.Kind == types.StatementRecord && !referenced[ref.ID]) {
			out[ref] = struct{}{}
		}
	}

	refs := make([]types.Ref, 0, len(out))
	for r := range out {
		refs = append(refs, r)
	}
	types.SortRefs(refs)
	return refs, err
}

type ctxKey struct{}

// WithBatch returns a context carrying b.
func WithBatch(ctx context.Context, b *Batch) context.Context {
	return context.WithValue(ctx, ctxKey{}, b)
}

// FromContext returns the batch attached to ctx, if any.
func FromContext(ctx context.Context) (*Batch, bool) {
	b, ok := ctx.Value(ctxKey{}).(*Batch)
	return b, ok && b != nil
}
