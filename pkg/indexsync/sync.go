// Package indexsync keeps the search index in step with the store.
//
// Workers take refresh tasks off a queue, re-read the current state of the
// record the task names and upsert its projection, or remove the index entry
// when the record is gone. Task payloads are never trusted, so duplicate and
// out-of-order tasks converge on the committed state. A failed task is
// logged and dropped; it never reaches the write path that produced it.
package indexsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/soundprediction/ipifhub/pkg/index"
	"github.com/soundprediction/ipifhub/pkg/queue"
	"github.com/soundprediction/ipifhub/pkg/store"
	"github.com/soundprediction/ipifhub/pkg/types"
	"github.com/soundprediction/ipifhub/pkg/utils"
)

// Outcome is the result of processing one task.
type Outcome string

const (
	Upserted Outcome = "upserted"
	Removed  Outcome = "removed"
	Failed   Outcome = "failed"
)

// Synchronizer consumes refresh tasks and writes the index.
type Synchronizer struct {
	store     store.Store
	queue     queue.Queue
	index     index.Index
	projector *index.Projector
	workers   int
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithWorkers sets the number of concurrent workers started by Run.
func WithWorkers(n int) Option {
	return func(s *Synchronizer) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithRateLimit caps index writes at limit per second. A limit <= 0 leaves
// writes unlimited.
func WithRateLimit(limit float64, burst int) Option {
	return func(s *Synchronizer) {
		if limit <= 0 {
			s.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(limit), burst)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Synchronizer) {
		if l != nil {
			s.logger = l
		}
	}
}

// New returns a synchronizer reading st, consuming q and writing idx.
func New(st store.Store, q queue.Queue, idx index.Index, p *index.Projector, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		store:     st,
		queue:     q,
		index:     idx,
		projector: p,
		workers:   1,
		limiter:   rate.NewLimiter(rate.Inf, 0),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue hands tasks to the queue. It satisfies batch.Enqueuer.
func (s *Synchronizer) Enqueue(ctx context.Context, tasks ...types.Task) error {
	return s.queue.Enqueue(ctx, tasks...)
}

// Run processes tasks until ctx is cancelled or the queue is closed. Both
// are a normal shutdown and return nil.
func (s *Synchronizer) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "index synchronizer started", "workers", s.workers)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.workers; i++ {
		worker := i
		g.Go(func() error {
			return s.work(gctx, worker)
		})
	}
	err := g.Wait()
	s.logger.InfoContext(ctx, "index synchronizer stopped")
	return err
}

func (s *Synchronizer) work(ctx context.Context, worker int) error {
	for {
		d, err := s.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("worker %d: dequeue: %w", worker, err)
		}
		s.handle(ctx, d)
	}
}

// Drain processes queued tasks on the calling goroutine until the queue is
// empty and returns how many were handled. It must not run alongside Run.
func (s *Synchronizer) Drain(ctx context.Context) (int, error) {
	n := 0
	for s.queue.Len() > 0 {
		d, err := s.queue.Dequeue(ctx)
		if err != nil {
			return n, err
		}
		s.handle(ctx, d)
		n++
	}
	return n, nil
}

// handle processes one delivery and always acknowledges it.
func (s *Synchronizer) handle(ctx context.Context, d *queue.Delivery) {
	task := d.Task
	defer func() {
		if err := d.Ack(); err != nil {
			s.logger.WarnContext(ctx, "ack failed", "task", task.ID, "error", err)
		}
	}()
	defer utils.RecoverWithCallback(func(err error) {
		TaskCount.WithLabelValues(task.Ref.Kind.String(), string(Failed)).Inc()
		s.logger.ErrorContext(ctx, "refresh task panicked", "task", task.ID, "ref", task.Ref.String(), "error", err)
	})

	if _, err := s.Process(ctx, task); err != nil {
		s.logger.ErrorContext(ctx, "refresh task dropped", "task", task.ID, "ref", task.Ref.String(), "error", err)
	}
}

// Process refreshes the index entry of task.Ref from current state. A
// factoid additionally refreshes its person, source, statements and the
// clusters of its person and source. Those refreshes do not fan out further.
func (s *Synchronizer) Process(ctx context.Context, task types.Task) (Outcome, error) {
	start := time.Now()
	kind := task.Ref.Kind.String()
	defer func() {
		TaskDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}()

	outcome, related, err := s.refresh(ctx, task.Ref, task.Ref.Kind == types.FactoidRecord)
	TaskCount.WithLabelValues(kind, string(outcome)).Inc()
	if err != nil {
		return outcome, err
	}

	for _, ref := range related {
		hop, _, err := s.refresh(ctx, ref, false)
		HopCount.WithLabelValues(ref.Kind.String(), string(hop)).Inc()
		if err != nil {
			s.logger.WarnContext(ctx, "related refresh failed", "factoid", task.Ref.ID, "ref", ref.String(), "error", err)
		}
	}
	return outcome, nil
}

// refresh projects ref and writes the result. With related set, the refs
// one hop away from a factoid are read in the same snapshot.
func (s *Synchronizer) refresh(ctx context.Context, ref types.Ref, related bool) (Outcome, []types.Ref, error) {
	var (
		doc  *index.Document
		hops []types.Ref
	)
	err := s.store.View(ctx, func(r store.Reader) error {
		var err error
		if doc, err = s.projector.Project(ctx, r, ref); err != nil {
			return err
		}
		if related {
			hops, err = factoidNeighbours(ctx, r, ref.ID)
		}
		return err
	})

	if err := s.limiter.Wait(ctx); err != nil {
		return Failed, nil, err
	}

	switch {
	case errors.Is(err, types.ErrNotFound), errors.Is(err, index.ErrNotIndexed):
		s.logger.DebugContext(ctx, "record not indexable, removing entry", "ref", ref.String(), "reason", err)
		if err := s.index.Delete(ctx, index.DocumentID(ref)); err != nil {
			return Failed, nil, fmt.Errorf("remove %s: %w", ref, err)
		}
		return Removed, nil, nil
	case err != nil:
		return Failed, nil, fmt.Errorf("project %s: %w", ref, err)
	}

	if err := s.index.Upsert(ctx, doc); err != nil {
		return Failed, nil, fmt.Errorf("upsert %s: %w", ref, err)
	}
	return Upserted, hops, nil
}

func factoidNeighbours(ctx context.Context, r store.Reader, factoidID string) ([]types.Ref, error) {
	f, err := r.GetFactoid(ctx, factoidID)
	if err != nil {
		return nil, err
	}
	refs := []types.Ref{
		{Kind: types.Person, ID: f.PersonID},
		{Kind: types.Source, ID: f.SourceID},
	}
	for _, sid := range f.StatementIDs {
		refs = append(refs, types.Ref{Kind: types.StatementRecord, ID: sid})
	}
	for _, eid := range []string{f.PersonID, f.SourceID} {
		m, err := r.ClusterOf(ctx, eid)
		if errors.Is(err, types.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		refs = append(refs, m.Ref())
	}
	return refs, nil
}
