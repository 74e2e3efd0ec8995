package ipifhub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soundprediction/ipifhub/pkg/batch"
	"github.com/soundprediction/ipifhub/pkg/identifiers"
	"github.com/soundprediction/ipifhub/pkg/merge"
	"github.com/soundprediction/ipifhub/pkg/store"
	"github.com/soundprediction/ipifhub/pkg/types"
	"github.com/soundprediction/ipifhub/pkg/utils"
)

var (
	// ErrDerivedIdentifier is returned when removing an identifier the hub
	// derives for the entity itself.
	ErrDerivedIdentifier = errors.New("identifier is derived and cannot be removed")
	// ErrNilRecord is returned when a write method is given a nil record.
	ErrNilRecord = errors.New("record is nil")
)

// Hub is the main implementation of the Writer and Maintenance interfaces.
// It owns the write path: every unit of work runs in one store transaction
// with a fresh refresh batch, and units are serialized.
type Hub struct {
	store      store.Store
	enqueuer   batch.Enqueuer
	ids        *identifiers.Builder
	maintainer *merge.Maintainer
	config     *Config
	logger     *slog.Logger

	// mu makes the hub the single logical writer; concurrent units racing
	// on overlapping identifier sets would otherwise miss a coalesce.
	mu sync.Mutex
}

// Config holds configuration for the Hub.
type Config struct {
	// BaseURI is the hub's public root used for derived identifiers.
	BaseURI string
	// AutocreatedRepo is the placeholder repository slug.
	AutocreatedRepo string
	// Now is the clock for record timestamps. Defaults to time.Now.
	Now func() time.Time
	// NewID generates record and cluster ids. Defaults to uuid.NewString.
	NewID func() string
}

// NewHub creates a Hub writing to st and handing refresh waves to enq.
func NewHub(st store.Store, enq batch.Enqueuer, config *Config, logger *slog.Logger) (*Hub, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if enq == nil {
		return nil, fmt.Errorf("enqueuer is required")
	}
	if config == nil {
		config = &Config{}
	}
	if config.AutocreatedRepo == "" {
		config.AutocreatedRepo = types.DefaultAutocreatedRepo
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.NewID == nil {
		config.NewID = uuid.NewString
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Hub{
		store:      st,
		enqueuer:   enq,
		ids:        identifiers.NewBuilder(config.BaseURI, config.AutocreatedRepo),
		maintainer: merge.NewMaintainer(config.AutocreatedRepo, logger),
		config:     config,
		logger:     logger,
	}, nil
}

// GetStore returns the backing store.
func (h *Hub) GetStore() store.Store {
	return h.store
}

// GetIdentifiers returns the identifier builder.
func (h *Hub) GetIdentifiers() *identifiers.Builder {
	return h.ids
}

func (h *Hub) now() time.Time {
	return h.config.Now().UTC()
}

// Update runs fn as one unit of work. The store transaction commits when fn
// returns nil and the refresh wave for everything fn touched is emitted
// after the commit. On error or panic the transaction rolls back and nothing
// is emitted.
func (h *Hub) Update(ctx context.Context, fn func(ctx context.Context, u *Unit) error) (err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	tx, err := h.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin unit of work: %w", err)
	}
	b := batch.New(h.store, h.enqueuer, batch.WithLogger(h.logger), batch.WithClock(h.config.Now))
	b.Attach(tx)

	committed := false
	defer func() {
		if committed {
			return
		}
		b.Discard()
		if rbErr := tx.Rollback(); rbErr != nil {
			h.logger.WarnContext(ctx, "rollback failed", "error", rbErr)
		}
		if errors.Is(err, types.ErrInvariant) {
			h.logger.ErrorContext(ctx, "unit of work aborted", "error", err)
		}
	}()
	defer utils.RecoverAsError("hub.Update", &err)

	u := &Unit{
		hub:      h,
		tx:       tx,
		batch:    b,
		clusters: merge.NewClusterStore(tx, b, merge.WithIDGenerator(h.config.NewID), merge.WithNow(h.config.Now)),
	}
	if err = fn(batch.WithBatch(ctx, b), u); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit unit of work: %w", err)
	}
	committed = true
	return nil
}

// Recluster discards the partition of kind and rebuilds it from the stored
// entities. It returns the number of clusters.
func (h *Hub) Recluster(ctx context.Context, kind types.EntityKind) (int, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("recluster %q: %w", kind, types.ErrUnknownKind)
	}
	var n int
	err := h.Update(ctx, func(ctx context.Context, u *Unit) error {
		var err error
		n, err = h.maintainer.Rebuild(ctx, u.clusters, kind)
		return err
	})
	return n, err
}

// Reindex enqueues a refresh task for every indexable record and returns
// how many were enqueued.
func (h *Hub) Reindex(ctx context.Context) (int, error) {
	var refs []types.Ref
	err := h.store.View(ctx, func(r store.Reader) error {
		for _, kind := range types.EntityKinds() {
			es, err := r.ListEntities(ctx, kind)
			if err != nil {
				return err
			}
			for _, e := range es {
				if !h.ids.IsAutocreated(e) {
					refs = append(refs, e.Ref())
				}
			}
			cs, err := r.ListClusters(ctx, kind)
			if err != nil {
				return err
			}
			for _, c := range cs {
				refs = append(refs, c.Ref())
			}
		}
		ss, err := r.ListStatements(ctx)
		if err != nil {
			return err
		}
		for _, s := range ss {
			refs = append(refs, s.Ref())
		}
		fs, err := r.ListFactoids(ctx)
		if err != nil {
			return err
		}
		for _, f := range fs {
			refs = append(refs, f.Ref())
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("reindex: %w", err)
	}

	types.SortRefs(refs)
	now := h.now()
	tasks := make([]types.Task, len(refs))
	for i, ref := range refs {
		tasks[i] = types.Task{ID: uuid.NewString(), Ref: ref, EnqueuedAt: now}
	}
	if err := h.enqueuer.Enqueue(ctx, tasks...); err != nil {
		return 0, fmt.Errorf("reindex: enqueue %d tasks: %w", len(tasks), err)
	}
	h.logger.InfoContext(ctx, "reindex enqueued", "tasks", len(tasks))
	return len(tasks), nil
}
