// Package store defines the transactional backing store shared by entities,
// clusters, statements and factoids.
//
// All clustering decisions for one write happen inside a single Tx, so a
// concurrent reader never observes a half-updated partition. Functions
// registered with Tx.OnCommit run only after the transaction is durable and
// never on rollback.
//
// # Implementations
//
//   - memstore: in-process maps, one writer at a time
//   - sqlstore: database/sql over SQLite (modernc.org/sqlite) or PostgreSQL (lib/pq)
//
// Both are checked by the conformance suite in storetest.
package store

import (
	"context"
	"log/slog"
	"sync"

	"github.com/soundprediction/ipifhub/pkg/types"
	"github.com/soundprediction/ipifhub/pkg/utils"
)

// Reader is the read side of the store. Lookups of missing records return an
// error wrapping types.ErrNotFound.
type Reader interface {
	GetRepo(ctx context.Context, slug string) (*types.Repo, error)
	ListRepos(ctx context.Context) ([]*types.Repo, error)

	GetEntity(ctx context.Context, id string) (*types.Entity, error)
	FindEntity(ctx context.Context, kind types.EntityKind, repo, localID string) (*types.Entity, error)
	ListEntities(ctx context.Context, kind types.EntityKind) ([]*types.Entity, error)

	GetCluster(ctx context.Context, id string) (*types.MergeEntity, error)
	// ClusterOf returns the cluster containing entityID.
	ClusterOf(ctx context.Context, entityID string) (*types.MergeEntity, error)
	// ClustersSharingURIs returns the clusters of the given kind having at
	// least one member whose URI set intersects uris, ordered by id.
	ClustersSharingURIs(ctx context.Context, kind types.EntityKind, uris []string) ([]*types.MergeEntity, error)
	ListClusters(ctx context.Context, kind types.EntityKind) ([]*types.MergeEntity, error)

	GetStatement(ctx context.Context, id string) (*types.Statement, error)
	ListStatements(ctx context.Context) ([]*types.Statement, error)

	GetFactoid(ctx context.Context, id string) (*types.Factoid, error)
	ListFactoids(ctx context.Context) ([]*types.Factoid, error)
	// FactoidsByEntity returns factoids whose person or source is entityID.
	FactoidsByEntity(ctx context.Context, entityID string) ([]*types.Factoid, error)
	FactoidsByStatement(ctx context.Context, statementID string) ([]*types.Factoid, error)
}

// Tx is a read-write unit of work.
type Tx interface {
	Reader

	PutRepo(ctx context.Context, r *types.Repo) error
	PutEntity(ctx context.Context, e *types.Entity) error
	// DeleteEntity removes the entity and its URIs. Cluster membership is
	// left to the caller.
	DeleteEntity(ctx context.Context, id string) error

	// CreateCluster stores m with its members. A member that already
	// belongs to a cluster is an invariant violation.
	CreateCluster(ctx context.Context, m *types.MergeEntity) error
	DeleteCluster(ctx context.Context, id string) error
	AddClusterMember(ctx context.Context, clusterID, entityID string) error
	RemoveClusterMember(ctx context.Context, clusterID, entityID string) error

	PutStatement(ctx context.Context, s *types.Statement) error
	DeleteStatement(ctx context.Context, id string) error
	PutFactoid(ctx context.Context, f *types.Factoid) error
	DeleteFactoid(ctx context.Context, id string) error

	// OnCommit registers fn to run after a successful Commit.
	OnCommit(fn func(ctx context.Context))
	Commit() error
	Rollback() error
}

// Store opens transactions.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	// View runs fn against a consistent snapshot of committed state.
	View(ctx context.Context, fn func(r Reader) error) error
	Ping(ctx context.Context) error
	Close() error
}

// CommitHooks collects functions to run after commit. Implementations embed
// it in their Tx.
type CommitHooks struct {
	mu  sync.Mutex
	fns []func(ctx context.Context)
}

// OnCommit registers fn.
func (h *CommitHooks) OnCommit(fn func(ctx context.Context)) {
	h.mu.Lock()
	h.fns = append(h.fns, fn)
	h.mu.Unlock()
}

// RunHooks runs and clears the registered functions. A panicking hook is
// logged and does not stop the others; the transaction is already durable.
func (h *CommitHooks) RunHooks(ctx context.Context) {
	h.mu.Lock()
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()

	for _, fn := range fns {
		func() {
			defer utils.RecoverWithCallback(func(err error) {
				slog.Error("commit hook failed", "error", err)
			})
			fn(ctx)
		}()
	}
}

// DiscardHooks drops registered functions without running them.
func (h *CommitHooks) DiscardHooks() {
	h.mu.Lock()
	h.fns = nil
	h.mu.Unlock()
}

// Update runs fn inside a new transaction, committing when fn returns nil
// and rolling back otherwise.
func Update(ctx context.Context, s Store, fn func(tx Tx) error) (err error) {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
