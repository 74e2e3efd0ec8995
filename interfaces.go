package ipifhub

import (
	"context"

	"github.com/soundprediction/ipifhub/pkg/types"
)

// This file defines focused interfaces over the Hub and its units of work.
// Consumers should depend on the smallest interface that meets their needs.

// Events is the clustering contract for call sites that write entities
// themselves. Each method runs inside the unit of work of the write.
type Events interface {
	// OnEntityUpserted places an entity, already persisted with its current
	// URIs, into the partition.
	OnEntityUpserted(ctx context.Context, e *types.Entity) error

	// OnIdentifierRemoved re-checks the entity's cluster after identifier was
	// removed from it. The entity must already be persisted without it.
	OnIdentifierRemoved(ctx context.Context, e *types.Entity, identifier string) error

	// OnEntityDeleted removes the entity from its cluster and splits the
	// rest. It must be called before the entity row is deleted.
	OnEntityDeleted(ctx context.Context, e *types.Entity) error
}

// EntityWriter persists persons and sources.
type EntityWriter interface {
	SaveEntity(ctx context.Context, e *types.Entity) (bool, error)
	AddIdentifiers(ctx context.Context, id string, uris ...string) (bool, error)
	RemoveIdentifiers(ctx context.Context, id string, uris ...string) (bool, error)
	DeleteEntity(ctx context.Context, id string) error
	EnsurePlaceholder(ctx context.Context, kind types.EntityKind, identifier string) (*types.Entity, error)
}

// FactoidWriter persists statements and the factoids linking them.
type FactoidWriter interface {
	SaveStatement(ctx context.Context, s *types.Statement) (bool, error)
	DeleteStatement(ctx context.Context, id string) error
	SaveFactoid(ctx context.Context, f *types.Factoid) (bool, error)
	DeleteFactoid(ctx context.Context, id string) error
}

// Writer is the full write surface of a unit of work.
type Writer interface {
	Events
	EntityWriter
	FactoidWriter
	SaveRepo(ctx context.Context, r *types.Repo) error
}

// Maintenance provides whole-store repair operations.
type Maintenance interface {
	// Recluster rebuilds the partition of kind from scratch.
	Recluster(ctx context.Context, kind types.EntityKind) (int, error)

	// Reindex schedules a refresh of every indexable record.
	Reindex(ctx context.Context) (int, error)
}

var (
	_ Writer      = (*Unit)(nil)
	_ Maintenance = (*Hub)(nil)
)
