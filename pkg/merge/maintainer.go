package merge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/soundprediction/ipifhub/pkg/cluster"
	"github.com/soundprediction/ipifhub/pkg/types"
)

// Maintainer applies merge and split rules to a ClusterStore.
type Maintainer struct {
	autocreatedRepo string
	logger          *slog.Logger
}

// NewMaintainer returns a Maintainer that skips entities of autocreatedRepo.
func NewMaintainer(autocreatedRepo string, logger *slog.Logger) *Maintainer {
	if autocreatedRepo == "" {
		autocreatedRepo = types.DefaultAutocreatedRepo
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Maintainer{autocreatedRepo: autocreatedRepo, logger: logger}
}

// IsAutocreated reports whether e is a placeholder entity.
func (m *Maintainer) IsAutocreated(e *types.Entity) bool {
	return e.Repo == m.autocreatedRepo
}

// OnEntityUpserted places e, already persisted with its current URIs, into
// the partition.
func (m *Maintainer) OnEntityUpserted(ctx context.Context, cs *ClusterStore, e *types.Entity) error {
	if e == nil {
		return fmt.Errorf("upsert of nil entity: %w", types.ErrInvariant)
	}
	if m.IsAutocreated(e) {
		return nil
	}

	matched, err := cs.FindClustersSharingURIs(ctx, e.Kind, e.URIs)
	if err != nil {
		return err
	}
	current, err := cs.ClusterOf(ctx, e.ID)
	if err != nil {
		return err
	}
	if current != nil && !containsCluster(matched, current.ID) {
		matched = append(matched, current)
	}

	switch len(matched) {
	case 0:
		id, err := cs.CreateCluster(ctx, e.Kind, []string{e.ID})
		if err != nil {
			return err
		}
		m.logger.DebugContext(ctx, "created singleton cluster", "entity", e.ID, "cluster", id)
		return nil
	case 1:
		if matched[0].HasMember(e.ID) {
			return nil
		}
		return cs.AddMember(ctx, matched[0].ID, e.ID)
	}

	members := []string{e.ID}
	ids := make([]string, 0, len(matched))
	for _, c := range matched {
		members = append(members, c.Members...)
		ids = append(ids, c.ID)
	}
	for _, id := range ids {
		if err := cs.DeleteCluster(ctx, id); err != nil {
			return err
		}
	}
	id, err := cs.CreateCluster(ctx, e.Kind, members)
	if err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "coalesced clusters", "entity", e.ID, "from", ids, "into", id, "members", len(types.SortedUnique(members)))
	return nil
}

// OnEntityDeleted removes e from its cluster and splits the survivors if they
// are no longer connected. It must run before membership is lost, i.e. while
// the cluster still lists e.
func (m *Maintainer) OnEntityDeleted(ctx context.Context, cs *ClusterStore, e *types.Entity) error {
	if e == nil {
		return fmt.Errorf("delete of nil entity: %w", types.ErrInvariant)
	}
	if m.IsAutocreated(e) {
		return nil
	}
	c, err := cs.ClusterOf(ctx, e.ID)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("entity %s has no cluster: %w", e.ID, types.ErrInvariant)
	}
	deleted, err := cs.RemoveMember(ctx, c.ID, e.ID)
	if err != nil || deleted {
		return err
	}
	survivors := make([]string, 0, len(c.Members)-1)
	for _, id := range c.Members {
		if id != e.ID {
			survivors = append(survivors, id)
		}
	}
	return m.regroup(ctx, cs, c, survivors)
}

// OnIdentifiersRemoved re-validates e's cluster after removed were dropped
// from e's URIs. e must already be persisted without them.
func (m *Maintainer) OnIdentifiersRemoved(ctx context.Context, cs *ClusterStore, e *types.Entity, removed []string) error {
	if e == nil {
		return fmt.Errorf("identifier removal on nil entity: %w", types.ErrInvariant)
	}
	if m.IsAutocreated(e) || len(removed) == 0 {
		return nil
	}
	c, err := cs.ClusterOf(ctx, e.ID)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("entity %s has no cluster: %w", e.ID, types.ErrInvariant)
	}
	return m.regroup(ctx, cs, c, c.Members)
}

// regroup recomputes connectivity among members of c and replaces c with one
// cluster per connected group when there is more than one.
func (m *Maintainer) regroup(ctx context.Context, cs *ClusterStore, c *types.MergeEntity, members []string) error {
	if len(members) == 0 {
		return nil
	}
	sets := make([]types.URISet, len(members))
	for i, id := range members {
		e, err := cs.Tx().GetEntity(ctx, id)
		if err != nil {
			return fmt.Errorf("cluster %s member %s: %v: %w", c.ID, id, err, types.ErrInvariant)
		}
		sets[i] = e.URISet()
	}

	groups := cluster.Group(sets)
	if len(groups) == 1 {
		// still connected; the derived URI set changed
		cs.markCluster(c.Kind, c.ID)
		return nil
	}

	if err := cs.DeleteCluster(ctx, c.ID); err != nil {
		return err
	}
	created := make([]string, 0, len(groups))
	for _, g := range groups {
		ids := make([]string, len(g))
		for i, idx := range g {
			ids[i] = members[idx]
		}
		id, err := cs.CreateCluster(ctx, c.Kind, ids)
		if err != nil {
			return err
		}
		created = append(created, id)
	}
	m.logger.InfoContext(ctx, "split cluster", "cluster", c.ID, "into", created)
	return nil
}

// Rebuild discards every cluster of kind and recomputes the partition from
// the stored entities. It returns the number of clusters created.
func (m *Maintainer) Rebuild(ctx context.Context, cs *ClusterStore, kind types.EntityKind) (int, error) {
	tx := cs.Tx()
	existing, err := tx.ListClusters(ctx, kind)
	if err != nil {
		return 0, err
	}
	for _, c := range existing {
		if err := cs.DeleteCluster(ctx, c.ID); err != nil {
			return 0, err
		}
	}

	all, err := tx.ListEntities(ctx, kind)
	if err != nil {
		return 0, err
	}
	var entities []*types.Entity
	for _, e := range all {
		if !m.IsAutocreated(e) {
			entities = append(entities, e)
		}
	}
	sets := make([]types.URISet, len(entities))
	for i, e := range entities {
		sets[i] = e.URISet()
	}
	groups := cluster.Group(sets)
	for _, g := range groups {
		ids := make([]string, len(g))
		for i, idx := range g {
			ids[i] = entities[idx].ID
		}
		if _, err := cs.CreateCluster(ctx, kind, ids); err != nil {
			return 0, err
		}
	}
	m.logger.InfoContext(ctx, "rebuilt partition", "kind", kind, "entities", len(entities), "clusters", len(groups))
	return len(groups), nil
}

func containsCluster(cs []*types.MergeEntity, id string) bool {
	for _, c := range cs {
		if c.ID == id {
			return true
		}
	}
	return false
}
