package memstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/soundprediction/ipifhub/pkg/store"
	"github.com/soundprediction/ipifhub/pkg/types"
)

type tx struct {
	reader
	store.CommitHooks
	parent *Store
	ctx    context.Context
	done   bool
}

var errTxDone = fmt.Errorf("memstore: transaction already finished")

func (t *tx) check() error {
	if t.done {
		return errTxDone
	}
	return nil
}

func (t *tx) PutRepo(_ context.Context, r *types.Repo) error {
	if err := t.check(); err != nil {
		return err
	}
	if err := r.Validate(); err != nil {
		return err
	}
	c := *r
	t.st.repos[r.Slug] = &c
	return nil
}

func (t *tx) PutEntity(_ context.Context, e *types.Entity) error {
	if err := t.check(); err != nil {
		return err
	}
	if err := e.Validate(); err != nil {
		return err
	}
	if old, ok := t.st.entities[e.ID]; ok {
		if old.Kind != e.Kind {
			return fmt.Errorf("entity %s is a %s, not a %s: %w", e.ID, old.Kind, e.Kind, types.ErrKindMismatch)
		}
		t.unindex(old)
	}
	c := e.Clone()
	c.URIs = types.SortedUnique(c.URIs)
	t.st.entities[e.ID] = c
	for _, u := range c.URIs {
		ids := t.st.byURI[u]
		if ids == nil {
			ids = map[string]struct{}{}
			t.st.byURI[u] = ids
		}
		ids[e.ID] = struct{}{}
	}
	return nil
}

func (t *tx) unindex(e *types.Entity) {
	for _, u := range e.URIs {
		delete(t.st.byURI[u], e.ID)
		if len(t.st.byURI[u]) == 0 {
			delete(t.st.byURI, u)
		}
	}
}

func (t *tx) DeleteEntity(_ context.Context, id string) error {
	if err := t.check(); err != nil {
		return err
	}
	old, ok := t.st.entities[id]
	if !ok {
		return notFound("entity", id)
	}
	t.unindex(old)
	delete(t.st.entities, id)
	return nil
}

func (t *tx) CreateCluster(_ context.Context, m *types.MergeEntity) error {
	if err := t.check(); err != nil {
		return err
	}
	if m.ID == "" {
		return types.ErrEmptyID
	}
	if len(m.Members) == 0 {
		return types.ErrEmptyMembers
	}
	if _, ok := t.st.clusters[m.ID]; ok {
		return fmt.Errorf("cluster %s already exists: %w", m.ID, types.ErrInvariant)
	}
	members := types.SortedUnique(m.Members)
	for _, eid := range members {
		if err := t.checkJoin(m.Kind, eid); err != nil {
			return err
		}
	}
	c := m.Clone()
	c.Members = members
	t.st.clusters[m.ID] = c
	for _, eid := range members {
		t.st.memberOf[eid] = m.ID
	}
	return nil
}

func (t *tx) checkJoin(kind types.EntityKind, entityID string) error {
	e, ok := t.st.entities[entityID]
	if !ok {
		return notFound("entity", entityID)
	}
	if e.Kind != kind {
		return fmt.Errorf("entity %s is a %s, cluster holds %s: %w", entityID, e.Kind, kind, types.ErrInvariant)
	}
	if cid, ok := t.st.memberOf[entityID]; ok {
		return fmt.Errorf("entity %s already in cluster %s: %w", entityID, cid, types.ErrInvariant)
	}
	return nil
}

func (t *tx) DeleteCluster(_ context.Context, id string) error {
	if err := t.check(); err != nil {
		return err
	}
	c, ok := t.st.clusters[id]
	if !ok {
		return notFound("cluster", id)
	}
	for _, eid := range c.Members {
		delete(t.st.memberOf, eid)
	}
	delete(t.st.clusters, id)
	return nil
}

func (t *tx) AddClusterMember(_ context.Context, clusterID, entityID string) error {
	if err := t.check(); err != nil {
		return err
	}
	c, ok := t.st.clusters[clusterID]
	if !ok {
		return notFound("cluster", clusterID)
	}
	if err := t.checkJoin(c.Kind, entityID); err != nil {
		return err
	}
	c.Members = append(c.Members, entityID)
	sort.Strings(c.Members)
	t.st.memberOf[entityID] = clusterID
	return nil
}

func (t *tx) RemoveClusterMember(_ context.Context, clusterID, entityID string) error {
	if err := t.check(); err != nil {
		return err
	}
	c, ok := t.st.clusters[clusterID]
	if !ok {
		return notFound("cluster", clusterID)
	}
	if t.st.memberOf[entityID] != clusterID {
		return fmt.Errorf("entity %s not in cluster %s: %w", entityID, clusterID, types.ErrInvariant)
	}
	members := c.Members[:0]
	for _, id := range c.Members {
		if id != entityID {
			members = append(members, id)
		}
	}
	c.Members = members
	delete(t.st.memberOf, entityID)
	return nil
}

func (t *tx) PutStatement(_ context.Context, s *types.Statement) error {
	if err := t.check(); err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return err
	}
	c := *s
	t.st.statements[s.ID] = &c
	return nil
}

func (t *tx) DeleteStatement(_ context.Context, id string) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, ok := t.st.statements[id]; !ok {
		return notFound("statement", id)
	}
	delete(t.st.statements, id)
	for _, f := range t.st.factoids {
		ids := f.StatementIDs[:0]
		for _, sid := range f.StatementIDs {
			if sid != id {
				ids = append(ids, sid)
			}
		}
		f.StatementIDs = ids
	}
	return nil
}

func (t *tx) PutFactoid(_ context.Context, f *types.Factoid) error {
	if err := t.check(); err != nil {
		return err
	}
	if err := f.Validate(); err != nil {
		return err
	}
	c := f.Clone()
	c.StatementIDs = types.SortedUnique(c.StatementIDs)
	t.st.factoids[f.ID] = c
	return nil
}

func (t *tx) DeleteFactoid(_ context.Context, id string) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, ok := t.st.factoids[id]; !ok {
		return notFound("factoid", id)
	}
	delete(t.st.factoids, id)
	return nil
}

func (t *tx) Commit() error {
	if err := t.check(); err != nil {
		return err
	}
	t.done = true
	t.parent.mu.Lock()
	t.parent.current = t.st
	t.parent.mu.Unlock()
	t.parent.writeMu.Unlock()

	t.RunHooks(t.ctx)
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.DiscardHooks()
	t.parent.writeMu.Unlock()
	return nil
}
