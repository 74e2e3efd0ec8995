// Package memstore is an in-process store.Store. A transaction works on a copy
// of the committed state and swaps it in on Commit; only one write
// transaction is open at a time.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/soundprediction/ipifhub/pkg/store"
	"github.com/soundprediction/ipifhub/pkg/types"
)

type state struct {
	repos      map[string]*types.Repo
	entities   map[string]*types.Entity
	byURI      map[string]map[string]struct{}
	clusters   map[string]*types.MergeEntity
	memberOf   map[string]string
	statements map[string]*types.Statement
	factoids   map[string]*types.Factoid
}

func newState() *state {
	return &state{
		repos:      map[string]*types.Repo{},
		entities:   map[string]*types.Entity{},
		byURI:      map[string]map[string]struct{}{},
		clusters:   map[string]*types.MergeEntity{},
		memberOf:   map[string]string{},
		statements: map[string]*types.Statement{},
		factoids:   map[string]*types.Factoid{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.repos {
		r := *v
		c.repos[k] = &r
	}
	for k, v := range s.entities {
		c.entities[k] = v.Clone()
	}
	for u, ids := range s.byURI {
		m := make(map[string]struct{}, len(ids))
		for id := range ids {
			m[id] = struct{}{}
		}
		c.byURI[u] = m
	}
	for k, v := range s.clusters {
		c.clusters[k] = v.Clone()
	}
	for k, v := range s.memberOf {
		c.memberOf[k] = v
	}
	for k, v := range s.statements {
		st := *v
		c.statements[k] = &st
	}
	for k, v := range s.factoids {
		c.factoids[k] = v.Clone()
	}
	return c
}

// Store is an in-memory store.Store.
type Store struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	current *state
	closed  bool
}

// New returns an empty Store.
func New() *Store {
	return &Store{current: newState()}
}

// Begin implements store.Store. It blocks while another write transaction is
// open.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.writeMu.Lock()
	s.mu.RLock()
	closed := s.closed
	snapshot := s.current.clone()
	s.mu.RUnlock()
	if closed {
		s.writeMu.Unlock()
		return nil, fmt.Errorf("memstore: closed")
	}
	return &tx{reader: reader{st: snapshot}, parent: s, ctx: ctx}, nil
}

// View implements store.Store.
func (s *Store) View(ctx context.Context, fn func(r store.Reader) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("memstore: closed")
	}
	return fn(reader{st: s.current})
}

// Ping implements store.Store.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("memstore: closed")
	}
	return nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

type reader struct {
	st *state
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, types.ErrNotFound)
}

func (r reader) GetRepo(_ context.Context, slug string) (*types.Repo, error) {
	v, ok := r.st.repos[slug]
	if !ok {
		return nil, notFound("repo", slug)
	}
	c := *v
	return &c, nil
}

func (r reader) ListRepos(_ context.Context) ([]*types.Repo, error) {
	out := make([]*types.Repo, 0, len(r.st.repos))
	for _, v := range r.st.repos {
		c := *v
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (r reader) GetEntity(_ context.Context, id string) (*types.Entity, error) {
	v, ok := r.st.entities[id]
	if !ok {
		return nil, notFound("entity", id)
	}
	return v.Clone(), nil
}

func (r reader) FindEntity(_ context.Context, kind types.EntityKind, repo, localID string) (*types.Entity, error) {
	for _, v := range r.st.entities {
		if v.Kind == kind && v.Repo == repo && v.LocalID == localID {
			return v.Clone(), nil
		}
	}
	return nil, notFound("entity", repo+"/"+localID)
}

func (r reader) ListEntities(_ context.Context, kind types.EntityKind) ([]*types.Entity, error) {
	var out []*types.Entity
	for _, v := range r.st.entities {
		if v.Kind == kind {
			out = append(out, v.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r reader) GetCluster(_ context.Context, id string) (*types.MergeEntity, error) {
	v, ok := r.st.clusters[id]
	if !ok {
		return nil, notFound("cluster", id)
	}
	return v.Clone(), nil
}

func (r reader) ClusterOf(ctx context.Context, entityID string) (*types.MergeEntity, error) {
	id, ok := r.st.memberOf[entityID]
	if !ok {
		return nil, notFound("cluster of entity", entityID)
	}
	return r.GetCluster(ctx, id)
}

func (r reader) ClustersSharingURIs(_ context.Context, kind types.EntityKind, uris []string) ([]*types.MergeEntity, error) {
	ids := map[string]struct{}{}
	for _, u := range uris {
		for eid := range r.st.byURI[u] {
			e := r.st.entities[eid]
			if e == nil || e.Kind != kind {
				continue
			}
			if cid, ok := r.st.memberOf[eid]; ok {
				ids[cid] = struct{}{}
			}
		}
	}
	out := make([]*types.MergeEntity, 0, len(ids))
	for id := range ids {
		out = append(out, r.st.clusters[id].Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r reader) ListClusters(_ context.Context, kind types.EntityKind) ([]*types.MergeEntity, error) {
	var out []*types.MergeEntity
	for _, v := range r.st.clusters {
		if v.Kind == kind {
			out = append(out, v.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r reader) GetStatement(_ context.Context, id string) (*types.Statement, error) {
	v, ok := r.st.statements[id]
	if !ok {
		return nil, notFound("statement", id)
	}
	c := *v
	return &c, nil
}

func (r reader) ListStatements(_ context.Context) ([]*types.Statement, error) {
	out := make([]*types.Statement, 0, len(r.st.statements))
	for _, v := range r.st.statements {
		c := *v
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r reader) GetFactoid(_ context.Context, id string) (*types.Factoid, error) {
	v, ok := r.st.factoids[id]
	if !ok {
		return nil, notFound("factoid", id)
	}
	return v.Clone(), nil
}

func (r reader) ListFactoids(_ context.Context) ([]*types.Factoid, error) {
	return r.factoidsWhere(func(*types.Factoid) bool { return true }), nil
}

func (r reader) FactoidsByEntity(_ context.Context, entityID string) ([]*types.Factoid, error) {
	return r.factoidsWhere(func(f *types.Factoid) bool {
		return f.PersonID == entityID || f.SourceID == entityID
	}), nil
}

func (r reader) FactoidsByStatement(_ context.Context, statementID string) ([]*types.Factoid, error) {
	return r.factoidsWhere(func(f *types.Factoid) bool {
		for _, id := range f.StatementIDs {
			if id == statementID {
				return true
			}
		}
		return false
	}), nil
}

func (r reader) factoidsWhere(pred func(*types.Factoid) bool) []*types.Factoid {
	var out []*types.Factoid
	for _, v := range r.st.factoids {
		if pred(v) {
			out = append(out, v.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
