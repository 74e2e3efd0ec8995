package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/soundprediction/ipifhub/pkg/store"
	"github.com/soundprediction/ipifhub/pkg/types"
)

type tx struct {
	reader
	store.CommitHooks
	sqlTx *sql.Tx
	ctx   context.Context
}

func affected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(kind, id)
	}
	return nil
}

func (t *tx) PutRepo(ctx context.Context, r *types.Repo) error {
	if err := r.Validate(); err != nil {
		return err
	}
	_, err := t.exec(ctx, `INSERT INTO repos (`+repoCols+`) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (slug) DO UPDATE SET name = excluded.name, endpoint_uri = excluded.endpoint_uri,
		created_at = excluded.created_at, updated_at = excluded.updated_at`,
		r.Slug, r.Name, r.EndpointURI, formatTime(r.CreatedAt), formatTime(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("put repo %s: %w", r.Slug, err)
	}
	return nil
}

func (t *tx) PutEntity(ctx context.Context, e *types.Entity) error {
	if err := e.Validate(); err != nil {
		return err
	}
	var kind string
	err := t.queryRow(ctx, `SELECT kind FROM entities WHERE id = ?`, e.ID).Scan(&kind)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("put entity %s: %w", e.ID, err)
	case kind != string(e.Kind):
		return fmt.Errorf("entity %s is a %s, not a %s: %w", e.ID, kind, e.Kind, types.ErrKindMismatch)
	}

	_, err = t.exec(ctx, `INSERT INTO entities (`+entityCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET repo = excluded.repo, local_id = excluded.local_id,
		identifier = excluded.identifier, label = excluded.label,
		created_by = excluded.created_by, created_when = excluded.created_when,
		modified_by = excluded.modified_by, modified_when = excluded.modified_when,
		hash = excluded.hash, updated_at = excluded.updated_at`,
		e.ID, string(e.Kind), e.Repo, e.LocalID, e.Identifier, e.Label,
		e.CreatedBy, formatTime(e.CreatedWhen), e.ModifiedBy, formatTime(e.ModifiedWhen),
		e.Hash, formatTime(e.UpdatedAt))
	if err != nil {
		return fmt.Errorf("put entity %s: %w", e.ID, err)
	}

	if _, err := t.exec(ctx, `DELETE FROM entity_uris WHERE entity_id = ?`, e.ID); err != nil {
		return fmt.Errorf("put entity %s uris: %w", e.ID, err)
	}
	for _, u := range types.SortedUnique(e.URIs) {
		if _, err := t.exec(ctx, `INSERT INTO entity_uris (entity_id, uri) VALUES (?, ?)`, e.ID, u); err != nil {
			return fmt.Errorf("put entity %s uri %s: %w", e.ID, u, err)
		}
	}
	return nil
}

func (t *tx) DeleteEntity(ctx context.Context, id string) error {
	res, err := t.exec(ctx, `DELETE FROM entities WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete entity %s: %w", id, err)
	}
	if err := affected(res, "entity", id); err != nil {
		return err
	}
	if _, err := t.exec(ctx, `DELETE FROM entity_uris WHERE entity_id = ?`, id); err != nil {
		return fmt.Errorf("delete entity %s uris: %w", id, err)
	}
	return nil
}

// checkJoin verifies entityID exists, has the cluster's kind and is not yet
// clustered.
func (t *tx) checkJoin(ctx context.Context, kind types.EntityKind, entityID string) error {
	var entityKind string
	err := t.queryRow(ctx, `SELECT kind FROM entities WHERE id = ?`, entityID).Scan(&entityKind)
	if err != nil {
		return wrapNoRows(err, "entity", entityID)
	}
	if entityKind != string(kind) {
		return fmt.Errorf("entity %s is a %s, cluster holds %s: %w", entityID, entityKind, kind, types.ErrInvariant)
	}
	var clusterID string
	err = t.queryRow(ctx, `SELECT merge_id FROM merge_members WHERE entity_id = ?`, entityID).Scan(&clusterID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return err
	}
	return fmt.Errorf("entity %s already in cluster %s: %w", entityID, clusterID, types.ErrInvariant)
}

func (t *tx) CreateCluster(ctx context.Context, m *types.MergeEntity) error {
	if m.ID == "" {
		return types.ErrEmptyID
	}
	if len(m.Members) == 0 {
		return types.ErrEmptyMembers
	}
	var existing string
	err := t.queryRow(ctx, `SELECT id FROM merge_entities WHERE id = ?`, m.ID).Scan(&existing)
	if err == nil {
		return fmt.Errorf("cluster %s already exists: %w", m.ID, types.ErrInvariant)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	members := types.SortedUnique(m.Members)
	for _, eid := range members {
		if err := t.checkJoin(ctx, m.Kind, eid); err != nil {
			return err
		}
	}
	if _, err := t.exec(ctx, `INSERT INTO merge_entities (id, kind, created_at, modified_at) VALUES (?, ?, ?, ?)`,
		m.ID, string(m.Kind), formatTime(m.CreatedAt), formatTime(m.ModifiedAt)); err != nil {
		return fmt.Errorf("create cluster %s: %w", m.ID, err)
	}
	for _, eid := range members {
		if _, err := t.exec(ctx, `INSERT INTO merge_members (entity_id, merge_id) VALUES (?, ?)`, eid, m.ID); err != nil {
			return fmt.Errorf("create cluster %s member %s: %w", m.ID, eid, err)
		}
	}
	return nil
}

func (t *tx) DeleteCluster(ctx context.Context, id string) error {
	res, err := t.exec(ctx, `DELETE FROM merge_entities WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete cluster %s: %w", id, err)
	}
	if err := affected(res, "cluster", id); err != nil {
		return err
	}
	if _, err := t.exec(ctx, `DELETE FROM merge_members WHERE merge_id = ?`, id); err != nil {
		return fmt.Errorf("delete cluster %s members: %w", id, err)
	}
	return nil
}

func (t *tx) AddClusterMember(ctx context.Context, clusterID, entityID string) error {
	var kind string
	err := t.queryRow(ctx, `SELECT kind FROM merge_entities WHERE id = ?`, clusterID).Scan(&kind)
	if err != nil {
		return wrapNoRows(err, "cluster", clusterID)
	}
	if err := t.checkJoin(ctx, types.EntityKind(kind), entityID); err != nil {
		return err
	}
	if _, err := t.exec(ctx, `INSERT INTO merge_members (entity_id, merge_id) VALUES (?, ?)`, entityID, clusterID); err != nil {
		return fmt.Errorf("add member %s to %s: %w", entityID, clusterID, err)
	}
	return nil
}

func (t *tx) RemoveClusterMember(ctx context.Context, clusterID, entityID string) error {
	var kind string
	err := t.queryRow(ctx, `SELECT kind FROM merge_entities WHERE id = ?`, clusterID).Scan(&kind)
	if err != nil {
		return wrapNoRows(err, "cluster", clusterID)
	}
	res, err := t.exec(ctx, `DELETE FROM merge_members WHERE merge_id = ? AND entity_id = ?`, clusterID, entityID)
	if err != nil {
		return fmt.Errorf("remove member %s from %s: %w", entityID, clusterID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("entity %s not in cluster %s: %w", entityID, clusterID, types.ErrInvariant)
	}
	return nil
}

func (t *tx) PutStatement(ctx context.Context, s *types.Statement) error {
	if err := s.Validate(); err != nil {
		return err
	}
	_, err := t.exec(ctx, `INSERT INTO statements (`+statementCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET repo = excluded.repo, local_id = excluded.local_id,
		identifier = excluded.identifier, label = excluded.label, statement_type = excluded.statement_type,
		name = excluded.name, role = excluded.role, date = excluded.date, place = excluded.place,
		statement_text = excluded.statement_text,
		created_by = excluded.created_by, created_when = excluded.created_when,
		modified_by = excluded.modified_by, modified_when = excluded.modified_when,
		hash = excluded.hash, updated_at = excluded.updated_at`,
		s.ID, s.Repo, s.LocalID, s.Identifier, s.Label, s.StatementType, s.Name, s.Role, s.Date, s.Place, s.Text,
		s.CreatedBy, formatTime(s.CreatedWhen), s.ModifiedBy, formatTime(s.ModifiedWhen),
		s.Hash, formatTime(s.UpdatedAt))
	if err != nil {
		return fmt.Errorf("put statement %s: %w", s.ID, err)
	}
	return nil
}

func (t *tx) DeleteStatement(ctx context.Context, id string) error {
	res, err := t.exec(ctx, `DELETE FROM statements WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete statement %s: %w", id, err)
	}
	if err := affected(res, "statement", id); err != nil {
		return err
	}
	if _, err := t.exec(ctx, `DELETE FROM factoid_statements WHERE statement_id = ?`, id); err != nil {
		return fmt.Errorf("delete statement %s links: %w", id, err)
	}
	return nil
}

func (t *tx) PutFactoid(ctx context.Context, f *types.Factoid) error {
	if err := f.Validate(); err != nil {
		return err
	}
	_, err := t.exec(ctx, `INSERT INTO factoids (id, repo, local_id, identifier, label, person_id, source_id,
		created_by, created_when, modified_by, modified_when, hash, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET repo = excluded.repo, local_id = excluded.local_id,
		identifier = excluded.identifier, label = excluded.label,
		person_id = excluded.person_id, source_id = excluded.source_id,
		created_by = excluded.created_by, created_when = excluded.created_when,
		modified_by = excluded.modified_by, modified_when = excluded.modified_when,
		hash = excluded.hash, updated_at = excluded.updated_at`,
		f.ID, f.Repo, f.LocalID, f.Identifier, f.Label, f.PersonID, f.SourceID,
		f.CreatedBy, formatTime(f.CreatedWhen), f.ModifiedBy, formatTime(f.ModifiedWhen),
		f.Hash, formatTime(f.UpdatedAt))
	if err != nil {
		return fmt.Errorf("put factoid %s: %w", f.ID, err)
	}
	if _, err := t.exec(ctx, `DELETE FROM factoid_statements WHERE factoid_id = ?`, f.ID); err != nil {
		return fmt.Errorf("put factoid %s statements: %w", f.ID, err)
	}
	for _, sid := range types.SortedUnique(f.StatementIDs) {
		if _, err := t.exec(ctx, `INSERT INTO factoid_statements (factoid_id, statement_id) VALUES (?, ?)`, f.ID, sid); err != nil {
			return fmt.Errorf("put factoid %s statement %s: %w", f.ID, sid, err)
		}
	}
	return nil
}

func (t *tx) DeleteFactoid(ctx context.Context, id string) error {
	res, err := t.exec(ctx, `DELETE FROM factoids WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete factoid %s: %w", id, err)
	}
	if err := affected(res, "factoid", id); err != nil {
		return err
	}
	if _, err := t.exec(ctx, `DELETE FROM factoid_statements WHERE factoid_id = ?`, id); err != nil {
		return fmt.Errorf("delete factoid %s statements: %w", id, err)
	}
	return nil
}

func (t *tx) Commit() error {
	if err := t.sqlTx.Commit(); err != nil {
		t.DiscardHooks()
		return fmt.Errorf("commit: %w", err)
	}
	t.RunHooks(t.ctx)
	return nil
}

func (t *tx) Rollback() error {
	t.DiscardHooks()
	err := t.sqlTx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}
