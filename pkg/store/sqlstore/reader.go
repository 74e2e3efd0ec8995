package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/soundprediction/ipifhub/pkg/types"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

type reader struct {
	q querier
	d dialect
}

func (r reader) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return r.q.QueryContext(ctx, r.d.rebind(q), args...)
}

func (r reader) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return r.q.QueryRowContext(ctx, r.d.rebind(q), args...)
}

func (r reader) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return r.q.ExecContext(ctx, r.d.rebind(q), args...)
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, types.ErrNotFound)
}

func wrapNoRows(err error, kind, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(kind, id)
	}
	return fmt.Errorf("load %s %q: %w", kind, id, err)
}

// strings loads a single text column.
func (r reader) strings(ctx context.Context, q string, args ...any) ([]string, error) {
	rows, err := r.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Repos

const repoCols = `slug, name, endpoint_uri, created_at, updated_at`

func scanRepo(s scanner) (*types.Repo, error) {
	var r types.Repo
	var created, updated string
	if err := s.Scan(&r.Slug, &r.Name, &r.EndpointURI, &created, &updated); err != nil {
		return nil, err
	}
	r.CreatedAt = parseTime(created)
	r.UpdatedAt = parseTime(updated)
	return &r, nil
}

func (r reader) GetRepo(ctx context.Context, slug string) (*types.Repo, error) {
	repo, err := scanRepo(r.queryRow(ctx, `SELECT `+repoCols+` FROM repos WHERE slug = ?`, slug))
	if err != nil {
		return nil, wrapNoRows(err, "repo", slug)
	}
	return repo, nil
}

func (r reader) ListRepos(ctx context.Context) ([]*types.Repo, error) {
	rows, err := r.query(ctx, `SELECT `+repoCols+` FROM repos ORDER BY slug`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*types.Repo
	for rows.Next() {
		repo, err := scanRepo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, repo)
	}
	return out, rows.Err()
}

// Entities

const entityCols = `id, kind, repo, local_id, identifier, label, created_by, created_when, modified_by, modified_when, hash, updated_at`

func scanEntity(s scanner) (*types.Entity, error) {
	var e types.Entity
	var kind, createdWhen, modifiedWhen, updated string
	if err := s.Scan(&e.ID, &kind, &e.Repo, &e.LocalID, &e.Identifier, &e.Label,
		&e.CreatedBy, &createdWhen, &e.ModifiedBy, &modifiedWhen, &e.Hash, &updated); err != nil {
		return nil, err
	}
	e.Kind = types.EntityKind(kind)
	e.CreatedWhen = parseTime(createdWhen)
	e.ModifiedWhen = parseTime(modifiedWhen)
	e.UpdatedAt = parseTime(updated)
	return &e, nil
}

func (r reader) entityURIs(ctx context.Context, id string) ([]string, error) {
	return r.strings(ctx, `SELECT uri FROM entity_uris WHERE entity_id = ? ORDER BY uri`, id)
}

func (r reader) GetEntity(ctx context.Context, id string) (*types.Entity, error) {
	e, err := scanEntity(r.queryRow(ctx, `SELECT `+entityCols+` FROM entities WHERE id = ?`, id))
	if err != nil {
		return nil, wrapNoRows(err, "entity", id)
	}
	if e.URIs, err = r.entityURIs(ctx, id); err != nil {
		return nil, err
	}
	return e, nil
}

func (r reader) FindEntity(ctx context.Context, kind types.EntityKind, repo, localID string) (*types.Entity, error) {
	e, err := scanEntity(r.queryRow(ctx,
		`SELECT `+entityCols+` FROM entities WHERE kind = ? AND repo = ? AND local_id = ? ORDER BY id LIMIT 1`,
		string(kind), repo, localID))
	if err != nil {
		return nil, wrapNoRows(err, "entity", repo+"/"+localID)
	}
	if e.URIs, err = r.entityURIs(ctx, e.ID); err != nil {
		return nil, err
	}
	return e, nil
}

func (r reader) ListEntities(ctx context.Context, kind types.EntityKind) ([]*types.Entity, error) {
	rows, err := r.query(ctx, `SELECT `+entityCols+` FROM entities WHERE kind = ? ORDER BY id`, string(kind))
	if err != nil {
		return nil, err
	}
	var out []*types.Entity
	byID := map[string]*types.Entity{}
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, e)
		byID[e.ID] = e
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	uriRows, err := r.query(ctx, `SELECT u.entity_id, u.uri FROM entity_uris u
		JOIN entities e ON e.id = u.entity_id
		WHERE e.kind = ? ORDER BY u.entity_id, u.uri`, string(kind))
	if err != nil {
		return nil, err
	}
	defer uriRows.Close()
	for uriRows.Next() {
		var id, uri string
		if err := uriRows.Scan(&id, &uri); err != nil {
			return nil, err
		}
		if e := byID[id]; e != nil {
			e.URIs = append(e.URIs, uri)
		}
	}
	return out, uriRows.Err()
}

// Clusters

func (r reader) members(ctx context.Context, clusterID string) ([]string, error) {
	return r.strings(ctx, `SELECT entity_id FROM merge_members WHERE merge_id = ? ORDER BY entity_id`, clusterID)
}

func (r reader) GetCluster(ctx context.Context, id string) (*types.MergeEntity, error) {
	var m types.MergeEntity
	var kind, created, modified string
	err := r.queryRow(ctx, `SELECT id, kind, created_at, modified_at FROM merge_entities WHERE id = ?`, id).
		Scan(&m.ID, &kind, &created, &modified)
	if err != nil {
		return nil, wrapNoRows(err, "cluster", id)
	}
	m.Kind = types.EntityKind(kind)
	m.CreatedAt = parseTime(created)
	m.ModifiedAt = parseTime(modified)
	if m.Members, err = r.members(ctx, id); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r reader) ClusterOf(ctx context.Context, entityID string) (*types.MergeEntity, error) {
	var clusterID string
	err := r.queryRow(ctx, `SELECT merge_id FROM merge_members WHERE entity_id = ?`, entityID).Scan(&clusterID)
	if err != nil {
		return nil, wrapNoRows(err, "cluster of entity", entityID)
	}
	return r.GetCluster(ctx, clusterID)
}

func (r reader) clusters(ctx context.Context, ids []string) ([]*types.MergeEntity, error) {
	out := make([]*types.MergeEntity, 0, len(ids))
	for _, id := range ids {
		m, err := r.GetCluster(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (r reader) ClustersSharingURIs(ctx context.Context, kind types.EntityKind, uris []string) ([]*types.MergeEntity, error) {
	uris = types.SortedUnique(uris)
	if len(uris) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(uris)+1)
	args = append(args, string(kind))
	for _, u := range uris {
		args = append(args, u)
	}
	ids, err := r.strings(ctx, `SELECT DISTINCT m.merge_id FROM entity_uris u
		JOIN entities e ON e.id = u.entity_id
		JOIN merge_members m ON m.entity_id = e.id
		WHERE e.kind = ? AND u.uri IN (`+placeholders(len(uris))+`)
		ORDER BY m.merge_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("clusters sharing uris: %w", err)
	}
	return r.clusters(ctx, ids)
}

func (r reader) ListClusters(ctx context.Context, kind types.EntityKind) ([]*types.MergeEntity, error) {
	ids, err := r.strings(ctx, `SELECT id FROM merge_entities WHERE kind = ? ORDER BY id`, string(kind))
	if err != nil {
		return nil, err
	}
	return r.clusters(ctx, ids)
}

// Statements

const statementCols = `id, repo, local_id, identifier, label, statement_type, name, role, date, place, statement_text,
	created_by, created_when, modified_by, modified_when, hash, updated_at`

func scanStatement(s scanner) (*types.Statement, error) {
	var st types.Statement
	var createdWhen, modifiedWhen, updated string
	if err := s.Scan(&st.ID, &st.Repo, &st.LocalID, &st.Identifier, &st.Label, &st.StatementType,
		&st.Name, &st.Role, &st.Date, &st.Place, &st.Text,
		&st.CreatedBy, &createdWhen, &st.ModifiedBy, &modifiedWhen, &st.Hash, &updated); err != nil {
		return nil, err
	}
	st.CreatedWhen = parseTime(createdWhen)
	st.ModifiedWhen = parseTime(modifiedWhen)
	st.UpdatedAt = parseTime(updated)
	return &st, nil
}

func (r reader) GetStatement(ctx context.Context, id string) (*types.Statement, error) {
	st, err := scanStatement(r.queryRow(ctx, `SELECT `+statementCols+` FROM statements WHERE id = ?`, id))
	if err != nil {
		return nil, wrapNoRows(err, "statement", id)
	}
	return st, nil
}

func (r reader) ListStatements(ctx context.Context) ([]*types.Statement, error) {
	rows, err := r.query(ctx, `SELECT `+statementCols+` FROM statements ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*types.Statement
	for rows.Next() {
		st, err := scanStatement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// Factoids

const factoidCols = `f.id, f.repo, f.local_id, f.identifier, f.label, f.person_id, f.source_id,
	f.created_by, f.created_when, f.modified_by, f.modified_when, f.hash, f.updated_at`

func scanFactoid(s scanner) (*types.Factoid, error) {
	var f types.Factoid
	var createdWhen, modifiedWhen, updated string
	if err := s.Scan(&f.ID, &f.Repo, &f.LocalID, &f.Identifier, &f.Label, &f.PersonID, &f.SourceID,
		&f.CreatedBy, &createdWhen, &f.ModifiedBy, &modifiedWhen, &f.Hash, &updated); err != nil {
		return nil, err
	}
	f.CreatedWhen = parseTime(createdWhen)
	f.ModifiedWhen = parseTime(modifiedWhen)
	f.UpdatedAt = parseTime(updated)
	return &f, nil
}

func (r reader) factoids(ctx context.Context, where string, args ...any) ([]*types.Factoid, error) {
	rows, err := r.query(ctx, `SELECT DISTINCT `+factoidCols+` FROM factoids f `+where+` ORDER BY f.id`, args...)
	if err != nil {
		return nil, err
	}
	var out []*types.Factoid
	for rows.Next() {
		f, err := scanFactoid(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, f)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, f := range out {
		if f.StatementIDs, err = r.factoidStatements(ctx, f.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r reader) factoidStatements(ctx context.Context, factoidID string) ([]string, error) {
	return r.strings(ctx, `SELECT statement_id FROM factoid_statements WHERE factoid_id = ? ORDER BY statement_id`, factoidID)
}

func (r reader) GetFactoid(ctx context.Context, id string) (*types.Factoid, error) {
	out, err := r.factoids(ctx, `WHERE f.id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, notFound("factoid", id)
	}
	return out[0], nil
}

func (r reader) ListFactoids(ctx context.Context) ([]*types.Factoid, error) {
	return r.factoids(ctx, ``)
}

func (r reader) FactoidsByEntity(ctx context.Context, entityID string) ([]*types.Factoid, error) {
	return r.factoids(ctx, `WHERE f.person_id = ? OR f.source_id = ?`, entityID, entityID)
}

func (r reader) FactoidsByStatement(ctx context.Context, statementID string) ([]*types.Factoid, error) {
	return r.factoids(ctx, `JOIN factoid_statements fs ON fs.factoid_id = f.id WHERE fs.statement_id = ?`, statementID)
}
