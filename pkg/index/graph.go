package index

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/soundprediction/ipifhub/pkg/driver"
	"github.com/soundprediction/ipifhub/pkg/types"
)

const (
	upsertDocumentQuery = `
		MERGE (d:Document {id: $id})
		SET d.kind = $kind,
			d.repo = $repo,
			d.label = $label,
			d.uris = $uris,
			d.uris_text = $uris_text,
			d.text = $text,
			d.body = $body,
			d.modified_at = $modified_at`

	deleteDocumentQuery = `
		MATCH (d:Document {id: $id})
		DETACH DELETE d`

	documentReturn = `
		RETURN d.id AS id, d.kind AS kind, d.repo AS repo, d.label AS label,
			d.uris AS uris, d.text AS text, d.body AS body, d.modified_at AS modified_at`
)

// GraphIndex stores documents as :Document nodes in a graph database.
type GraphIndex struct {
	driver driver.GraphDriver
}

// NewGraphIndex returns an index over d. Call d.BuildIndices once at startup.
func NewGraphIndex(d driver.GraphDriver) *GraphIndex {
	return &GraphIndex{driver: d}
}

func (g *GraphIndex) Upsert(ctx context.Context, doc *Document) error {
	if doc == nil || doc.ID == "" {
		return types.ErrEmptyID
	}
	uris := doc.URIs
	if uris == nil {
		uris = []string{}
	}
	params := map[string]any{
		"id":          doc.ID,
		"kind":        doc.Kind.String(),
		"repo":        doc.Repo,
		"label":       doc.Label,
		"uris":        uris,
		"uris_text":   strings.Join(uris, " "),
		"text":        doc.Text,
		"body":        string(doc.Body),
		"modified_at": doc.ModifiedAt.UTC().Format(time.RFC3339Nano),
	}
	if _, err := g.driver.ExecuteQuery(ctx, upsertDocumentQuery, params); err != nil {
		return fmt.Errorf("upsert document %s: %w", doc.ID, err)
	}
	return nil
}

func (g *GraphIndex) Delete(ctx context.Context, id string) error {
	if _, err := g.driver.ExecuteQuery(ctx, deleteDocumentQuery, map[string]any{"id": id}); err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	return nil
}

func (g *GraphIndex) Get(ctx context.Context, id string) (*Document, error) {
	res, err := g.driver.ExecuteQuery(ctx, "MATCH (d:Document {id: $id})"+documentReturn+" LIMIT 1", map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	if len(res.Records) == 0 {
		return nil, fmt.Errorf("document %q: %w", id, types.ErrNotFound)
	}
	return documentFromRecord(res.Records[0])
}

func (g *GraphIndex) Query(ctx context.Context, q Query) ([]*Document, error) {
	query, params := buildQuery(q)
	res, err := g.driver.ExecuteQuery(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	out := make([]*Document, 0, len(res.Records))
	for _, rec := range res.Records {
		d, err := documentFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func buildQuery(q Query) (string, map[string]any) {
	var where []string
	params := map[string]any{}
	if q.Kind != nil {
		where = append(where, "d.kind = $kind")
		params["kind"] = q.Kind.String()
	}
	if q.Repo != "" {
		where = append(where, "d.repo = $repo")
		params["repo"] = q.Repo
	}
	if q.URI != "" {
		where = append(where, "$uri IN d.uris")
		params["uri"] = q.URI
	}
	if q.Text != "" {
		where = append(where, "(toLower(d.label) CONTAINS $text OR toLower(d.text) CONTAINS $text OR any(u IN d.uris WHERE toLower(u) CONTAINS $text))")
		params["text"] = strings.ToLower(q.Text)
	}

	var sb strings.Builder
	sb.WriteString("MATCH (d:Document)")
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	sb.WriteString(documentReturn)
	sb.WriteString(" ORDER BY id")
	if q.Offset > 0 {
		sb.WriteString(" SKIP $offset")
		params["offset"] = int64(q.Offset)
	}
	if q.Limit > 0 {
		sb.WriteString(" LIMIT $limit")
		params["limit"] = int64(q.Limit)
	}
	return sb.String(), params
}

func documentFromRecord(rec *neo4j.Record) (*Document, error) {
	var d Document
	var err error
	if d.ID, err = driver.RecordString(rec, "id"); err != nil {
		return nil, err
	}
	kind, err := driver.RecordString(rec, "kind")
	if err != nil {
		return nil, err
	}
	if d.Kind, err = types.ParseRecordKind(kind); err != nil {
		return nil, fmt.Errorf("document %s: %w", d.ID, err)
	}
	if d.Repo, err = driver.RecordString(rec, "repo"); err != nil {
		return nil, err
	}
	if d.Label, err = driver.RecordString(rec, "label"); err != nil {
		return nil, err
	}
	if d.URIs, err = driver.RecordStrings(rec, "uris"); err != nil {
		return nil, err
	}
	if d.Text, err = driver.RecordString(rec, "text"); err != nil {
		return nil, err
	}
	body, err := driver.RecordString(rec, "body")
	if err != nil {
		return nil, err
	}
	d.Body = []byte(body)
	modified, err := driver.RecordString(rec, "modified_at")
	if err != nil {
		return nil, err
	}
	if modified != "" {
		if d.ModifiedAt, err = time.Parse(time.RFC3339Nano, modified); err != nil {
			return nil, fmt.Errorf("document %s modified_at: %w", d.ID, err)
		}
	}
	return &d, nil
}
