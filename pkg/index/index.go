// Package index defines the search index the synchronizer keeps in step with
// the backing store, the projection of records into index documents, and the
// available backends.
//
// Documents are keyed by the record ref ("person:<id>", "merge_person:<id>",
// ...), so an upsert is idempotent and a delete of an unknown id is a no-op.
package index

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/soundprediction/ipifhub/pkg/types"
)

// ErrNotIndexed is returned by a Projector for records that exist but must
// not appear in the index (placeholder entities).
var ErrNotIndexed = errors.New("record is not indexed")

// Document is the indexed form of one record.
type Document struct {
	ID         string           `json:"id"`
	Kind       types.RecordKind `json:"kind"`
	Repo       string           `json:"repo,omitempty"`
	Label      string           `json:"label,omitempty"`
	URIs       []string         `json:"uris,omitempty"`
	Text       string           `json:"text,omitempty"`
	Body       json.RawMessage  `json:"body"`
	ModifiedAt time.Time        `json:"modified_at"`
}

// Query selects documents. Zero fields do not filter.
type Query struct {
	Kind *types.RecordKind
	Repo string
	// Text matches case-insensitively against label, text and URIs.
	Text string
	// URI matches documents carrying exactly this URI.
	URI    string
	Limit  int
	Offset int
}

// Index is the external search index.
type Index interface {
	Upsert(ctx context.Context, doc *Document) error
	// Delete removes a document. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error
	// Get returns the document or an error wrapping types.ErrNotFound.
	Get(ctx context.Context, id string) (*Document, error)
	Query(ctx context.Context, q Query) ([]*Document, error)
}

// DocumentID returns the index key of ref.
func DocumentID(ref types.Ref) string {
	return ref.String()
}

// Matches reports whether doc satisfies q's filters.
func (q Query) Matches(doc *Document) bool {
	if q.Kind != nil && doc.Kind != *q.Kind {
		return false
	}
	if q.Repo != "" && doc.Repo != q.Repo {
		return false
	}
	if q.URI != "" && !containsString(doc.URIs, q.URI) {
		return false
	}
	if q.Text != "" {
		needle := strings.ToLower(q.Text)
		hay := strings.ToLower(doc.Label + "\n" + doc.Text + "\n" + strings.Join(doc.URIs, "\n"))
		if !strings.Contains(hay, needle) {
			return false
		}
	}
	return true
}

// page applies offset and limit to an ordered result.
func (q Query) page(docs []*Document) []*Document {
	if q.Offset > 0 {
		if q.Offset >= len(docs) {
			return nil
		}
		docs = docs[q.Offset:]
	}
	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
