package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/soundprediction/ipifhub/pkg/store"
	"github.com/soundprediction/ipifhub/pkg/types"
)

// fallbackMergeID is the "@id" of a cluster every member URI of which is
// hub-local.
const fallbackMergeID = "http://merge_source.com"

// Projector builds index documents from current store state.
type Projector struct {
	baseURI         string
	autocreatedRepo string
}

// NewProjector returns a Projector. baseURI identifies hub-local URIs, which
// are never chosen as a cluster's "@id".
func NewProjector(baseURI, autocreatedRepo string) *Projector {
	if autocreatedRepo == "" {
		autocreatedRepo = types.DefaultAutocreatedRepo
	}
	return &Projector{baseURI: strings.TrimSuffix(baseURI, "/"), autocreatedRepo: autocreatedRepo}
}

type projectFunc func(p *Projector, ctx context.Context, r store.Reader, ref types.Ref) (*Document, error)

var projections = [types.NumRecordKinds]projectFunc{
	types.Person:          (*Projector).entity,
	types.Source:          (*Projector).entity,
	types.StatementRecord: (*Projector).statement,
	types.FactoidRecord:   (*Projector).factoid,
	types.MergePerson:     (*Projector).cluster,
	types.MergeSource:     (*Projector).cluster,
}

// Project returns the document for ref. A missing record yields an error
// wrapping types.ErrNotFound, a placeholder entity ErrNotIndexed.
func (p *Projector) Project(ctx context.Context, r store.Reader, ref types.Ref) (*Document, error) {
	if !ref.Kind.Valid() {
		return nil, fmt.Errorf("project %s: %w", ref, types.ErrUnknownKind)
	}
	return projections[ref.Kind](p, ctx, r, ref)
}

// refJSON is the compact {"@id", "label"} reference form.
type refJSON struct {
	ID    string `json:"@id"`
	Label string `json:"label,omitempty"`
}

type factoidRefJSON struct {
	ID            string    `json:"@id"`
	Label         string    `json:"label,omitempty"`
	PersonRef     refJSON   `json:"person-ref"`
	SourceRef     refJSON   `json:"source-ref"`
	StatementRefs []refJSON `json:"statement-refs"`
}

type provenanceJSON struct {
	CreatedBy    string     `json:"createdBy,omitempty"`
	CreatedWhen  *time.Time `json:"createdWhen,omitempty"`
	ModifiedBy   string     `json:"modifiedBy,omitempty"`
	ModifiedWhen *time.Time `json:"modifiedWhen,omitempty"`
}

func provenance(pv types.Provenance) provenanceJSON {
	out := provenanceJSON{CreatedBy: pv.CreatedBy, ModifiedBy: pv.ModifiedBy}
	if !pv.CreatedWhen.IsZero() {
		t := pv.CreatedWhen
		out.CreatedWhen = &t
	}
	if !pv.ModifiedWhen.IsZero() {
		t := pv.ModifiedWhen
		out.ModifiedWhen = &t
	}
	return out
}

type entityJSON struct {
	ID          string           `json:"@id"`
	Label       string           `json:"label"`
	URIs        []string         `json:"uris"`
	FactoidRefs []factoidRefJSON `json:"factoid-refs"`
	provenanceJSON
}

type statementJSON struct {
	ID            string           `json:"@id"`
	Label         string           `json:"label,omitempty"`
	StatementType string           `json:"statementType,omitempty"`
	Name          string           `json:"name,omitempty"`
	Role          string           `json:"role,omitempty"`
	Date          string           `json:"date,omitempty"`
	Place         string           `json:"place,omitempty"`
	Text          string           `json:"statementText,omitempty"`
	FactoidRefs   []factoidRefJSON `json:"factoid-refs"`
	provenanceJSON
}

type factoidJSON struct {
	ID            string    `json:"@id"`
	Label         string    `json:"label,omitempty"`
	PersonRef     refJSON   `json:"person-ref"`
	SourceRef     refJSON   `json:"source-ref"`
	StatementRefs []refJSON `json:"statement-refs"`
	provenanceJSON
}

type clusterJSON struct {
	ID          string           `json:"@id"`
	Label       string           `json:"label,omitempty"`
	URIs        []string         `json:"uris"`
	Members     []refJSON        `json:"members"`
	FactoidRefs []factoidRefJSON `json:"factoid-refs"`
}

func (p *Projector) entity(ctx context.Context, r store.Reader, ref types.Ref) (*Document, error) {
	e, err := r.GetEntity(ctx, ref.ID)
	if err != nil {
		return nil, err
	}
	if e.Repo == p.autocreatedRepo {
		return nil, fmt.Errorf("%s: %w", ref, ErrNotIndexed)
	}
	fs, err := r.FactoidsByEntity(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	refs, err := p.factoidRefs(ctx, r, fs)
	if err != nil {
		return nil, err
	}
	body := entityJSON{
		ID:             e.Identifier,
		Label:          e.Label,
		URIs:           nonNil(e.URIs),
		FactoidRefs:    refs,
		provenanceJSON: provenance(e.Provenance),
	}
	return newDocument(ref, e.Repo, e.Label, e.URIs, e.Label+"\n"+e.Identifier, e.UpdatedAt, body)
}

func (p *Projector) statement(ctx context.Context, r store.Reader, ref types.Ref) (*Document, error) {
	s, err := r.GetStatement(ctx, ref.ID)
	if err != nil {
		return nil, err
	}
	fs, err := r.FactoidsByStatement(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	refs, err := p.factoidRefs(ctx, r, fs)
	if err != nil {
		return nil, err
	}
	body := statementJSON{
		ID:             s.Identifier,
		Label:          s.Label,
		StatementType:  s.StatementType,
		Name:           s.Name,
		Role:           s.Role,
		Date:           s.Date,
		Place:          s.Place,
		Text:           s.Text,
		FactoidRefs:    refs,
		provenanceJSON: provenance(s.Provenance),
	}
	text := strings.Join([]string{s.Name, s.Role, s.Date, s.Place, s.Text}, "\n")
	return newDocument(ref, s.Repo, s.Label, nil, text, s.UpdatedAt, body)
}

func (p *Projector) factoid(ctx context.Context, r store.Reader, ref types.Ref) (*Document, error) {
	f, err := r.GetFactoid(ctx, ref.ID)
	if err != nil {
		return nil, err
	}
	fr, err := p.factoidRef(ctx, r, f)
	if err != nil {
		return nil, err
	}
	body := factoidJSON{
		ID:             fr.ID,
		Label:          fr.Label,
		PersonRef:      fr.PersonRef,
		SourceRef:      fr.SourceRef,
		StatementRefs:  fr.StatementRefs,
		provenanceJSON: provenance(f.Provenance),
	}
	return newDocument(ref, f.Repo, f.Label, nil, f.Label, f.UpdatedAt, body)
}

func (p *Projector) cluster(ctx context.Context, r store.Reader, ref types.Ref) (*Document, error) {
	m, err := r.GetCluster(ctx, ref.ID)
	if err != nil {
		return nil, err
	}
	if m.Kind.ClusterKind() != ref.Kind {
		return nil, fmt.Errorf("%s holds %s entities: %w", ref, m.Kind, types.ErrKindMismatch)
	}

	uris := types.NewURISet()
	var (
		members []refJSON
		facts   []*types.Factoid
		label   string
		text    []string
	)
	for _, id := range m.Members {
		e, err := r.GetEntity(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%s member %s: %w", ref, id, err)
		}
		uris.Add(e.URIs...)
		members = append(members, refJSON{ID: e.Identifier, Label: e.Label})
		if label == "" {
			label = e.Label
		}
		text = append(text, e.Label)
		fs, err := r.FactoidsByEntity(ctx, id)
		if err != nil {
			return nil, err
		}
		facts = append(facts, fs...)
	}
	refs, err := p.factoidRefs(ctx, r, facts)
	if err != nil {
		return nil, err
	}

	sorted := uris.Sorted()
	body := clusterJSON{
		ID:          p.chooseID(sorted),
		Label:       label,
		URIs:        nonNil(sorted),
		Members:     members,
		FactoidRefs: refs,
	}
	return newDocument(ref, "", label, sorted, strings.Join(text, "\n"), m.ModifiedAt, body)
}

// chooseID picks the first URI that is not hub-local.
func (p *Projector) chooseID(uris []string) string {
	for _, u := range uris {
		if p.baseURI == "" || !strings.HasPrefix(u, p.baseURI) {
			return u
		}
	}
	return fallbackMergeID
}

func (p *Projector) factoidRefs(ctx context.Context, r store.Reader, fs []*types.Factoid) ([]factoidRefJSON, error) {
	out := make([]factoidRefJSON, 0, len(fs))
	for _, f := range fs {
		fr, err := p.factoidRef(ctx, r, f)
		if err != nil {
			return nil, err
		}
		out = append(out, fr)
	}
	return out, nil
}

func (p *Projector) factoidRef(ctx context.Context, r store.Reader, f *types.Factoid) (factoidRefJSON, error) {
	fr := factoidRefJSON{ID: f.Identifier, Label: f.Label, StatementRefs: []refJSON{}}
	var err error
	if fr.PersonRef, err = entityRef(ctx, r, f.PersonID); err != nil {
		return fr, err
	}
	if fr.SourceRef, err = entityRef(ctx, r, f.SourceID); err != nil {
		return fr, err
	}
	for _, sid := range f.StatementIDs {
		s, err := r.GetStatement(ctx, sid)
		if errors.Is(err, types.ErrNotFound) {
			continue
		}
		if err != nil {
			return fr, err
		}
		fr.StatementRefs = append(fr.StatementRefs, refJSON{ID: s.Identifier, Label: s.Label})
	}
	return fr, nil
}

func entityRef(ctx context.Context, r store.Reader, id string) (refJSON, error) {
	e, err := r.GetEntity(ctx, id)
	if errors.Is(err, types.ErrNotFound) {
		return refJSON{ID: id}, nil
	}
	if err != nil {
		return refJSON{}, err
	}
	return refJSON{ID: e.Identifier, Label: e.Label}, nil
}

func newDocument(ref types.Ref, repo, label string, uris []string, text string, modified time.Time, body any) (*Document, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ref, err)
	}
	return &Document{
		ID:         DocumentID(ref),
		Kind:       ref.Kind,
		Repo:       repo,
		Label:      label,
		URIs:       append([]string(nil), uris...),
		Text:       strings.TrimSpace(text),
		Body:       raw,
		ModifiedAt: modified,
	}, nil
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
