package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Validation errors
var (
	ErrEmptyID         = errors.New("id cannot be empty")
	ErrEmptyRepo       = errors.New("repo cannot be empty")
	ErrEmptyIdentifier = errors.New("identifier cannot be empty")
	ErrUnknownKind     = errors.New("unknown record kind")
	ErrKindMismatch    = errors.New("record kind mismatch")
	ErrEmptyMembers    = errors.New("cluster must have at least one member")
)

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrInvariant marks a broken partition invariant. The enclosing unit of
	// work must be rolled back.
	ErrInvariant = errors.New("cluster invariant violated")
)

// DefaultAutocreatedRepo is the slug of the placeholder repository that owns
// entities created for dangling references.
const DefaultAutocreatedRepo = "IPIFHUB_AUTOCREATED"

// EntityKind distinguishes the two clusterable record families.
type EntityKind string

const (
	PersonKind EntityKind = "person"
	SourceKind EntityKind = "source"
)

// EntityKinds lists every clusterable kind.
func EntityKinds() []EntityKind {
	return []EntityKind{PersonKind, SourceKind}
}

// Valid reports whether k is a known entity kind.
func (k EntityKind) Valid() bool {
	return k == PersonKind || k == SourceKind
}

// Plural returns the collection name used in URIs ("persons", "sources").
func (k EntityKind) Plural() string {
	return string(k) + "s"
}

// RecordKind returns the record kind of a member entity.
func (k EntityKind) RecordKind() RecordKind {
	if k == SourceKind {
		return Source
	}
	return Person
}

// ClusterKind returns the record kind of clusters holding entities of kind k.
func (k EntityKind) ClusterKind() RecordKind {
	if k == SourceKind {
		return MergeSource
	}
	return MergePerson
}

// ParseEntityKind accepts both singular and plural forms.
func ParseEntityKind(s string) (EntityKind, error) {
	switch s {
	case "person", "persons":
		return PersonKind, nil
	case "source", "sources":
		return SourceKind, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Repo is a contributing repository.
type Repo struct {
	Slug        string    `json:"slug"`
	Name        string    `json:"name,omitempty"`
	EndpointURI string    `json:"endpoint_uri,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate checks if the Repo has all required fields set.
func (r *Repo) Validate() error {
	if r.Slug == "" {
		return ErrEmptyRepo
	}
	return nil
}

// Provenance carries the creation and modification metadata that every
// contributed record has.
type Provenance struct {
	CreatedBy    string    `json:"created_by,omitempty"`
	CreatedWhen  time.Time `json:"created_when,omitempty"`
	ModifiedBy   string    `json:"modified_by,omitempty"`
	ModifiedWhen time.Time `json:"modified_when,omitempty"`
}

// Entity is a person or source as contributed by one repository.
type Entity struct {
	ID         string     `json:"id"`
	Kind       EntityKind `json:"kind"`
	Repo       string     `json:"repo"`
	LocalID    string     `json:"local_id"`
	Identifier string     `json:"identifier"`
	Label      string     `json:"label,omitempty"`
	URIs       []string   `json:"uris"`
	Provenance
	Hash      string    `json:"hash,omitempty"`
	UpdatedAt time.Time `json:"hub_modified_at"`
}

// Validate checks if the Entity has all required fields set.
func (e *Entity) Validate() error {
	if e.ID == "" {
		return ErrEmptyID
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
	if e.Repo == "" {
		return ErrEmptyRepo
	}
	return nil
}

// Ref returns the typed pointer to this entity.
func (e *Entity) Ref() Ref {
	return Ref{Kind: e.Kind.RecordKind(), ID: e.ID}
}

// Clone returns a deep copy.
func (e *Entity) Clone() *Entity {
	c := *e
	c.URIs = append([]string(nil), e.URIs...)
	return &c
}

// URISet returns the entity's URIs as a set.
func (e *Entity) URISet() URISet {
	return NewURISet(e.URIs...)
}

// Statement is a single assertion (name, role, date...) made by a factoid.
type Statement struct {
	ID            string `json:"id"`
	Repo          string `json:"repo"`
	LocalID       string `json:"local_id"`
	Identifier    string `json:"identifier"`
	Label         string `json:"label,omitempty"`
	StatementType string `json:"statement_type,omitempty"`
	Name          string `json:"name,omitempty"`
	Role          string `json:"role,omitempty"`
	Date          string `json:"date,omitempty"`
	Place         string `json:"place,omitempty"`
	Text          string `json:"statement_text,omitempty"`
	Provenance
	Hash      string    `json:"hash,omitempty"`
	UpdatedAt time.Time `json:"hub_modified_at"`
}

// Validate checks if the Statement has all required fields set.
func (s *Statement) Validate() error {
	if s.ID == "" {
		return ErrEmptyID
	}
	if s.Repo == "" {
		return ErrEmptyRepo
	}
	return nil
}

// Ref returns the typed pointer to this statement.
func (s *Statement) Ref() Ref {
	return Ref{Kind: StatementRecord, ID: s.ID}
}

// Factoid links one person, one source and a set of statements.
type Factoid struct {
	ID           string   `json:"id"`
	Repo         string   `json:"repo"`
	LocalID      string   `json:"local_id"`
	Identifier   string   `json:"identifier"`
	Label        string   `json:"label,omitempty"`
	PersonID     string   `json:"person_id"`
	SourceID     string   `json:"source_id"`
	StatementIDs []string `json:"statement_ids"`
	Provenance
	Hash      string    `json:"hash,omitempty"`
	UpdatedAt time.Time `json:"hub_modified_at"`
}

// Validate checks if the Factoid has all required fields set.
func (f *Factoid) Validate() error {
	if f.ID == "" {
		return ErrEmptyID
	}
	if f.Repo == "" {
		return ErrEmptyRepo
	}
	if f.PersonID == "" || f.SourceID == "" {
		return fmt.Errorf("factoid %s: person and source are required: %w", f.ID, ErrEmptyID)
	}
	return nil
}

// Ref returns the typed pointer to this factoid.
func (f *Factoid) Ref() Ref {
	return Ref{Kind: FactoidRecord, ID: f.ID}
}

// Clone returns a deep copy.
func (f *Factoid) Clone() *Factoid {
	c := *f
	c.StatementIDs = append([]string(nil), f.StatementIDs...)
	return &c
}

// MergeEntity is a cluster of entities of one kind. Its URI set is the union
// of its members' URIs and is never stored.
type MergeEntity struct {
	ID         string     `json:"id"`
	Kind       EntityKind `json:"kind"`
	Members    []string   `json:"members"`
	CreatedAt  time.Time  `json:"created_at"`
	ModifiedAt time.Time  `json:"modified_at"`
}

// Ref returns the typed pointer to this cluster.
func (m *MergeEntity) Ref() Ref {
	return Ref{Kind: m.Kind.ClusterKind(), ID: m.ID}
}

// HasMember reports whether entityID belongs to the cluster.
func (m *MergeEntity) HasMember(entityID string) bool {
	for _, id := range m.Members {
		if id == entityID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (m *MergeEntity) Clone() *MergeEntity {
	c := *m
	c.Members = append([]string(nil), m.Members...)
	return &c
}

// ContentHash returns a stable digest of v's JSON encoding. Saves whose hash
// matches the stored record are skipped.
func ContentHash(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// SortedUnique returns a sorted copy of ss with duplicates and empty strings
// removed.
func SortedUnique(ss []string) []string {
	if len(ss) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ss))
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
