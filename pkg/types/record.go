package types

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// RecordKind enumerates every record type the refresh pipeline handles.
type RecordKind uint8

const (
	Person RecordKind = iota
	Source
	StatementRecord
	FactoidRecord
	MergePerson
	MergeSource

	// NumRecordKinds is the size of per-kind dispatch tables.
	NumRecordKinds = int(MergeSource) + 1
)

var recordKindNames = [NumRecordKinds]string{
	Person:          "person",
	Source:          "source",
	StatementRecord: "statement",
	FactoidRecord:   "factoid",
	MergePerson:     "merge_person",
	MergeSource:     "merge_source",
}

// AllRecordKinds returns the kinds in declaration order.
func AllRecordKinds() []RecordKind {
	out := make([]RecordKind, NumRecordKinds)
	for i := range out {
		out[i] = RecordKind(i)
	}
	return out
}

func (k RecordKind) String() string {
	if int(k) < NumRecordKinds {
		return recordKindNames[k]
	}
	return fmt.Sprintf("record_kind(%d)", uint8(k))
}

// Valid reports whether k is one of the declared kinds.
func (k RecordKind) Valid() bool {
	return int(k) < NumRecordKinds
}

// IsCluster reports whether k is a merge (cluster) kind.
func (k RecordKind) IsCluster() bool {
	return k == MergePerson || k == MergeSource
}

// IsEntity reports whether k is a clusterable entity kind.
func (k RecordKind) IsEntity() bool {
	return k == Person || k == Source
}

// EntityKind maps entity and cluster kinds back to their entity family.
func (k RecordKind) EntityKind() (EntityKind, bool) {
	switch k {
	case Person, MergePerson:
		return PersonKind, true
	case Source, MergeSource:
		return SourceKind, true
	}
	return "", false
}

// ParseRecordKind is the inverse of String.
func ParseRecordKind(s string) (RecordKind, error) {
	for i, name := range recordKindNames {
		if name == s {
			return RecordKind(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// MarshalText implements encoding.TextMarshaler.
func (k RecordKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *RecordKind) UnmarshalText(b []byte) error {
	parsed, err := ParseRecordKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Ref points at one record of a given kind.
type Ref struct {
	Kind RecordKind `json:"kind"`
	ID   string     `json:"id"`
}

// String renders the ref as "<kind>:<id>". It doubles as the search index
// document id.
func (r Ref) String() string {
	return r.Kind.String() + ":" + r.ID
}

// ParseRef parses the output of Ref.String.
func ParseRef(s string) (Ref, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return Ref{}, fmt.Errorf("invalid ref %q: %w", s, ErrEmptyID)
	}
	k, err := ParseRecordKind(kind)
	if err != nil {
		return Ref{}, err
	}
	return Ref{Kind: k, ID: id}, nil
}

// Less orders refs by kind then id.
func (r Ref) Less(o Ref) bool {
	if r.Kind != o.Kind {
		return r.Kind < o.Kind
	}
	return r.ID < o.ID
}

// SortRefs sorts refs in place.
func SortRefs(refs []Ref) {
	sort.Slice(refs, func(i, j int) bool { return refs[i].Less(refs[j]) })
}

// Task asks the index synchronizer to refresh one record.
type Task struct {
	ID         string    `json:"id"`
	Ref        Ref       `json:"ref"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// URISet is a set of opaque identifiers compared by exact string match.
type URISet map[string]struct{}

// NewURISet builds a set from uris.
func NewURISet(uris ...string) URISet {
	s := make(URISet, len(uris))
	for _, u := range uris {
		s[u] = struct{}{}
	}
	return s
}

// Add inserts uris into the set.
func (s URISet) Add(uris ...string) {
	for _, u := range uris {
		s[u] = struct{}{}
	}
}

// Has reports membership.
func (s URISet) Has(uri string) bool {
	_, ok := s[uri]
	return ok
}

// Union adds every element of o to s.
func (s URISet) Union(o URISet) {
	for u := range o {
		s[u] = struct{}{}
	}
}

// Intersects reports whether s and o share an element.
func (s URISet) Intersects(o URISet) bool {
	small, large := s, o
	if len(large) < len(small) {
		small, large = large, small
	}
	for u := range small {
		if _, ok := large[u]; ok {
			return true
		}
	}
	return false
}

// Sorted returns the elements in lexical order.
func (s URISet) Sorted() []string {
	out := make([]string, 0, len(s))
	for u := range s {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Clone returns a copy of s.
func (s URISet) Clone() URISet {
	c := make(URISet, len(s))
	for u := range s {
		c[u] = struct{}{}
	}
	return c
}
