package ipifhub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/soundprediction/ipifhub/pkg/batch"
	"github.com/soundprediction/ipifhub/pkg/identifiers"
	"github.com/soundprediction/ipifhub/pkg/merge"
	"github.com/soundprediction/ipifhub/pkg/store"
	"github.com/soundprediction/ipifhub/pkg/types"
)

// Unit is one unit of work opened by Hub.Update. Its write methods persist
// records, keep the partition consistent and mark what needs an index
// refresh. A Unit must not be used after Update returns.
type Unit struct {
	hub      *Hub
	tx       store.Tx
	batch    *batch.Batch
	clusters *merge.ClusterStore
}

// Tx returns the underlying transaction for callers that write records
// themselves and report the writes through the Events methods.
func (u *Unit) Tx() store.Tx {
	return u.tx
}

// MarkDirty schedules refs for an index refresh after commit.
func (u *Unit) MarkDirty(refs ...types.Ref) {
	u.batch.MarkDirty(refs...)
}

// SaveRepo creates or updates a repository.
func (u *Unit) SaveRepo(ctx context.Context, r *types.Repo) error {
	if r == nil {
		return ErrNilRecord
	}
	if err := r.Validate(); err != nil {
		return err
	}
	now := u.hub.now()
	old, err := u.tx.GetRepo(ctx, r.Slug)
	switch {
	case err == nil:
		r.CreatedAt = old.CreatedAt
	case errors.Is(err, types.ErrNotFound):
		r.CreatedAt = now
	default:
		return err
	}
	r.UpdatedAt = now
	return u.tx.PutRepo(ctx, r)
}

// repo returns the repository slug names. The placeholder repository is
// created on first use.
func (u *Unit) repo(ctx context.Context, slug string) (*types.Repo, error) {
	r, err := u.tx.GetRepo(ctx, slug)
	if errors.Is(err, types.ErrNotFound) && slug == u.hub.config.AutocreatedRepo {
		r = &types.Repo{Slug: slug, Name: "Autocreated records"}
		if err := u.SaveRepo(ctx, r); err != nil {
			return nil, err
		}
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repo %s: %w", slug, err)
	}
	return r, nil
}

// SaveEntity creates or updates e. Without an id the entity is looked up by
// kind, repo and local id. The derived identifiers are merged into e.URIs,
// identifiers dropped since the last save may split e's cluster and new
// ones may merge it with others. It reports whether anything was written;
// a save whose content matches the stored entity is skipped.
func (u *Unit) SaveEntity(ctx context.Context, e *types.Entity) (bool, error) {
	if e == nil {
		return false, ErrNilRecord
	}
	if !e.Kind.Valid() {
		return false, fmt.Errorf("%w: %q", types.ErrUnknownKind, e.Kind)
	}
	if e.Repo == "" {
		return false, types.ErrEmptyRepo
	}
	if e.LocalID == "" {
		e.LocalID = e.Identifier
	}
	if e.LocalID == "" {
		return false, types.ErrEmptyIdentifier
	}
	repo, err := u.repo(ctx, e.Repo)
	if err != nil {
		return false, err
	}

	old, err := u.existingEntity(ctx, e)
	if err != nil {
		return false, err
	}
	switch {
	case old != nil:
		e.ID = old.ID
	case e.ID == "":
		e.ID = u.hub.config.NewID()
	}
	u.hub.ids.Expand(e, repo)

	hash := entityHash(e)
	if old != nil && old.Hash == hash {
		e.Hash, e.UpdatedAt = old.Hash, old.UpdatedAt
		u.hub.logger.DebugContext(ctx, "entity unchanged, skipping", "entity", e.ID)
		return false, nil
	}
	e.Hash = hash
	e.UpdatedAt = u.hub.now()
	if err := u.tx.PutEntity(ctx, e); err != nil {
		return false, err
	}
	u.batch.MarkDirty(e.Ref())

	if old != nil {
		if removed := missing(old.URIs, e.URIs); len(removed) > 0 {
			if err := u.hub.maintainer.OnIdentifiersRemoved(ctx, u.clusters, e, removed); err != nil {
				return false, err
			}
		}
	}
	if err := u.hub.maintainer.OnEntityUpserted(ctx, u.clusters, e); err != nil {
		return false, err
	}
	return true, nil
}

func (u *Unit) existingEntity(ctx context.Context, e *types.Entity) (*types.Entity, error) {
	var (
		old *types.Entity
		err error
	)
	if e.ID != "" {
		old, err = u.tx.GetEntity(ctx, e.ID)
	} else {
		old, err = u.tx.FindEntity(ctx, e.Kind, e.Repo, e.LocalID)
	}
	if errors.Is(err, types.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if old.Kind != e.Kind {
		return nil, fmt.Errorf("entity %s is a %s: %w", old.ID, old.Kind, types.ErrKindMismatch)
	}
	return old, nil
}

// AddIdentifiers adds uris to the entity and merges it with every cluster
// they connect it to. It reports whether any uri was new.
func (u *Unit) AddIdentifiers(ctx context.Context, id string, uris ...string) (bool, error) {
	e, err := u.tx.GetEntity(ctx, id)
	if err != nil {
		return false, err
	}
	next := types.SortedUnique(append(append([]string(nil), e.URIs...), uris...))
	if len(next) == len(e.URIs) {
		return false, nil
	}
	e.URIs = next
	if err := u.put(ctx, e); err != nil {
		return false, err
	}
	if err := u.hub.maintainer.OnEntityUpserted(ctx, u.clusters, e); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveIdentifiers removes uris from the entity and splits its cluster if
// it is no longer connected. Derived identifiers cannot be removed.
func (u *Unit) RemoveIdentifiers(ctx context.Context, id string, uris ...string) (bool, error) {
	e, err := u.tx.GetEntity(ctx, id)
	if err != nil {
		return false, err
	}
	derived := types.NewURISet(u.hub.ids.ExtraURIs(e)...)
	drop := types.NewURISet()
	for _, uri := range uris {
		if derived.Has(uri) {
			return false, fmt.Errorf("%s: %w", uri, ErrDerivedIdentifier)
		}
		drop.Add(uri)
	}

	var kept, removed []string
	for _, uri := range e.URIs {
		if drop.Has(uri) {
			removed = append(removed, uri)
		} else {
			kept = append(kept, uri)
		}
	}
	if len(removed) == 0 {
		return false, nil
	}
	e.URIs = kept
	if err := u.put(ctx, e); err != nil {
		return false, err
	}
	if err := u.hub.maintainer.OnIdentifiersRemoved(ctx, u.clusters, e, removed); err != nil {
		return false, err
	}
	return true, nil
}

func (u *Unit) put(ctx context.Context, e *types.Entity) error {
	e.Hash = entityHash(e)
	e.UpdatedAt = u.hub.now()
	if err := u.tx.PutEntity(ctx, e); err != nil {
		return err
	}
	u.batch.MarkDirty(e.Ref())
	return nil
}

// DeleteEntity removes the entity from its cluster, splitting what remains,
// then deletes its factoids and the entity itself.
func (u *Unit) DeleteEntity(ctx context.Context, id string) error {
	e, err := u.tx.GetEntity(ctx, id)
	if err != nil {
		return err
	}
	if err := u.hub.maintainer.OnEntityDeleted(ctx, u.clusters, e); err != nil {
		return err
	}
	fs, err := u.tx.FactoidsByEntity(ctx, id)
	if err != nil {
		return err
	}
	for _, f := range fs {
		if err := u.deleteFactoid(ctx, f); err != nil {
			return err
		}
	}
	if err := u.tx.DeleteEntity(ctx, id); err != nil {
		return err
	}
	u.batch.MarkDirty(e.Ref())
	return nil
}

// EnsurePlaceholder returns the placeholder entity for identifier, creating
// it in the placeholder repository when missing. Placeholders are never
// clustered or indexed.
func (u *Unit) EnsurePlaceholder(ctx context.Context, kind types.EntityKind, identifier string) (*types.Entity, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownKind, kind)
	}
	if identifier == "" {
		return nil, types.ErrEmptyIdentifier
	}
	slug := u.hub.config.AutocreatedRepo
	e, err := u.tx.FindEntity(ctx, kind, slug, identifier)
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}
	if _, err := u.repo(ctx, slug); err != nil {
		return nil, err
	}

	e = &types.Entity{
		ID:         u.hub.config.NewID(),
		Kind:       kind,
		Repo:       slug,
		LocalID:    identifier,
		Identifier: identifier,
	}
	u.hub.ids.Expand(e, nil)
	e.Hash = entityHash(e)
	e.UpdatedAt = u.hub.now()
	if err := u.tx.PutEntity(ctx, e); err != nil {
		return nil, err
	}
	u.hub.logger.DebugContext(ctx, "created placeholder", "kind", kind, "identifier", identifier, "entity", e.ID)
	return e, nil
}

// SaveStatement creates or updates s. It reports whether anything was
// written.
func (u *Unit) SaveStatement(ctx context.Context, s *types.Statement) (bool, error) {
	if s == nil {
		return false, ErrNilRecord
	}
	if s.Repo == "" {
		return false, types.ErrEmptyRepo
	}
	if s.LocalID == "" && s.Identifier == "" && s.ID == "" {
		return false, types.ErrEmptyIdentifier
	}
	repo, err := u.repo(ctx, s.Repo)
	if err != nil {
		return false, err
	}
	if s.ID == "" {
		s.ID = recordID(s.Repo, "statements", s.LocalID, s.Identifier)
	}
	if s.Identifier == "" {
		s.Identifier = identifiers.Identifier(repo.EndpointURI, "statements", s.LocalID)
	}

	old, err := u.tx.GetStatement(ctx, s.ID)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return false, err
	}
	hash := statementHash(s)
	if old != nil && old.Hash == hash {
		return false, nil
	}
	s.Hash = hash
	s.UpdatedAt = u.hub.now()
	if err := u.tx.PutStatement(ctx, s); err != nil {
		return false, err
	}
	u.batch.MarkDirty(s.Ref())
	return true, nil
}

// DeleteStatement removes the statement and detaches it from its factoids.
func (u *Unit) DeleteStatement(ctx context.Context, id string) error {
	s, err := u.tx.GetStatement(ctx, id)
	if err != nil {
		return err
	}
	fs, err := u.tx.FactoidsByStatement(ctx, id)
	if err != nil {
		return err
	}
	if err := u.tx.DeleteStatement(ctx, id); err != nil {
		return err
	}
	u.batch.MarkDirty(s.Ref())
	for _, f := range fs {
		u.batch.MarkDirty(f.Ref())
	}
	return nil
}

// SaveFactoid creates or updates f. Its person, source and statements must
// exist; dangling references are resolved with EnsurePlaceholder first. It
// reports whether anything was written.
func (u *Unit) SaveFactoid(ctx context.Context, f *types.Factoid) (bool, error) {
	if f == nil {
		return false, ErrNilRecord
	}
	if f.Repo == "" {
		return false, types.ErrEmptyRepo
	}
	if f.LocalID == "" && f.Identifier == "" && f.ID == "" {
		return false, types.ErrEmptyIdentifier
	}
	repo, err := u.repo(ctx, f.Repo)
	if err != nil {
		return false, err
	}
	if f.ID == "" {
		f.ID = recordID(f.Repo, "factoids", f.LocalID, f.Identifier)
	}
	if f.Identifier == "" {
		f.Identifier = identifiers.Identifier(repo.EndpointURI, "factoids", f.LocalID)
	}
	if err := f.Validate(); err != nil {
		return false, err
	}
	if err := u.requireEntity(ctx, f.PersonID, types.PersonKind); err != nil {
		return false, fmt.Errorf("factoid %s person: %w", f.ID, err)
	}
	if err := u.requireEntity(ctx, f.SourceID, types.SourceKind); err != nil {
		return false, fmt.Errorf("factoid %s source: %w", f.ID, err)
	}
	f.StatementIDs = types.SortedUnique(f.StatementIDs)
	for _, sid := range f.StatementIDs {
		if _, err := u.tx.GetStatement(ctx, sid); err != nil {
			return false, fmt.Errorf("factoid %s statement: %w", f.ID, err)
		}
	}

	old, err := u.tx.GetFactoid(ctx, f.ID)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return false, err
	}
	hash := factoidHash(f)
	if old != nil && old.Hash == hash {
		return false, nil
	}
	f.Hash = hash
	f.UpdatedAt = u.hub.now()
	if err := u.tx.PutFactoid(ctx, f); err != nil {
		return false, err
	}
	u.batch.MarkDirty(f.Ref())
	if old != nil {
		// records the factoid no longer points at
		u.batch.MarkDirty(factoidLinks(old)...)
	}
	return true, nil
}

func (u *Unit) requireEntity(ctx context.Context, id string, kind types.EntityKind) error {
	e, err := u.tx.GetEntity(ctx, id)
	if err != nil {
		return err
	}
	if e.Kind != kind {
		return fmt.Errorf("entity %s is a %s: %w", id, e.Kind, types.ErrKindMismatch)
	}
	return nil
}

// DeleteFactoid removes the factoid.
func (u *Unit) DeleteFactoid(ctx context.Context, id string) error {
	f, err := u.tx.GetFactoid(ctx, id)
	if err != nil {
		return err
	}
	return u.deleteFactoid(ctx, f)
}

func (u *Unit) deleteFactoid(ctx context.Context, f *types.Factoid) error {
	if err := u.tx.DeleteFactoid(ctx, f.ID); err != nil {
		return err
	}
	u.batch.MarkDirty(f.Ref())
	u.batch.MarkDirty(factoidLinks(f)...)
	return nil
}

// OnEntityUpserted places e, already written through Tx, into the partition.
func (u *Unit) OnEntityUpserted(ctx context.Context, e *types.Entity) error {
	if e != nil {
		u.batch.MarkDirty(e.Ref())
	}
	return u.hub.maintainer.OnEntityUpserted(ctx, u.clusters, e)
}

// OnIdentifierRemoved re-checks e's cluster after identifier was removed
// from e through Tx.
func (u *Unit) OnIdentifierRemoved(ctx context.Context, e *types.Entity, identifier string) error {
	if e != nil {
		u.batch.MarkDirty(e.Ref())
	}
	return u.hub.maintainer.OnIdentifiersRemoved(ctx, u.clusters, e, []string{identifier})
}

// OnEntityDeleted removes e from its cluster. Call it before deleting e
// through Tx.
func (u *Unit) OnEntityDeleted(ctx context.Context, e *types.Entity) error {
	if e != nil {
		u.batch.MarkDirty(e.Ref())
	}
	return u.hub.maintainer.OnEntityDeleted(ctx, u.clusters, e)
}

func factoidLinks(f *types.Factoid) []types.Ref {
	refs := []types.Ref{
		{Kind: types.Person, ID: f.PersonID},
		{Kind: types.Source, ID: f.SourceID},
	}
	for _, sid := range f.StatementIDs {
		refs = append(refs, types.Ref{Kind: types.StatementRecord, ID: sid})
	}
	return refs
}

// StatementID returns the id SaveStatement assigns to the statement of repo
// with localID.
func StatementID(repo, localID string) string {
	return recordID(repo, "statements", localID, "")
}

// FactoidID returns the id SaveFactoid assigns to the factoid of repo with
// localID.
func FactoidID(repo, localID string) string {
	return recordID(repo, "factoids", localID, "")
}

// recordID derives a stable id from the repo and the record's local key so
// repeated saves of the same record address the same row.
func recordID(repo, collection, localID, identifier string) string {
	key := localID
	if key == "" {
		key = identifier
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(repo+"/"+collection+"/"+key)).String()
}

func missing(before, after []string) []string {
	keep := types.NewURISet(after...)
	var out []string
	for _, uri := range before {
		if !keep.Has(uri) {
			out = append(out, uri)
		}
	}
	return out
}

func entityHash(e *types.Entity) string {
	return types.ContentHash(struct {
		Kind       types.EntityKind
		Repo       string
		LocalID    string
		Identifier string
		Label      string
		URIs       []string
		Provenance types.Provenance
	}{e.Kind, e.Repo, e.LocalID, e.Identifier, e.Label, types.SortedUnique(e.URIs), e.Provenance})
}

func statementHash(s *types.Statement) string {
	c := *s
	c.Hash, c.UpdatedAt = "", time.Time{}
	return types.ContentHash(c)
}

func factoidHash(f *types.Factoid) string {
	c := *f
	c.Hash, c.UpdatedAt = "", time.Time{}
	return types.ContentHash(c)
}
