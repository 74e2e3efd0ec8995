// Package identifiers derives the canonical identifier and the hub-local URI
// aliases of contributed records.
package identifiers

import (
	"net/url"
	"strings"

	"github.com/soundprediction/ipifhub/pkg/types"
)

// Builder holds the settings identifier derivation depends on.
type Builder struct {
	// BaseURI is the public root of this hub, without trailing slash.
	BaseURI string
	// AutocreatedRepo is the placeholder repository slug.
	AutocreatedRepo string
}

// NewBuilder returns a Builder, trimming a trailing slash from baseURI.
func NewBuilder(baseURI, autocreatedRepo string) *Builder {
	if autocreatedRepo == "" {
		autocreatedRepo = types.DefaultAutocreatedRepo
	}
	return &Builder{
		BaseURI:         strings.TrimSuffix(baseURI, "/"),
		AutocreatedRepo: autocreatedRepo,
	}
}

// IsAbsoluteURL reports whether s parses as a URL with scheme and host.
func IsAbsoluteURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// Identifier returns localID unchanged when it already is an absolute URL,
// otherwise "<endpoint>/<collection>/<localID>".
func Identifier(endpointURI, collection, localID string) string {
	if IsAbsoluteURL(localID) {
		return localID
	}
	return strings.TrimSuffix(endpointURI, "/") + "/" + collection + "/" + localID
}

// HubURI builds "<base>/[<repo>/]ipif/<collection>/<id>".
func (b *Builder) HubURI(repo, collection, id string) string {
	var sb strings.Builder
	sb.WriteString(b.BaseURI)
	sb.WriteByte('/')
	if repo != "" {
		sb.WriteString(repo)
		sb.WriteByte('/')
	}
	sb.WriteString("ipif/")
	sb.WriteString(collection)
	sb.WriteByte('/')
	sb.WriteString(id)
	return sb.String()
}

// ExtraURIs returns the identifiers every saved entity is reachable under.
// Placeholder entities only get their own identifier.
func (b *Builder) ExtraURIs(e *types.Entity) []string {
	if e.Identifier == "" {
		return nil
	}
	if e.Repo == b.AutocreatedRepo {
		return []string{e.Identifier}
	}
	col := e.Kind.Plural()
	return []string{
		e.Identifier,
		b.HubURI("", col, e.Identifier),
		b.HubURI(e.Repo, col, e.LocalID),
		b.HubURI(e.Repo, col, e.Identifier),
	}
}

// Expand fills in e.Identifier when empty and merges the extra URIs into
// e.URIs. The result is sorted and deduplicated.
func (b *Builder) Expand(e *types.Entity, repo *types.Repo) {
	if e.Identifier == "" {
		endpoint := ""
		if repo != nil {
			endpoint = repo.EndpointURI
		}
		e.Identifier = Identifier(endpoint, e.Kind.Plural(), e.LocalID)
	}
	e.URIs = types.SortedUnique(append(e.URIs, b.ExtraURIs(e)...))
}

// IsAutocreated reports whether e belongs to the placeholder repository.
func (b *Builder) IsAutocreated(e *types.Entity) bool {
	return e != nil && e.Repo == b.AutocreatedRepo
}
