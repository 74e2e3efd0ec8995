package identifiers

import (
	"testing"

	"github.com/soundprediction/ipifhub/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestIdentifier(t *testing.T) {
	assert.Equal(t, "http://repo.org/persons/p1", Identifier("http://repo.org/", "persons", "p1"))
	assert.Equal(t, "http://repo.org/persons/p1", Identifier("http://repo.org", "persons", "p1"))
	assert.Equal(t, "https://viaf.org/1", Identifier("http://repo.org", "persons", "https://viaf.org/1"))
}

func TestExtraURIs(t *testing.T) {
	b := NewBuilder("http://hub.test/", "")
	e := &types.Entity{
		Kind:       types.PersonKind,
		Repo:       "r1",
		LocalID:    "p1",
		Identifier: "http://repo.org/persons/p1",
	}

	assert.Equal(t, []string{
		"http://repo.org/persons/p1",
		"http://hub.test/ipif/persons/http://repo.org/persons/p1",
		"http://hub.test/r1/ipif/persons/p1",
		"http://hub.test/r1/ipif/persons/http://repo.org/persons/p1",
	}, b.ExtraURIs(e))
}

func TestExtraURIsAutocreated(t *testing.T) {
	b := NewBuilder("http://hub.test", "")
	e := &types.Entity{
		Kind:       types.SourceKind,
		Repo:       types.DefaultAutocreatedRepo,
		Identifier: "http://elsewhere/sources/s9",
	}
	assert.Equal(t, []string{"http://elsewhere/sources/s9"}, b.ExtraURIs(e))
	assert.True(t, b.IsAutocreated(e))
}

func TestExpandDefaultsIdentifier(t *testing.T) {
	b := NewBuilder("http://hub.test", "")
	e := &types.Entity{
		Kind:    types.SourceKind,
		Repo:    "r1",
		LocalID: "s1",
		URIs:    []string{"http://viaf.org/2", "http://viaf.org/2"},
	}
	b.Expand(e, &types.Repo{Slug: "r1", EndpointURI: "http://repo.org/"})

	assert.Equal(t, "http://repo.org/sources/s1", e.Identifier)
	assert.Contains(t, e.URIs, "http://viaf.org/2")
	assert.Contains(t, e.URIs, "http://hub.test/r1/ipif/sources/s1")
	assert.Len(t, e.URIs, 5)
}
