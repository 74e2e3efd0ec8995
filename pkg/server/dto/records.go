package dto

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/soundprediction/ipifhub/pkg/types"
)

// Validation errors
var (
	ErrEmptyLocalID   = errors.New("local_id cannot be empty")
	ErrEmptyURIs      = errors.New("uris cannot be empty")
	ErrEmptyReference = errors.New("person and source are required")
	ErrFieldTooLong   = errors.New("field exceeds maximum length")
)

// MaxFieldLengths defines maximum lengths for fields to prevent abuse
const (
	MaxIDLength        = 512
	MaxLabelLength     = 4096
	MaxTextLength      = 1024 * 1024 // 1MB
	MaxURICount        = 1000
	MaxStatementsCount = 1000
)

// ProvenanceFields are the creation and modification metadata a repository
// reports for its records.
type ProvenanceFields struct {
	CreatedBy    string     `json:"createdBy,omitempty"`
	CreatedWhen  *time.Time `json:"createdWhen,omitempty"`
	ModifiedBy   string     `json:"modifiedBy,omitempty"`
	ModifiedWhen *time.Time `json:"modifiedWhen,omitempty"`
}

// ToTypes converts the fields, normalizing times to UTC.
func (p ProvenanceFields) ToTypes() types.Provenance {
	out := types.Provenance{CreatedBy: p.CreatedBy, ModifiedBy: p.ModifiedBy}
	if p.CreatedWhen != nil {
		out.CreatedWhen = p.CreatedWhen.UTC()
	}
	if p.ModifiedWhen != nil {
		out.ModifiedWhen = p.ModifiedWhen.UTC()
	}
	return out
}

// RepoRequest creates or updates a repository.
type RepoRequest struct {
	Name        string `json:"name,omitempty"`
	EndpointURI string `json:"endpoint_uri,omitempty"`
}

// ToRepo converts the request for the repository slug.
func (r *RepoRequest) ToRepo(slug string) *types.Repo {
	return &types.Repo{Slug: slug, Name: r.Name, EndpointURI: r.EndpointURI}
}

// EntityRequest creates or updates a person or source.
type EntityRequest struct {
	Identifier string   `json:"@id,omitempty"`
	Label      string   `json:"label,omitempty"`
	URIs       []string `json:"uris,omitempty"`
	ProvenanceFields
}

// Validate performs validation on EntityRequest
func (r *EntityRequest) Validate() error {
	if len(r.Identifier) > MaxIDLength {
		return fmt.Errorf("@id: %w", ErrFieldTooLong)
	}
	if len(r.Label) > MaxLabelLength {
		return fmt.Errorf("label: %w", ErrFieldTooLong)
	}
	if len(r.URIs) > MaxURICount {
		return fmt.Errorf("uris count exceeds maximum (%d)", MaxURICount)
	}
	for i, u := range r.URIs {
		if strings.TrimSpace(u) == "" {
			return fmt.Errorf("uris[%d] cannot be empty", i)
		}
	}
	return nil
}

// ToEntity converts the request into an entity of repo with localID.
func (r *EntityRequest) ToEntity(kind types.EntityKind, repo, localID string) *types.Entity {
	return &types.Entity{
		Kind:       kind,
		Repo:       repo,
		LocalID:    localID,
		Identifier: r.Identifier,
		Label:      r.Label,
		URIs:       append([]string(nil), r.URIs...),
		Provenance: r.ProvenanceFields.ToTypes(),
	}
}

// URIsRequest adds or removes identifiers.
type URIsRequest struct {
	URIs []string `json:"uris" binding:"required"`
}

// Validate performs validation on URIsRequest
func (r *URIsRequest) Validate() error {
	if len(r.URIs) == 0 {
		return ErrEmptyURIs
	}
	if len(r.URIs) > MaxURICount {
		return fmt.Errorf("uris count exceeds maximum (%d)", MaxURICount)
	}
	return nil
}

// StatementRequest creates or updates a statement.
type StatementRequest struct {
	Identifier    string `json:"@id,omitempty"`
	Label         string `json:"label,omitempty"`
	StatementType string `json:"statementType,omitempty"`
	Name          string `json:"name,omitempty"`
	Role          string `json:"role,omitempty"`
	Date          string `json:"date,omitempty"`
	Place         string `json:"place,omitempty"`
	Text          string `json:"statementText,omitempty"`
	ProvenanceFields
}

// Validate performs validation on StatementRequest
func (r *StatementRequest) Validate() error {
	if len(r.Identifier) > MaxIDLength {
		return fmt.Errorf("@id: %w", ErrFieldTooLong)
	}
	if len(r.Label) > MaxLabelLength {
		return fmt.Errorf("label: %w", ErrFieldTooLong)
	}
	if len(r.Text) > MaxTextLength {
		return fmt.Errorf("statementText: %w", ErrFieldTooLong)
	}
	return nil
}

// ToStatement converts the request into a statement of repo with localID.
func (r *StatementRequest) ToStatement(repo, localID string) *types.Statement {
	return &types.Statement{
		Repo:          repo,
		LocalID:       localID,
		Identifier:    r.Identifier,
		Label:         r.Label,
		StatementType: r.StatementType,
		Name:          r.Name,
		Role:          r.Role,
		Date:          r.Date,
		Place:         r.Place,
		Text:          r.Text,
		Provenance:    r.ProvenanceFields.ToTypes(),
	}
}

// FactoidRequest creates or updates a factoid. Person, source and statements
// are local ids of the same repository; a person or source that the
// repository has not submitted is given as an identifier and resolved to a
// placeholder.
type FactoidRequest struct {
	Identifier string   `json:"@id,omitempty"`
	Label      string   `json:"label,omitempty"`
	Person     string   `json:"person"`
	Source     string   `json:"source"`
	Statements []string `json:"statements,omitempty"`
	ProvenanceFields
}

// Validate performs validation on FactoidRequest
func (r *FactoidRequest) Validate() error {
	if strings.TrimSpace(r.Person) == "" || strings.TrimSpace(r.Source) == "" {
		return ErrEmptyReference
	}
	if len(r.Identifier) > MaxIDLength || len(r.Person) > MaxIDLength || len(r.Source) > MaxIDLength {
		return ErrFieldTooLong
	}
	if len(r.Label) > MaxLabelLength {
		return fmt.Errorf("label: %w", ErrFieldTooLong)
	}
	if len(r.Statements) > MaxStatementsCount {
		return fmt.Errorf("statements count exceeds maximum (%d)", MaxStatementsCount)
	}
	return nil
}

// ValidateLocalID checks a path local id.
func ValidateLocalID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrEmptyLocalID
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("local_id: %w", ErrFieldTooLong)
	}
	return nil
}
