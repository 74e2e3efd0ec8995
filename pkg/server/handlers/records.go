package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/ipifhub"
	"github.com/soundprediction/ipifhub/pkg/server/dto"
	"github.com/soundprediction/ipifhub/pkg/store"
	"github.com/soundprediction/ipifhub/pkg/types"
)

const (
	collectionStatements = "statements"
	collectionFactoids   = "factoids"
)

// RecordsHandler handles repository record writes and reads. Every write
// runs as one unit of work on the hub.
type RecordsHandler struct {
	hub *ipifhub.Hub
}

// NewRecordsHandler creates a new records handler
func NewRecordsHandler(hub *ipifhub.Hub) *RecordsHandler {
	return &RecordsHandler{hub: hub}
}

// SaveRepo handles PUT /api/v1/repos/:repo
func (h *RecordsHandler) SaveRepo(c *gin.Context) {
	var req dto.RepoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err)
		return
	}
	slug := c.Param("repo")
	err := h.hub.Update(c.Request.Context(), func(ctx context.Context, u *ipifhub.Unit) error {
		return u.SaveRepo(ctx, req.ToRepo(slug))
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.WriteResponse{Success: true, ID: slug, Changed: true})
}

// ListRepos handles GET /api/v1/repos
func (h *RecordsHandler) ListRepos(c *gin.Context) {
	var repos []*types.Repo
	err := h.hub.GetStore().View(c.Request.Context(), func(r store.Reader) error {
		var err error
		repos, err = r.ListRepos(c.Request.Context())
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.Result{Success: true, Data: repos})
}

// Save handles PUT /api/v1/repos/:repo/:collection/:local_id
func (h *RecordsHandler) Save(c *gin.Context) {
	repo, collection, localID := c.Param("repo"), c.Param("collection"), c.Param("local_id")
	if err := dto.ValidateLocalID(localID); err != nil {
		writeError(c, err)
		return
	}

	var (
		id      string
		changed bool
		fn      func(ctx context.Context, u *ipifhub.Unit) error
	)
	switch collection {
	case collectionStatements:
		var req dto.StatementRequest
		if !bindValid(c, &req, req.Validate) {
			return
		}
		fn = func(ctx context.Context, u *ipifhub.Unit) error {
			s := req.ToStatement(repo, localID)
			var err error
			changed, err = u.SaveStatement(ctx, s)
			id = s.ID
			return err
		}
	case collectionFactoids:
		var req dto.FactoidRequest
		if !bindValid(c, &req, req.Validate) {
			return
		}
		fn = func(ctx context.Context, u *ipifhub.Unit) error {
			f, err := resolveFactoid(ctx, u, repo, localID, &req)
			if err != nil {
				return err
			}
			changed, err = u.SaveFactoid(ctx, f)
			id = f.ID
			return err
		}
	default:
		kind, err := types.ParseEntityKind(collection)
		if err != nil {
			writeError(c, err)
			return
		}
		var req dto.EntityRequest
		if !bindValid(c, &req, req.Validate) {
			return
		}
		fn = func(ctx context.Context, u *ipifhub.Unit) error {
			e := req.ToEntity(kind, repo, localID)
			var err error
			changed, err = u.SaveEntity(ctx, e)
			id = e.ID
			return err
		}
	}

	if err := h.hub.Update(c.Request.Context(), fn); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.WriteResponse{Success: true, ID: id, Changed: changed})
}

// Get handles GET /api/v1/repos/:repo/:collection/:local_id
func (h *RecordsHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	repo, collection, localID := c.Param("repo"), c.Param("collection"), c.Param("local_id")

	var record any
	err := h.hub.GetStore().View(ctx, func(r store.Reader) error {
		var err error
		switch collection {
		case collectionStatements:
			record, err = r.GetStatement(ctx, ipifhub.StatementID(repo, localID))
		case collectionFactoids:
			record, err = r.GetFactoid(ctx, ipifhub.FactoidID(repo, localID))
		default:
			var kind types.EntityKind
			if kind, err = types.ParseEntityKind(collection); err != nil {
				return err
			}
			record, err = r.FindEntity(ctx, kind, repo, localID)
		}
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.Result{Success: true, Data: record})
}

// Delete handles DELETE /api/v1/repos/:repo/:collection/:local_id
func (h *RecordsHandler) Delete(c *gin.Context) {
	repo, collection, localID := c.Param("repo"), c.Param("collection"), c.Param("local_id")

	var id string
	err := h.hub.Update(c.Request.Context(), func(ctx context.Context, u *ipifhub.Unit) error {
		switch collection {
		case collectionStatements:
			id = ipifhub.StatementID(repo, localID)
			return u.DeleteStatement(ctx, id)
		case collectionFactoids:
			id = ipifhub.FactoidID(repo, localID)
			return u.DeleteFactoid(ctx, id)
		}
		e, err := findEntity(ctx, u, collection, repo, localID)
		if err != nil {
			return err
		}
		id = e.ID
		return u.DeleteEntity(ctx, e.ID)
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.WriteResponse{Success: true, ID: id, Changed: true})
}

// AddURIs handles POST /api/v1/repos/:repo/:collection/:local_id/uris
func (h *RecordsHandler) AddURIs(c *gin.Context) {
	h.changeURIs(c, (*ipifhub.Unit).AddIdentifiers)
}

// RemoveURIs handles DELETE /api/v1/repos/:repo/:collection/:local_id/uris
func (h *RecordsHandler) RemoveURIs(c *gin.Context) {
	h.changeURIs(c, (*ipifhub.Unit).RemoveIdentifiers)
}

func (h *RecordsHandler) changeURIs(c *gin.Context, op func(*ipifhub.Unit, context.Context, string, ...string) (bool, error)) {
	var req dto.URIsRequest
	if !bindValid(c, &req, req.Validate) {
		return
	}
	repo, collection, localID := c.Param("repo"), c.Param("collection"), c.Param("local_id")

	var (
		id      string
		changed bool
	)
	err := h.hub.Update(c.Request.Context(), func(ctx context.Context, u *ipifhub.Unit) error {
		e, err := findEntity(ctx, u, collection, repo, localID)
		if err != nil {
			return err
		}
		id = e.ID
		changed, err = op(u, ctx, e.ID, req.URIs...)
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.WriteResponse{Success: true, ID: id, Changed: changed})
}

// bindValid decodes the JSON body into req and validates it, writing the
// error response on failure.
func bindValid(c *gin.Context, req any, validate func() error) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		writeBadRequest(c, err)
		return false
	}
	if err := validate(); err != nil {
		writeBadRequest(c, err)
		return false
	}
	return true
}

func findEntity(ctx context.Context, u *ipifhub.Unit, collection, repo, localID string) (*types.Entity, error) {
	kind, err := types.ParseEntityKind(collection)
	if err != nil {
		return nil, err
	}
	e, err := u.Tx().FindEntity(ctx, kind, repo, localID)
	if err != nil {
		return nil, fmt.Errorf("%s %s/%s: %w", kind, repo, localID, err)
	}
	return e, nil
}

// resolveFactoid maps the request's local references to record ids. A
// person or source the repository does not hold becomes a placeholder.
func resolveFactoid(ctx context.Context, u *ipifhub.Unit, repo, localID string, req *dto.FactoidRequest) (*types.Factoid, error) {
	person, err := resolveEntity(ctx, u, types.PersonKind, repo, req.Person)
	if err != nil {
		return nil, err
	}
	source, err := resolveEntity(ctx, u, types.SourceKind, repo, req.Source)
	if err != nil {
		return nil, err
	}
	statements := make([]string, len(req.Statements))
	for i, s := range req.Statements {
		statements[i] = ipifhub.StatementID(repo, s)
	}
	return &types.Factoid{
		Repo:         repo,
		LocalID:      localID,
		Identifier:   req.Identifier,
		Label:        req.Label,
		PersonID:     person.ID,
		SourceID:     source.ID,
		StatementIDs: statements,
		Provenance:   req.ProvenanceFields.ToTypes(),
	}, nil
}

func resolveEntity(ctx context.Context, u *ipifhub.Unit, kind types.EntityKind, repo, ref string) (*types.Entity, error) {
	e, err := u.Tx().FindEntity(ctx, kind, repo, ref)
	if errors.Is(err, types.ErrNotFound) {
		return u.EnsurePlaceholder(ctx, kind, ref)
	}
	return e, err
}
