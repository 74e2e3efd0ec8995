package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/ipifhub/pkg/index"
	"github.com/soundprediction/ipifhub/pkg/server/dto"
	"github.com/soundprediction/ipifhub/pkg/types"
)

const (
	defaultPageSize = 30
	maxPageSize     = 500
)

// SearchHandler serves queries against the search index.
type SearchHandler struct {
	index index.Index
}

// NewSearchHandler creates a new search handler
func NewSearchHandler(idx index.Index) *SearchHandler {
	return &SearchHandler{index: idx}
}

// Persons handles GET /api/v1/persons
func (h *SearchHandler) Persons(c *gin.Context) {
	h.searchEntities(c, types.PersonKind)
}

// Sources handles GET /api/v1/sources
func (h *SearchHandler) Sources(c *gin.Context) {
	h.searchEntities(c, types.SourceKind)
}

// Statements handles GET /api/v1/statements
func (h *SearchHandler) Statements(c *gin.Context) {
	h.search(c, types.StatementRecord, false)
}

// Factoids handles GET /api/v1/factoids
func (h *SearchHandler) Factoids(c *gin.Context) {
	h.search(c, types.FactoidRecord, false)
}

// searchEntities queries the merged view: cluster documents when no repo is
// given, the repository's own entity documents otherwise.
func (h *SearchHandler) searchEntities(c *gin.Context, kind types.EntityKind) {
	if c.Query("repo") == "" {
		h.search(c, kind.ClusterKind(), true)
		return
	}
	h.search(c, kind.RecordKind(), false)
}

func (h *SearchHandler) search(c *gin.Context, kind types.RecordKind, merged bool) {
	limit, offset, err := pageParams(c)
	if err != nil {
		writeBadRequest(c, err)
		return
	}
	q := index.Query{
		Kind:   &kind,
		Repo:   c.Query("repo"),
		Text:   c.Query("q"),
		URI:    c.Query("uri"),
		Limit:  limit,
		Offset: offset,
	}
	docs, err := h.index.Query(c.Request.Context(), q)
	if err != nil {
		writeError(c, err)
		return
	}

	results := make([]dto.DocumentResult, len(docs))
	for i, d := range docs {
		results[i] = toResult(d)
	}
	c.JSON(http.StatusOK, dto.SearchResponse{
		Results: results,
		Limit:   limit,
		Offset:  offset,
		Merged:  merged,
	})
}

// Document handles GET /api/v1/documents/:id
func (h *SearchHandler) Document(c *gin.Context) {
	ref, err := types.ParseRef(c.Param("id"))
	if err != nil {
		writeBadRequest(c, err)
		return
	}
	doc, err := h.index.Get(c.Request.Context(), index.DocumentID(ref))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toResult(doc))
}

func toResult(d *index.Document) dto.DocumentResult {
	return dto.DocumentResult{
		ID:         d.ID,
		Kind:       d.Kind.String(),
		Repo:       d.Repo,
		Label:      d.Label,
		URIs:       d.URIs,
		Body:       d.Body,
		ModifiedAt: d.ModifiedAt,
	}
}

func pageParams(c *gin.Context) (int, int, error) {
	limit, offset := defaultPageSize, 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return 0, 0, fmt.Errorf("limit must be a positive integer, got %q", s)
		}
		limit = min(n, maxPageSize)
	}
	if s := c.Query("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return 0, 0, fmt.Errorf("offset must be a non-negative integer, got %q", s)
		}
		offset = n
	}
	return limit, offset, nil
}
