package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/ipifhub"
	"github.com/soundprediction/ipifhub/pkg/server/dto"
	"github.com/soundprediction/ipifhub/pkg/store"
	"github.com/soundprediction/ipifhub/pkg/types"
)

// Pending reports the number of queued refresh tasks.
type Pending interface {
	Len() int
}

// AdminHandler serves store statistics and whole-store repairs.
type AdminHandler struct {
	hub   *ipifhub.Hub
	queue Pending
}

// NewAdminHandler creates a new admin handler. queue may be nil.
func NewAdminHandler(hub *ipifhub.Hub, queue Pending) *AdminHandler {
	return &AdminHandler{hub: hub, queue: queue}
}

// Stats handles GET /api/v1/stats
func (h *AdminHandler) Stats(c *gin.Context) {
	ctx := c.Request.Context()
	ids := h.hub.GetIdentifiers()
	stats := dto.StatsResponse{Clusters: map[types.EntityKind]int{}}

	err := h.hub.GetStore().View(ctx, func(r store.Reader) error {
		repos, err := r.ListRepos(ctx)
		if err != nil {
			return err
		}
		stats.Repos = len(repos)

		for _, kind := range types.EntityKinds() {
			es, err := r.ListEntities(ctx, kind)
			if err != nil {
				return err
			}
			n := 0
			for _, e := range es {
				if ids.IsAutocreated(e) {
					stats.Placeholders++
					continue
				}
				n++
			}
			if kind == types.PersonKind {
				stats.Persons = n
			} else {
				stats.Sources = n
			}

			cs, err := r.ListClusters(ctx, kind)
			if err != nil {
				return err
			}
			stats.Clusters[kind] = len(cs)
		}

		ss, err := r.ListStatements(ctx)
		if err != nil {
			return err
		}
		stats.Statements = len(ss)

		fs, err := r.ListFactoids(ctx)
		if err != nil {
			return err
		}
		stats.Factoids = len(fs)
		return nil
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if h.queue != nil {
		stats.QueuePending = h.queue.Len()
	}
	c.JSON(http.StatusOK, stats)
}

// Recluster handles POST /api/v1/admin/recluster/:kind
func (h *AdminHandler) Recluster(c *gin.Context) {
	kind, err := types.ParseEntityKind(c.Param("kind"))
	if err != nil {
		writeError(c, err)
		return
	}
	n, err := h.hub.Recluster(c.Request.Context(), kind)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.MaintenanceResponse{Success: true, Action: "recluster", Count: n})
}

// Reindex handles POST /api/v1/admin/reindex
func (h *AdminHandler) Reindex(c *gin.Context) {
	n, err := h.hub.Reindex(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.MaintenanceResponse{Success: true, Action: "reindex", Count: n})
}
