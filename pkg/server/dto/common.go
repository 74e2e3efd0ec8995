package dto

import (
	"encoding/json"
	"time"

	"github.com/soundprediction/ipifhub/pkg/types"
)

// Result represents a generic API result
type Result struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

// WriteResponse reports the outcome of a write. Changed is false when the
// submitted record matched the stored one.
type WriteResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Changed bool   `json:"changed"`
}

// DocumentResult is one search hit.
type DocumentResult struct {
	ID         string          `json:"@id"`
	Kind       string          `json:"kind"`
	Repo       string          `json:"repo,omitempty"`
	Label      string          `json:"label,omitempty"`
	URIs       []string        `json:"uris,omitempty"`
	Body       json.RawMessage `json:"body,omitempty"`
	ModifiedAt time.Time       `json:"modified_at"`
}

// SearchResponse is a page of search hits.
type SearchResponse struct {
	Results []DocumentResult `json:"results"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
	// Merged is set when the results are cluster documents.
	Merged bool `json:"merged"`
}

// StatsResponse summarizes the backing store and refresh queue.
type StatsResponse struct {
	Repos      int `json:"repos"`
	Persons    int `json:"persons"`
	Sources    int `json:"sources"`
	Statements int `json:"statements"`
	Factoids   int `json:"factoids"`
	// Clusters counts clusters per entity kind.
	Clusters map[types.EntityKind]int `json:"clusters"`
	// Placeholders counts entities of the autocreated repository.
	Placeholders int `json:"placeholders"`
	QueuePending int `json:"queue_pending"`
}

// MaintenanceResponse reports an admin operation.
type MaintenanceResponse struct {
	Success bool   `json:"success"`
	Action  string `json:"action"`
	Count   int    `json:"count"`
}
