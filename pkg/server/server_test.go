package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/ipifhub"
	"github.com/soundprediction/ipifhub/pkg/config"
	"github.com/soundprediction/ipifhub/pkg/index"
	"github.com/soundprediction/ipifhub/pkg/indexsync"
	"github.com/soundprediction/ipifhub/pkg/queue"
	"github.com/soundprediction/ipifhub/pkg/server/dto"
	"github.com/soundprediction/ipifhub/pkg/store/memstore"
)

const baseURI = "https://hub.example.org"

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Host: "localhost",
			Port: 8080,
			Mode: "test",
		},
	}
}

type fixture struct {
	server *Server
	sync   *indexsync.Synchronizer
	queue  *queue.MemoryQueue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memstore.New()
	q := queue.NewMemoryQueue()
	t.Cleanup(func() { _ = q.Close() })
	idx := index.NewMemoryIndex()
	sync := indexsync.New(st, q, idx, index.NewProjector(baseURI, ""))
	hub, err := ipifhub.NewHub(st, sync, &ipifhub.Config{BaseURI: baseURI}, nil)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	reg.MustRegister(indexsync.Collectors()...)

	s := New(testConfig(), hub, idx, WithQueue(q), WithGatherer(reg))
	s.Setup()
	return &fixture{server: s, sync: sync, queue: q}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.server.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) drain(t *testing.T) {
	t.Helper()
	_, err := f.sync.Drain(context.Background())
	require.NoError(t, err)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestNew(t *testing.T) {
	cfg := testConfig()
	server := New(cfg, nil, nil)
	require.NotNil(t, server)
	assert.Equal(t, cfg, server.config)
}

func TestSetup(t *testing.T) {
	server := New(testConfig(), nil, nil)
	server.Setup()

	require.NotNil(t, server.router)
	require.NotNil(t, server.server)
	assert.Equal(t, "localhost:8080", server.server.Addr)
}

func TestHealthEndpointsWithoutHub(t *testing.T) {
	server := New(testConfig(), nil, nil)
	server.Setup()

	tests := []struct {
		path string
		code int
	}{
		{"/health", http.StatusOK},
		{"/healthcheck", http.StatusOK},
		{"/live", http.StatusOK},
		{"/ready", http.StatusServiceUnavailable},
		{"/health/detailed", http.StatusServiceUnavailable},
		{"/api/v1/persons", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			server.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.code, w.Code)
		})
	}
}

func TestCORSMiddleware(t *testing.T) {
	server := New(testConfig(), nil, nil)
	server.Setup()

	req := httptest.NewRequest(http.MethodOptions, "/health", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	for _, header := range []string{
		"Access-Control-Allow-Origin",
		"Access-Control-Allow-Credentials",
		"Access-Control-Allow-Headers",
		"Access-Control-Allow-Methods",
	} {
		assert.NotEmpty(t, w.Header().Get(header), header)
	}
}

func TestServerConfig(t *testing.T) {
	tests := []struct {
		host         string
		port         int
		expectedAddr string
	}{
		{"localhost", 8080, "localhost:8080"},
		{"0.0.0.0", 3000, "0.0.0.0:3000"},
		{"127.0.0.1", 9090, "127.0.0.1:9090"},
	}
	for _, tt := range tests {
		t.Run(tt.expectedAddr, func(t *testing.T) {
			cfg := testConfig()
			cfg.Server.Host, cfg.Server.Port = tt.host, tt.port
			server := New(cfg, nil, nil)
			server.Setup()
			assert.Equal(t, tt.expectedAddr, server.server.Addr)
		})
	}
}

func TestMergedViewLifecycle(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPut, "/api/v1/repos/alpha", dto.RepoRequest{Name: "Alpha", EndpointURI: "https://alpha.org/ipif"}).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPut, "/api/v1/repos/beta", dto.RepoRequest{Name: "Beta", EndpointURI: "https://beta.org/ipif"}).Code)

	w := f.do(t, http.MethodPut, "/api/v1/repos/alpha/persons/1", dto.EntityRequest{Label: "Ada", URIs: []string{"http://viaf.org/1"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[dto.WriteResponse](t, w).Changed)

	w = f.do(t, http.MethodPut, "/api/v1/repos/beta/persons/a", dto.EntityRequest{Label: "Ada L.", URIs: []string{"http://viaf.org/1"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// same content again is a no-op
	w = f.do(t, http.MethodPut, "/api/v1/repos/beta/persons/a", dto.EntityRequest{Label: "Ada L.", URIs: []string{"http://viaf.org/1"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[dto.WriteResponse](t, w).Changed)

	assert.Positive(t, f.queue.Len())
	f.drain(t)

	merged := decode[dto.SearchResponse](t, f.do(t, http.MethodGet, "/api/v1/persons?uri=http://viaf.org/1", nil))
	assert.True(t, merged.Merged)
	require.Len(t, merged.Results, 1)
	assert.Equal(t, "merge_person", merged.Results[0].Kind)

	perRepo := decode[dto.SearchResponse](t, f.do(t, http.MethodGet, "/api/v1/persons?repo=alpha", nil))
	assert.False(t, perRepo.Merged)
	require.Len(t, perRepo.Results, 1)
	assert.Equal(t, "person", perRepo.Results[0].Kind)
	assert.Equal(t, "Ada", perRepo.Results[0].Label)

	doc := f.do(t, http.MethodGet, "/api/v1/documents/"+merged.Results[0].ID, nil)
	assert.Equal(t, http.StatusOK, doc.Code)

	stats := decode[dto.StatsResponse](t, f.do(t, http.MethodGet, "/api/v1/stats", nil))
	assert.Equal(t, 2, stats.Repos)
	assert.Equal(t, 2, stats.Persons)
	assert.Equal(t, 1, stats.Clusters["person"])
	assert.Equal(t, 0, stats.QueuePending)

	// dropping the shared URI splits the cluster
	w = f.do(t, http.MethodDelete, "/api/v1/repos/beta/persons/a/uris", dto.URIsRequest{URIs: []string{"http://viaf.org/1"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[dto.WriteResponse](t, w).Changed)
	f.drain(t)

	merged = decode[dto.SearchResponse](t, f.do(t, http.MethodGet, "/api/v1/persons", nil))
	assert.Len(t, merged.Results, 2)

	// and adding it back coalesces again
	w = f.do(t, http.MethodPost, "/api/v1/repos/beta/persons/a/uris", dto.URIsRequest{URIs: []string{"http://viaf.org/1"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	f.drain(t)
	merged = decode[dto.SearchResponse](t, f.do(t, http.MethodGet, "/api/v1/persons", nil))
	assert.Len(t, merged.Results, 1)

	metrics := httptest.NewRecorder()
	f.server.router.ServeHTTP(metrics, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(), "ipifhub_indexsync_tasks_total")
}

func TestFactoidWithDanglingSource(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPut, "/api/v1/repos/beta", dto.RepoRequest{EndpointURI: "https://beta.org/ipif"}).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPut, "/api/v1/repos/beta/persons/a", dto.EntityRequest{Label: "Ada"}).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPut, "/api/v1/repos/beta/statements/s1", dto.StatementRequest{Name: "Ada Lovelace"}).Code)

	w := f.do(t, http.MethodPut, "/api/v1/repos/beta/factoids/f1", dto.FactoidRequest{
		Person:     "a",
		Source:     "http://unknown.org/sources/9",
		Statements: []string{"s1"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, ipifhub.FactoidID("beta", "f1"), decode[dto.WriteResponse](t, w).ID)
	f.drain(t)

	stats := decode[dto.StatsResponse](t, f.do(t, http.MethodGet, "/api/v1/stats", nil))
	assert.Equal(t, 1, stats.Placeholders)
	assert.Equal(t, 0, stats.Sources)
	assert.Equal(t, 0, stats.Clusters["source"], "placeholders are never clustered")
	assert.Equal(t, 1, stats.Factoids)

	factoids := decode[dto.SearchResponse](t, f.do(t, http.MethodGet, "/api/v1/factoids", nil))
	assert.Len(t, factoids.Results, 1)
	sources := decode[dto.SearchResponse](t, f.do(t, http.MethodGet, "/api/v1/sources", nil))
	assert.Empty(t, sources.Results)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/repos/beta/factoids/f1", nil).Code)

	// deleting the person cascades to its factoids
	require.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, "/api/v1/repos/beta/persons/a", nil).Code)
	f.drain(t)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/repos/beta/persons/a", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/repos/beta/factoids/f1", nil).Code)
	factoids = decode[dto.SearchResponse](t, f.do(t, http.MethodGet, "/api/v1/factoids", nil))
	assert.Empty(t, factoids.Results)
}

func TestRequestErrors(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPut, "/api/v1/repos/alpha", dto.RepoRequest{EndpointURI: "https://alpha.org/ipif"}).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPut, "/api/v1/repos/alpha/persons/1", dto.EntityRequest{}).Code)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		code   int
	}{
		{"unknown collection", http.MethodPut, "/api/v1/repos/alpha/widgets/1", dto.EntityRequest{}, http.StatusBadRequest},
		{"unknown repo", http.MethodPut, "/api/v1/repos/nope/persons/1", dto.EntityRequest{}, http.StatusNotFound},
		{"missing entity", http.MethodDelete, "/api/v1/repos/alpha/persons/2", nil, http.StatusNotFound},
		{"empty uris", http.MethodPost, "/api/v1/repos/alpha/persons/1/uris", dto.URIsRequest{}, http.StatusBadRequest},
		{"derived identifier", http.MethodDelete, "/api/v1/repos/alpha/persons/1/uris", dto.URIsRequest{URIs: []string{"https://alpha.org/ipif/persons/1"}}, http.StatusBadRequest},
		{"factoid without source", http.MethodPut, "/api/v1/repos/alpha/factoids/f1", dto.FactoidRequest{Person: "1"}, http.StatusBadRequest},
		{"factoid with missing statement", http.MethodPut, "/api/v1/repos/alpha/factoids/f1", dto.FactoidRequest{Person: "1", Source: "x", Statements: []string{"nope"}}, http.StatusNotFound},
		{"bad ref", http.MethodGet, "/api/v1/documents/nope", nil, http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/api/v1/persons?limit=zero", nil, http.StatusBadRequest},
		{"bad kind", http.MethodPost, "/api/v1/admin/recluster/places", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}

	// a rejected factoid leaves no placeholder behind
	stats := decode[dto.StatsResponse](t, f.do(t, http.MethodGet, "/api/v1/stats", nil))
	assert.Equal(t, 0, stats.Placeholders)
}

func TestMaintenanceEndpoints(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPut, "/api/v1/repos/alpha", dto.RepoRequest{EndpointURI: "https://alpha.org/ipif"}).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPut, "/api/v1/repos/alpha/persons/1", dto.EntityRequest{URIs: []string{"http://viaf.org/1"}}).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPut, "/api/v1/repos/alpha/persons/2", dto.EntityRequest{URIs: []string{"http://viaf.org/1"}}).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPut, "/api/v1/repos/alpha/persons/3", dto.EntityRequest{}).Code)
	f.drain(t)

	w := f.do(t, http.MethodPost, "/api/v1/admin/recluster/persons", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 2, decode[dto.MaintenanceResponse](t, w).Count)

	w = f.do(t, http.MethodPost, "/api/v1/admin/reindex", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	// three persons and two clusters
	assert.Equal(t, 5, decode[dto.MaintenanceResponse](t, w).Count)
}
