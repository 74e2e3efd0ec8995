package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/ipifhub"
	"github.com/soundprediction/ipifhub/pkg/index"
	"github.com/soundprediction/ipifhub/pkg/server/dto"
	"github.com/soundprediction/ipifhub/pkg/store/memstore"
	"github.com/soundprediction/ipifhub/pkg/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(t *testing.T, h gin.HandlerFunc) map[string]interface{} {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	h(c)

	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	response["_code"] = float64(w.Code)
	return response
}

func TestHealthCheck(t *testing.T) {
	handler := NewHealthHandler(nil, nil)
	response := serve(t, handler.HealthCheck)

	assert.Equal(t, float64(http.StatusOK), response["_code"])
	assert.Equal(t, "healthy", response["status"])
	assert.Equal(t, "ipifhub", response["service"])
	assert.Contains(t, response, "timestamp")
	assert.Contains(t, response, "version")
}

func TestLivenessCheck(t *testing.T) {
	response := serve(t, NewHealthHandler(nil, nil).LivenessCheck)
	assert.Equal(t, float64(http.StatusOK), response["_code"])
	assert.Equal(t, "alive", response["status"])
}

func TestReadinessCheckWithoutDependencies(t *testing.T) {
	response := serve(t, NewHealthHandler(nil, nil).ReadinessCheck)

	assert.Equal(t, float64(http.StatusServiceUnavailable), response["_code"])
	assert.Equal(t, "not_ready", response["status"])

	checks, ok := response["checks"].(map[string]interface{})
	require.True(t, ok, "expected checks in response")
	dbCheck, ok := checks["database"].(map[string]interface{})
	require.True(t, ok, "expected database check in response")
	assert.Equal(t, "unhealthy", dbCheck["status"])
}

func TestReadinessCheck(t *testing.T) {
	response := serve(t, NewHealthHandler(memstore.New(), index.NewMemoryIndex()).ReadinessCheck)

	assert.Equal(t, float64(http.StatusOK), response["_code"])
	assert.Equal(t, "ready", response["status"])
	checks := response["checks"].(map[string]interface{})
	assert.Equal(t, "healthy", checks["database"].(map[string]interface{})["status"])
	assert.Equal(t, "healthy", checks["index"].(map[string]interface{})["status"])
}

type downIndex struct{ index.Index }

func (downIndex) Query(context.Context, index.Query) ([]*index.Document, error) {
	return nil, errors.New("connection refused")
}

func TestReadinessCheckIndexDown(t *testing.T) {
	response := serve(t, NewHealthHandler(memstore.New(), downIndex{}).ReadinessCheck)

	assert.Equal(t, float64(http.StatusServiceUnavailable), response["_code"])
	idx := response["checks"].(map[string]interface{})["index"].(map[string]interface{})
	assert.Equal(t, "unhealthy", idx["status"])
	assert.Equal(t, "connection refused", idx["error"])
}

func TestDetailedHealthCheckWithoutDependencies(t *testing.T) {
	response := serve(t, NewHealthHandler(nil, nil).DetailedHealthCheck)

	assert.Equal(t, float64(http.StatusServiceUnavailable), response["_code"])
	assert.Equal(t, "unhealthy", response["status"])
	assert.Contains(t, response, "build_info")

	metrics, ok := response["metrics"].(map[string]interface{})
	require.True(t, ok, "expected metrics in response")
	assert.Contains(t, metrics, "response_time_ms")
}

func TestGetSystemMetrics(t *testing.T) {
	metrics := NewHealthHandler(nil, nil).getSystemMetrics()

	assert.NotEmpty(t, metrics.MemoryUsage)
	assert.GreaterOrEqual(t, metrics.Goroutines, 1)
	assert.NotEmpty(t, metrics.StackUsage)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{types.ErrNotFound, http.StatusNotFound},
		{types.ErrInvariant, http.StatusConflict},
		{types.ErrUnknownKind, http.StatusBadRequest},
		{ipifhub.ErrDerivedIdentifier, http.StatusBadRequest},
		{dto.ErrEmptyLocalID, http.StatusBadRequest},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			status, _ := statusFor(wrap(tt.err))
			assert.Equal(t, tt.status, status)
		})
	}
}

func wrap(err error) error {
	return errors.Join(errors.New("context"), err)
}
