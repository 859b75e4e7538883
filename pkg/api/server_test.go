package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListPlans(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/api/plans", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(5), body["free_limit"])

	limits := map[string]float64{}
	for _, p := range body["plans"].([]interface{}) {
		plan := p.(map[string]interface{})
		limits[plan["id"].(string)] = plan["generations_per_period"].(float64)
	}
	assert.Equal(t, float64(100), limits["basic"])
	assert.Equal(t, float64(400), limits["pro"])
	assert.Equal(t, float64(1800), limits["max"])
}

func TestOperationalRoutes(t *testing.T) {
	env := newTestEnv(t, nil)

	live := env.do(http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, live.Code)

	ready := env.do(http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, ready.Code, ready.Body.String())

	env.do(http.MethodGet, "/api/plans", "", nil)
	metrics := env.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(), `nano_banana_http_requests_total{method="GET",route="/api/plans",status="200"}`)
}

func TestRequestIDPropagated(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/plans", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(http.MethodGet, "/api/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
