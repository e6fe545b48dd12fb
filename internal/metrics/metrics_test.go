package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maynagashev/snapkeeper/internal/metrics"
)

func TestProm_ObserveOperation(t *testing.T) {
	p := metrics.NewProm("snapkeeper_test")
	p.ObserveOperation("local", "store", "ok", 0.01)
	p.ObserveOperation("local", "store", "ok", 0.02)
	p.ObserveOperation("local", "store", "error", 0.03)

	count, err := testutil.GatherAndCount(p.Registry(), "snapkeeper_test_storage_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count) // две серии: ok и error
}

func TestProm_Handler(t *testing.T) {
	p := metrics.NewProm("snapkeeper_test")
	p.ObserveRequest(http.MethodGet, "/{id}", "200", 0.001)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "snapkeeper_test_http_requests_total")
}

func TestNoop(t *testing.T) {
	var m metrics.StorageMetrics = metrics.Noop{}
	m.ObserveOperation("local", "store", "ok", 1)
	var h metrics.HTTPMetrics = metrics.Noop{}
	h.ObserveRequest("GET", "/", "200", 1)
}
