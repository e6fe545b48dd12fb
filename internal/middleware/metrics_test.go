package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/maynagashev/snapkeeper/internal/middleware"
)

type request struct {
	method, route, status string
}

type recordingHTTPMetrics struct {
	mu       sync.Mutex
	requests []request
}

func (r *recordingHTTPMetrics) ObserveRequest(method, route, status string, _ float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, request{method, route, status})
}

func TestMetrics(t *testing.T) {
	rec := &recordingHTTPMetrics{}
	r := chi.NewRouter()
	r.Use(middleware.Metrics(rec))
	r.Get("/api/versions/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Post("/api/versions", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	for _, tc := range []struct{ method, target string }{
		{http.MethodGet, "/api/versions/v1"},
		{http.MethodGet, "/api/versions/v2"},
		{http.MethodPost, "/api/versions"},
		{http.MethodGet, "/nowhere"},
	} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tc.method, tc.target, nil))
	}

	assert.Equal(t, []request{
		{http.MethodGet, "/api/versions/{id}", "404"},
		{http.MethodGet, "/api/versions/{id}", "404"},
		{http.MethodPost, "/api/versions", "200"},
		{http.MethodGet, "unmatched", "404"},
	}, rec.requests)
}
