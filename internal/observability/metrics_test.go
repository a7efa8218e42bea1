package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareAndTransitionsAreExported(t *testing.T) {
	m := NewMetrics()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/contracts/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/contracts/9", nil))

	m.ObserveTransition("contract", "CONFIRMED", "ACTIVE")
	m.ObserveRenderFailure("contract")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	out := string(body)
	assert.Contains(t, out, `kioskops_http_requests_total{code="404",route="/api/contracts/{id}"} 1`)
	assert.Contains(t, out, `kioskops_lifecycle_transitions_total{entity="contract",from="CONFIRMED",to="ACTIVE"} 1`)
	assert.Contains(t, out, `kioskops_document_render_failures_total{entity="contract"} 1`)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveTransition("contract", "DRAFT", "PENDING")
	m.ObserveRenderFailure("contract")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
