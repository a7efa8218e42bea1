package contracts_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kioskops/kioskops/internal/contracts"
	"github.com/kioskops/kioskops/internal/shared"
)

type memoryGuard struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (g *memoryGuard) CheckAndInsert(ctx context.Context, key, module string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.keys[module+key] {
		return shared.ErrIdempotencyConflict
	}
	g.keys[module+key] = true
	return nil
}

func (g *memoryGuard) Delete(ctx context.Context, key, module string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.keys, module+key)
	return nil
}

type envelope struct {
	Success  bool               `json:"success"`
	Error    string             `json:"error"`
	Contract contracts.Contract `json:"contract"`
	Payment  contracts.Payment  `json:"payment"`
	Warnings []string           `json:"warnings"`
}

func newTestRouter(t *testing.T) (http.Handler, *fixture) {
	t.Helper()
	f := newFixture(t)
	h := contracts.NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.svc, &memoryGuard{keys: map[string]bool{}})
	r := chi.NewRouter()
	r.Route("/api/contracts", h.MountRoutes)
	return r, f
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req = req.WithContext(shared.ContextWithActor(req.Context(), actor))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func TestHandlerCreateAndTransition(t *testing.T) {
	h, _ := newTestRouter(t)

	rec, env := do(t, h, http.MethodPost, "/api/contracts",
		`{"client_name":"Acme","duration_months":12,"payment_amount":50000,"kiosk_ids":[1]}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, env.Success)
	assert.Equal(t, 600000.0, env.Contract.TotalAmount)
	assert.NotNil(t, env.Warnings)

	rec, env = do(t, h, http.MethodPost, "/api/contracts/1/transition", `{"status":"active"}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "invalid status transition")

	rec, env = do(t, h, http.MethodPost, "/api/contracts/1/transition", `{"status":"PENDING"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, contracts.StatusPending, env.Contract.Status)
}

func TestHandlerValidationFailure(t *testing.T) {
	h, _ := newTestRouter(t)

	rec, env := do(t, h, http.MethodPost, "/api/contracts", `{"client_name":"Acme","kiosk_ids":[]}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, env.Success)

	rec, _ = do(t, h, http.MethodGet, "/api/contracts/99", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerCreateRejectsProformaReference(t *testing.T) {
	h, f := newTestRouter(t)

	rec, env := do(t, h, http.MethodPost, "/api/contracts",
		`{"client_name":"Acme","duration_months":12,"payment_amount":50000,"kiosk_ids":[1],"proforma_id":5}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, env.Success)
	assert.Empty(t, f.store.Snapshot().Contracts)

	rec, env = do(t, h, http.MethodPost, "/api/contracts",
		`{"client_name":"Acme","duration_months":12,"payment_amount":0.125,"kiosk_ids":[1]}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, env.Success)
}

func TestHandlerPaymentIdempotency(t *testing.T) {
	h, f := newTestRouter(t)
	c := f.create(t, 1)
	f.advance(t, c.ID, contracts.StatusPending, contracts.StatusConfirmed, contracts.StatusActive)
	headers := map[string]string{contracts.IdempotencyKeyHeader: "pay-1"}

	rec, env := do(t, h, http.MethodPost, "/api/contracts/1/payments", `{"amount":20000,"method":"CASH"}`, headers)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 20000.0, env.Payment.Amount)

	rec, env = do(t, h, http.MethodPost, "/api/contracts/1/payments", `{"amount":20000,"method":"CASH"}`, headers)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, env.Success)
	assert.Len(t, f.store.Snapshot().Payments, 1)
}

func TestHandlerPaymentFailureReleasesKey(t *testing.T) {
	h, f := newTestRouter(t)
	f.create(t, 1)
	headers := map[string]string{contracts.IdempotencyKeyHeader: "pay-2"}

	rec, _ := do(t, h, http.MethodPost, "/api/contracts/1/payments", `{"amount":100,"method":"CASH"}`, headers)
	assert.Equal(t, http.StatusConflict, rec.Code)

	f.advance(t, 1, contracts.StatusPending, contracts.StatusConfirmed, contracts.StatusActive)
	rec, _ = do(t, h, http.MethodPost, "/api/contracts/1/payments", `{"amount":100,"method":"CASH"}`, headers)
	assert.Equal(t, http.StatusCreated, rec.Code)
}
