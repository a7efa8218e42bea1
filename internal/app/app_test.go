package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kioskops/kioskops/internal/contracts"
	"github.com/kioskops/kioskops/internal/contracts/contractstest"
	"github.com/kioskops/kioskops/internal/kiosks"
	"github.com/kioskops/kioskops/internal/observability"
	"github.com/kioskops/kioskops/internal/shared"
	_ "github.com/kioskops/kioskops/testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("STAFF_EMAILS", "ops@kiosk.test, ,admin@kiosk.test")
	t.Setenv("DOCUMENT_RENDER_TIMEOUT", "5s")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, 5*time.Second, cfg.DocumentRenderTimeout)
	assert.Equal(t, []string{"ops@kiosk.test", "admin@kiosk.test"}, cfg.StaffEmails)
	assert.Equal(t, 72*time.Hour, cfg.IdempotencyRetention)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsZeroRenderTimeout(t *testing.T) {
	t.Setenv("DOCUMENT_RENDER_TIMEOUT", "0s")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestInTestMode(t *testing.T) {
	RefreshTestMode()
	assert.True(t, InTestMode())
}

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	logger, closer, err := NewLogger(&Config{LogFormat: "json", LogFile: path})
	require.NoError(t, err)
	logger.Info("contract activated", slog.Int64("contract_id", 12))
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"contract_id":12`)
}

type allowAll struct{}

func (allowAll) CheckAndInsert(ctx context.Context, key, module string) error { return nil }
func (allowAll) Delete(ctx context.Context, key, module string) error         { return nil }

type counter struct{ n int }

func (c *counter) Next(ctx context.Context, prefix string) (string, error) {
	c.n++
	return fmt.Sprintf("%s-202610-%06d", prefix, c.n), nil
}

func newTestRouter(t *testing.T, docs string) (http.Handler, *contractstest.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := contractstest.NewStore()
	store.AddKiosk(kiosks.Kiosk{ID: 1, Code: "K1", Type: kiosks.TypeStandard, Status: kiosks.StatusAvailable})
	svc := contracts.NewService(store, &counter{}, logger, contracts.ServiceConfig{})
	return NewRouter(RouterParams{
		Logger:          logger,
		Config:          &Config{DocumentStorageDir: docs, DocumentBaseURL: "http://kiosk.test/documents"},
		ContractHandler: contracts.NewHandler(logger, svc, allowAll{}),
		Metrics:         observability.NewMetrics(),
	}), store
}

func TestRouterHealthAndMetrics(t *testing.T) {
	h, _ := newTestRouter(t, t.TempDir())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kioskops_http_requests_total")
}

func TestRouterPropagatesActor(t *testing.T) {
	h, store := newTestRouter(t, t.TempDir())

	req := httptest.NewRequest(http.MethodPost, "/api/contracts",
		strings.NewReader(`{"client_name":"Acme","duration_months":6,"payment_amount":1000,"kiosk_ids":[1]}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(shared.ActorHeader, "9")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var body struct {
		Contract contracts.Contract `json:"contract"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Contract.CreatedBy)
	assert.Equal(t, int64(9), *body.Contract.CreatedBy)
	assert.Equal(t, kiosks.StatusReserved, store.KioskStatus(1))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/contracts/404", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouterServesDocuments(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "contract-CTR-1.pdf"), []byte("%PDF-1.4"), 0o644))
	h, _ := newTestRouter(t, dir)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents/contract-CTR-1.pdf", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "private, max-age=3600", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "%PDF-1.4", rec.Body.String())
}

func TestDocumentPath(t *testing.T) {
	assert.Equal(t, "/documents", documentPath(""))
	assert.Equal(t, "/files/pdf", documentPath("https://kiosk.test/files/pdf"))
	assert.Equal(t, "/documents", documentPath("https://kiosk.test"))
	assert.Equal(t, "/docs", documentPath("/docs"))
}
