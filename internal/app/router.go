package app

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/kioskops/kioskops/internal/contracts"
	"github.com/kioskops/kioskops/internal/kiosks"
	"github.com/kioskops/kioskops/internal/maintenance"
	"github.com/kioskops/kioskops/internal/observability"
	"github.com/kioskops/kioskops/internal/proformas"
	"github.com/kioskops/kioskops/jobs"
	"github.com/kioskops/kioskops/report"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	ContractHandler    *contracts.Handler
	ProformaHandler    *proformas.Handler
	KioskHandler       *kiosks.Handler
	MaintenanceHandler *maintenance.Handler
	ReportHandler      *report.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with KioskOps defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		if params.ContractHandler != nil {
			r.Route("/contracts", params.ContractHandler.MountRoutes)
		}
		if params.ProformaHandler != nil {
			r.Route("/proformas", params.ProformaHandler.MountRoutes)
		}
		if params.KioskHandler != nil {
			r.Route("/kiosks", params.KioskHandler.MountRoutes)
		}
		if params.MaintenanceHandler != nil {
			r.Route("/maintenance", params.MaintenanceHandler.MountRoutes)
		}
	})
	if params.ReportHandler != nil {
		r.Route("/report", params.ReportHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	if params.Config != nil && params.Config.DocumentStorageDir != "" {
		prefix := "/" + strings.Trim(documentPath(params.Config.DocumentBaseURL), "/") + "/"
		fileServer := http.StripPrefix(prefix, http.FileServer(http.Dir(params.Config.DocumentStorageDir)))
		r.Handle(prefix+"*", documentCacheHandler(fileServer))
	}

	return r
}

// documentPath extracts the path of a document base URL, which may be
// absolute when documents are linked from emails.
func documentPath(baseURL string) string {
	if i := strings.Index(baseURL, "://"); i >= 0 {
		rest := baseURL[i+3:]
		if j := strings.Index(rest, "/"); j >= 0 {
			return rest[j:]
		}
		return "/documents"
	}
	if strings.Trim(baseURL, "/") == "" {
		return "/documents"
	}
	return baseURL
}

// documentCacheHandler lets browsers keep a rendered PDF for a short while.
// Re-renders write a new file name, so stale copies are never served.
func documentCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "private, max-age=3600")
		if strings.HasSuffix(r.URL.Path, ".pdf") {
			w.Header().Set("Content-Type", "application/pdf")
		}
		next.ServeHTTP(w, r)
	})
}
