package kiosks

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kioskops/kioskops/internal/platform/httpx"
	"github.com/kioskops/kioskops/internal/shared"
)

// Handler exposes kiosk endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler creates a new handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers routes on the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Post("/requests", h.request)
	r.Post("/status", h.setStatuses)
	r.Get("/{id}", h.show)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page, perPage := httpx.PageParams(r)
	req := ListRequest{Limit: perPage, Offset: (page - 1) * perPage}
	q := r.URL.Query()
	if v := q.Get("status"); v != "" {
		st, err := ParseStatus(strings.ToUpper(v))
		if err != nil {
			httpx.Fail(w, shared.NewValidationError("status", err.Error()))
			return
		}
		req.Status = &st
	}
	if v := q.Get("type"); v != "" {
		t := Type(strings.ToUpper(v))
		if !t.Valid() {
			httpx.Fail(w, shared.NewValidationError("type", "unknown kiosk type"))
			return
		}
		req.Type = &t
	}
	if v := q.Get("search"); v != "" {
		req.Search = &v
	}
	items, total, err := h.service.List(r.Context(), req)
	if err != nil {
		h.logger.Error("list kiosks", slog.Any("error", err))
		httpx.Fail(w, err)
		return
	}
	httpx.SuccessList(w, "kiosks", items, shared.NewPagination(page, perPage, total))
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	k, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.Success(w, http.StatusOK, "kiosk", k, nil)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, err)
		return
	}
	k, err := h.service.Create(r.Context(), req)
	if err != nil {
		h.logger.Warn("create kiosk", slog.Any("error", err))
		httpx.Fail(w, err)
		return
	}
	httpx.Success(w, http.StatusCreated, "kiosk", k, nil)
}

func (h *Handler) request(w http.ResponseWriter, r *http.Request) {
	var req KioskRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, err)
		return
	}
	k, err := h.service.SubmitRequest(r.Context(), req)
	if err != nil {
		h.logger.Warn("submit kiosk request", slog.Any("error", err))
		httpx.Fail(w, err)
		return
	}
	httpx.Success(w, http.StatusCreated, "kiosk", k, nil)
}

func (h *Handler) setStatuses(w http.ResponseWriter, r *http.Request) {
	var req SetStatusesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, err)
		return
	}
	res, err := h.service.SetStatuses(r.Context(), req)
	if err != nil {
		h.logger.Error("set kiosk statuses", slog.String("status", string(req.Status)), slog.Any("error", err))
		httpx.Fail(w, err)
		return
	}
	var warnings []string
	for _, e := range res.Errors {
		warnings = append(warnings, e.Error())
	}
	httpx.Success(w, http.StatusOK, "result", toSyncResponse(res), warnings)
}
