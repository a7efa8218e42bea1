package maintenance

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kioskops/kioskops/internal/platform/httpx"
	"github.com/kioskops/kioskops/internal/shared"
)

// Handler exposes maintenance endpoints.
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
	r.Post("/", h.open)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.show)
		r.Post("/start", h.start)
		r.Post("/resolve", h.resolve)
		r.Post("/cancel", h.cancel)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page, perPage := httpx.PageParams(r)
	req := ListRequest{Limit: perPage, Offset: (page - 1) * perPage}
	q := r.URL.Query()
	if v := q.Get("status"); v != "" {
		st := Status(strings.ToUpper(v))
		if !st.Valid() {
			httpx.Fail(w, shared.NewValidationError("status", "unknown ticket status"))
			return
		}
		req.Status = &st
	}
	if v := q.Get("kiosk_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			httpx.Fail(w, shared.NewValidationError("kiosk_id", "must be a positive integer"))
			return
		}
		req.KioskID = &id
	}
	items, total, err := h.service.List(r.Context(), req)
	if err != nil {
		h.logger.Error("list maintenance tickets", slog.Any("error", err))
		httpx.Fail(w, err)
		return
	}
	httpx.SuccessList(w, "tickets", items, shared.NewPagination(page, perPage, total))
}

func (h *Handler) open(w http.ResponseWriter, r *http.Request) {
	var req OpenRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, err)
		return
	}
	t, err := h.service.Open(r.Context(), req, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Warn("open maintenance ticket", slog.Int64("kiosk_id", req.KioskID), slog.Any("error", err))
		httpx.Fail(w, err)
		return
	}
	httpx.Success(w, http.StatusCreated, "ticket", t, nil)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	t, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.Success(w, http.StatusOK, "ticket", t, nil)
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	t, err := h.service.Start(r.Context(), id)
	if err != nil {
		h.logger.Warn("start maintenance ticket", slog.Int64("ticket_id", id), slog.Any("error", err))
		httpx.Fail(w, err)
		return
	}
	httpx.Success(w, http.StatusOK, "ticket", t, nil)
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	h.close(w, r, "resolve", h.service.Resolve)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	h.close(w, r, "cancel", h.service.Cancel)
}

func (h *Handler) close(w http.ResponseWriter, r *http.Request, op string, fn func(ctx context.Context, id int64, req CloseRequest) (*Ticket, error)) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	var req CloseRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Fail(w, err)
			return
		}
	}
	t, err := fn(r.Context(), id, req)
	if err != nil {
		h.logger.Warn(op+" maintenance ticket", slog.Int64("ticket_id", id), slog.Any("error", err))
		httpx.Fail(w, err)
		return
	}
	httpx.Success(w, http.StatusOK, "ticket", t, nil)
}
