package proformas

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kioskops/kioskops/internal/platform/httpx"
	"github.com/kioskops/kioskops/internal/shared"
)

// Handler exposes proforma endpoints.
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
	r.Post("/quote", h.quote)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.show)
		r.Get("/history", h.history)
		r.Post("/send", h.send)
		r.Post("/accept", h.accept)
		r.Post("/reject", h.reject)
		r.Post("/convert", h.convert)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page, perPage := httpx.PageParams(r)
	req := ListRequest{Limit: perPage, Offset: (page - 1) * perPage}
	if v := r.URL.Query().Get("status"); v != "" {
		st := Status(strings.ToUpper(v))
		if !st.Valid() {
			httpx.Fail(w, shared.NewValidationError("status", "unknown proforma status"))
			return
		}
		req.Status = &st
	}
	if v := r.URL.Query().Get("search"); v != "" {
		req.Search = &v
	}
	items, total, err := h.service.List(r.Context(), req)
	if err != nil {
		h.logger.Error("list proformas", slog.Any("error", err))
		httpx.Fail(w, err)
		return
	}
	httpx.SuccessList(w, "proformas", items, shared.NewPagination(page, perPage, total))
}

func (h *Handler) quote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, err)
		return
	}
	pricing, err := h.service.Quote(req)
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.Success(w, http.StatusOK, "pricing", pricing, nil)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, err)
		return
	}
	p, err := h.service.Create(r.Context(), req, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Warn("create proforma", slog.String("client", req.ClientName), slog.Any("error", err))
		httpx.Fail(w, err)
		return
	}
	httpx.Success(w, http.StatusCreated, "proforma", p, nil)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.Success(w, http.StatusOK, "proforma", p, nil)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	actions, err := h.service.History(r.Context(), id)
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.Success(w, http.StatusOK, "history", actions, nil)
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, "send", h.service.Send)
}

func (h *Handler) accept(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, "accept", h.service.Accept)
}

func (h *Handler) simpleTransition(w http.ResponseWriter, r *http.Request, op string, fn func(ctx context.Context, id, actorID int64) (*Result, error)) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	res, err := fn(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Warn("proforma "+op, slog.Int64("proforma_id", id), slog.Any("error", err))
		httpx.Fail(w, err)
		return
	}
	httpx.Success(w, http.StatusOK, "proforma", res.Proforma, res.Warnings)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	var req RejectRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, err)
		return
	}
	res, err := h.service.Reject(r.Context(), id, req, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Warn("proforma reject", slog.Int64("proforma_id", id), slog.Any("error", err))
		httpx.Fail(w, err)
		return
	}
	httpx.Success(w, http.StatusOK, "proforma", res.Proforma, res.Warnings)
}

func (h *Handler) convert(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	var req ConvertRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, err)
		return
	}
	res, err := h.service.ConvertToContract(r.Context(), id, req, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Warn("proforma convert", slog.Int64("proforma_id", id), slog.Any("error", err))
		httpx.Fail(w, err)
		return
	}
	httpx.Success(w, http.StatusCreated, "result", res, res.Warnings)
}
