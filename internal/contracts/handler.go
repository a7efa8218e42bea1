package contracts

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kioskops/kioskops/internal/platform/httpx"
	"github.com/kioskops/kioskops/internal/shared"
)

// IdempotencyKeyHeader deduplicates payment submissions.
const IdempotencyKeyHeader = "Idempotency-Key"

const paymentModule = "contracts.payment"

// IdempotencyGuard rejects replayed request keys.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// Handler exposes contract endpoints.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	idempotency IdempotencyGuard
}

// NewHandler creates a new handler. idempotency may be nil.
func NewHandler(logger *slog.Logger, service *Service, idempotency IdempotencyGuard) *Handler {
	return &Handler{logger: logger, service: service, idempotency: idempotency}
}

// MountRoutes registers routes on the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.show)
		r.Post("/transition", h.transition)
		r.Get("/history", h.history)
		r.Get("/payments", h.payments)
		r.Post("/payments", h.recordPayment)
		r.Get("/balance", h.balance)
		r.Post("/render", h.render)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page, perPage := httpx.PageParams(r)
	q := r.URL.Query()
	req := ListRequest{
		Limit:   perPage,
		Offset:  (page - 1) * perPage,
		SortBy:  q.Get("sort"),
		SortDir: q.Get("dir"),
	}
	if v := q.Get("status"); v != "" {
		st := Status(strings.ToUpper(v))
		if !st.Valid() {
			httpx.Fail(w, shared.NewValidationError("status", "unknown contract status"))
			return
		}
		req.Status = &st
	}
	if v := q.Get("search"); v != "" {
		req.Search = &v
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			httpx.Fail(w, shared.NewValidationError("from", "must be YYYY-MM-DD"))
			return
		}
		req.CreatedFrom = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			httpx.Fail(w, shared.NewValidationError("to", "must be YYYY-MM-DD"))
			return
		}
		end := t.AddDate(0, 0, 1)
		req.CreatedTo = &end
	}
	items, total, err := h.service.List(r.Context(), req)
	if err != nil {
		h.logger.Error("list contracts", slog.Any("error", err))
		httpx.Fail(w, err)
		return
	}
	httpx.SuccessList(w, "contracts", items, shared.NewPagination(page, perPage, total))
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, err)
		return
	}
	res, err := h.service.Create(r.Context(), req, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Warn("create contract", slog.String("client", req.ClientName), slog.Any("error", err))
		httpx.Fail(w, err)
		return
	}
	httpx.Success(w, http.StatusCreated, "contract", res.Contract, res.Warnings)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	c, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.Success(w, http.StatusOK, "contract", c, nil)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	var req TransitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, err)
		return
	}
	target := Status(strings.ToUpper(string(req.Status)))
	res, err := h.service.Transition(r.Context(), id, target, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Warn("contract transition",
			slog.Int64("contract_id", id), slog.String("target", string(target)), slog.Any("error", err))
		httpx.Fail(w, err)
		return
	}
	httpx.Success(w, http.StatusOK, "contract", res.Contract, res.Warnings)
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

func (h *Handler) payments(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	items, err := h.service.Payments(r.Context(), id)
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.Success(w, http.StatusOK, "payments", items, nil)
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	var req RecordPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, err)
		return
	}
	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if key != "" && h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(r.Context(), key, paymentModule); err != nil {
			httpx.Fail(w, err)
			return
		}
	}
	p, err := h.service.RecordPayment(r.Context(), id, req, shared.ActorFromContext(r.Context()))
	if err != nil {
		if key != "" && h.idempotency != nil {
			if derr := h.idempotency.Delete(r.Context(), key, paymentModule); derr != nil {
				h.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", derr))
			}
		}
		h.logger.Warn("record payment", slog.Int64("contract_id", id), slog.Any("error", err))
		httpx.Fail(w, err)
		return
	}
	httpx.Success(w, http.StatusCreated, "payment", p, nil)
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	b, err := h.service.Balance(r.Context(), id)
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.Success(w, http.StatusOK, "balance", b, nil)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	res, err := h.service.Rerender(r.Context(), id)
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.Success(w, http.StatusOK, "contract", res.Contract, res.Warnings)
}
