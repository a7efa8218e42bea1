// Package httpx provides the JSON result envelope used by every API handler.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kioskops/kioskops/internal/shared"
)

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Success writes {"success":true,"<key>":entity,"warnings":[...]}.
func Success(w http.ResponseWriter, status int, key string, entity any, warnings []string) {
	if warnings == nil {
		warnings = []string{}
	}
	JSON(w, status, map[string]any{
		"success":  true,
		key:        entity,
		"warnings": warnings,
	})
}

// SuccessList writes a paginated success envelope.
func SuccessList(w http.ResponseWriter, key string, items any, page shared.Pagination) {
	JSON(w, http.StatusOK, map[string]any{
		"success":    true,
		key:          items,
		"pagination": page,
		"warnings":   []string{},
	})
}

// PageParams reads page and per_page query values with sane bounds.
func PageParams(r *http.Request) (page, perPage int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ = strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage < 1 || perPage > 200 {
		perPage = 20
	}
	return page, perPage
}

// DecodeJSON decodes the request body into target, rejecting unknown fields.
func DecodeJSON(r *http.Request, target any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", ErrBadRequest)
		}
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}

// IDParam parses a positive int64 chi URL parameter.
func IDParam(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", ErrBadRequest, name, raw)
	}
	return id, nil
}
