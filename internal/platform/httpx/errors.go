package httpx

import (
	"errors"
	"net/http"

	"github.com/kioskops/kioskops/internal/shared"
)

// ErrBadRequest marks malformed requests that never reached a service.
var ErrBadRequest = errors.New("bad request")

type failure struct {
	Success bool              `json:"success"`
	Error   string            `json:"error"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// StatusFor maps the error taxonomy to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, shared.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrInvalidTransition), errors.Is(err, shared.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, shared.ErrIdempotencyConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Fail writes {"success":false,"error":"..."}. Internal errors are not echoed.
func Fail(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	body := failure{Error: err.Error()}
	if status == http.StatusInternalServerError {
		body.Error = http.StatusText(status)
		if errors.Is(err, shared.ErrPersistence) {
			body.Error = shared.ErrPersistence.Error()
		}
	}
	var verr *shared.ValidationError
	if errors.As(err, &verr) {
		body.Fields = verr.Fields
	}
	JSON(w, status, body)
}
