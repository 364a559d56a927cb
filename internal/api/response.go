package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/erazemk/makhzan/internal/custody"
)

// jsonResponse writes a JSON response with the given status code.
func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("encoding response", "error", err)
		}
	}
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

// decodeJSON decodes a JSON request body into the given target.
func decodeJSON(r *http.Request, target any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(target)
}

type errorBody struct {
	Error   string       `json:"error"`
	Kind    custody.Kind `json:"kind"`
	Details any          `json:"details,omitempty"`
}

// custodyError renders a custody error with its kind and structured
// details. Errors from outside the custody package become a 500.
func custodyError(w http.ResponseWriter, err error) {
	body := errorBody{Error: err.Error(), Kind: custody.KindOf(err)}

	var (
		status  int
		invalid *custody.InvalidTransitionError
		short   *custody.InsufficientQuantityError
		partial *custody.PartialAllocationError
		missing *custody.NotFoundError
		bad     *custody.ValidationError
	)
	// Partial first: it wraps the error that stopped the batch.
	switch {
	case errors.As(err, &partial):
		status, body.Details = http.StatusConflict, partial
	case errors.As(err, &invalid):
		status, body.Details = http.StatusConflict, invalid
	case errors.As(err, &short):
		status, body.Details = http.StatusConflict, short
	case errors.As(err, &missing):
		status, body.Details = http.StatusNotFound, missing
	case errors.As(err, &bad):
		status, body.Details = http.StatusBadRequest, bad
	default:
		slog.Error("custody operation failed", "error", err)
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	jsonResponse(w, status, body)
}
