package handlers

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"clientportal/internal/pkg/errors"
)

const (
	maxLinkRequestBytes = 4 << 10
	maxTaskRequestBytes = 64 << 10
)

// decodeBody reads at most limit bytes of JSON into dst. On failure it
// writes the error response and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			errors.WriteError(w, http.StatusRequestEntityTooLarge, errors.ErrCodeInvalidInput, "Request body too large", nil)
			return false
		}
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return false
	}
	return true
}
