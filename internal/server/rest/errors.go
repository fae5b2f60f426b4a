package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/crmkeeper/internal/common"
	"github.com/dmitrijs2005/crmkeeper/internal/logging"
)

// errorStatuses maps sentinels to statuses. Order matters only where one
// error wraps several sentinels; the first match wins.
var errorStatuses = []struct {
	err    error
	status int
}{
	{common.ErrInvalidCredentials, http.StatusUnauthorized},
	{common.ErrUnauthorized, http.StatusUnauthorized},
	{common.ErrInvalidToken, http.StatusUnauthorized},
	{common.ErrUserNotFound, http.StatusNotFound},
	{common.ErrorNotFound, http.StatusNotFound},
	{common.ErrAlreadyExists, http.StatusConflict},
	{common.ErrInsufficientPermissions, http.StatusForbidden},
	{common.ErrLinkExpired, http.StatusBadRequest},
	{common.ErrValidation, http.StatusUnprocessableEntity},
}

type messageBody struct {
	Message string `json:"message"`
}

// WriteError renders err as {"message": ...}. Known sentinels keep their
// own text; anything else is logged and reported as a bare 500.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			if e.status == http.StatusUnauthorized {
				w.Header().Set("WWW-Authenticate", "Bearer")
			}
			writeMessage(w, e.status, e.err.Error())
			return
		}
	}
	logging.From(r.Context(), nil).Error(r.Context(), "request failed", "error", err)
	writeMessage(w, http.StatusInternalServerError, common.ErrorInternal.Error())
}

// StatusFor returns the status WriteError would use for err.
func StatusFor(err error) int {
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, messageBody{Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
