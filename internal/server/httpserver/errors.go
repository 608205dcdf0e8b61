package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/mzrzvi/authcore/internal/convert"
	"github.com/mzrzvi/authcore/internal/errs"
	"github.com/mzrzvi/authcore/internal/model"
)

const (
	msgInternal      = "Internal server error"
	msgUnauthorized  = "Not authorized"
	msgTokenExpired  = "Token expired"
	msgForbidden     = "Action is forbidden"
	msgNotFound      = "User not found!"
	msgExists        = "A user with that email already exists!"
	msgConflict      = "A user with those details already exists!"
	msgNoProvider    = "Provider not configured"
	msgNoConnection  = "Connection not found"
	msgMissing       = "Missing required parameters"
	msgInvalidType   = "Invalid user type"
	msgInvalidPass   = "Invalid password"
	msgRateLimited   = "Too many attempts"
	msgInvalidUpstrm = "Invalid provider token"
)

// conflictMessages holds client messages for conflicts on a known column.
var conflictMessages = map[string]string{
	"email":        msgExists,
	"phone_number": "A user with that phone number already exists!",
	"subject":      "That provider account is already connected to another user!",
}

var invalidProviderToken = map[model.Provider]string{
	model.ProviderFacebook: "Invalid Facebook user token",
	model.ProviderGoogle:   "Invalid Google user token",
}

func errorBody(msg string) convert.ErrorResponse { return convert.ErrorResponse{Error: msg} }

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps a service error to the status code and client message.
// Unrecognised errors are internal.
func statusFor(err error) (int, string) {
	var (
		ik       *errs.InvalidKeysError
		conflict *errs.ConflictError
	)
	switch {
	case errors.As(err, &ik):
		return http.StatusBadRequest, ik.Error()
	case errors.Is(err, errs.ErrMissingParams):
		return http.StatusBadRequest, msgMissing
	case errors.Is(err, errs.ErrInvalidRole):
		return http.StatusBadRequest, msgInvalidType
	case errors.Is(err, errs.ErrTokenExpired):
		return http.StatusUnauthorized, msgTokenExpired
	case errors.Is(err, errs.ErrUnauthorized), errors.Is(err, errs.ErrTokenType):
		return http.StatusUnauthorized, msgUnauthorized
	case errors.Is(err, errs.ErrForbidden):
		return http.StatusForbidden, msgForbidden
	case errors.Is(err, errs.ErrUnknownProvider):
		return http.StatusNotFound, msgNoProvider
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, msgNotFound
	case errors.As(err, &conflict):
		if msg, ok := conflictMessages[conflict.Field]; ok {
			return http.StatusConflict, msg
		}
		return http.StatusConflict, msgConflict
	case errors.Is(err, errs.ErrAlreadyExists):
		return http.StatusConflict, msgExists
	case errors.Is(err, errs.ErrExchangeFailed):
		return http.StatusUnprocessableEntity, msgInvalidUpstrm
	case errors.Is(err, errs.ErrRateLimited):
		return http.StatusTooManyRequests, msgRateLimited
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

// fail writes the error response for err. Internal errors are logged with
// their cause; the client only sees the generic message.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := statusFor(err)
	if code == http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, code, errorBody(msg))
}
