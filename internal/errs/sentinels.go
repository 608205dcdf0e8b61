// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"sort"
	"strings"
)

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates failed authentication.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., email taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrForbidden indicates the principal may not perform the action.
	ErrForbidden = errors.New("forbidden")

	// ErrTokenExpired indicates a well-formed credential past its expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenType indicates an access credential used where a refresh one is required, or vice versa.
	ErrTokenType = errors.New("token type mismatch")

	// ErrExchangeFailed indicates an OAuth provider round-trip did not yield a usable identity.
	ErrExchangeFailed = errors.New("oauth exchange failed")

	// ErrInvalidRole indicates an unknown principal kind.
	ErrInvalidRole = errors.New("invalid user type")

	// ErrMissingParams indicates required request fields are absent.
	ErrMissingParams = errors.New("missing required parameters")

	// ErrUnknownProvider indicates an OAuth provider with no configured credentials.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrInvalidKeys is matched by InvalidKeysError.
	ErrInvalidKeys = errors.New("invalid request keys")
)

// ConflictError is a unique violation on a known column. Field is empty when
// the constraint could not be attributed.
type ConflictError struct {
	Field string
}

func (e *ConflictError) Error() string {
	if e.Field == "" {
		return ErrAlreadyExists.Error()
	}
	return e.Field + " " + ErrAlreadyExists.Error()
}

// Is makes errors.Is(err, ErrAlreadyExists) hold.
func (e *ConflictError) Is(target error) bool { return target == ErrAlreadyExists }

// InvalidKeysError lists request keys that are not accepted by an operation.
type InvalidKeysError struct {
	Keys []string
}

// NewInvalidKeys returns an InvalidKeysError with keys sorted for stable output.
func NewInvalidKeys(keys ...string) *InvalidKeysError {
	k := append([]string(nil), keys...)
	sort.Strings(k)
	return &InvalidKeysError{Keys: k}
}

func (e *InvalidKeysError) Error() string {
	return "Invalid request keys: " + strings.Join(e.Keys, ", ")
}

// Is makes errors.Is(err, ErrInvalidKeys) hold.
func (e *InvalidKeysError) Is(target error) bool { return target == ErrInvalidKeys }
