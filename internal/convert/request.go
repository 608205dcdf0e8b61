// Package convert maps JSON request and response bodies to and from domain types.
package convert

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mzrzvi/authcore/internal/errs"
	"github.com/mzrzvi/authcore/internal/model"
)

// MaxBody caps request bodies.
const MaxBody = 1 << 20

// Request is a JSON body with a closed set of accepted keys.
type Request interface {
	Keys() []string
}

// Decode reads a JSON object into dst. An empty or malformed body is
// errs.ErrMissingParams; keys outside dst.Keys() and values of the wrong JSON
// type are reported together as an errs.InvalidKeysError.
func Decode(body io.Reader, dst Request) error {
	b, err := io.ReadAll(io.LimitReader(body, MaxBody))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil || len(raw) == 0 {
		return errs.ErrMissingParams
	}

	allowed := make(map[string]struct{}, len(dst.Keys()))
	for _, k := range dst.Keys() {
		allowed[k] = struct{}{}
	}
	var bad []string
	for k := range raw {
		if _, ok := allowed[k]; !ok {
			bad = append(bad, k)
		}
	}
	if len(bad) > 0 {
		return errs.NewInvalidKeys(bad...)
	}

	if err := json.Unmarshal(b, dst); err != nil {
		var te *json.UnmarshalTypeError
		if errors.As(err, &te) && te.Field != "" {
			return errs.NewInvalidKeys(te.Field)
		}
		return errs.ErrMissingParams
	}
	return nil
}

func blank(ss ...string) bool {
	for _, s := range ss {
		if strings.TrimSpace(s) == "" {
			return true
		}
	}
	return false
}

// UserType resolves an optional user_type against the configured default.
func UserType(requested, fallback string) (model.Kind, string, error) {
	name := requested
	if strings.TrimSpace(name) == "" {
		name = fallback
	}
	k, err := model.ParseKind(name)
	return k, name, err
}

// SignupRequest is the body of POST /signup/email and POST /admin/principals.
type SignupRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	PhoneNumber string `json:"phone_number"`
	UserType    string `json:"user_type"`
}

func (SignupRequest) Keys() []string {
	return []string{"email", "password", "first_name", "last_name", "phone_number", "user_type"}
}

// Validate requires email, password and both names.
func (r SignupRequest) Validate() error {
	if blank(r.Email, r.Password, r.FirstName, r.LastName) {
		return errs.ErrMissingParams
	}
	return nil
}

// Profile converts the request to creation input.
func (r SignupRequest) Profile() model.Profile {
	return model.Profile{
		Email:       r.Email,
		Password:    r.Password,
		FirstName:   r.FirstName,
		LastName:    r.LastName,
		PhoneNumber: r.PhoneNumber,
	}
}

// LoginRequest is the body of POST /login/email.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (LoginRequest) Keys() []string { return []string{"email", "password"} }

func (r LoginRequest) Validate() error {
	if blank(r.Email, r.Password) {
		return errs.ErrMissingParams
	}
	return nil
}

// FacebookRequest is the body of the Facebook signup and login routes.
type FacebookRequest struct {
	UserToken string `json:"user_token"`
	UserType  string `json:"user_type"`
}

func (FacebookRequest) Keys() []string { return []string{"user_token", "user_type"} }

func (r FacebookRequest) Validate() error {
	if blank(r.UserToken) {
		return errs.ErrMissingParams
	}
	return nil
}

// GoogleRequest is the body of the Google signup and login routes.
type GoogleRequest struct {
	Code        string `json:"code"`
	RedirectURI string `json:"redirect_uri"`
	UserType    string `json:"user_type"`
}

func (GoogleRequest) Keys() []string { return []string{"code", "redirect_uri", "user_type"} }

func (r GoogleRequest) Validate() error {
	if blank(r.Code) {
		return errs.ErrMissingParams
	}
	return nil
}

// UpdateRequest is the body of PUT /users/me. Absent keys are left unchanged.
type UpdateRequest struct {
	FirstName   *string `json:"first_name"`
	LastName    *string `json:"last_name"`
	Email       *string `json:"email"`
	PhoneNumber *string `json:"phone_number"`
	ImageURL    *string `json:"image_url"`
	OldPassword *string `json:"old_password"`
	NewPassword *string `json:"new_password"`
}

func (UpdateRequest) Keys() []string {
	return []string{"first_name", "last_name", "email", "phone_number", "image_url", "old_password", "new_password"}
}

// ProfileUpdate extracts the profile fields.
func (r UpdateRequest) ProfileUpdate() model.ProfileUpdate {
	return model.ProfileUpdate{
		FirstName:   r.FirstName,
		LastName:    r.LastName,
		Email:       r.Email,
		PhoneNumber: r.PhoneNumber,
		ImageURL:    r.ImageURL,
	}
}

// PasswordChange returns the old and new passwords when a change is requested.
// Supplying only one of the pair is errs.ErrMissingParams.
func (r UpdateRequest) PasswordChange() (oldPassword, newPassword string, ok bool, err error) {
	switch {
	case r.OldPassword == nil && r.NewPassword == nil:
		return "", "", false, nil
	case r.OldPassword == nil || r.NewPassword == nil || *r.NewPassword == "":
		return "", "", false, errs.ErrMissingParams
	}
	return *r.OldPassword, *r.NewPassword, true, nil
}
