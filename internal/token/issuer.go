// Package token mints and validates the application's access and refresh credentials.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/mzrzvi/authcore/internal/errs"
	"github.com/mzrzvi/authcore/internal/model"
)

// Type tags a credential as access or refresh.
type Type string

const (
	Access  Type = "access"
	Refresh Type = "refresh"
)

const leeway = 30 * time.Second

// Claims is the signed payload of both credential types.
type Claims struct {
	jwt.RegisteredClaims
	Type Type `json:"typ"`
}

// Issuer signs credentials with a process-wide HS256 key.
type Issuer struct {
	signKey    []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewIssuer constructs an Issuer. refreshTTL should exceed accessTTL.
func NewIssuer(signKey []byte, accessTTL, refreshTTL time.Duration) *Issuer {
	return &Issuer{signKey: signKey, accessTTL: accessTTL, refreshTTL: refreshTTL, now: time.Now}
}

// Issue mints an access/refresh pair bound to the principal id.
func (i *Issuer) Issue(id uuid.UUID) (model.Tokens, error) {
	access, exp, err := i.sign(id, Access, i.accessTTL)
	if err != nil {
		return model.Tokens{}, err
	}
	refresh, _, err := i.sign(id, Refresh, i.refreshTTL)
	if err != nil {
		return model.Tokens{}, err
	}
	return model.Tokens{AccessToken: access, RefreshToken: refresh, ExpiresAt: exp}, nil
}

// Refresh validates a refresh credential and mints a new access credential
// for the same principal. The returned Tokens has no RefreshToken.
func (i *Issuer) Refresh(raw string) (model.Tokens, uuid.UUID, error) {
	id, err := i.Validate(raw, Refresh)
	if err != nil {
		return model.Tokens{}, uuid.Nil, err
	}
	access, exp, err := i.sign(id, Access, i.accessTTL)
	if err != nil {
		return model.Tokens{}, uuid.Nil, err
	}
	return model.Tokens{AccessToken: access, ExpiresAt: exp}, id, nil
}

// Validate checks signature, expiry, then type tag, and returns the subject.
// Errors are errs.ErrUnauthorized, errs.ErrTokenExpired or errs.ErrTokenType.
func (i *Issuer) Validate(raw string, want Type) (uuid.UUID, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return i.signKey, nil
	},
		jwt.WithLeeway(leeway),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return uuid.Nil, errs.ErrTokenExpired
	case err != nil:
		return uuid.Nil, errs.ErrUnauthorized
	}
	if claims.Type != want {
		return uuid.Nil, fmt.Errorf("%w: got %q, want %q", errs.ErrTokenType, claims.Type, want)
	}
	id, err := uuid.FromString(claims.Subject)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, errs.ErrUnauthorized
	}
	return id, nil
}

func (i *Issuer) sign(id uuid.UUID, typ Type, ttl time.Duration) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(ttl)
	jti, err := uuid.NewV4()
	if err != nil {
		return "", time.Time{}, err
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti.String(),
			Subject:   id.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Type: typ,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.signKey)
	return signed, exp, err
}
