// Package model defines domain entities used by services and repositories.
package model

import (
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/mzrzvi/authcore/internal/errs"
)

// Tokens collects issued access/refresh tokens (refresh optional).
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time // access token expiry (for diagnostics)
}

// Kind discriminates principal subtypes.
type Kind string

const (
	KindAdmin    Kind = "admin"
	KindStandard Kind = "standard"
)

// Kinds lists every principal kind in lookup order.
var Kinds = []Kind{KindAdmin, KindStandard}

// ParseKind maps a user-supplied type name onto a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindAdmin, KindStandard:
		return k, nil
	default:
		return "", errs.ErrInvalidRole
	}
}

// Grant names stored in the roles table.
const (
	GrantUser      = "user"
	GrantSuperuser = "superuser"
)

// Principal is an authenticated identity. Exactly one Kind per principal.
type Principal struct {
	ID           uuid.UUID // PK, immutable
	Kind         Kind
	Email        string  // unique across all kinds
	PasswordHash []byte  // Argon2id(password, PasswordSalt); empty for federated-only
	PasswordSalt []byte  // per-principal salt
	PhoneNumber  *string // unique when set
	FirstName    string
	LastName     string
	ImageURL     string
	Active       bool
	Grants       []string // rows in principal_grants

	CreatedAt   time.Time
	UpdatedAt   time.Time
	ConfirmedAt *time.Time

	LastLoginAt    *time.Time
	CurrentLoginAt *time.Time
	LastLoginIP    string
	CurrentLoginIP string
	LoginCount     int
}

// Federated reports whether the principal has no local password.
func (p *Principal) Federated() bool { return len(p.PasswordHash) == 0 }

// HasGrant reports whether name is among the principal's grants.
func (p *Principal) HasGrant(name string) bool {
	for _, g := range p.Grants {
		if g == name {
			return true
		}
	}
	return false
}

// Profile is the input for principal creation.
type Profile struct {
	Email       string
	Password    string
	FirstName   string
	LastName    string
	PhoneNumber string
	ImageURL    string
}

// ProfileUpdate carries optional profile changes; nil fields are untouched.
// PasswordHash and PasswordSalt replace the stored credential when set.
type ProfileUpdate struct {
	FirstName   *string
	LastName    *string
	Email       *string
	PhoneNumber *string
	ImageURL    *string

	PasswordHash []byte
	PasswordSalt []byte
}

// Empty reports whether no field is set.
func (u ProfileUpdate) Empty() bool {
	return u.FirstName == nil && u.LastName == nil && u.Email == nil && u.PhoneNumber == nil && u.ImageURL == nil &&
		u.PasswordHash == nil
}

// Lookup is identity evidence used to resolve a principal. Zero fields are ignored.
type Lookup struct {
	ID          uuid.UUID
	Email       string
	PhoneNumber string
	Provider    Provider // with Subject: federated subject id
	Subject     string
}

// Empty reports whether the lookup carries no evidence.
func (l Lookup) Empty() bool {
	return l.ID == uuid.Nil && l.Email == "" && l.PhoneNumber == "" && l.Subject == ""
}

// Provider is an external identity provider.
type Provider string

const (
	ProviderFacebook Provider = "facebook"
	ProviderGoogle   Provider = "google"
)

// FederatedLink binds a principal to one external provider.
type FederatedLink struct {
	ID           uuid.UUID
	PrincipalID  uuid.UUID // FK -> principals.id
	Provider     Provider  // unique together with PrincipalID
	Subject      string    // provider-side user id
	Email        string    // provider-side email claim
	AccessToken  string
	RefreshToken string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ProviderTokens are credentials issued by an external provider.
type ProviderTokens struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Claims are identity attributes asserted by a provider.
type Claims struct {
	Subject       string
	Audience      string
	Email         string
	EmailVerified bool
	FirstName     string
	LastName      string
	Valid         bool
	Expiry        time.Time
}

// Empty reports whether no identity was asserted.
func (c *Claims) Empty() bool { return c == nil || c.Subject == "" }
