package convert

import (
	"time"

	"github.com/mzrzvi/authcore/internal/model"
)

// Response messages.
const (
	MsgCreated        = "User created successfully!"
	MsgLoggedIn       = "User logged in successfully!"
	MsgRefreshed      = "Token refreshed!"
	MsgUpdated        = "User updated successfully"
	MsgPasswordSuffix = " and password changed"
	MsgDeleted        = "User deleted successfully!"
)

// TokensResponse carries application credentials.
type TokensResponse struct {
	AccessToken  string             `json:"app_access_token"`
	RefreshToken string             `json:"app_refresh_token,omitempty"`
	UserID       string             `json:"user_id,omitempty"`
	UserInfo     *PrincipalResponse `json:"user_info,omitempty"`
	Message      string             `json:"message"`
}

// PrincipalResponse is the owner's view of a principal.
type PrincipalResponse struct {
	ID          string     `json:"id"`
	UserType    string     `json:"user_type"`
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name"`
	Email       string     `json:"email"`
	PhoneNumber *string    `json:"phone_number"`
	ImageURL    string     `json:"image_url,omitempty"`
	Grants      []string   `json:"roles"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	LoginCount  int        `json:"login_count"`
}

// PublicResponse is what anyone may see about a principal.
type PublicResponse struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// ConnectionResponse describes a federated link without its credentials.
type ConnectionResponse struct {
	Type      string    `json:"type"`
	Email     string    `json:"email_address"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Created builds the signup response.
func Created(t model.Tokens) TokensResponse {
	return TokensResponse{AccessToken: t.AccessToken, RefreshToken: t.RefreshToken, Message: MsgCreated}
}

// LoggedIn builds the login response.
func LoggedIn(t model.Tokens, p *model.Principal) TokensResponse {
	info := ToPrincipal(p)
	return TokensResponse{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		UserID:       p.ID.String(),
		UserInfo:     &info,
		Message:      MsgLoggedIn,
	}
}

// Refreshed builds the refresh response.
func Refreshed(t model.Tokens) TokensResponse {
	return TokensResponse{AccessToken: t.AccessToken, Message: MsgRefreshed}
}

// Updated builds the profile update acknowledgement.
func Updated(passwordChanged bool) MessageResponse {
	if passwordChanged {
		return MessageResponse{Message: MsgUpdated + MsgPasswordSuffix}
	}
	return MessageResponse{Message: MsgUpdated}
}

// ToPrincipal converts a principal for its owner or an admin.
func ToPrincipal(p *model.Principal) PrincipalResponse {
	grants := p.Grants
	if grants == nil {
		grants = []string{}
	}
	return PrincipalResponse{
		ID:          p.ID.String(),
		UserType:    string(p.Kind),
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		Email:       p.Email,
		PhoneNumber: p.PhoneNumber,
		ImageURL:    p.ImageURL,
		Grants:      grants,
		CreatedAt:   p.CreatedAt,
		LastLoginAt: p.LastLoginAt,
		LoginCount:  p.LoginCount,
	}
}

// ToPrincipals converts a list for the admin listing.
func ToPrincipals(ps []model.Principal) []PrincipalResponse {
	out := make([]PrincipalResponse, 0, len(ps))
	for i := range ps {
		out = append(out, ToPrincipal(&ps[i]))
	}
	return out
}

// ToPublic strips everything but id and names.
func ToPublic(p *model.Principal) PublicResponse {
	return PublicResponse{ID: p.ID.String(), FirstName: p.FirstName, LastName: p.LastName}
}

// ToConnections converts federated links, never exposing provider tokens.
func ToConnections(ls []model.FederatedLink) []ConnectionResponse {
	out := make([]ConnectionResponse, 0, len(ls))
	for _, l := range ls {
		out = append(out, ConnectionResponse{Type: string(l.Provider), Email: l.Email, UpdatedAt: l.UpdatedAt})
	}
	return out
}
