package oauth

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/mzrzvi/authcore/internal/model"
)

const facebookGraph = "https://graph.facebook.com/v22.0"

// Facebook validates user tokens through the Graph debug_token endpoint using
// an app access token, and extends them with the fb_exchange_token grant.
type Facebook struct {
	base
	graph    string
	appID    string
	secret   string
	tokenURL string
}

// NewFacebook builds a Facebook exchanger.
func NewFacebook(c Config, log *zap.Logger) *Facebook {
	graph := facebookGraph
	if c.BaseURL != "" {
		graph = strings.TrimRight(c.BaseURL, "/")
	}
	tokenURL := graph + "/oauth/access_token"
	if c.TokenURL != "" {
		tokenURL = c.TokenURL
	}
	return &Facebook{
		base:     newBase(model.ProviderFacebook, c.Timeout, log),
		graph:    graph,
		appID:    c.ClientID,
		secret:   c.ClientSecret,
		tokenURL: tokenURL,
	}
}

// grant builds a token request against the Graph token endpoint. Empty
// params means the plain client_credentials grant yielding an app token.
func (f *Facebook) grant(params url.Values) *clientcredentials.Config {
	return &clientcredentials.Config{
		ClientID:       f.appID,
		ClientSecret:   f.secret,
		TokenURL:       f.tokenURL,
		EndpointParams: params,
		AuthStyle:      oauth2.AuthStyleInParams,
	}
}

// ExchangeCode trades a login-dialog code for a user token and verifies it.
func (f *Facebook) ExchangeCode(ctx context.Context, code, redirectURI string) (*model.ProviderTokens, *model.Claims, error) {
	cfg := &oauth2.Config{
		ClientID:     f.appID,
		ClientSecret: f.secret,
		Endpoint:     oauth2.Endpoint{TokenURL: f.tokenURL, AuthStyle: oauth2.AuthStyleInParams},
		RedirectURL:  redirectURI,
		Scopes:       []string{"email"},
	}
	tok, err := cfg.Exchange(f.ctx(ctx), code)
	if err != nil {
		return nil, nil, f.fail("exchange", err)
	}
	claims, err := f.FetchClaims(ctx, tok.AccessToken, AccessToken)
	if err != nil {
		return nil, nil, err
	}
	if !f.VerifyAudience(claims) {
		return nil, nil, f.fail("exchange", errors.New("audience mismatch"))
	}
	return toProviderTokens(tok), claims, nil
}

type debugTokenResponse struct {
	Data struct {
		AppID     string  `json:"app_id"`
		UserID    string  `json:"user_id"`
		IsValid   bool    `json:"is_valid"`
		ExpiresAt flexInt `json:"expires_at"`
		Error     *struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"data"`
}

// FetchClaims introspects a user token with debug_token. A token Facebook
// reports as invalid is rejected.
func (f *Facebook) FetchClaims(ctx context.Context, token string, _ TokenKind) (*model.Claims, error) {
	if token == "" {
		return nil, f.fail("debug_token", errors.New("empty token"))
	}
	app, err := f.grant(nil).Token(f.ctx(ctx))
	if err != nil {
		return nil, f.fail("app_token", err)
	}
	var resp debugTokenResponse
	q := url.Values{"input_token": {token}, "access_token": {app.AccessToken}}
	if err := f.getJSON(ctx, f.graph+"/debug_token", q, "", &resp); err != nil {
		return nil, f.fail("debug_token", err)
	}
	d := resp.Data
	if !d.IsValid {
		msg := "token invalid"
		if d.Error != nil && d.Error.Message != "" {
			msg = d.Error.Message
		}
		return nil, f.fail("debug_token", errors.New(msg))
	}
	if d.UserID == "" {
		return nil, f.fail("debug_token", errors.New("no user id"))
	}
	f.ok()
	return &model.Claims{
		Subject:  d.UserID,
		Audience: d.AppID,
		Valid:    true,
		Expiry:   d.ExpiresAt.time(),
	}, nil
}

// VerifyAudience requires the token to belong to this app.
func (f *Facebook) VerifyAudience(c *model.Claims) bool {
	return !c.Empty() && c.Valid && f.appID != "" && c.Audience == f.appID
}

// Refresh exchanges a short-lived user token for a long-lived one. Facebook
// has no refresh tokens; the current user token plays that role.
func (f *Facebook) Refresh(ctx context.Context, userToken string) (*model.ProviderTokens, error) {
	if userToken == "" {
		return nil, f.fail("fb_exchange_token", errors.New("empty token"))
	}
	tok, err := f.grant(url.Values{
		"grant_type":        {"fb_exchange_token"},
		"fb_exchange_token": {userToken},
	}).Token(f.ctx(ctx))
	if err != nil {
		return nil, f.fail("fb_exchange_token", err)
	}
	f.ok()
	return toProviderTokens(tok), nil
}

type graphUser struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// UserInfo reads first_name, last_name and email of subject from the Graph API.
func (f *Facebook) UserInfo(ctx context.Context, subject, token string) (*model.Claims, error) {
	if subject == "" {
		return nil, f.fail("user", errors.New("empty subject"))
	}
	var u graphUser
	q := url.Values{"fields": {"first_name,last_name,email"}}
	if err := f.getJSON(ctx, f.graph+"/"+url.PathEscape(subject), q, token, &u); err != nil {
		return nil, f.fail("user", err)
	}
	if u.ID != "" && u.ID != subject {
		return nil, f.fail("user", errors.New("subject mismatch"))
	}
	f.ok()
	return &model.Claims{
		Subject:       subject,
		Email:         strings.ToLower(u.Email),
		EmailVerified: u.Email != "",
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Valid:         true,
	}, nil
}
