package oauth

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/mzrzvi/authcore/internal/model"
)

const (
	googleAPI      = "https://www.googleapis.com"
	googleUserInfo = "https://openidconnect.googleapis.com/v1/userinfo"
)

// Google exchanges authorization codes with Google and introspects tokens
// through the tokeninfo endpoint.
type Google struct {
	base
	clientID string
	secret   string
	endpoint oauth2.Endpoint
	infoURL  string
	userInfo string
}

// NewGoogle builds a Google exchanger.
func NewGoogle(c Config, log *zap.Logger) *Google {
	ep := endpoints.Google
	ep.AuthStyle = oauth2.AuthStyleInParams
	if c.TokenURL != "" {
		ep.TokenURL = c.TokenURL
	}
	api, userInfo := googleAPI, googleUserInfo
	if c.BaseURL != "" {
		api = strings.TrimRight(c.BaseURL, "/")
		userInfo = api + "/v1/userinfo"
	}
	return &Google{
		base:     newBase(model.ProviderGoogle, c.Timeout, log),
		clientID: c.ClientID,
		secret:   c.ClientSecret,
		endpoint: ep,
		infoURL:  api + "/oauth2/v3/tokeninfo",
		userInfo: userInfo,
	}
}

func (g *Google) config(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     g.clientID,
		ClientSecret: g.secret,
		Endpoint:     g.endpoint,
		RedirectURL:  redirectURI,
		Scopes:       []string{"openid", "email", "profile"},
	}
}

// ExchangeCode trades the code at the token endpoint, then introspects the
// access token and requires it to be addressed to this client.
func (g *Google) ExchangeCode(ctx context.Context, code, redirectURI string) (*model.ProviderTokens, *model.Claims, error) {
	tok, err := g.config(redirectURI).Exchange(g.ctx(ctx), code)
	if err != nil {
		return nil, nil, g.fail("exchange", err)
	}
	claims, err := g.FetchClaims(ctx, tok.AccessToken, AccessToken)
	if err != nil {
		return nil, nil, err
	}
	if !g.VerifyAudience(claims) {
		return nil, nil, g.fail("exchange", errors.New("audience mismatch"))
	}
	return toProviderTokens(tok), claims, nil
}

type googleTokenInfo struct {
	Sub           string   `json:"sub"`
	Aud           string   `json:"aud"`
	Email         string   `json:"email"`
	EmailVerified flexBool `json:"email_verified"`
	GivenName     string   `json:"given_name"`
	FamilyName    string   `json:"family_name"`
	Exp           flexInt  `json:"exp"`
	Error         string   `json:"error_description"`
}

// FetchClaims calls tokeninfo for an access or id token.
func (g *Google) FetchClaims(ctx context.Context, token string, kind TokenKind) (*model.Claims, error) {
	if token == "" {
		return nil, g.fail("tokeninfo", errors.New("empty token"))
	}
	var info googleTokenInfo
	if err := g.getJSON(ctx, g.infoURL, url.Values{string(kind): {token}}, "", &info); err != nil {
		return nil, g.fail("tokeninfo", err)
	}
	if info.Error != "" || info.Sub == "" {
		return nil, g.fail("tokeninfo", errors.New("token rejected"))
	}
	g.ok()
	return &model.Claims{
		Subject:       info.Sub,
		Audience:      info.Aud,
		Email:         strings.ToLower(info.Email),
		EmailVerified: bool(info.EmailVerified),
		FirstName:     info.GivenName,
		LastName:      info.FamilyName,
		Valid:         true,
		Expiry:        info.Exp.time(),
	}, nil
}

// VerifyAudience requires the token audience to equal the client id exactly.
func (g *Google) VerifyAudience(c *model.Claims) bool {
	return !c.Empty() && g.clientID != "" && c.Audience == g.clientID
}

// Refresh redeems a stored refresh token. The old refresh token is kept when
// Google does not rotate it.
func (g *Google) Refresh(ctx context.Context, refreshToken string) (*model.ProviderTokens, error) {
	if refreshToken == "" {
		return nil, g.fail("refresh", errors.New("no refresh token"))
	}
	tok, err := g.config("").TokenSource(g.ctx(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, g.fail("refresh", err)
	}
	g.ok()
	return toProviderTokens(tok), nil
}

type googleUser struct {
	Sub           string   `json:"sub"`
	Email         string   `json:"email"`
	EmailVerified flexBool `json:"email_verified"`
	GivenName     string   `json:"given_name"`
	FamilyName    string   `json:"family_name"`
}

// UserInfo loads the OpenID profile. The subject must match the token owner.
func (g *Google) UserInfo(ctx context.Context, subject, token string) (*model.Claims, error) {
	var u googleUser
	if err := g.getJSON(ctx, g.userInfo, nil, token, &u); err != nil {
		return nil, g.fail("userinfo", err)
	}
	if u.Sub == "" || (subject != "" && u.Sub != subject) {
		return nil, g.fail("userinfo", errors.New("subject mismatch"))
	}
	g.ok()
	return &model.Claims{
		Subject:       u.Sub,
		Email:         strings.ToLower(u.Email),
		EmailVerified: bool(u.EmailVerified),
		FirstName:     u.GivenName,
		LastName:      u.FamilyName,
		Valid:         true,
	}, nil
}
