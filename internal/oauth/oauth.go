// Package oauth talks to external identity providers. Each Exchanger is bound
// to exactly one provider; every failure surfaces as errs.ErrExchangeFailed.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/mzrzvi/authcore/internal/errs"
	"github.com/mzrzvi/authcore/internal/metrics"
	"github.com/mzrzvi/authcore/internal/model"
)

// TokenKind names the kind of provider token handed to FetchClaims.
type TokenKind string

const (
	AccessToken TokenKind = "access_token"
	IDToken     TokenKind = "id_token"
)

// Exchanger performs token exchange and introspection against one provider.
type Exchanger interface {
	Provider() model.Provider
	// ExchangeCode trades an authorization code for provider tokens and the
	// verified identity they carry.
	ExchangeCode(ctx context.Context, code, redirectURI string) (*model.ProviderTokens, *model.Claims, error)
	// FetchClaims introspects a provider token.
	FetchClaims(ctx context.Context, token string, kind TokenKind) (*model.Claims, error)
	// VerifyAudience reports whether the claims were issued to this application.
	VerifyAudience(c *model.Claims) bool
	// Refresh renews upstream provider credentials. It never mints application tokens.
	Refresh(ctx context.Context, refreshToken string) (*model.ProviderTokens, error)
	// UserInfo loads profile attributes for subject using a user token.
	UserInfo(ctx context.Context, subject, token string) (*model.Claims, error)
}

// Config holds the client registration for one provider.
type Config struct {
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
	// BaseURL overrides the provider API root. Empty means production.
	BaseURL string
	// TokenURL overrides the token endpoint. Empty means production.
	TokenURL string
}

// Enabled reports whether the provider has credentials configured.
func (c Config) Enabled() bool { return c.ClientID != "" && c.ClientSecret != "" }

const maxBody = 1 << 20

type base struct {
	provider model.Provider
	client   *http.Client
	log      *zap.Logger
}

func newBase(p model.Provider, timeout time.Duration, log *zap.Logger) base {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return base{
		provider: p,
		client:   &http.Client{Timeout: timeout},
		log:      log.Named("oauth").With(zap.String("provider", string(p))),
	}
}

func (b base) Provider() model.Provider { return b.provider }

// ctx makes oauth2 use the timeout-bound client.
func (b base) ctx(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, b.client)
}

// fail logs the cause and hides it behind ErrExchangeFailed.
func (b base) fail(op string, cause error) error {
	metrics.RecordOAuth(string(b.provider), cause)
	b.log.Warn("provider call failed", zap.String("op", op), zap.Error(cause))
	return fmt.Errorf("%w: %s %s", errs.ErrExchangeFailed, b.provider, op)
}

func (b base) ok() { metrics.RecordOAuth(string(b.provider), nil) }

// getJSON issues a GET and decodes a 2xx JSON body into out.
func (b base) getJSON(ctx context.Context, rawURL string, q url.Values, bearer string, out any) error {
	if len(q) > 0 {
		rawURL += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.Unmarshal(body, out)
}

func toProviderTokens(t *oauth2.Token) *model.ProviderTokens {
	return &model.ProviderTokens{AccessToken: t.AccessToken, RefreshToken: t.RefreshToken, Expiry: t.Expiry}
}

// flexBool decodes true, "true" and "1".
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	*f = flexBool(s == "true" || s == "1")
	return nil
}

// flexInt decodes numbers that providers sometimes send as strings.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

func (f flexInt) time() time.Time {
	if f == 0 {
		return time.Time{}
	}
	return time.Unix(int64(f), 0)
}
