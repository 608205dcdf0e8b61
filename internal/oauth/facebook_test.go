package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mzrzvi/authcore/internal/errs"
	"github.com/mzrzvi/authcore/internal/model"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// fakeGraph serves the subset of the Graph API the exchanger uses.
func fakeGraph(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.Form.Get("client_id") != "app-1" || r.Form.Get("client_secret") != "secret" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]string{"message": "bad client"}})
			return
		}
		switch r.Form.Get("grant_type") {
		case "client_credentials":
			writeJSON(w, http.StatusOK, map[string]any{"access_token": "app-token", "token_type": "bearer"})
		case "fb_exchange_token":
			writeJSON(w, http.StatusOK, map[string]any{
				"access_token": "long-" + r.Form.Get("fb_exchange_token"),
				"token_type":   "bearer",
				"expires_in":   5184000,
			})
		case "authorization_code":
			if r.Form.Get("code") != "good-code" {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"access_token": "good", "token_type": "bearer"})
		default:
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unsupported_grant_type"})
		}
	})
	mux.HandleFunc("/debug_token", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("access_token") != "app-token" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]string{"message": "no app token"}})
			return
		}
		data := map[string]any{"app_id": "app-1", "user_id": "fb-1", "is_valid": true, "expires_at": 1999999999}
		switch r.URL.Query().Get("input_token") {
		case "good":
		case "foreign":
			data["app_id"] = "someone-else"
		default:
			data = map[string]any{"is_valid": false, "error": map[string]string{"message": "Session has expired"}}
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": data})
	})
	mux.HandleFunc("/fb-1", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "bad token"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": "fb-1", "first_name": "Ada", "last_name": "L", "email": "Ada@Example.com"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestFacebook(t *testing.T) *Facebook {
	srv := fakeGraph(t)
	return NewFacebook(Config{ClientID: "app-1", ClientSecret: "secret", BaseURL: srv.URL, Timeout: 2 * time.Second}, zaptest.NewLogger(t))
}

func TestFacebook_FetchClaims_ValidToken(t *testing.T) {
	fb := newTestFacebook(t)

	c, err := fb.FetchClaims(context.Background(), "good", AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "fb-1", c.Subject)
	assert.Equal(t, "app-1", c.Audience)
	assert.True(t, c.Valid)
	assert.True(t, fb.VerifyAudience(c))
	assert.Equal(t, model.ProviderFacebook, fb.Provider())
}

// A token the provider reports as invalid must never be accepted.
func TestFacebook_FetchClaims_RejectsInvalidToken(t *testing.T) {
	fb := newTestFacebook(t)

	c, err := fb.FetchClaims(context.Background(), "expired", AccessToken)
	require.ErrorIs(t, err, errs.ErrExchangeFailed)
	assert.Nil(t, c)
}

func TestFacebook_VerifyAudience_RejectsForeignApp(t *testing.T) {
	fb := newTestFacebook(t)

	c, err := fb.FetchClaims(context.Background(), "foreign", AccessToken)
	require.NoError(t, err)
	assert.False(t, fb.VerifyAudience(c))
	assert.False(t, fb.VerifyAudience(nil))
}

func TestFacebook_Refresh_LongLivedToken(t *testing.T) {
	fb := newTestFacebook(t)

	tok, err := fb.Refresh(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "long-good", tok.AccessToken)
	assert.True(t, tok.Expiry.After(time.Now().Add(24*time.Hour)))

	_, err = fb.Refresh(context.Background(), "")
	require.ErrorIs(t, err, errs.ErrExchangeFailed)
}

func TestFacebook_UserInfo(t *testing.T) {
	fb := newTestFacebook(t)

	c, err := fb.UserInfo(context.Background(), "fb-1", "good")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", c.Email)
	assert.Equal(t, "Ada", c.FirstName)

	_, err = fb.UserInfo(context.Background(), "fb-1", "bad")
	require.ErrorIs(t, err, errs.ErrExchangeFailed)
}

func TestFacebook_ExchangeCode(t *testing.T) {
	fb := newTestFacebook(t)

	tok, c, err := fb.ExchangeCode(context.Background(), "good-code", "https://app/cb")
	require.NoError(t, err)
	assert.Equal(t, "good", tok.AccessToken)
	assert.Equal(t, "fb-1", c.Subject)

	tok, c, err = fb.ExchangeCode(context.Background(), "bad-code", "https://app/cb")
	require.ErrorIs(t, err, errs.ErrExchangeFailed)
	assert.Nil(t, tok)
	assert.Nil(t, c)
}

func TestFacebook_Timeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { <-block }))
	t.Cleanup(func() { close(block); srv.Close() })
	fb := NewFacebook(Config{ClientID: "app-1", ClientSecret: "secret", BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, nil)

	start := time.Now()
	_, err := fb.FetchClaims(context.Background(), "good", AccessToken)
	require.ErrorIs(t, err, errs.ErrExchangeFailed)
	assert.Less(t, time.Since(start), 2*time.Second)
}
