package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mzrzvi/authcore/internal/convert"
)

// apiError is a non-2xx answer from the server.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

type client struct {
	base string
	http *http.Client
}

func loadTLS(caPath string, insecure bool) (*tls.Config, error) {
	if insecure {
		//nolint:gosec // dev only
		return &tls.Config{InsecureSkipVerify: true}, nil
	}
	if caPath == "" {
		return nil, nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return &tls.Config{RootCAs: pool}, nil
}

func newClient(addr, caPath string, insecure bool) (*client, error) {
	cfg, err := loadTLS(caPath, insecure)
	if err != nil {
		return nil, err
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if cfg != nil {
		tr.TLSClientConfig = cfg
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &client{
		base: strings.TrimRight(addr, "/"),
		http: &http.Client{Transport: tr, Timeout: 30 * time.Second},
	}, nil
}

// do sends body as JSON and decodes a 2xx answer into out.
func (c *client) do(ctx context.Context, method, path, bearer string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, convert.MaxBody))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var e convert.ErrorResponse
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &apiError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (c *client) signup(ctx context.Context, req convert.SignupRequest) (*convert.TokensResponse, error) {
	var out convert.TokensResponse
	if err := c.do(ctx, http.MethodPost, "/signup/email", "", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) login(ctx context.Context, email, password string) (*convert.TokensResponse, error) {
	var out convert.TokensResponse
	req := convert.LoginRequest{Email: email, Password: password}
	if err := c.do(ctx, http.MethodPost, "/login/email", "", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) refresh(ctx context.Context, refreshToken string) (*convert.TokensResponse, error) {
	var out convert.TokensResponse
	if err := c.do(ctx, http.MethodPost, "/refresh", refreshToken, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) me(ctx context.Context, access string) (*convert.PrincipalResponse, error) {
	var out convert.PrincipalResponse
	if err := c.do(ctx, http.MethodGet, "/users/me", access, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) connections(ctx context.Context, access string) ([]convert.ConnectionResponse, error) {
	var out []convert.ConnectionResponse
	if err := c.do(ctx, http.MethodGet, "/users/me/connections", access, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) deleteMe(ctx context.Context, access string) error {
	return c.do(ctx, http.MethodDelete, "/users/me", access, nil, nil)
}
