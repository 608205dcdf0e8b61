// Package httpserver exposes the authentication API over HTTP/JSON.
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gofrs/uuid/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mzrzvi/authcore/internal/convert"
	"github.com/mzrzvi/authcore/internal/errs"
	"github.com/mzrzvi/authcore/internal/model"
	"github.com/mzrzvi/authcore/internal/permission"
	"github.com/mzrzvi/authcore/internal/service"
)

// AuthService is the password authentication surface used by the handlers.
type AuthService interface {
	Signup(ctx context.Context, kind model.Kind, profile model.Profile) (model.Tokens, *model.Principal, error)
	Login(ctx context.Context, email, password, ip string) (model.Tokens, *model.Principal, error)
	Refresh(ctx context.Context, raw string) (model.Tokens, error)
	Authenticate(ctx context.Context, raw string) (*model.Principal, error)
	UpdateAccount(ctx context.Context, actor *model.Principal, upd model.ProfileUpdate, oldPassword, newPassword string, change bool) (bool, error)
}

// PrincipalService is the principal management surface used by the handlers.
type PrincipalService interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Principal, error)
	List(ctx context.Context, actor *model.Principal) ([]model.Principal, error)
	CreateByAdmin(ctx context.Context, actor *model.Principal, kind model.Kind, profile model.Profile) (*model.Principal, error)
	UpdateProfile(ctx context.Context, actor *model.Principal, upd model.ProfileUpdate) (*model.Principal, error)
	Delete(ctx context.Context, actor *model.Principal) error
	Authorize(actor *model.Principal, action, resource string) error
}

// FederatedService is the provider sign-in surface used by the handlers.
type FederatedService interface {
	Signup(ctx context.Context, provider model.Provider, kind model.Kind, cred service.Credential) (model.Tokens, *model.Principal, error)
	Login(ctx context.Context, provider model.Provider, cred service.Credential, ip string) (model.Tokens, *model.Principal, error)
	Links(ctx context.Context, p *model.Principal) ([]model.FederatedLink, error)
	RefreshProviderToken(ctx context.Context, principalID uuid.UUID, provider model.Provider) (*model.FederatedLink, error)
}

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures a Server.
type Options struct {
	Auth            AuthService
	Principals      PrincipalService
	Federated       FederatedService
	DB              Pinger
	DefaultUserType string
	CORSOrigins     []string
	Log             *zap.Logger
}

// Server wires services into HTTP handlers.
type Server struct {
	auth        AuthService
	principals  PrincipalService
	federated   FederatedService
	db          Pinger
	defaultType string
	origins     []string
	log         *zap.Logger
}

// New constructs a Server with injected services.
func New(o Options) *Server {
	log := o.Log
	if log == nil {
		log = zap.NewNop()
	}
	def := o.DefaultUserType
	if def == "" {
		def = string(model.KindStandard)
	}
	return &Server{
		auth:        o.Auth,
		principals:  o.Principals,
		federated:   o.Federated,
		db:          o.DB,
		defaultType: def,
		origins:     o.CORSOrigins,
		log:         log.Named("http"),
	}
}

// Handler assembles the router with shared middleware and all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(AccessLog(s.log))
	r.Use(Recover(s.log))

	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Post("/signup/email", s.handleSignupEmail)
	r.Post("/login/email", s.handleLoginEmail)
	r.Post("/signup/{provider}", s.handleSignupFederated)
	r.Post("/login/{provider}", s.handleLoginFederated)
	r.Post("/refresh", s.handleRefresh)
	r.Get("/users/{id}", s.handlePublicProfile)

	r.Group(func(r chi.Router) {
		r.Use(s.RequireAuth)
		r.Route("/users/me", func(r chi.Router) {
			r.With(s.RequirePermission(permission.View, permission.ResourcePrincipal)).Get("/", s.handleMe)
			r.Put("/", s.handleUpdateMe)
			r.Delete("/", s.handleDeleteMe)
			r.Get("/connections", s.handleConnections)
			r.Post("/connections/{provider}/refresh", s.handleRefreshConnection)
		})
		r.Route("/admin/principals", func(r chi.Router) {
			r.With(s.RequirePermission(permission.ViewAll, permission.ResourcePrincipal)).Get("/", s.handleListPrincipals)
			r.With(s.RequirePermission(permission.Create, permission.ResourcePrincipal)).Post("/", s.handleCreateAdmin)
		})
	})
	return r
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// userType resolves the optional user_type field, writing the error response
// when it names an unknown kind.
func (s *Server) userType(w http.ResponseWriter, requested string) (model.Kind, bool) {
	k, name, err := convert.UserType(requested, s.defaultType)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(msgInvalidType+": "+name))
		return "", false
	}
	return k, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			s.log.Warn("health check", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSignupEmail(w http.ResponseWriter, r *http.Request) {
	var req convert.SignupRequest
	if err := convert.Decode(r.Body, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.fail(w, r, err)
		return
	}
	kind, ok := s.userType(w, req.UserType)
	if !ok {
		return
	}
	tok, _, err := s.auth.Signup(r.Context(), kind, req.Profile())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, convert.Created(tok))
}

func (s *Server) handleLoginEmail(w http.ResponseWriter, r *http.Request) {
	var req convert.LoginRequest
	if err := convert.Decode(r.Body, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.fail(w, r, err)
		return
	}
	tok, p, err := s.auth.Login(r.Context(), req.Email, req.Password, clientIP(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.LoggedIn(tok, p))
}

// federatedRequest decodes the provider-specific body into a credential.
func (s *Server) federatedRequest(w http.ResponseWriter, r *http.Request) (model.Provider, service.Credential, string, bool) {
	provider := model.Provider(chi.URLParam(r, "provider"))
	var (
		cred     service.Credential
		userType string
	)
	switch provider {
	case model.ProviderFacebook:
		var req convert.FacebookRequest
		if err := convert.Decode(r.Body, &req); err != nil {
			s.fail(w, r, err)
			return "", cred, "", false
		}
		if err := req.Validate(); err != nil {
			s.fail(w, r, err)
			return "", cred, "", false
		}
		cred, userType = service.Credential{UserToken: req.UserToken}, req.UserType
	case model.ProviderGoogle:
		var req convert.GoogleRequest
		if err := convert.Decode(r.Body, &req); err != nil {
			s.fail(w, r, err)
			return "", cred, "", false
		}
		if err := req.Validate(); err != nil {
			s.fail(w, r, err)
			return "", cred, "", false
		}
		cred = service.Credential{Code: req.Code, RedirectURI: req.RedirectURI}
		userType = req.UserType
	default:
		http.NotFound(w, r)
		return "", cred, "", false
	}
	return provider, cred, userType, true
}

// failFederated reports provider failures with the provider-specific message.
func (s *Server) failFederated(w http.ResponseWriter, r *http.Request, provider model.Provider, err error) {
	if errors.Is(err, errs.ErrExchangeFailed) {
		s.log.Info("provider rejected credential", zap.String("provider", string(provider)), zap.Error(err))
		writeJSON(w, http.StatusUnprocessableEntity, errorBody(invalidProviderToken[provider]))
		return
	}
	s.fail(w, r, err)
}

func (s *Server) handleSignupFederated(w http.ResponseWriter, r *http.Request) {
	provider, cred, requested, ok := s.federatedRequest(w, r)
	if !ok {
		return
	}
	kind, ok := s.userType(w, requested)
	if !ok {
		return
	}
	tok, _, err := s.federated.Signup(r.Context(), provider, kind, cred)
	if err != nil {
		s.failFederated(w, r, provider, err)
		return
	}
	writeJSON(w, http.StatusCreated, convert.Created(tok))
}

func (s *Server) handleLoginFederated(w http.ResponseWriter, r *http.Request) {
	provider, cred, requested, ok := s.federatedRequest(w, r)
	if !ok {
		return
	}
	if requested != "" {
		writeJSON(w, http.StatusBadRequest, errorBody(errs.NewInvalidKeys("user_type").Error()))
		return
	}
	tok, p, err := s.federated.Login(r.Context(), provider, cred, clientIP(r))
	if err != nil {
		s.failFederated(w, r, provider, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.LoggedIn(tok, p))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	raw, err := bearerToken(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorBody(msgUnauthorized))
		return
	}
	tok, err := s.auth.Refresh(r.Context(), raw)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, convert.Refreshed(tok))
}

func (s *Server) handlePublicProfile(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, errs.ErrNotFound)
		return
	}
	p, err := s.principals.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToPublic(p))
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromCtx(r.Context())
	writeJSON(w, http.StatusOK, convert.ToPrincipal(p))
}

func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromCtx(r.Context())
	var req convert.UpdateRequest
	if err := convert.Decode(r.Body, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	oldPw, newPw, change, err := req.PasswordChange()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	changed, err := s.auth.UpdateAccount(r.Context(), p, req.ProfileUpdate(), oldPw, newPw, change)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if change && !changed {
		writeJSON(w, http.StatusBadRequest, errorBody(msgInvalidPass))
		return
	}
	writeJSON(w, http.StatusOK, convert.Updated(changed))
}

func (s *Server) handleDeleteMe(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromCtx(r.Context())
	if err := s.principals.Delete(r.Context(), p); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.MessageResponse{Message: convert.MsgDeleted})
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromCtx(r.Context())
	links, err := s.federated.Links(r.Context(), p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToConnections(links))
}

func (s *Server) handleRefreshConnection(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromCtx(r.Context())
	provider := model.Provider(chi.URLParam(r, "provider"))
	link, err := s.federated.RefreshProviderToken(r.Context(), p.ID, provider)
	if errors.Is(err, errs.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody(msgNoConnection))
		return
	}
	if err != nil {
		s.failFederated(w, r, provider, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToConnections([]model.FederatedLink{*link})[0])
}

func (s *Server) handleListPrincipals(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromCtx(r.Context())
	ps, err := s.principals.List(r.Context(), p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToPrincipals(ps))
}

func (s *Server) handleCreateAdmin(w http.ResponseWriter, r *http.Request) {
	actor, _ := PrincipalFromCtx(r.Context())
	var req convert.SignupRequest
	if err := convert.Decode(r.Body, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.fail(w, r, err)
		return
	}
	kind, name, err := convert.UserType(req.UserType, string(model.KindAdmin))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(msgInvalidType+": "+name))
		return
	}
	p, err := s.principals.CreateByAdmin(r.Context(), actor, kind, req.Profile())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, convert.ToPrincipal(p))
}
