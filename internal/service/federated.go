package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/mzrzvi/authcore/internal/errs"
	"github.com/mzrzvi/authcore/internal/metrics"
	"github.com/mzrzvi/authcore/internal/model"
	"github.com/mzrzvi/authcore/internal/oauth"
	"github.com/mzrzvi/authcore/internal/repository"
)

// Credential is what a client presents for federated signup or login: either
// a provider user token, or an authorization code with its redirect URI.
type Credential struct {
	UserToken   string
	Code        string
	RedirectURI string
}

// FederatedService signs principals up and in through external providers.
type FederatedService struct {
	providers  map[model.Provider]oauth.Exchanger
	principals *PrincipalService
	auth       *AuthService
	repo       repository.PrincipalRepository
	links      repository.LinkRepository
	log        *zap.Logger
}

// NewFederatedService wires the configured exchangers. Providers missing from
// exchangers are reported as not found.
func NewFederatedService(exchangers []oauth.Exchanger, principals *PrincipalService, auth *AuthService, repo repository.PrincipalRepository, links repository.LinkRepository, log *zap.Logger) *FederatedService {
	if log == nil {
		log = zap.NewNop()
	}
	m := make(map[model.Provider]oauth.Exchanger, len(exchangers))
	for _, ex := range exchangers {
		m[ex.Provider()] = ex
	}
	return &FederatedService{providers: m, principals: principals, auth: auth, repo: repo, links: links, log: log.Named("federated")}
}

func (s *FederatedService) exchanger(p model.Provider) (oauth.Exchanger, error) {
	ex, ok := s.providers[p]
	if !ok {
		return nil, fmt.Errorf("provider %q: %w", p, errs.ErrUnknownProvider)
	}
	return ex, nil
}

// identify turns a credential into verified claims and provider tokens, then
// fills missing profile fields from the provider's user info.
func (s *FederatedService) identify(ctx context.Context, ex oauth.Exchanger, cred Credential) (*model.ProviderTokens, *model.Claims, error) {
	var (
		tok    *model.ProviderTokens
		claims *model.Claims
		err    error
	)
	switch {
	case cred.UserToken != "":
		claims, err = ex.FetchClaims(ctx, cred.UserToken, oauth.AccessToken)
		if err != nil {
			return nil, nil, err
		}
		if !ex.VerifyAudience(claims) {
			return nil, nil, fmt.Errorf("%s: audience mismatch: %w", ex.Provider(), errs.ErrExchangeFailed)
		}
		tok = &model.ProviderTokens{AccessToken: cred.UserToken, Expiry: claims.Expiry}
	case cred.Code != "":
		tok, claims, err = ex.ExchangeCode(ctx, cred.Code, cred.RedirectURI)
		if err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, errs.ErrMissingParams
	}

	if claims.Email == "" || claims.FirstName == "" {
		info, err := ex.UserInfo(ctx, claims.Subject, tok.AccessToken)
		if err != nil {
			return nil, nil, err
		}
		mergeClaims(claims, info)
	}
	return tok, claims, nil
}

func mergeClaims(dst, src *model.Claims) {
	if dst.Email == "" {
		dst.Email, dst.EmailVerified = src.Email, src.EmailVerified
	}
	if dst.FirstName == "" {
		dst.FirstName = src.FirstName
	}
	if dst.LastName == "" {
		dst.LastName = src.LastName
	}
}

// extend swaps a short-lived user token for a long-lived one where the provider
// supports it. Only bare user tokens without a refresh token qualify; on failure
// the short-lived token is kept.
func (s *FederatedService) extend(ctx context.Context, ex oauth.Exchanger, tok *model.ProviderTokens) *model.ProviderTokens {
	if ex.Provider() != model.ProviderFacebook || tok.RefreshToken != "" {
		return tok
	}
	long, err := ex.Refresh(ctx, tok.AccessToken)
	if err != nil {
		s.log.Warn("long-lived token exchange", zap.String("provider", string(ex.Provider())), zap.Error(err))
		return tok
	}
	return long
}

// Signup creates a principal from a provider identity together with its first
// link. A subject that is already linked yields errs.ErrAlreadyExists.
func (s *FederatedService) Signup(ctx context.Context, provider model.Provider, kind model.Kind, cred Credential) (model.Tokens, *model.Principal, error) {
	tok, p, err := s.signup(ctx, provider, kind, cred)
	metrics.RecordSignup(string(provider), err)
	return tok, p, err
}

func (s *FederatedService) signup(ctx context.Context, provider model.Provider, kind model.Kind, cred Credential) (model.Tokens, *model.Principal, error) {
	if _, err := model.ParseKind(string(kind)); err != nil {
		return model.Tokens{}, nil, err
	}
	if kind == model.KindAdmin {
		return model.Tokens{}, nil, errs.ErrForbidden
	}
	ex, err := s.exchanger(provider)
	if err != nil {
		return model.Tokens{}, nil, err
	}
	ptok, claims, err := s.identify(ctx, ex, cred)
	if err != nil {
		return model.Tokens{}, nil, err
	}
	if claims.Email == "" {
		return model.Tokens{}, nil, fmt.Errorf("%s account has no email: %w", provider, errs.ErrMissingParams)
	}
	existing, err := s.principals.Find(ctx, model.Lookup{Provider: provider, Subject: claims.Subject})
	if err != nil {
		return model.Tokens{}, nil, err
	}
	if existing != nil {
		return model.Tokens{}, nil, errs.ErrAlreadyExists
	}
	ptok = s.extend(ctx, ex, ptok)

	p, err := newPrincipal(kind, model.Profile{Email: claims.Email, FirstName: claims.FirstName, LastName: claims.LastName})
	if err != nil {
		return model.Tokens{}, nil, err
	}
	link := newLink(p.ID, provider, claims, ptok)
	if err := s.repo.CreateFederated(ctx, p, link); err != nil {
		return model.Tokens{}, nil, err
	}
	s.log.Info("federated principal created", zap.String("id", p.ID.String()), zap.String("provider", string(provider)))
	s.principals.notify.SendConfirmation(p)

	tok, err := s.auth.issue(p.ID)
	if err != nil {
		return model.Tokens{}, nil, err
	}
	return tok, p, nil
}

// Login resolves the provider subject to an existing principal, refreshes its
// link and issues credentials. An unknown subject is errs.ErrNotFound.
func (s *FederatedService) Login(ctx context.Context, provider model.Provider, cred Credential, ip string) (model.Tokens, *model.Principal, error) {
	tok, p, err := s.login(ctx, provider, cred, ip)
	metrics.RecordLogin(string(provider), err)
	return tok, p, err
}

func (s *FederatedService) login(ctx context.Context, provider model.Provider, cred Credential, ip string) (model.Tokens, *model.Principal, error) {
	ex, err := s.exchanger(provider)
	if err != nil {
		return model.Tokens{}, nil, err
	}
	ptok, claims, err := s.identify(ctx, ex, cred)
	if err != nil {
		return model.Tokens{}, nil, err
	}
	p, err := s.principals.Find(ctx, model.Lookup{Provider: provider, Subject: claims.Subject})
	if err != nil {
		return model.Tokens{}, nil, err
	}
	if p == nil || !p.Active {
		return model.Tokens{}, nil, errs.ErrNotFound
	}
	if _, err := s.Link(ctx, p, provider, claims, s.extend(ctx, ex, ptok)); err != nil {
		return model.Tokens{}, nil, err
	}
	tok, err := s.auth.completeLogin(ctx, p, ip)
	if err != nil {
		return model.Tokens{}, nil, err
	}
	return tok, p, nil
}

func newLink(principalID uuid.UUID, provider model.Provider, claims *model.Claims, tok *model.ProviderTokens) *model.FederatedLink {
	return &model.FederatedLink{
		PrincipalID:  principalID,
		Provider:     provider,
		Subject:      claims.Subject,
		Email:        claims.Email,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
}

// Link binds p to a provider identity, replacing any earlier link for the same
// provider. A subject bound to another principal yields errs.ErrAlreadyExists.
func (s *FederatedService) Link(ctx context.Context, p *model.Principal, provider model.Provider, claims *model.Claims, tok *model.ProviderTokens) (*model.FederatedLink, error) {
	if p == nil || claims.Empty() || tok == nil {
		return nil, errs.ErrMissingParams
	}
	link := newLink(p.ID, provider, claims, tok)
	if err := s.links.Upsert(ctx, link); err != nil {
		return nil, err
	}
	return link, nil
}

// RefreshProviderToken renews the stored provider credential of a link. The
// stored refresh token is used when present, otherwise the access token is
// extended.
func (s *FederatedService) RefreshProviderToken(ctx context.Context, principalID uuid.UUID, provider model.Provider) (*model.FederatedLink, error) {
	ex, err := s.exchanger(provider)
	if err != nil {
		return nil, err
	}
	link, err := s.links.Get(ctx, principalID, provider)
	if err != nil {
		return nil, err
	}
	grant := link.RefreshToken
	if grant == "" {
		grant = link.AccessToken
	}
	tok, err := ex.Refresh(ctx, grant)
	if err != nil {
		return nil, err
	}
	link.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		link.RefreshToken = tok.RefreshToken
	}
	if err := s.links.Upsert(ctx, link); err != nil {
		return nil, err
	}
	return link, nil
}

// Links lists the providers p is connected to.
func (s *FederatedService) Links(ctx context.Context, p *model.Principal) ([]model.FederatedLink, error) {
	if p == nil {
		return nil, errs.ErrUnauthorized
	}
	ls, err := s.links.ListByPrincipal(ctx, p.ID)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}
	return ls, nil
}
