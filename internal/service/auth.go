package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/mzrzvi/authcore/internal/crypto"
	"github.com/mzrzvi/authcore/internal/errs"
	"github.com/mzrzvi/authcore/internal/limiter"
	"github.com/mzrzvi/authcore/internal/metrics"
	"github.com/mzrzvi/authcore/internal/model"
	"github.com/mzrzvi/authcore/internal/permission"
	"github.com/mzrzvi/authcore/internal/repository"
	"github.com/mzrzvi/authcore/internal/token"
)

const methodEmail = "email"

// passwordHasher is the hashing surface AuthService needs from crypto.Hasher.
type passwordHasher interface {
	Hash(ctx context.Context, password string) (hash, salt []byte, err error)
	Verify(ctx context.Context, password string, salt, expected []byte) (bool, error)
}

// AuthService handles email/password signup and login, credential refresh and
// request authentication.
type AuthService struct {
	principals *PrincipalService
	repo       repository.PrincipalRepository
	hasher     passwordHasher
	issuer     *token.Issuer
	lim        limiter.Limiter
	log        *zap.Logger

	// decoy credential checked when a login names no password principal
	decoyHash []byte
	decoySalt []byte
}

// NewAuthService constructs AuthService. A nil limiter disables throttling.
func NewAuthService(principals *PrincipalService, repo repository.PrincipalRepository, hasher *crypto.Hasher, issuer *token.Issuer, lim limiter.Limiter, log *zap.Logger) *AuthService {
	if lim == nil {
		lim = limiter.Noop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &AuthService{principals: principals, repo: repo, hasher: hasher, issuer: issuer, lim: lim, log: log.Named("auth")}
	s.decoyHash, s.decoySalt = decoyCredential()
	return s
}

// decoyCredential hashes a random password nobody knows.
func decoyCredential() (hash, salt []byte) {
	salt, err := crypto.RandBytes(crypto.SaltLen)
	if err != nil {
		salt = make([]byte, crypto.SaltLen)
	}
	pw, err := crypto.RandBytes(32)
	if err != nil {
		pw = salt
	}
	return crypto.HashPassword(pw, salt), salt
}

// Signup creates a self-service principal and issues its first credentials.
func (s *AuthService) Signup(ctx context.Context, kind model.Kind, profile model.Profile) (model.Tokens, *model.Principal, error) {
	p, err := s.principals.Create(ctx, kind, profile, true)
	if err != nil {
		metrics.RecordSignup(methodEmail, err)
		return model.Tokens{}, nil, err
	}
	tok, err := s.issue(p.ID)
	metrics.RecordSignup(methodEmail, err)
	if err != nil {
		return model.Tokens{}, nil, err
	}
	return tok, p, nil
}

// Login authenticates with rate limiting by (email, ip). Unknown emails and
// wrong passwords are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, email, password, ip string) (model.Tokens, *model.Principal, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		metrics.RecordLogin(methodEmail, errs.ErrMissingParams)
		return model.Tokens{}, nil, errs.ErrMissingParams
	}

	allowed, _, err := s.lim.Allow(ctx, email, ip)
	if err != nil {
		return model.Tokens{}, nil, fmt.Errorf("limiter: %w", err)
	}
	if !allowed {
		metrics.RecordLoginResult(methodEmail, metrics.ResultLimited)
		return model.Tokens{}, nil, errs.ErrRateLimited
	}

	p, err := s.principals.Find(ctx, model.Lookup{Email: email})
	if err != nil {
		return model.Tokens{}, nil, err
	}
	// one hash per attempt, known account or not
	ok := s.VerifyPassword(ctx, p, password) && p.Active
	if !ok {
		if blocked, _, ferr := s.lim.Failure(ctx, email, ip); ferr != nil {
			s.log.Warn("limiter failure bookkeeping", zap.Error(ferr))
		} else if blocked {
			metrics.RecordLoginResult(methodEmail, metrics.ResultLimited)
			return model.Tokens{}, nil, errs.ErrRateLimited
		}
		metrics.RecordLoginResult(methodEmail, metrics.ResultDenied)
		return model.Tokens{}, nil, errs.ErrUnauthorized
	}

	if err := s.lim.Success(ctx, email, ip); err != nil {
		s.log.Warn("limiter reset", zap.Error(err))
	}
	tok, err := s.completeLogin(ctx, p, ip)
	metrics.RecordLogin(methodEmail, err)
	if err != nil {
		return model.Tokens{}, nil, err
	}
	return tok, p, nil
}

// completeLogin records login bookkeeping and issues credentials.
func (s *AuthService) completeLogin(ctx context.Context, p *model.Principal, ip string) (model.Tokens, error) {
	if err := s.repo.RecordLogin(ctx, p.ID, ip); err != nil {
		s.log.Warn("record login", zap.String("id", p.ID.String()), zap.Error(err))
	}
	return s.issue(p.ID)
}

func (s *AuthService) issue(id uuid.UUID) (model.Tokens, error) {
	tok, err := s.issuer.Issue(id)
	if err != nil {
		return model.Tokens{}, fmt.Errorf("issue tokens: %w", err)
	}
	metrics.RecordTokens(true, true)
	return tok, nil
}

// Refresh exchanges a refresh credential for a new access credential. The
// principal must still exist.
func (s *AuthService) Refresh(ctx context.Context, raw string) (model.Tokens, error) {
	tok, id, err := s.issuer.Refresh(raw)
	if err != nil {
		return model.Tokens{}, err
	}
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.Tokens{}, errs.ErrUnauthorized
		}
		return model.Tokens{}, err
	}
	metrics.RecordTokens(true, false)
	return tok, nil
}

// Authenticate resolves an access credential to a live principal.
func (s *AuthService) Authenticate(ctx context.Context, raw string) (*model.Principal, error) {
	id, err := s.issuer.Validate(raw, token.Access)
	if err != nil {
		return nil, err
	}
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errs.ErrUnauthorized
		}
		return nil, err
	}
	if !p.Active {
		return nil, errs.ErrUnauthorized
	}
	return p, nil
}

// VerifyPassword reports whether password matches p's stored hash. It always
// runs exactly one hash: a nil principal or a federated one without a password
// is checked against the decoy credential and never matches.
func (s *AuthService) VerifyPassword(ctx context.Context, p *model.Principal, password string) bool {
	hash, salt := s.decoyHash, s.decoySalt
	hasPassword := p != nil && !p.Federated()
	if hasPassword {
		hash, salt = p.PasswordHash, p.PasswordSalt
	}
	ok, err := s.hasher.Verify(ctx, password, salt, hash)
	if err != nil {
		s.log.Warn("verify password", zap.Error(err))
		return false
	}
	return hasPassword && ok
}

// ChangePassword replaces the password of id after checking old. A wrong old
// password returns (false, nil) and changes nothing.
func (s *AuthService) ChangePassword(ctx context.Context, id uuid.UUID, oldPassword, newPassword string) (bool, error) {
	if newPassword == "" {
		return false, errs.ErrMissingParams
	}
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if !s.VerifyPassword(ctx, p, oldPassword) {
		return false, nil
	}
	hash, salt, err := s.hasher.Hash(ctx, newPassword)
	if err != nil {
		return false, fmt.Errorf("hash password: %w", err)
	}
	if err := s.repo.UpdatePassword(ctx, id, hash, salt); err != nil {
		return false, err
	}
	s.log.Info("password changed", zap.String("id", id.String()))
	return true, nil
}

// UpdateAccount applies profile changes to actor and, when change is set, a
// password change. Both go to storage in one write, so a rejected profile
// change leaves the password untouched. A wrong old password returns
// (false, nil) before anything is written.
func (s *AuthService) UpdateAccount(ctx context.Context, actor *model.Principal, upd model.ProfileUpdate, oldPassword, newPassword string, change bool) (bool, error) {
	if err := s.principals.Authorize(actor, permission.Update, permission.ResourcePrincipal); err != nil {
		return false, err
	}
	upd.PasswordHash, upd.PasswordSalt = nil, nil
	if change {
		if newPassword == "" {
			return false, errs.ErrMissingParams
		}
		if !s.VerifyPassword(ctx, actor, oldPassword) {
			return false, nil
		}
		hash, salt, err := s.hasher.Hash(ctx, newPassword)
		if err != nil {
			return false, fmt.Errorf("hash password: %w", err)
		}
		upd.PasswordHash, upd.PasswordSalt = hash, salt
	}
	if _, err := s.principals.UpdateProfile(ctx, actor, upd); err != nil {
		return false, err
	}
	if change {
		s.log.Info("password changed", zap.String("id", actor.ID.String()))
	}
	return change, nil
}
