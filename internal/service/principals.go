// Package service contains the application services: password and federated
// authentication, and principal management.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/mzrzvi/authcore/internal/crypto"
	"github.com/mzrzvi/authcore/internal/errs"
	"github.com/mzrzvi/authcore/internal/model"
	"github.com/mzrzvi/authcore/internal/permission"
	"github.com/mzrzvi/authcore/internal/repository"
)

// Notifier delivers account mail without blocking the caller.
type Notifier interface {
	SendConfirmation(p *model.Principal)
}

type nopNotifier struct{}

func (nopNotifier) SendConfirmation(*model.Principal) {}

// PrincipalService creates principals and applies profile changes under the
// permission table.
type PrincipalService struct {
	repo   repository.PrincipalRepository
	hasher *crypto.Hasher
	perms  *permission.Engine
	notify Notifier
	log    *zap.Logger
}

// NewPrincipalService wires a PrincipalService. A nil notifier drops mail.
func NewPrincipalService(repo repository.PrincipalRepository, hasher *crypto.Hasher, perms *permission.Engine, notify Notifier, log *zap.Logger) *PrincipalService {
	if notify == nil {
		notify = nopNotifier{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PrincipalService{repo: repo, hasher: hasher, perms: perms, notify: notify, log: log.Named("principals")}
}

// NormalizeEmail lowercases and trims an address for storage and lookup.
func NormalizeEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func validEmail(s string) bool {
	at := strings.IndexByte(s, '@')
	return at > 0 && at < len(s)-1 && !strings.ContainsAny(s, " \t\r\n")
}

// newPrincipal builds an unsaved principal from profile data. Passwords are
// hashed by the caller.
func newPrincipal(kind model.Kind, p model.Profile) (*model.Principal, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	pr := &model.Principal{
		ID:        id,
		Kind:      kind,
		Email:     NormalizeEmail(p.Email),
		FirstName: strings.TrimSpace(p.FirstName),
		LastName:  strings.TrimSpace(p.LastName),
		ImageURL:  strings.TrimSpace(p.ImageURL),
		Active:    true,
		Grants:    []string{model.GrantUser},
	}
	if phone := strings.TrimSpace(p.PhoneNumber); phone != "" {
		pr.PhoneNumber = &phone
	}
	return pr, nil
}

// Create registers a password principal. Self-service callers may never create
// admins. The principal row and its grants commit together before Create returns.
func (s *PrincipalService) Create(ctx context.Context, kind model.Kind, profile model.Profile, selfService bool) (*model.Principal, error) {
	if _, err := model.ParseKind(string(kind)); err != nil {
		return nil, err
	}
	if selfService && kind == model.KindAdmin {
		return nil, errs.ErrForbidden
	}
	if strings.TrimSpace(profile.Email) == "" || profile.Password == "" {
		return nil, errs.ErrMissingParams
	}
	if !validEmail(NormalizeEmail(profile.Email)) {
		return nil, errs.NewInvalidKeys("email")
	}

	p, err := newPrincipal(kind, profile)
	if err != nil {
		return nil, err
	}
	if p.PasswordHash, p.PasswordSalt, err = s.hasher.Hash(ctx, profile.Password); err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	s.log.Info("principal created", zap.String("id", p.ID.String()), zap.String("kind", string(p.Kind)))
	s.notify.SendConfirmation(p)
	return p, nil
}

// Find resolves identity evidence across every kind. No match is (nil, nil).
func (s *PrincipalService) Find(ctx context.Context, l model.Lookup) (*model.Principal, error) {
	if l.Email != "" {
		l.Email = NormalizeEmail(l.Email)
	}
	return s.repo.FindByAttributes(ctx, l, model.Kinds...)
}

// Get loads a principal by id.
func (s *PrincipalService) Get(ctx context.Context, id uuid.UUID) (*model.Principal, error) {
	return s.repo.GetByID(ctx, id)
}

// Authorize returns errs.ErrForbidden unless actor's kind may perform action on resource.
func (s *PrincipalService) Authorize(actor *model.Principal, action, resource string) error {
	if actor == nil || !actor.Active || !s.perms.Check(actor.Kind, action, resource) {
		return errs.ErrForbidden
	}
	return nil
}

// List returns every principal. Requires principal:view_all.
func (s *PrincipalService) List(ctx context.Context, actor *model.Principal) ([]model.Principal, error) {
	if err := s.Authorize(actor, permission.ViewAll, permission.ResourcePrincipal); err != nil {
		return nil, err
	}
	return s.repo.List(ctx, model.Kinds...)
}

// CreateByAdmin provisions a principal on behalf of actor. It requires
// principal:create, and principal:create_admin when kind is admin.
func (s *PrincipalService) CreateByAdmin(ctx context.Context, actor *model.Principal, kind model.Kind, profile model.Profile) (*model.Principal, error) {
	action := permission.Create
	if kind == model.KindAdmin {
		action = permission.CreateAdmin
	}
	if err := s.Authorize(actor, action, permission.ResourcePrincipal); err != nil {
		return nil, err
	}
	return s.Create(ctx, kind, profile, false)
}

// UpdateProfile applies upd to actor's own record and returns the stored result.
func (s *PrincipalService) UpdateProfile(ctx context.Context, actor *model.Principal, upd model.ProfileUpdate) (*model.Principal, error) {
	if err := s.Authorize(actor, permission.Update, permission.ResourcePrincipal); err != nil {
		return nil, err
	}
	if upd.Email != nil {
		e := NormalizeEmail(*upd.Email)
		if !validEmail(e) {
			return nil, errs.NewInvalidKeys("email")
		}
		upd.Email = &e
	}
	if err := s.repo.UpdateProfile(ctx, actor.ID, upd); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, actor.ID)
}

// Delete removes actor's own account. Links and grants cascade.
func (s *PrincipalService) Delete(ctx context.Context, actor *model.Principal) error {
	if err := s.Authorize(actor, permission.Delete, permission.ResourcePrincipal); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, actor.ID); err != nil {
		return err
	}
	s.log.Info("principal deleted", zap.String("id", actor.ID.String()))
	return nil
}

// BootstrapSuperuser makes sure an admin with the superuser grant exists for
// email. It is a no-op when a principal with that email is already present.
func (s *PrincipalService) BootstrapSuperuser(ctx context.Context, email, password string) (*model.Principal, bool, error) {
	existing, err := s.Find(ctx, model.Lookup{Email: email})
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		if existing.Kind != model.KindAdmin || !existing.HasGrant(model.GrantSuperuser) {
			s.log.Warn("bootstrap email belongs to a non-superuser", zap.String("id", existing.ID.String()))
		}
		return existing, false, nil
	}

	p, err := newPrincipal(model.KindAdmin, model.Profile{Email: email})
	if err != nil {
		return nil, false, err
	}
	p.Grants = []string{model.GrantSuperuser, model.GrantUser}
	if p.PasswordHash, p.PasswordSalt, err = s.hasher.Hash(ctx, password); err != nil {
		return nil, false, err
	}
	if err := s.repo.Create(ctx, p); err != nil {
		// lost a race with another instance
		if errors.Is(err, errs.ErrAlreadyExists) {
			existing, ferr := s.Find(ctx, model.Lookup{Email: email})
			return existing, false, ferr
		}
		return nil, false, err
	}
	s.log.Info("superuser created", zap.String("id", p.ID.String()))
	return p, true, nil
}
