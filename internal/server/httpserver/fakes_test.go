package httpserver

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/mzrzvi/authcore/internal/errs"
	"github.com/mzrzvi/authcore/internal/model"
	"github.com/mzrzvi/authcore/internal/permission"
	"github.com/mzrzvi/authcore/internal/service"
	"github.com/mzrzvi/authcore/internal/token"
)

// fakeBackend implements the three service surfaces over an in-memory map and
// a real token issuer.
type fakeBackend struct {
	mu        sync.Mutex
	issuer    *token.Issuer
	perms     *permission.Engine
	byID      map[uuid.UUID]*model.Principal
	passwords map[uuid.UUID]string
	links     map[uuid.UUID][]model.FederatedLink

	loginErr  error
	fedErr    error
	panicOnMe bool
	lastIP    string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		issuer:    token.NewIssuer([]byte("http-test-key"), time.Minute, time.Hour),
		perms:     permission.Default(),
		byID:      map[uuid.UUID]*model.Principal{},
		passwords: map[uuid.UUID]string{},
		links:     map[uuid.UUID][]model.FederatedLink{},
	}
}

func (f *fakeBackend) add(kind model.Kind, email, password string) *model.Principal {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &model.Principal{ID: uuid.Must(uuid.NewV4()), Kind: kind, Email: email, Active: true, Grants: []string{model.GrantUser}}
	f.byID[p.ID] = p
	f.passwords[p.ID] = password
	return p
}

func (f *fakeBackend) byEmail(email string) *model.Principal {
	for _, p := range f.byID {
		if p.Email == email {
			return p
		}
	}
	return nil
}

// AuthService

func (f *fakeBackend) Signup(_ context.Context, kind model.Kind, profile model.Profile) (model.Tokens, *model.Principal, error) {
	if kind == model.KindAdmin {
		return model.Tokens{}, nil, errs.ErrForbidden
	}
	f.mu.Lock()
	exists := f.byEmail(profile.Email) != nil
	f.mu.Unlock()
	if exists {
		return model.Tokens{}, nil, errs.ErrAlreadyExists
	}
	p := f.add(kind, profile.Email, profile.Password)
	tok, err := f.issuer.Issue(p.ID)
	return tok, p, err
}

func (f *fakeBackend) Login(_ context.Context, email, password, ip string) (model.Tokens, *model.Principal, error) {
	if f.loginErr != nil {
		return model.Tokens{}, nil, f.loginErr
	}
	f.mu.Lock()
	p := f.byEmail(email)
	f.lastIP = ip
	ok := p != nil && f.passwords[p.ID] == password
	f.mu.Unlock()
	if !ok {
		return model.Tokens{}, nil, errs.ErrUnauthorized
	}
	tok, err := f.issuer.Issue(p.ID)
	return tok, p, err
}

func (f *fakeBackend) Refresh(ctx context.Context, raw string) (model.Tokens, error) {
	tok, id, err := f.issuer.Refresh(raw)
	if err != nil {
		return model.Tokens{}, err
	}
	if _, err := f.Get(ctx, id); err != nil {
		return model.Tokens{}, errs.ErrUnauthorized
	}
	return tok, nil
}

func (f *fakeBackend) Authenticate(ctx context.Context, raw string) (*model.Principal, error) {
	id, err := f.issuer.Validate(raw, token.Access)
	if err != nil {
		return nil, err
	}
	p, err := f.Get(ctx, id)
	if err != nil {
		return nil, errs.ErrUnauthorized
	}
	if f.panicOnMe {
		panic("boom")
	}
	return p, nil
}

func (f *fakeBackend) UpdateAccount(ctx context.Context, actor *model.Principal, upd model.ProfileUpdate, oldPassword, newPassword string, change bool) (bool, error) {
	f.mu.Lock()
	wrong := change && f.passwords[actor.ID] != oldPassword
	f.mu.Unlock()
	if wrong {
		return false, nil
	}
	if _, err := f.UpdateProfile(ctx, actor, upd); err != nil {
		return false, err
	}
	if change {
		f.mu.Lock()
		f.passwords[actor.ID] = newPassword
		f.mu.Unlock()
	}
	return change, nil
}

// PrincipalService

func (f *fakeBackend) Get(_ context.Context, id uuid.UUID) (*model.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (f *fakeBackend) List(_ context.Context, actor *model.Principal) ([]model.Principal, error) {
	if err := f.Authorize(actor, permission.ViewAll, permission.ResourcePrincipal); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Principal, 0, len(f.byID))
	for _, p := range f.byID {
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakeBackend) CreateByAdmin(_ context.Context, actor *model.Principal, kind model.Kind, profile model.Profile) (*model.Principal, error) {
	action := permission.Create
	if kind == model.KindAdmin {
		action = permission.CreateAdmin
	}
	if err := f.Authorize(actor, action, permission.ResourcePrincipal); err != nil {
		return nil, err
	}
	return f.add(kind, profile.Email, profile.Password), nil
}

func (f *fakeBackend) UpdateProfile(ctx context.Context, actor *model.Principal, upd model.ProfileUpdate) (*model.Principal, error) {
	f.mu.Lock()
	p, ok := f.byID[actor.ID]
	if ok && upd.FirstName != nil {
		p.FirstName = *upd.FirstName
	}
	f.mu.Unlock()
	if !ok {
		return nil, errs.ErrNotFound
	}
	return f.Get(ctx, actor.ID)
}

func (f *fakeBackend) Delete(_ context.Context, actor *model.Principal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[actor.ID]; !ok {
		return errs.ErrNotFound
	}
	delete(f.byID, actor.ID)
	return nil
}

func (f *fakeBackend) Authorize(actor *model.Principal, action, resource string) error {
	if actor == nil || !f.perms.Check(actor.Kind, action, resource) {
		return errs.ErrForbidden
	}
	return nil
}

// FederatedService

type fakeFederated struct{ *fakeBackend }

func (f fakeFederated) Signup(_ context.Context, _ model.Provider, kind model.Kind, cred service.Credential) (model.Tokens, *model.Principal, error) {
	if f.fedErr != nil {
		return model.Tokens{}, nil, f.fedErr
	}
	p := f.add(kind, cred.UserToken+cred.Code+"@provider.test", "")
	tok, err := f.issuer.Issue(p.ID)
	return tok, p, err
}

func (f fakeFederated) Login(_ context.Context, _ model.Provider, cred service.Credential, _ string) (model.Tokens, *model.Principal, error) {
	if f.fedErr != nil {
		return model.Tokens{}, nil, f.fedErr
	}
	f.mu.Lock()
	p := f.byEmail(cred.UserToken + cred.Code + "@provider.test")
	f.mu.Unlock()
	if p == nil {
		return model.Tokens{}, nil, errs.ErrNotFound
	}
	tok, err := f.issuer.Issue(p.ID)
	return tok, p, err
}

func (f fakeFederated) Links(_ context.Context, p *model.Principal) ([]model.FederatedLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.links[p.ID], nil
}

func (f fakeFederated) RefreshProviderToken(_ context.Context, id uuid.UUID, provider model.Provider) (*model.FederatedLink, error) {
	if provider != model.ProviderFacebook && provider != model.ProviderGoogle {
		return nil, errs.ErrUnknownProvider
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.links[id] {
		if l.Provider == provider {
			l.AccessToken = "renewed"
			return &l, nil
		}
	}
	return nil, errs.ErrNotFound
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }
