package service

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/mzrzvi/authcore/internal/errs"
	"github.com/mzrzvi/authcore/internal/limiter"
	"github.com/mzrzvi/authcore/internal/model"
	"github.com/mzrzvi/authcore/internal/oauth"
	"github.com/mzrzvi/authcore/internal/repository"
)

type fakePrincipals struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]*model.Principal
	links *fakeLinks

	createErr error
	findErr   error

	logins map[uuid.UUID]int
	lastIP string
}

var _ repository.PrincipalRepository = (*fakePrincipals)(nil)

func newFakePrincipals() *fakePrincipals {
	return &fakePrincipals{
		byID:   map[uuid.UUID]*model.Principal{},
		links:  &fakeLinks{},
		logins: map[uuid.UUID]int{},
	}
}

func (f *fakePrincipals) put(p *model.Principal) error {
	for _, other := range f.byID {
		if other.Email == p.Email {
			return errs.ErrAlreadyExists
		}
	}
	c := *p
	f.byID[p.ID] = &c
	return nil
}

func (f *fakePrincipals) Create(_ context.Context, p *model.Principal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	return f.put(p)
}

func (f *fakePrincipals) CreateFederated(ctx context.Context, p *model.Principal, link *model.FederatedLink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if f.links.bySubject(link.Provider, link.Subject) != nil {
		return errs.ErrAlreadyExists
	}
	if err := f.put(p); err != nil {
		return err
	}
	link.PrincipalID = p.ID
	return f.links.Upsert(ctx, link)
}

func (f *fakePrincipals) FindByAttributes(_ context.Context, l model.Lookup, kinds ...model.Kind) (*model.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	if l.Empty() {
		return nil, nil
	}
	if len(kinds) == 0 {
		kinds = model.Kinds
	}
	for _, k := range kinds {
		for _, p := range f.byID {
			if p.Kind != k {
				continue
			}
			if l.ID != uuid.Nil && p.ID != l.ID || l.Email != "" && p.Email != l.Email {
				continue
			}
			if l.PhoneNumber != "" && (p.PhoneNumber == nil || *p.PhoneNumber != l.PhoneNumber) {
				continue
			}
			if l.Subject != "" {
				link := f.links.bySubject(l.Provider, l.Subject)
				if link == nil || link.PrincipalID != p.ID {
					continue
				}
			}
			c := *p
			return &c, nil
		}
	}
	return nil, nil
}

func (f *fakePrincipals) GetByID(_ context.Context, id uuid.UUID) (*model.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (f *fakePrincipals) List(_ context.Context, _ ...model.Kind) ([]model.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Principal, 0, len(f.byID))
	for _, p := range f.byID {
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakePrincipals) UpdateProfile(_ context.Context, id uuid.UUID, upd model.ProfileUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok {
		return errs.ErrNotFound
	}
	if upd.Email != nil {
		for _, other := range f.byID {
			if other.ID != id && other.Email == *upd.Email {
				return errs.ErrAlreadyExists
			}
		}
		p.Email = *upd.Email
	}
	if upd.FirstName != nil {
		p.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		p.LastName = *upd.LastName
	}
	if upd.PasswordHash != nil {
		p.PasswordHash, p.PasswordSalt = upd.PasswordHash, upd.PasswordSalt
	}
	return nil
}

func (f *fakePrincipals) UpdatePassword(_ context.Context, id uuid.UUID, hash, salt []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok {
		return errs.ErrNotFound
	}
	p.PasswordHash, p.PasswordSalt = hash, salt
	return nil
}

func (f *fakePrincipals) RecordLogin(_ context.Context, id uuid.UUID, ip string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[id]; !ok {
		return errs.ErrNotFound
	}
	f.logins[id]++
	f.lastIP = ip
	return nil
}

func (f *fakePrincipals) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[id]; !ok {
		return errs.ErrNotFound
	}
	delete(f.byID, id)
	return nil
}

type fakeLinks struct {
	mu    sync.Mutex
	links []*model.FederatedLink

	upsertErr error
}

var _ repository.LinkRepository = (*fakeLinks)(nil)

func (f *fakeLinks) bySubject(p model.Provider, subject string) *model.FederatedLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.links {
		if l.Provider == p && l.Subject == subject {
			return l
		}
	}
	return nil
}

func (f *fakeLinks) Upsert(_ context.Context, link *model.FederatedLink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	for _, l := range f.links {
		if l.Provider == link.Provider && l.Subject == link.Subject && l.PrincipalID != link.PrincipalID {
			return errs.ErrAlreadyExists
		}
	}
	if link.ID == uuid.Nil {
		link.ID = uuid.Must(uuid.NewV4())
	}
	for i, l := range f.links {
		if l.PrincipalID == link.PrincipalID && l.Provider == link.Provider {
			if link.RefreshToken == "" {
				link.RefreshToken = l.RefreshToken
			}
			c := *link
			f.links[i] = &c
			return nil
		}
	}
	c := *link
	f.links = append(f.links, &c)
	return nil
}

func (f *fakeLinks) Get(_ context.Context, principalID uuid.UUID, provider model.Provider) (*model.FederatedLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.links {
		if l.PrincipalID == principalID && l.Provider == provider {
			c := *l
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeLinks) ListByPrincipal(_ context.Context, principalID uuid.UUID) ([]model.FederatedLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.FederatedLink
	for _, l := range f.links {
		if l.PrincipalID == principalID {
			out = append(out, *l)
		}
	}
	return out, nil
}

type fakeLimiter struct {
	allowOK  bool
	allowErr error

	failBlocked bool
	failErr     error

	successErr error

	allowCalls   int
	failureCalls int
	successCalls int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(context.Context, string, string) (bool, time.Duration, error) {
	l.allowCalls++
	return l.allowOK, 0, l.allowErr
}
func (l *fakeLimiter) Success(context.Context, string, string) error {
	l.successCalls++
	return l.successErr
}
func (l *fakeLimiter) Failure(context.Context, string, string) (bool, time.Duration, error) {
	l.failureCalls++
	return l.failBlocked, 0, l.failErr
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *fakeNotifier) SendConfirmation(p *model.Principal) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, p.Email)
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// fakeExchanger accepts the user token "good" and the code "good-code", both
// belonging to subject "sub-1" of the configured audience.
type fakeExchanger struct {
	provider model.Provider
	audience string
	email    string
	refresh  string

	refreshCalls []string
	refreshErr   error
	userInfoErr  error
}

var _ oauth.Exchanger = (*fakeExchanger)(nil)

func (f *fakeExchanger) Provider() model.Provider { return f.provider }

func (f *fakeExchanger) ExchangeCode(ctx context.Context, code, _ string) (*model.ProviderTokens, *model.Claims, error) {
	if code != "good-code" {
		return nil, nil, errs.ErrExchangeFailed
	}
	c, err := f.FetchClaims(ctx, "good", oauth.AccessToken)
	if err != nil {
		return nil, nil, err
	}
	return &model.ProviderTokens{AccessToken: "good", RefreshToken: f.refresh}, c, nil
}

func (f *fakeExchanger) FetchClaims(_ context.Context, tok string, _ oauth.TokenKind) (*model.Claims, error) {
	switch tok {
	case "good":
		return &model.Claims{Subject: "sub-1", Audience: "app", Valid: true}, nil
	case "foreign":
		return &model.Claims{Subject: "sub-1", Audience: "other", Valid: true}, nil
	}
	return nil, errs.ErrExchangeFailed
}

func (f *fakeExchanger) VerifyAudience(c *model.Claims) bool {
	return !c.Empty() && c.Valid && c.Audience == "app"
}

func (f *fakeExchanger) Refresh(_ context.Context, grant string) (*model.ProviderTokens, error) {
	f.refreshCalls = append(f.refreshCalls, grant)
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return &model.ProviderTokens{AccessToken: "long-" + grant}, nil
}

func (f *fakeExchanger) UserInfo(_ context.Context, subject, _ string) (*model.Claims, error) {
	if f.userInfoErr != nil {
		return nil, f.userInfoErr
	}
	return &model.Claims{Subject: subject, Email: f.email, FirstName: "Ada", LastName: "L", Valid: true}, nil
}
