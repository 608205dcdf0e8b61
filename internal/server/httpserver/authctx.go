package httpserver

import (
	"context"

	"github.com/mzrzvi/authcore/internal/model"
)

type ctxKey string

const principalKey ctxKey = "authcore.principal"

// WithPrincipal stores the authenticated principal in context.
func WithPrincipal(ctx context.Context, p *model.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromCtx fetches the authenticated principal from context.
func PrincipalFromCtx(ctx context.Context) (*model.Principal, bool) {
	p, ok := ctx.Value(principalKey).(*model.Principal)
	return p, ok && p != nil
}
