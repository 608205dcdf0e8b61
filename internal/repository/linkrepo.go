package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/mzrzvi/authcore/internal/model"
)

// LinkRepository provides access to federated identity links.
type LinkRepository interface {
	// Upsert creates the (principal, provider) link or updates it in place.
	Upsert(ctx context.Context, link *model.FederatedLink) error
	// Get loads the link for (principal, provider).
	Get(ctx context.Context, principalID uuid.UUID, provider model.Provider) (*model.FederatedLink, error)
	// ListByPrincipal returns all links owned by a principal.
	ListByPrincipal(ctx context.Context, principalID uuid.UUID) ([]model.FederatedLink, error)
}
