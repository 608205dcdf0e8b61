// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/mzrzvi/authcore/internal/model"
)

// PrincipalRepository provides CRUD access for principals of every kind.
type PrincipalRepository interface {
	// Create inserts a principal and its grant rows atomically.
	Create(ctx context.Context, p *model.Principal) error
	// CreateFederated inserts a principal, its grants and its first federated link atomically.
	CreateFederated(ctx context.Context, p *model.Principal, link *model.FederatedLink) error
	// FindByAttributes returns the first principal matching every set field of l,
	// searching kinds in the given order (model.Kinds when empty). No match is (nil, nil).
	FindByAttributes(ctx context.Context, l model.Lookup, kinds ...model.Kind) (*model.Principal, error)
	// GetByID loads a principal by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Principal, error)
	// List returns principals of the given kinds (all when empty), oldest first.
	List(ctx context.Context, kinds ...model.Kind) ([]model.Principal, error)
	// UpdateProfile applies non-nil fields of upd.
	UpdateProfile(ctx context.Context, id uuid.UUID, upd model.ProfileUpdate) error
	// UpdatePassword replaces the stored hash and salt.
	UpdatePassword(ctx context.Context, id uuid.UUID, hash, salt []byte) error
	// RecordLogin rotates login bookkeeping fields and bumps the login count.
	RecordLogin(ctx context.Context, id uuid.UUID, ip string) error
	// Delete removes the principal; grants and links cascade.
	Delete(ctx context.Context, id uuid.UUID) error
}
