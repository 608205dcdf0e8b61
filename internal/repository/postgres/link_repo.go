package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/mzrzvi/authcore/internal/errs"
	"github.com/mzrzvi/authcore/internal/model"
)

// LinkRepo implements LinkRepository using PostgreSQL.
type LinkRepo struct{ db *DB }

// NewLinkRepo constructs a federated link repository.
func NewLinkRepo(db *DB) *LinkRepo { return &LinkRepo{db: db} }

// A stored refresh token survives an update that carries none; providers only
// return one on the first consent.
const upsertLinkSQL = `
INSERT INTO oauth_connections (id, principal_id, provider, subject, email, access_token, refresh_token)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (principal_id, provider) DO UPDATE
SET subject = EXCLUDED.subject,
    email = EXCLUDED.email,
    access_token = EXCLUDED.access_token,
    refresh_token = COALESCE(NULLIF(EXCLUDED.refresh_token, ''), oauth_connections.refresh_token),
    updated_at = now()
RETURNING id, refresh_token, created_at, updated_at`

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func upsertLink(ctx context.Context, q queryRower, link *model.FederatedLink) error {
	if link.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return err
		}
		link.ID = id
	}
	err := q.QueryRow(ctx, upsertLinkSQL,
		link.ID, link.PrincipalID, string(link.Provider), link.Subject, link.Email, link.AccessToken, link.RefreshToken,
	).Scan(&link.ID, &link.RefreshToken, &link.CreatedAt, &link.UpdatedAt)
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		// (provider, subject) already bound to another principal
		return asConflict(err)
	case isForeignKeyViolation(err):
		return errs.ErrNotFound
	default:
		return err
	}
}

// Upsert creates or updates the link for (principal, provider) in place.
func (r *LinkRepo) Upsert(ctx context.Context, link *model.FederatedLink) error {
	return upsertLink(ctx, r.db.Pool, link)
}

const linkColumns = `id, principal_id, provider, subject, email, access_token, refresh_token, created_at, updated_at`

func scanLink(row pgx.Row) (*model.FederatedLink, error) {
	var (
		l        model.FederatedLink
		provider string
	)
	if err := row.Scan(&l.ID, &l.PrincipalID, &provider, &l.Subject, &l.Email,
		&l.AccessToken, &l.RefreshToken, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	l.Provider = model.Provider(provider)
	return &l, nil
}

// Get returns the link for (principal, provider).
func (r *LinkRepo) Get(ctx context.Context, principalID uuid.UUID, provider model.Provider) (*model.FederatedLink, error) {
	const q = `SELECT ` + linkColumns + `
FROM oauth_connections WHERE principal_id = $1 AND provider = $2`
	l, err := scanLink(r.db.Pool.QueryRow(ctx, q, principalID, string(provider)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return l, nil
}

// ListByPrincipal returns every link owned by the principal ordered by provider.
func (r *LinkRepo) ListByPrincipal(ctx context.Context, principalID uuid.UUID) ([]model.FederatedLink, error) {
	const q = `SELECT ` + linkColumns + `
FROM oauth_connections WHERE principal_id = $1 ORDER BY provider ASC`
	rows, err := r.db.Pool.Query(ctx, q, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.FederatedLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}
