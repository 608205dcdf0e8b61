package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/mzrzvi/authcore/internal/errs"
	"github.com/mzrzvi/authcore/internal/model"
)

// PrincipalRepo implements PrincipalRepository using PostgreSQL.
type PrincipalRepo struct{ db *DB }

// NewPrincipalRepo constructs a principal repository.
func NewPrincipalRepo(db *DB) *PrincipalRepo { return &PrincipalRepo{db: db} }

const principalColumns = `
p.id, p.kind, p.email, p.password_hash, p.password_salt, p.phone_number,
p.first_name, p.last_name, p.image_url, p.active,
p.created_at, p.updated_at, p.confirmed_at,
p.last_login_at, p.current_login_at,
COALESCE(p.last_login_ip, ''), COALESCE(p.current_login_ip, ''), p.login_count,
ARRAY(SELECT g.role_name FROM principal_grants g WHERE g.principal_id = p.id ORDER BY g.role_name)`

func scanPrincipal(row pgx.Row) (*model.Principal, error) {
	var (
		p    model.Principal
		kind string
	)
	err := row.Scan(
		&p.ID, &kind, &p.Email, &p.PasswordHash, &p.PasswordSalt, &p.PhoneNumber,
		&p.FirstName, &p.LastName, &p.ImageURL, &p.Active,
		&p.CreatedAt, &p.UpdatedAt, &p.ConfirmedAt,
		&p.LastLoginAt, &p.CurrentLoginAt,
		&p.LastLoginIP, &p.CurrentLoginIP, &p.LoginCount,
		&p.Grants,
	)
	if err != nil {
		return nil, err
	}
	p.Kind = model.Kind(kind)
	return &p, nil
}

func kindNames(kinds []model.Kind) []string {
	if len(kinds) == 0 {
		kinds = model.Kinds
	}
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

const insertPrincipal = `
INSERT INTO principals (id, kind, email, password_hash, password_salt, phone_number, first_name, last_name, image_url, active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING created_at, updated_at`

const insertGrant = `INSERT INTO principal_grants (principal_id, role_name) VALUES ($1, $2)`

func insertPrincipalTx(ctx context.Context, tx pgx.Tx, p *model.Principal) error {
	err := tx.QueryRow(ctx, insertPrincipal,
		p.ID, string(p.Kind), p.Email, p.PasswordHash, p.PasswordSalt, p.PhoneNumber,
		p.FirstName, p.LastName, p.ImageURL, p.Active,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if cerr := asConflict(err); cerr != nil {
			return cerr
		}
		return err
	}
	for _, g := range p.Grants {
		if _, err := tx.Exec(ctx, insertGrant, p.ID, g); err != nil {
			return fmt.Errorf("grant %q: %w", g, err)
		}
	}
	return nil
}

// Create inserts the principal row and its grants in one transaction.
func (r *PrincipalRepo) Create(ctx context.Context, p *model.Principal) error {
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		return insertPrincipalTx(ctx, tx, p)
	})
}

// CreateFederated inserts the principal, its grants and the first federated link in one transaction.
func (r *PrincipalRepo) CreateFederated(ctx context.Context, p *model.Principal, link *model.FederatedLink) error {
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		if err := insertPrincipalTx(ctx, tx, p); err != nil {
			return err
		}
		link.PrincipalID = p.ID
		return upsertLink(ctx, tx, link)
	})
}

// FindByAttributes builds a conjunctive filter from the set lookup fields and
// returns the first match in kind order.
func (r *PrincipalRepo) FindByAttributes(ctx context.Context, l model.Lookup, kinds ...model.Kind) (*model.Principal, error) {
	if l.Empty() {
		return nil, nil
	}
	args := []any{kindNames(kinds)}
	conds := []string{"p.kind = ANY($1)"}
	add := func(cond string, vals ...any) {
		placeholders := make([]any, len(vals))
		for i, v := range vals {
			args = append(args, v)
			placeholders[i] = len(args)
		}
		conds = append(conds, fmt.Sprintf(cond, placeholders...))
	}
	if l.ID != uuid.Nil {
		add("p.id = $%d", l.ID)
	}
	if l.Email != "" {
		add("p.email = $%d", l.Email)
	}
	if l.PhoneNumber != "" {
		add("p.phone_number = $%d", l.PhoneNumber)
	}
	if l.Subject != "" {
		add("EXISTS (SELECT 1 FROM oauth_connections c WHERE c.principal_id = p.id AND c.provider = $%d AND c.subject = $%d)",
			string(l.Provider), l.Subject)
	}

	q := "SELECT " + principalColumns + "\nFROM principals p\nWHERE " + strings.Join(conds, " AND ") +
		"\nORDER BY array_position($1::text[], p.kind)\nLIMIT 1"
	p, err := scanPrincipal(r.db.Pool.QueryRow(ctx, q, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// GetByID selects a principal by ID.
func (r *PrincipalRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Principal, error) {
	q := "SELECT " + principalColumns + "\nFROM principals p WHERE p.id = $1"
	p, err := scanPrincipal(r.db.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// List returns principals of the given kinds ordered by creation time.
func (r *PrincipalRepo) List(ctx context.Context, kinds ...model.Kind) ([]model.Principal, error) {
	q := "SELECT " + principalColumns + "\nFROM principals p WHERE p.kind = ANY($1) ORDER BY p.created_at ASC"
	rows, err := r.db.Pool.Query(ctx, q, kindNames(kinds))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Principal
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// UpdateProfile sets the non-nil fields of upd.
func (r *PrincipalRepo) UpdateProfile(ctx context.Context, id uuid.UUID, upd model.ProfileUpdate) error {
	if upd.Empty() {
		return nil
	}
	args := []any{id}
	var sets []string
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if upd.FirstName != nil {
		set("first_name", *upd.FirstName)
	}
	if upd.LastName != nil {
		set("last_name", *upd.LastName)
	}
	if upd.Email != nil {
		set("email", *upd.Email)
	}
	if upd.PhoneNumber != nil {
		var phone *string
		if *upd.PhoneNumber != "" {
			phone = upd.PhoneNumber
		}
		set("phone_number", phone)
	}
	if upd.ImageURL != nil {
		set("image_url", *upd.ImageURL)
	}
	if upd.PasswordHash != nil {
		set("password_hash", upd.PasswordHash)
		set("password_salt", upd.PasswordSalt)
	}
	q := "UPDATE principals SET " + strings.Join(sets, ", ") + ", updated_at = now() WHERE id = $1"
	tag, err := r.db.Pool.Exec(ctx, q, args...)
	if err != nil {
		if cerr := asConflict(err); cerr != nil {
			return cerr
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// UpdatePassword replaces the password hash and salt.
func (r *PrincipalRepo) UpdatePassword(ctx context.Context, id uuid.UUID, hash, salt []byte) error {
	const q = `
UPDATE principals
SET password_hash = $2, password_salt = $3, updated_at = now()
WHERE id = $1`
	tag, err := r.db.Pool.Exec(ctx, q, id, hash, salt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// RecordLogin moves current login fields into last_* and stamps the new login.
func (r *PrincipalRepo) RecordLogin(ctx context.Context, id uuid.UUID, ip string) error {
	const q = `
UPDATE principals
SET last_login_at = current_login_at,
    last_login_ip = current_login_ip,
    current_login_at = now(),
    current_login_ip = $2,
    login_count = login_count + 1
WHERE id = $1`
	tag, err := r.db.Pool.Exec(ctx, q, id, ip)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Delete removes a principal. Grants and oauth connections cascade.
func (r *PrincipalRepo) Delete(ctx context.Context, id uuid.UUID) error {
	const q = `DELETE FROM principals WHERE id = $1`
	tag, err := r.db.Pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
