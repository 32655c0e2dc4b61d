package tenant

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/lib/pq"

	"github.com/mbd888/talentdesk/internal/pagination"
)

// PostgresStore persists tenants in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed tenant store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const tenantColumns = `id, name, slug, stripe_customer_id, status, settings, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, t *Tenant) error {
	settingsJSON, err := json.Marshal(t.Settings)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO tenants (`+tenantColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.Name, t.Slug, nullString(t.StripeCustomerID), string(t.Status),
		settingsJSON, t.CreatedAt, t.UpdatedAt,
	)
	return mapUniqueViolation(err)
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Tenant, error) {
	return scanTenant(p.db.QueryRowContext(ctx, `
		SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
}

func (p *PostgresStore) GetBySlug(ctx context.Context, slug string) (*Tenant, error) {
	return scanTenant(p.db.QueryRowContext(ctx, `
		SELECT `+tenantColumns+` FROM tenants WHERE slug = $1`, slug))
}

func (p *PostgresStore) GetByStripeCustomer(ctx context.Context, customerID string) (*Tenant, error) {
	t, err := scanTenant(p.db.QueryRowContext(ctx, `
		SELECT `+tenantColumns+` FROM tenants WHERE stripe_customer_id = $1`, customerID))
	if errors.Is(err, ErrTenantNotFound) {
		return nil, ErrCustomerNotFound
	}
	return t, err
}

func (p *PostgresStore) Update(ctx context.Context, t *Tenant) error {
	settingsJSON, err := json.Marshal(t.Settings)
	if err != nil {
		return err
	}
	result, err := p.db.ExecContext(ctx, `
		UPDATE tenants SET name = $1, stripe_customer_id = $2, status = $3,
			settings = $4, updated_at = $5
		WHERE id = $6`,
		t.Name, nullString(t.StripeCustomerID), string(t.Status),
		settingsJSON, t.UpdatedAt, t.ID,
	)
	if err != nil {
		return mapUniqueViolation(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTenantNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, after *pagination.Cursor, limit int) ([]*Tenant, error) {
	if limit <= 0 {
		limit = pagination.MaxLimit
	}
	var (
		afterTime sql.NullTime
		afterID   string
	)
	if after != nil {
		afterTime = sql.NullTime{Time: after.CreatedAt, Valid: true}
		afterID = after.ID
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+tenantColumns+` FROM tenants
		WHERE $1::timestamptz IS NULL OR (created_at, id) > ($1, $2)
		ORDER BY created_at, id
		LIMIT $3`, afterTime, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []*Tenant{}
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTenant(row scanner) (*Tenant, error) {
	t := &Tenant{}
	var (
		status       string
		stripeID     sql.NullString
		settingsJSON []byte
	)
	err := row.Scan(&t.ID, &t.Name, &t.Slug, &stripeID, &status, &settingsJSON,
		&t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Status = Status(status)
	t.StripeCustomerID = stripeID.String
	if len(settingsJSON) > 0 {
		if err := json.Unmarshal(settingsJSON, &t.Settings); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// mapUniqueViolation tells the slug index apart from the Stripe customer one.
func mapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return err
	}
	if pqErr.Constraint == "tenants_stripe_customer_id_key" {
		return ErrCustomerTaken
	}
	return ErrSlugTaken
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Store = (*PostgresStore)(nil)
