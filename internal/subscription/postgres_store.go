package subscription

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// Constraint names from the tenant_subscriptions migration.
const (
	oneActiveIndex     = "tenant_subscriptions_one_active_idx"
	primaryKey         = "tenant_subscriptions_pkey"
	subscriptionFields = `id, tenant_id, plan_id, status, billing_cycle, starts_at, ends_at, external_id, created_at, updated_at`
)

// PostgresStore persists subscriptions in PostgreSQL. The single active
// subscription rule is backed by a partial unique index on
// (tenant_id) WHERE status = 'active'.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed subscription store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (p *PostgresStore) Create(ctx context.Context, s *Subscription) error {
	return insert(ctx, p.db, s)
}

func insert(ctx context.Context, db execer, s *Subscription) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO tenant_subscriptions (`+subscriptionFields+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.ID, s.TenantID, s.PlanID, string(s.Status), string(s.BillingCycle),
		s.StartsAt, s.EndsAt, nullString(s.ExternalID), s.CreatedAt, s.UpdatedAt,
	)
	return mapWriteError(err)
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Subscription, error) {
	s, err := scanSub(p.db.QueryRowContext(ctx,
		`SELECT `+subscriptionFields+` FROM tenant_subscriptions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

func (p *PostgresStore) GetActive(ctx context.Context, tenantID string) (*Subscription, error) {
	s, err := scanSub(p.db.QueryRowContext(ctx, `
		SELECT `+subscriptionFields+` FROM tenant_subscriptions
		WHERE tenant_id = $1 AND status = 'active'`, tenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoActiveSubscription
	}
	return s, err
}

func (p *PostgresStore) GetByExternalID(ctx context.Context, externalID string) (*Subscription, error) {
	s, err := scanSub(p.db.QueryRowContext(ctx,
		`SELECT `+subscriptionFields+` FROM tenant_subscriptions
		 WHERE external_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

func (p *PostgresStore) ListByTenant(ctx context.Context, tenantID string) ([]*Subscription, error) {
	return p.query(ctx, `
		SELECT `+subscriptionFields+` FROM tenant_subscriptions
		WHERE tenant_id = $1 ORDER BY created_at DESC`, tenantID)
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, id string, status Status, at time.Time) (*Subscription, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	s, err := scanSub(p.db.QueryRowContext(ctx, `
		UPDATE tenant_subscriptions SET
			ends_at = CASE
				WHEN status = 'active' AND $2 <> 'active' AND (ends_at IS NULL OR ends_at > $3) THEN $3
				ELSE ends_at END,
			status = $2,
			updated_at = $3
		WHERE id = $1
		RETURNING `+subscriptionFields, id, string(status), at))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, mapWriteError(err)
	}
	return s, nil
}

func (p *PostgresStore) ReplaceActive(ctx context.Context, s *Subscription) (*Subscription, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	prev, err := scanSub(tx.QueryRowContext(ctx, `
		UPDATE tenant_subscriptions SET
			status = 'inactive',
			ends_at = CASE WHEN ends_at IS NULL OR ends_at > $2 THEN $2 ELSE ends_at END,
			updated_at = $2
		WHERE tenant_id = $1 AND status = 'active'
		RETURNING `+subscriptionFields, s.TenantID, s.CreatedAt))
	if errors.Is(err, sql.ErrNoRows) {
		prev = nil
	} else if err != nil {
		return nil, err
	}

	s.Status = StatusActive
	if err := insert(ctx, tx, s); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, mapWriteError(err)
	}
	return prev, nil
}

func (p *PostgresStore) ListDue(ctx context.Context, now time.Time) ([]*Subscription, error) {
	return p.query(ctx, `
		SELECT `+subscriptionFields+` FROM tenant_subscriptions
		WHERE status = 'active' AND ends_at IS NOT NULL AND ends_at <= $1
		ORDER BY ends_at`, now)
}

func (p *PostgresStore) query(ctx context.Context, q string, args ...any) ([]*Subscription, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Subscription
	for rows.Next() {
		s, err := scanSub(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSub(row scanner) (*Subscription, error) {
	s := &Subscription{}
	var (
		status, cycle string
		endsAt        sql.NullTime
		externalID    sql.NullString
	)
	if err := row.Scan(&s.ID, &s.TenantID, &s.PlanID, &status, &cycle,
		&s.StartsAt, &endsAt, &externalID, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Status = Status(status)
	s.BillingCycle = BillingCycle(cycle)
	s.ExternalID = externalID.String
	if endsAt.Valid {
		s.EndsAt = &endsAt.Time
	}
	return s, nil
}

// mapWriteError turns unique violations into the matching sentinel.
func mapWriteError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return err
	}
	switch pqErr.Constraint {
	case primaryKey:
		return ErrDuplicateID
	case oneActiveIndex:
		return ErrActiveExists
	}
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Store = (*PostgresStore)(nil)
