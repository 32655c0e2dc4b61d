package access

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/mbd888/talentdesk/internal/catalog"
)

// PostgresStore persists assignments in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed assignment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const assignmentColumns = `id, tenant_id, module_id, is_enabled, assigned_by, limits, expires_at, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, a *Assignment) error {
	limitsJSON, err := json.Marshal(nonNilLimits(a.Limits))
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO tenant_module_assignments (`+assignmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.TenantID, a.ModuleID, a.IsEnabled, a.AssignedBy, limitsJSON, a.ExpiresAt, a.CreatedAt, a.UpdatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23503": // foreign_key_violation on module_id
			return catalog.ErrModuleNotFound
		case "23505":
			return errDuplicateAssignment
		}
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Assignment, error) {
	a, err := scanAssignment(p.db.QueryRowContext(ctx, `
		SELECT `+assignmentColumns+` FROM tenant_module_assignments WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAssignmentNotFound
	}
	return a, err
}

func (p *PostgresStore) SetEnabled(ctx context.Context, id string, enabled bool, at time.Time) (*Assignment, error) {
	a, err := scanAssignment(p.db.QueryRowContext(ctx, `
		UPDATE tenant_module_assignments
		SET is_enabled = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+assignmentColumns, id, enabled, at))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAssignmentNotFound
	}
	return a, err
}

func (p *PostgresStore) ListByTenant(ctx context.Context, tenantID string) ([]*Assignment, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+assignmentColumns+` FROM tenant_module_assignments
		WHERE tenant_id = $1
		ORDER BY created_at DESC, id DESC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *PostgresStore) FindActive(ctx context.Context, tenantID, moduleID string, now time.Time) (*Assignment, error) {
	a, err := scanAssignment(p.db.QueryRowContext(ctx, `
		SELECT `+assignmentColumns+` FROM tenant_module_assignments
		WHERE tenant_id = $1 AND module_id = $2 AND is_enabled = TRUE
		  AND (expires_at IS NULL OR expires_at > $3)
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, tenantID, moduleID, now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoActiveOverride
	}
	return a, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAssignment(row scanner) (*Assignment, error) {
	a := &Assignment{}
	var (
		limitsJSON []byte
		expiresAt  sql.NullTime
	)
	err := row.Scan(&a.ID, &a.TenantID, &a.ModuleID, &a.IsEnabled, &a.AssignedBy,
		&limitsJSON, &expiresAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(limitsJSON) > 0 {
		if err := json.Unmarshal(limitsJSON, &a.Limits); err != nil {
			return nil, err
		}
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		a.ExpiresAt = &t
	}
	return a, nil
}

func nonNilLimits(l catalog.Limits) catalog.Limits {
	if l == nil {
		return catalog.Limits{}
	}
	return l
}

var _ AssignmentStore = (*PostgresStore)(nil)
