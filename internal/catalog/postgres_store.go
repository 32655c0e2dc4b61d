package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/lib/pq"
)

// PostgresStore persists the catalog in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed catalog store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const moduleColumns = `id, name, category, description, is_active, sort_order, default_limits, created_at`

func (p *PostgresStore) CreateModule(ctx context.Context, m *Module) error {
	limitsJSON, err := marshalLimits(m.DefaultLimits)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO system_modules (`+moduleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.Name, m.Category, m.Description, m.IsActive, m.SortOrder, limitsJSON, m.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrModuleExists
	}
	return err
}

func (p *PostgresStore) GetModule(ctx context.Context, name string) (*Module, error) {
	return scanModule(p.db.QueryRowContext(ctx, `
		SELECT `+moduleColumns+` FROM system_modules WHERE name = $1`, name))
}

func (p *PostgresStore) GetModuleByID(ctx context.Context, id string) (*Module, error) {
	return scanModule(p.db.QueryRowContext(ctx, `
		SELECT `+moduleColumns+` FROM system_modules WHERE id = $1`, id))
}

func (p *PostgresStore) ListModules(ctx context.Context, activeOnly bool) ([]*Module, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+moduleColumns+` FROM system_modules
		WHERE ($1::boolean = FALSE OR is_active = TRUE)
		ORDER BY sort_order, created_at, name`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Module
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

const planColumns = `id, name, price_monthly, price_annually, is_active, plan_type, created_at`

func (p *PostgresStore) CreatePlan(ctx context.Context, plan *Plan) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO subscription_plans (`+planColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		plan.ID, plan.Name, plan.PriceMonthly, plan.PriceAnnually, plan.IsActive, string(plan.PlanType), plan.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrPlanExists
	}
	return err
}

func (p *PostgresStore) GetPlan(ctx context.Context, id string) (*Plan, error) {
	return scanPlan(p.db.QueryRowContext(ctx, `
		SELECT `+planColumns+` FROM subscription_plans WHERE id = $1`, id))
}

func (p *PostgresStore) ListPlans(ctx context.Context) ([]*Plan, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+planColumns+` FROM subscription_plans ORDER BY price_monthly, created_at`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, plan)
	}
	return out, rows.Err()
}

const permissionColumns = `id, plan_id, module_name, is_enabled, limits, created_at, updated_at`

func (p *PostgresStore) UpsertPermission(ctx context.Context, perm *Permission) error {
	limitsJSON, err := marshalLimits(perm.Limits)
	if err != nil {
		return err
	}
	err = p.db.QueryRowContext(ctx, `
		INSERT INTO module_permissions (`+permissionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (plan_id, module_name) DO UPDATE
		SET is_enabled = EXCLUDED.is_enabled,
			limits = EXCLUDED.limits,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at`,
		perm.ID, perm.PlanID, perm.ModuleName, perm.IsEnabled, limitsJSON, perm.CreatedAt, perm.UpdatedAt,
	).Scan(&perm.ID, &perm.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			// foreign_key_violation: unknown plan or module
			if pqErr.Constraint == "module_permissions_plan_id_fkey" {
				return ErrPlanNotFound
			}
			return ErrModuleNotFound
		}
		return err
	}
	return nil
}

func (p *PostgresStore) GetPermission(ctx context.Context, planID, moduleName string) (*Permission, error) {
	return scanPermission(p.db.QueryRowContext(ctx, `
		SELECT `+permissionColumns+` FROM module_permissions
		WHERE plan_id = $1 AND module_name = $2`, planID, moduleName))
}

func (p *PostgresStore) ListPermissions(ctx context.Context, planID string) ([]*Permission, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+permissionColumns+` FROM module_permissions
		WHERE plan_id = $1 ORDER BY created_at, module_name`, planID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Permission
	for rows.Next() {
		perm, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, perm)
	}
	return out, rows.Err()
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanModule(row scanner) (*Module, error) {
	m := &Module{}
	var (
		description sql.NullString
		limitsJSON  []byte
	)
	err := row.Scan(&m.ID, &m.Name, &m.Category, &description, &m.IsActive, &m.SortOrder, &limitsJSON, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrModuleNotFound
	}
	if err != nil {
		return nil, err
	}
	m.Description = description.String
	if m.DefaultLimits, err = unmarshalLimits(limitsJSON); err != nil {
		return nil, err
	}
	return m, nil
}

func scanPlan(row scanner) (*Plan, error) {
	plan := &Plan{}
	var planType string
	err := row.Scan(&plan.ID, &plan.Name, &plan.PriceMonthly, &plan.PriceAnnually, &plan.IsActive, &planType, &plan.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, err
	}
	plan.PlanType = PlanType(planType)
	return plan, nil
}

func scanPermission(row scanner) (*Permission, error) {
	perm := &Permission{}
	var limitsJSON []byte
	err := row.Scan(&perm.ID, &perm.PlanID, &perm.ModuleName, &perm.IsEnabled, &limitsJSON, &perm.CreatedAt, &perm.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPermissionNotFound
	}
	if err != nil {
		return nil, err
	}
	if perm.Limits, err = unmarshalLimits(limitsJSON); err != nil {
		return nil, err
	}
	return perm, nil
}

func marshalLimits(l Limits) ([]byte, error) {
	if l == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(l)
}

func unmarshalLimits(data []byte) (Limits, error) {
	l := Limits{}
	if len(data) == 0 {
		return l, nil
	}
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, err
	}
	return l, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

var _ Store = (*PostgresStore)(nil)
