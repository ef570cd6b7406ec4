package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"stockcast/internal/domain"
	"stockcast/internal/storage"
)

// PolicyStore implements storage.PolicyStore using PostgreSQL.
type PolicyStore struct {
	pool *Pool
}

// NewPolicyStore creates a new PolicyStore.
func NewPolicyStore(pool *Pool) *PolicyStore {
	return &PolicyStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PolicyStore = (*PolicyStore)(nil)

// Insert adds a new policy and fills in its ID. Returns ErrDuplicateKey
// when (name, version) already exists.
func (s *PolicyStore) Insert(ctx context.Context, p *domain.Policy) error {
	params, err := json.Marshal(p.Params)
	if err != nil {
		return fmt.Errorf("marshal policy params: %w", err)
	}

	query := `
		INSERT INTO policies (name, version, description, market, is_active, params)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`

	err = s.pool.QueryRow(ctx, query,
		p.Name, p.Version, p.Description, p.Market, p.IsActive, params,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert policy: %w", err)
	}
	return nil
}

const policyColumns = `id, name, version, description, market, is_active, params,
	latest_brier, latest_accuracy, latest_calibration, created_at, updated_at`

// GetByID retrieves a policy by ID. Returns ErrNotFound if not exists.
func (s *PolicyStore) GetByID(ctx context.Context, id int64) (*domain.Policy, error) {
	query := `SELECT ` + policyColumns + ` FROM policies WHERE id = $1`

	row := s.pool.QueryRow(ctx, query, id)
	p, err := scanPolicy(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get policy by id: %w", err)
	}
	return p, nil
}

// List returns all policies for a market, newest first.
func (s *PolicyStore) List(ctx context.Context, market string) ([]*domain.Policy, error) {
	query := `SELECT ` + policyColumns + ` FROM policies
		WHERE market = $1 ORDER BY created_at DESC, id DESC`

	rows, err := s.pool.Query(ctx, query, market)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()

	return scanPolicies(rows)
}

// Active returns the single active policy for a market.
func (s *PolicyStore) Active(ctx context.Context, market string) (*domain.Policy, error) {
	query := `SELECT ` + policyColumns + ` FROM policies
		WHERE market = $1 AND is_active`

	row := s.pool.QueryRow(ctx, query, market)
	p, err := scanPolicy(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get active policy: %w", err)
	}
	return p, nil
}

// Activate makes id the only active policy for the market. The deactivate
// and activate steps run in one transaction so a reader never observes
// zero or two active policies.
func (s *PolicyStore) Activate(ctx context.Context, market string, id int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin activate: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE policies SET is_active = FALSE, updated_at = now()
		 WHERE market = $1 AND is_active`, market); err != nil {
		return fmt.Errorf("deactivate policies: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE policies SET is_active = TRUE, updated_at = now()
		 WHERE id = $1 AND market = $2`, id, market)
	if err != nil {
		return fmt.Errorf("activate policy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}

	return tx.Commit(ctx)
}

// UpdateLatestMetrics records the most recent evaluation snapshot on the policy.
func (s *PolicyStore) UpdateLatestMetrics(ctx context.Context, id int64, brier, accuracy, calibration *float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE policies
		 SET latest_brier = $2, latest_accuracy = $3, latest_calibration = $4, updated_at = now()
		 WHERE id = $1`,
		id, brier, accuracy, calibration)
	if err != nil {
		return fmt.Errorf("update policy metrics: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// scanPolicy scans a single row into a Policy.
func scanPolicy(row pgx.Row) (*domain.Policy, error) {
	var p domain.Policy
	var params []byte

	err := row.Scan(
		&p.ID, &p.Name, &p.Version, &p.Description, &p.Market, &p.IsActive, &params,
		&p.LatestBrier, &p.LatestAccuracy, &p.LatestCalibration,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(params, &p.Params); err != nil {
		return nil, fmt.Errorf("unmarshal policy params: %w", err)
	}
	return &p, nil
}

// scanPolicies scans multiple rows into a slice of Policy.
func scanPolicies(rows pgx.Rows) ([]*domain.Policy, error) {
	var policies []*domain.Policy

	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan policy row: %w", err)
		}
		policies = append(policies, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate policy rows: %w", err)
	}
	return policies, nil
}
