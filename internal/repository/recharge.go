package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"task-reward-engine/internal/model"
	"task-reward-engine/internal/store"
)

// RechargeRepository handles recharge request persistence.
type RechargeRepository struct {
	db DBTX
}

// NewRechargeRepository creates a new RechargeRepository instance.
func NewRechargeRepository(db DBTX) *RechargeRepository {
	return &RechargeRepository{db: db}
}

const rechargeColumns = `id, user_id, amount::text, status, created_at, processed_at`

func scanRecharge(row pgx.Row) (*model.RechargeRequest, error) {
	var (
		rr     model.RechargeRequest
		amount string
	)
	if err := row.Scan(&rr.ID, &rr.UserID, &amount, &rr.Status, &rr.CreatedAt, &rr.ProcessedAt); err != nil {
		return nil, err
	}
	v, err := parseDecimal(amount)
	if err != nil {
		return nil, err
	}
	rr.Amount = v
	return &rr, nil
}

// Create inserts a recharge request and fills in its ID.
func (r *RechargeRepository) Create(ctx context.Context, rr *model.RechargeRequest) error {
	const query = `
		INSERT INTO recharge_requests (user_id, amount, status, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, created_at
	`

	if err := r.db.QueryRow(ctx, query, rr.UserID, rr.Amount.String(), rr.Status).Scan(&rr.ID, &rr.CreatedAt); err != nil {
		if isForeignKeyViolation(err) {
			return store.ErrUserNotFound
		}
		return fmt.Errorf("failed to create recharge request: %w", err)
	}
	return nil
}

// Get retrieves a recharge request by ID.
func (r *RechargeRepository) Get(ctx context.Context, id int64) (*model.RechargeRequest, error) {
	query := `SELECT ` + rechargeColumns + ` FROM recharge_requests WHERE id = $1`

	rr, err := scanRecharge(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrRechargeNotFound
		}
		return nil, fmt.Errorf("failed to get recharge request: %w", err)
	}
	return rr, nil
}

// Save updates a recharge request's status.
func (r *RechargeRepository) Save(ctx context.Context, rr *model.RechargeRequest) error {
	const query = `UPDATE recharge_requests SET status = $2, processed_at = $3 WHERE id = $1`

	result, err := r.db.Exec(ctx, query, rr.ID, rr.Status, rr.ProcessedAt)
	if err != nil {
		return fmt.Errorf("failed to update recharge request: %w", err)
	}
	if result.RowsAffected() == 0 {
		return store.ErrRechargeNotFound
	}
	return nil
}

// ListPending retrieves pending requests, oldest first.
func (r *RechargeRepository) ListPending(ctx context.Context, limit int) ([]*model.RechargeRequest, error) {
	query := `
		SELECT ` + rechargeColumns + `
		FROM recharge_requests
		WHERE status = 'pending'
		ORDER BY created_at, id
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recharge requests: %w", err)
	}
	defer rows.Close()

	var requests []*model.RechargeRequest
	for rows.Next() {
		rr, err := scanRecharge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recharge request: %w", err)
		}
		requests = append(requests, rr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recharge requests: %w", err)
	}

	return requests, nil
}
