package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"task-reward-engine/internal/model"
	"task-reward-engine/internal/store"
)

// StopPointRepository handles stop point persistence.
type StopPointRepository struct {
	db DBTX
}

// NewStopPointRepository creates a new StopPointRepository instance.
func NewStopPointRepository(db DBTX) *StopPointRepository {
	return &StopPointRepository{db: db}
}

const stopPointColumns = `
	id, user_id, point, required_balance::text, required_balance_remaining::text,
	recharged_amount::text, locked_task_price::text, estimated_balance_snapshot::text,
	special_bonus_amount::text, bonus_disbursed, bonus_disbursed_at, status, sort_order, created_at
`

func scanStopPoint(row pgx.Row) (*model.StopPoint, error) {
	var (
		sp                                  model.StopPoint
		required, recharged                 string
		remaining, locked, estimated, bonus *string
	)
	if err := row.Scan(
		&sp.ID,
		&sp.UserID,
		&sp.Point,
		&required,
		&remaining,
		&recharged,
		&locked,
		&estimated,
		&bonus,
		&sp.BonusDisbursed,
		&sp.BonusDisbursedAt,
		&sp.Status,
		&sp.Order,
		&sp.CreatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if sp.RequiredBalance, err = parseDecimal(required); err != nil {
		return nil, err
	}
	if sp.RechargedAmount, err = parseDecimal(recharged); err != nil {
		return nil, err
	}
	if sp.RequiredBalanceRemaining, err = parseNullDecimal(remaining); err != nil {
		return nil, err
	}
	if sp.LockedTaskPrice, err = parseNullDecimal(locked); err != nil {
		return nil, err
	}
	if sp.EstimatedBalanceSnapshot, err = parseNullDecimal(estimated); err != nil {
		return nil, err
	}
	if sp.SpecialBonusAmount, err = parseNullDecimal(bonus); err != nil {
		return nil, err
	}
	return &sp, nil
}

func (r *StopPointRepository) list(ctx context.Context, query string, args ...any) ([]*model.StopPoint, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get stop points: %w", err)
	}
	defer rows.Close()

	var points []*model.StopPoint
	for rows.Next() {
		sp, err := scanStopPoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stop point: %w", err)
		}
		points = append(points, sp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stop points: %w", err)
	}

	return points, nil
}

// ListByUser retrieves all stop points for a user ordered by point.
func (r *StopPointRepository) ListByUser(ctx context.Context, userID int64) ([]*model.StopPoint, error) {
	query := `SELECT ` + stopPointColumns + ` FROM stop_points WHERE user_id = $1 ORDER BY point`
	return r.list(ctx, query, userID)
}

// PendingFrom retrieves the uncleared stop points at or after taskNumber.
func (r *StopPointRepository) PendingFrom(ctx context.Context, userID int64, taskNumber int) ([]*model.StopPoint, error) {
	query := `
		SELECT ` + stopPointColumns + `
		FROM stop_points
		WHERE user_id = $1
		  AND point >= $2
		  AND status = 'pending'
		  AND (required_balance_remaining IS NULL OR required_balance_remaining > 0)
		ORDER BY point
	`
	return r.list(ctx, query, userID, taskNumber)
}

// Get retrieves one of a user's stop points.
func (r *StopPointRepository) Get(ctx context.Context, userID, id int64) (*model.StopPoint, error) {
	query := `SELECT ` + stopPointColumns + ` FROM stop_points WHERE user_id = $1 AND id = $2`

	sp, err := scanStopPoint(r.db.QueryRow(ctx, query, userID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrStopPointNotFound
		}
		return nil, fmt.Errorf("failed to get stop point: %w", err)
	}
	return sp, nil
}

// Create inserts a stop point and fills in its ID and creation time.
func (r *StopPointRepository) Create(ctx context.Context, sp *model.StopPoint) error {
	const query = `
		INSERT INTO stop_points (
			user_id, point, required_balance, required_balance_remaining, recharged_amount,
			locked_task_price, estimated_balance_snapshot, special_bonus_amount,
			bonus_disbursed, bonus_disbursed_at, status, sort_order, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		RETURNING id, created_at
	`

	err := r.db.QueryRow(ctx, query,
		sp.UserID,
		sp.Point,
		sp.RequiredBalance.String(),
		nullDecimal(sp.RequiredBalanceRemaining),
		sp.RechargedAmount.String(),
		nullDecimal(sp.LockedTaskPrice),
		nullDecimal(sp.EstimatedBalanceSnapshot),
		nullDecimal(sp.SpecialBonusAmount),
		sp.BonusDisbursed,
		sp.BonusDisbursedAt,
		sp.Status,
		sp.Order,
	).Scan(&sp.ID, &sp.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateStop
		}
		return fmt.Errorf("failed to create stop point: %w", err)
	}
	return nil
}

// Save updates every mutable field of a stop point.
func (r *StopPointRepository) Save(ctx context.Context, sp *model.StopPoint) error {
	const query = `
		UPDATE stop_points SET
			point = $3,
			required_balance = $4,
			required_balance_remaining = $5,
			recharged_amount = $6,
			locked_task_price = $7,
			estimated_balance_snapshot = $8,
			special_bonus_amount = $9,
			bonus_disbursed = $10,
			bonus_disbursed_at = $11,
			status = $12,
			sort_order = $13
		WHERE user_id = $1 AND id = $2
	`

	result, err := r.db.Exec(ctx, query,
		sp.UserID,
		sp.ID,
		sp.Point,
		sp.RequiredBalance.String(),
		nullDecimal(sp.RequiredBalanceRemaining),
		sp.RechargedAmount.String(),
		nullDecimal(sp.LockedTaskPrice),
		nullDecimal(sp.EstimatedBalanceSnapshot),
		nullDecimal(sp.SpecialBonusAmount),
		sp.BonusDisbursed,
		sp.BonusDisbursedAt,
		sp.Status,
		sp.Order,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateStop
		}
		return fmt.Errorf("failed to save stop point: %w", err)
	}
	if result.RowsAffected() == 0 {
		return store.ErrStopPointNotFound
	}
	return nil
}

// Delete removes one of a user's stop points.
func (r *StopPointRepository) Delete(ctx context.Context, userID, id int64) error {
	result, err := r.db.Exec(ctx, `DELETE FROM stop_points WHERE user_id = $1 AND id = $2`, userID, id)
	if err != nil {
		return fmt.Errorf("failed to delete stop point: %w", err)
	}
	if result.RowsAffected() == 0 {
		return store.ErrStopPointNotFound
	}
	return nil
}

// DeleteByUser removes all of a user's stop points.
func (r *StopPointRepository) DeleteByUser(ctx context.Context, userID int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM stop_points WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete stop points: %w", err)
	}
	return nil
}
