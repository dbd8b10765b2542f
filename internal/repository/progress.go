package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"task-reward-engine/internal/model"
)

// ProgressRepository handles stop point progress persistence.
// Slice shares are stored as a JSONB array of decimal strings.
type ProgressRepository struct {
	db DBTX
}

// NewProgressRepository creates a new ProgressRepository instance.
func NewProgressRepository(db DBTX) *ProgressRepository {
	return &ProgressRepository{db: db}
}

// Get retrieves a user's progress. Missing rows read as empty progress.
func (r *ProgressRepository) Get(ctx context.Context, userID int64) (*model.StopPointProgress, error) {
	const query = `
		SELECT user_id, last_cleared_id, active_slice_start_task, active_slice_end_task,
		       active_slice_stop_point_id, active_slice_shares, active_slice_pool_base::text, updated_at
		FROM stop_point_progress
		WHERE user_id = $1
	`

	var (
		p        model.StopPointProgress
		shares   []byte
		poolBase string
	)
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&p.UserID,
		&p.LastClearedID,
		&p.ActiveSliceStart,
		&p.ActiveSliceEnd,
		&p.ActiveSliceStopPointID,
		&shares,
		&poolBase,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &model.StopPointProgress{UserID: userID, ActiveSlicePoolBase: decimal.Zero}, nil
		}
		return nil, fmt.Errorf("failed to get stop point progress: %w", err)
	}

	if len(shares) > 0 {
		if err := json.Unmarshal(shares, &p.ActiveSliceShares); err != nil {
			return nil, fmt.Errorf("failed to decode slice shares: %w", err)
		}
	}
	if p.ActiveSlicePoolBase, err = parseDecimal(poolBase); err != nil {
		return nil, err
	}
	return &p, nil
}

// Save upserts a user's progress.
func (r *ProgressRepository) Save(ctx context.Context, p *model.StopPointProgress) error {
	const query = `
		INSERT INTO stop_point_progress (
			user_id, last_cleared_id, active_slice_start_task, active_slice_end_task,
			active_slice_stop_point_id, active_slice_shares, active_slice_pool_base, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			last_cleared_id = EXCLUDED.last_cleared_id,
			active_slice_start_task = EXCLUDED.active_slice_start_task,
			active_slice_end_task = EXCLUDED.active_slice_end_task,
			active_slice_stop_point_id = EXCLUDED.active_slice_stop_point_id,
			active_slice_shares = EXCLUDED.active_slice_shares,
			active_slice_pool_base = EXCLUDED.active_slice_pool_base,
			updated_at = NOW()
		RETURNING updated_at
	`

	shares := p.ActiveSliceShares
	if shares == nil {
		shares = []decimal.Decimal{}
	}
	encoded, err := json.Marshal(shares)
	if err != nil {
		return fmt.Errorf("failed to encode slice shares: %w", err)
	}

	err = r.db.QueryRow(ctx, query,
		p.UserID,
		p.LastClearedID,
		p.ActiveSliceStart,
		p.ActiveSliceEnd,
		p.ActiveSliceStopPointID,
		encoded,
		p.ActiveSlicePoolBase.String(),
	).Scan(&p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save stop point progress: %w", err)
	}
	return nil
}

// Delete removes a user's progress.
func (r *ProgressRepository) Delete(ctx context.Context, userID int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM stop_point_progress WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete stop point progress: %w", err)
	}
	return nil
}
