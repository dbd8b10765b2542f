package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"task-reward-engine/internal/model"
)

// SettingsRepository handles commission setting persistence.
type SettingsRepository struct {
	db DBTX
}

// NewSettingsRepository creates a new SettingsRepository instance.
func NewSettingsRepository(db DBTX) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get retrieves a user's rates and daily limit. Missing rows read as all zeros.
func (r *SettingsRepository) Get(ctx context.Context, userID int64) (*model.CommissionSetting, error) {
	const query = `
		SELECT user_id, product_rate::text, referral_rate::text, daily_task_limit, updated_at
		FROM commission_settings
		WHERE user_id = $1
	`

	var (
		s                    model.CommissionSetting
		productRate, refRate string
	)
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&s.UserID,
		&productRate,
		&refRate,
		&s.DailyTaskLimit,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.NewCommissionSetting(userID), nil
		}
		return nil, fmt.Errorf("failed to get commission setting: %w", err)
	}

	if s.ProductRate, err = parseDecimal(productRate); err != nil {
		return nil, err
	}
	if s.ReferralRate, err = parseDecimal(refRate); err != nil {
		return nil, err
	}
	return &s, nil
}

// Save upserts a user's settings.
func (r *SettingsRepository) Save(ctx context.Context, s *model.CommissionSetting) error {
	const query = `
		INSERT INTO commission_settings (user_id, product_rate, referral_rate, daily_task_limit, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			product_rate = EXCLUDED.product_rate,
			referral_rate = EXCLUDED.referral_rate,
			daily_task_limit = EXCLUDED.daily_task_limit,
			updated_at = NOW()
		RETURNING updated_at
	`

	err := r.db.QueryRow(ctx, query,
		s.UserID, s.ProductRate.String(), s.ReferralRate.String(), s.DailyTaskLimit,
	).Scan(&s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save commission setting: %w", err)
	}
	return nil
}

// Delete removes a user's settings.
func (r *SettingsRepository) Delete(ctx context.Context, userID int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM commission_settings WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete commission setting: %w", err)
	}
	return nil
}
