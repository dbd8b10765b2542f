package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"task-reward-engine/internal/metrics"
	"task-reward-engine/internal/model"
	"task-reward-engine/internal/pricing"
	"task-reward-engine/internal/store"
)

var maxRate = decimal.NewFromInt(100)

// SettingsInput is an admin update of a user's commission settings.
type SettingsInput struct {
	ProductRate    decimal.Decimal
	ReferralRate   decimal.Decimal
	DailyTaskLimit int
}

// CommissionService handles commission settings and records.
type CommissionService struct {
	store store.Store
}

// NewCommissionService creates a new CommissionService instance.
func NewCommissionService(st store.Store) *CommissionService {
	return &CommissionService{store: st}
}

// GetSettings returns the user's rates and daily limit. Missing settings are all zero.
func (s *CommissionService) GetSettings(ctx context.Context, userID int64) (*model.CommissionSetting, error) {
	var setting *model.CommissionSetting
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		setting, err = tx.Settings().Get(ctx, userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get commission settings: %w", err)
	}
	return setting, nil
}

// UpdateSettings validates and stores a user's rates and daily limit.
func (s *CommissionService) UpdateSettings(ctx context.Context, userID int64, in SettingsInput) (*model.CommissionSetting, error) {
	if err := validateRate("product_rate", in.ProductRate); err != nil {
		return nil, err
	}
	if err := validateRate("referral_rate", in.ReferralRate); err != nil {
		return nil, err
	}
	if in.DailyTaskLimit < 0 {
		return nil, invalid("daily_task_limit", "daily task limit cannot be negative")
	}

	setting := &model.CommissionSetting{
		UserID:         userID,
		ProductRate:    in.ProductRate.Round(2),
		ReferralRate:   in.ReferralRate.Round(2),
		DailyTaskLimit: in.DailyTaskLimit,
	}
	err := s.store.WithUserLock(ctx, userID, func(ctx context.Context, tx store.Tx) error {
		return tx.Settings().Save(ctx, setting)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update commission settings: %w", err)
	}

	log.Info().
		Int64("user_id", userID).
		Str("product_rate", setting.ProductRate.String()).
		Str("referral_rate", setting.ReferralRate.String()).
		Int("daily_task_limit", setting.DailyTaskLimit).
		Msg("Commission settings updated")
	return setting, nil
}

// ListCommissions returns the user's most recent commission records.
func (s *CommissionService) ListCommissions(ctx context.Context, userID int64, limit int) ([]*model.CommissionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var recs []*model.CommissionRecord
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		recs, err = tx.Commissions().ListByUser(ctx, userID, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list commissions: %w", err)
	}
	return recs, nil
}

func validateRate(field string, rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(maxRate) {
		return invalid(field, "rate must be between 0 and 100")
	}
	return nil
}

// recordCommission stores a commission unless one with the same key exists.
// created is false when the existing record is returned.
func recordCommission(ctx context.Context, tx store.Tx, userID int64, label, commissionType string, triggeredBy int64, amount decimal.Decimal) (*model.CommissionRecord, bool, error) {
	rec, created, err := tx.Commissions().GetOrCreate(ctx, &model.CommissionRecord{
		UserID:      userID,
		TaskLabel:   label,
		Type:        commissionType,
		TriggeredBy: triggeredBy,
		Amount:      pricing.Quantize(amount),
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to record commission: %w", err)
	}
	if created {
		metrics.CommissionsRecorded.WithLabelValues(commissionType).Inc()
	}
	return rec, created, nil
}
