package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"task-reward-engine/internal/config"
	"task-reward-engine/internal/metrics"
	"task-reward-engine/internal/model"
	"task-reward-engine/internal/pricing"
	"task-reward-engine/internal/store"
)

// StopPointInput is one stop point to add. Nil amounts take defaults.
type StopPointInput struct {
	Point           int
	RequiredBalance *decimal.Decimal
	Bonus           *decimal.Decimal
}

// StopPointUpdate changes an untriggered stop point. Nil fields are kept.
type StopPointUpdate struct {
	Point           *int
	RequiredBalance *decimal.Decimal
	Bonus           *decimal.Decimal
}

// StopPointService manages stop points and runs the recharge gate.
type StopPointService struct {
	store    store.Store
	opts     Options
	notifier Notifier
}

// NewStopPointService creates a new StopPointService instance.
func NewStopPointService(st store.Store, opts Options, notifier Notifier) *StopPointService {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	if !opts.DefaultRequiredBalance.IsPositive() {
		opts.DefaultRequiredBalance = decimal.NewFromInt(200)
	}
	return &StopPointService{
		store:    st,
		opts:     opts,
		notifier: notifier,
	}
}

// ListStopPoints returns the user's stop points ordered by point.
func (s *StopPointService) ListStopPoints(ctx context.Context, userID int64) ([]*model.StopPoint, error) {
	var sps []*model.StopPoint
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		sps, err = tx.StopPoints().ListByUser(ctx, userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list stop points: %w", err)
	}
	return sps, nil
}

// AddStopPoints creates stop points for a user. Entries that cannot be applied
// are returned as skipped. If nothing was created the error is a *ValidationError.
func (s *StopPointService) AddStopPoints(ctx context.Context, userID int64, entries []StopPointInput) ([]*model.StopPoint, []SkippedEntry, error) {
	if len(entries) == 0 {
		return nil, nil, invalid("entries", "at least one stop point is required")
	}

	var (
		created []*model.StopPoint
		skipped []SkippedEntry
	)
	err := s.store.WithUserLock(ctx, userID, func(ctx context.Context, tx store.Tx) error {
		created, skipped = nil, nil

		setting, err := tx.Settings().Get(ctx, userID)
		if err != nil {
			return err
		}
		completed, err := tx.Tasks().CountCompleted(ctx, userID)
		if err != nil {
			return err
		}
		existing, err := tx.StopPoints().ListByUser(ctx, userID)
		if err != nil {
			return err
		}
		taken := make(map[int]bool, len(existing))
		for _, sp := range existing {
			taken[sp.Point] = true
		}

		for _, e := range entries {
			sp, reason := s.buildStopPoint(userID, e, setting.DailyTaskLimit, completed, taken)
			if reason != "" {
				skipped = append(skipped, SkippedEntry{Point: e.Point, Reason: reason})
				continue
			}
			sp.Order = len(existing) + len(created) + 1
			if err := tx.StopPoints().Create(ctx, sp); err != nil {
				return err
			}
			taken[sp.Point] = true
			created = append(created, sp)
		}

		if len(created) == 0 {
			return &ValidationError{Skipped: skipped}
		}
		return renumber(ctx, tx, userID)
	})
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return nil, verr.Skipped, err
		}
		return nil, nil, fmt.Errorf("failed to add stop points: %w", err)
	}

	log.Info().
		Int64("user_id", userID).
		Int("created", len(created)).
		Int("skipped", len(skipped)).
		Msg("Stop points added")
	return created, skipped, nil
}

func (s *StopPointService) buildStopPoint(userID int64, e StopPointInput, dailyLimit, completed int, taken map[int]bool) (*model.StopPoint, string) {
	switch {
	case dailyLimit <= 0:
		return nil, "daily task limit is not set"
	case e.Point < 1 || e.Point > dailyLimit:
		return nil, fmt.Sprintf("point must be between 1 and %d", dailyLimit)
	case e.Point <= completed:
		return nil, fmt.Sprintf("point must be after the %d completed tasks", completed)
	case taken[e.Point]:
		return nil, "duplicate stop point"
	}

	required := s.opts.DefaultRequiredBalance
	if e.RequiredBalance != nil {
		required = pricing.Quantize(*e.RequiredBalance)
	}
	if !required.IsPositive() {
		return nil, "required balance must be positive"
	}

	sp := &model.StopPoint{
		UserID:          userID,
		Point:           e.Point,
		RequiredBalance: required,
		RechargedAmount: decimal.Zero,
		Status:          model.StopPointPending,
	}
	if e.Bonus != nil {
		bonus := pricing.Quantize(*e.Bonus)
		if bonus.IsNegative() {
			return nil, "bonus cannot be negative"
		}
		if bonus.IsPositive() {
			sp.SpecialBonusAmount = &bonus
		}
	}
	return sp, ""
}

// UpdateStopPoint changes a stop point that has not been triggered yet.
func (s *StopPointService) UpdateStopPoint(ctx context.Context, userID, id int64, upd StopPointUpdate) (*model.StopPoint, error) {
	var sp *model.StopPoint
	err := s.store.WithUserLock(ctx, userID, func(ctx context.Context, tx store.Tx) error {
		var err error
		sp, err = tx.StopPoints().Get(ctx, userID, id)
		if err != nil {
			return err
		}
		if sp.Triggered() || sp.Cleared() {
			return ErrStopPointTriggered
		}

		if upd.Point != nil && *upd.Point != sp.Point {
			setting, err := tx.Settings().Get(ctx, userID)
			if err != nil {
				return err
			}
			completed, err := tx.Tasks().CountCompleted(ctx, userID)
			if err != nil {
				return err
			}
			p := *upd.Point
			switch {
			case setting.DailyTaskLimit <= 0:
				return invalid("point", "daily task limit is not set")
			case p < 1 || p > setting.DailyTaskLimit:
				return invalid("point", "point must be between 1 and %d", setting.DailyTaskLimit)
			case p <= completed:
				return invalid("point", "point must be after the %d completed tasks", completed)
			}
			sp.Point = p
		}
		if upd.RequiredBalance != nil {
			required := pricing.Quantize(*upd.RequiredBalance)
			if !required.IsPositive() {
				return invalid("required_balance", "required balance must be positive")
			}
			sp.RequiredBalance = required
		}
		if upd.Bonus != nil {
			bonus := pricing.Quantize(*upd.Bonus)
			if bonus.IsNegative() {
				return invalid("bonus", "bonus cannot be negative")
			}
			if bonus.IsZero() {
				sp.SpecialBonusAmount = nil
			} else {
				sp.SpecialBonusAmount = &bonus
			}
		}

		if err := tx.StopPoints().Save(ctx, sp); err != nil {
			if errors.Is(err, store.ErrDuplicateStop) {
				return invalid("point", "duplicate stop point")
			}
			return err
		}
		return renumber(ctx, tx, userID)
	})
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) || errors.Is(err, ErrStopPointTriggered) || errors.Is(err, store.ErrStopPointNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update stop point: %w", err)
	}
	return sp, nil
}

// DeleteStopPoint removes a stop point.
func (s *StopPointService) DeleteStopPoint(ctx context.Context, userID, id int64) error {
	err := s.store.WithUserLock(ctx, userID, func(ctx context.Context, tx store.Tx) error {
		if err := tx.StopPoints().Delete(ctx, userID, id); err != nil {
			return err
		}
		return renumber(ctx, tx, userID)
	})
	if err != nil {
		if errors.Is(err, store.ErrStopPointNotFound) {
			return err
		}
		return fmt.Errorf("failed to delete stop point: %w", err)
	}
	return nil
}

// renumber rewrites sort orders so they increase with point.
func renumber(ctx context.Context, tx store.Tx, userID int64) error {
	sps, err := tx.StopPoints().ListByUser(ctx, userID)
	if err != nil {
		return err
	}
	for i, sp := range sps {
		if sp.Order == i+1 {
			continue
		}
		sp.Order = i + 1
		if err := tx.StopPoints().Save(ctx, sp); err != nil {
			return err
		}
	}
	return nil
}

// ensureSnapshot triggers the gate the first time the user reaches its point.
// The wallet may gain the bonus if the gate clears at once; the caller saves it.
func (s *StopPointService) ensureSnapshot(ctx context.Context, tx store.Tx, w *model.Wallet, sp *model.StopPoint, events *[]Event) error {
	if sp.Triggered() {
		return nil
	}

	locked := w.Spendable.Add(sp.RequiredBalance)
	estimated := locked.Add(sp.Bonus())
	remaining := sp.RequiredBalance
	if s.opts.RequirementMode == config.RequirementShortfall {
		remaining = decimal.Max(sp.RequiredBalance.Sub(w.Spendable), decimal.Zero)
	}
	sp.LockedTaskPrice = &locked
	sp.EstimatedBalanceSnapshot = &estimated
	sp.RequiredBalanceRemaining = &remaining

	log.Info().
		Int64("user_id", sp.UserID).
		Int("point", sp.Point).
		Str("locked_task_price", locked.String()).
		Str("remaining", remaining.String()).
		Msg("Stop point triggered")

	if !remaining.IsPositive() {
		return s.clear(ctx, tx, w, sp, events)
	}
	if err := tx.StopPoints().Save(ctx, sp); err != nil {
		return err
	}
	*events = append(*events, Event{
		Kind:   EventStopPointReached,
		UserID: sp.UserID,
		Message: fmt.Sprintf("Stop point at task %d reached: recharge %s to continue.",
			sp.Point, remaining.StringFixed(2)),
	})
	return nil
}

// applyRecharge routes a recharged amount to the user's triggered, uncleared
// gate. It returns that gate, or nil when none is waiting. Non-positive
// amounts change nothing. The caller saves the wallet.
func (s *StopPointService) applyRecharge(ctx context.Context, tx store.Tx, w *model.Wallet, amount decimal.Decimal, events *[]Event) (*model.StopPoint, error) {
	sps, err := tx.StopPoints().ListByUser(ctx, w.UserID)
	if err != nil {
		return nil, err
	}
	var sp *model.StopPoint
	for _, candidate := range sps {
		if candidate.Triggered() && candidate.Open() {
			sp = candidate
			break
		}
	}
	if sp == nil {
		return nil, nil
	}
	if !amount.IsPositive() {
		return sp, nil
	}

	remaining := decimal.Max(sp.Outstanding().Sub(amount), decimal.Zero)
	sp.RequiredBalanceRemaining = &remaining
	sp.RechargedAmount = sp.RechargedAmount.Add(amount)
	if remaining.IsPositive() {
		return sp, tx.StopPoints().Save(ctx, sp)
	}
	return sp, s.clear(ctx, tx, w, sp, events)
}

// clear approves the gate, pays its bonus once and records it as the last
// cleared stop point.
func (s *StopPointService) clear(ctx context.Context, tx store.Tx, w *model.Wallet, sp *model.StopPoint, events *[]Event) error {
	zero := decimal.Zero
	sp.RequiredBalanceRemaining = &zero
	sp.Status = model.StopPointApproved

	bonus := sp.Bonus()
	if !sp.BonusDisbursed && bonus.IsPositive() {
		if err := credit(ctx, tx, w, bonus, model.LedgerStopPointBonus, fmt.Sprintf("Stop point %d bonus", sp.Point)); err != nil {
			return err
		}
		now := time.Now()
		sp.BonusDisbursed = true
		sp.BonusDisbursedAt = &now
	}
	if err := tx.StopPoints().Save(ctx, sp); err != nil {
		return err
	}

	progress, err := tx.Progress().Get(ctx, sp.UserID)
	if err != nil {
		return err
	}
	id := sp.ID
	progress.LastClearedID = &id
	if err := tx.Progress().Save(ctx, progress); err != nil {
		return err
	}

	metrics.StopPointsCleared.Inc()
	msg := fmt.Sprintf("Stop point at task %d cleared.", sp.Point)
	if sp.BonusDisbursed && bonus.IsPositive() {
		msg = fmt.Sprintf("Stop point at task %d cleared, bonus %s added.", sp.Point, bonus.StringFixed(2))
	}
	*events = append(*events, Event{Kind: EventStopPointCleared, UserID: sp.UserID, Message: msg})
	return nil
}
