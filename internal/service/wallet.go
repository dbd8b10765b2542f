package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"task-reward-engine/internal/metrics"
	"task-reward-engine/internal/model"
	"task-reward-engine/internal/pricing"
	"task-reward-engine/internal/store"
)

// WalletService handles user registration, balances and recharges.
type WalletService struct {
	store    store.Store
	gate     *StopPointService
	notifier Notifier
}

// NewWalletService creates a new WalletService instance.
func NewWalletService(st store.Store, gate *StopPointService, notifier Notifier) *WalletService {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &WalletService{
		store:    st,
		gate:     gate,
		notifier: notifier,
	}
}

// RechargeResult describes an approved recharge and its effect on the active gate.
type RechargeResult struct {
	Request   *model.RechargeRequest `json:"request"`
	Wallet    *model.Wallet          `json:"wallet"`
	StopPoint *model.StopPoint       `json:"stop_point,omitempty"`
	Remaining decimal.Decimal        `json:"remaining"`
	Cleared   bool                   `json:"cleared"`
}

// Register ensures a user exists. Returns the user and whether it was newly created.
// The referrer is only recorded on creation.
func (s *WalletService) Register(ctx context.Context, userID int64, username string, referrerID *int64) (*model.User, bool, error) {
	if referrerID != nil && *referrerID == userID {
		return nil, false, ErrSelfReferral
	}

	var (
		user    *model.User
		created bool
	)
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		if referrerID != nil {
			if _, err := tx.Users().Get(ctx, *referrerID); err != nil {
				return err
			}
		}
		var err error
		user, created, err = tx.Users().GetOrCreate(ctx, userID, username, referrerID)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to register user: %w", err)
	}
	if created {
		log.Info().Int64("user_id", userID).Str("username", username).Msg("User registered")
	}
	return user, created, nil
}

// GetWallet retrieves a user's wallet.
func (s *WalletService) GetWallet(ctx context.Context, userID int64) (*model.Wallet, error) {
	var w *model.Wallet
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.Users().Get(ctx, userID); err != nil {
			return err
		}
		var err error
		w, err = tx.Wallets().Get(ctx, userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return w, nil
}

// History lists the user's most recent ledger entries, newest first.
func (s *WalletService) History(ctx context.Context, userID int64, limit int) ([]*model.LedgerEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	var entries []*model.LedgerEntry
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		entries, err = tx.Ledger().ListByUser(ctx, userID, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	return entries, nil
}

// RequestRecharge files a pending recharge request.
func (s *WalletService) RequestRecharge(ctx context.Context, userID int64, amount decimal.Decimal) (*model.RechargeRequest, error) {
	amount = pricing.Quantize(amount)
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	req := &model.RechargeRequest{
		UserID: userID,
		Amount: amount,
		Status: model.RechargePending,
	}
	err := s.store.WithUserLock(ctx, userID, func(ctx context.Context, tx store.Tx) error {
		return tx.Recharges().Create(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to request recharge: %w", err)
	}

	notifyAll(ctx, s.notifier, []Event{{
		Kind:    EventRechargeRequested,
		UserID:  userID,
		Message: fmt.Sprintf("Recharge request #%d for %s is waiting for approval.", req.ID, amount.StringFixed(2)),
	}})
	return req, nil
}

// ListPendingRecharges returns pending recharge requests, oldest first.
func (s *WalletService) ListPendingRecharges(ctx context.Context, limit int) ([]*model.RechargeRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	var reqs []*model.RechargeRequest
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		reqs, err = tx.Recharges().ListPending(ctx, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list recharges: %w", err)
	}
	return reqs, nil
}

// ApproveRecharge credits a pending recharge and routes it to the user's
// triggered stop point, if any.
func (s *WalletService) ApproveRecharge(ctx context.Context, requestID int64) (*RechargeResult, error) {
	userID, err := s.rechargeOwner(ctx, requestID)
	if err != nil {
		return nil, err
	}

	result := &RechargeResult{}
	var events []Event
	err = s.store.WithUserLock(ctx, userID, func(ctx context.Context, tx store.Tx) error {
		events = events[:0]
		req, err := tx.Recharges().Get(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != model.RechargePending {
			return ErrRechargeProcessed
		}

		w, err := tx.Wallets().LockForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		w.BalanceSource = model.SourceRecharge
		w.HasRecharged = true
		w.IsFakeDisplayMode = false
		if err := credit(ctx, tx, w, req.Amount, model.LedgerRecharge, fmt.Sprintf("Recharge #%d", req.ID)); err != nil {
			return err
		}

		gate, err := s.gate.applyRecharge(ctx, tx, w, req.Amount, &events)
		if err != nil {
			return err
		}
		if err := tx.Wallets().Save(ctx, w); err != nil {
			return err
		}

		now := time.Now()
		req.Status = model.RechargeApproved
		req.ProcessedAt = &now
		if err := tx.Recharges().Save(ctx, req); err != nil {
			return err
		}

		result.Request = req
		result.Wallet = w
		if gate != nil {
			result.StopPoint = gate
			result.Remaining = gate.Outstanding()
			result.Cleared = gate.Cleared()
		}
		events = append(events, Event{
			Kind:    EventRechargeApproved,
			UserID:  userID,
			Message: fmt.Sprintf("Recharge #%d of %s approved.", req.ID, req.Amount.StringFixed(2)),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to approve recharge: %w", err)
	}

	metrics.RechargesProcessed.WithLabelValues(model.RechargeApproved).Inc()
	log.Info().
		Int64("user_id", userID).
		Int64("request_id", requestID).
		Str("amount", result.Request.Amount.String()).
		Bool("gate_cleared", result.Cleared).
		Msg("Recharge approved")
	notifyAll(ctx, s.notifier, events)
	return result, nil
}

// RejectRecharge marks a pending recharge as rejected.
func (s *WalletService) RejectRecharge(ctx context.Context, requestID int64) (*model.RechargeRequest, error) {
	userID, err := s.rechargeOwner(ctx, requestID)
	if err != nil {
		return nil, err
	}

	var req *model.RechargeRequest
	err = s.store.WithUserLock(ctx, userID, func(ctx context.Context, tx store.Tx) error {
		var err error
		req, err = tx.Recharges().Get(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != model.RechargePending {
			return ErrRechargeProcessed
		}
		now := time.Now()
		req.Status = model.RechargeRejected
		req.ProcessedAt = &now
		return tx.Recharges().Save(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reject recharge: %w", err)
	}

	metrics.RechargesProcessed.WithLabelValues(model.RechargeRejected).Inc()
	notifyAll(ctx, s.notifier, []Event{{
		Kind:    EventRechargeRejected,
		UserID:  userID,
		Message: fmt.Sprintf("Recharge #%d was rejected.", req.ID),
	}})
	return req, nil
}

// AdjustBalance applies a manual correction to the spendable balance.
// A negative delta never takes the balance below zero.
func (s *WalletService) AdjustBalance(ctx context.Context, userID int64, delta decimal.Decimal, note string) (*model.Wallet, error) {
	delta = pricing.Quantize(delta)
	if delta.IsZero() {
		return nil, ErrInvalidAmount
	}

	var w *model.Wallet
	err := s.store.WithUserLock(ctx, userID, func(ctx context.Context, tx store.Tx) error {
		var err error
		w, err = tx.Wallets().LockForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if delta.IsPositive() {
			err = credit(ctx, tx, w, delta, model.LedgerAdminAdjust, note)
		} else {
			err = debit(ctx, tx, w, delta.Neg(), model.LedgerAdminAdjust, note)
		}
		if err != nil {
			return err
		}
		return tx.Wallets().Save(ctx, w)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to adjust balance: %w", err)
	}

	log.Info().Int64("user_id", userID).Str("delta", delta.String()).Str("note", note).Msg("Balance adjusted")
	return w, nil
}

func (s *WalletService) rechargeOwner(ctx context.Context, requestID int64) (int64, error) {
	var userID int64
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		req, err := tx.Recharges().Get(ctx, requestID)
		if err != nil {
			return err
		}
		userID = req.UserID
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrRechargeNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to get recharge: %w", err)
	}
	return userID, nil
}

// credit adds amount to the wallet's spendable balance and appends a ledger row.
// The caller saves the wallet.
func credit(ctx context.Context, tx store.Tx, w *model.Wallet, amount decimal.Decimal, entryType, note string) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	w.Spendable = w.Spendable.Add(amount)
	return appendLedger(ctx, tx, w.UserID, amount, entryType, note)
}

// debit subtracts amount from the spendable balance, failing rather than going negative.
// The caller saves the wallet.
func debit(ctx context.Context, tx store.Tx, w *model.Wallet, amount decimal.Decimal, entryType, note string) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if w.Spendable.LessThan(amount) {
		return ErrInsufficientBalance
	}
	w.Spendable = w.Spendable.Sub(amount)
	return appendLedger(ctx, tx, w.UserID, amount.Neg(), entryType, note)
}

func appendLedger(ctx context.Context, tx store.Tx, userID int64, amount decimal.Decimal, entryType, note string) error {
	var desc *string
	if note != "" {
		desc = &note
	}
	if _, err := tx.Ledger().Append(ctx, userID, amount, entryType, desc); err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}
