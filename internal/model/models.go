// Package model defines the data models for the task reward engine.
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// BalanceSource tells where a wallet's spendable funds came from.
type BalanceSource string

// Balance sources.
const (
	SourceRecharge BalanceSource = "recharge"
	SourceReferral BalanceSource = "referral"
)

// User is a platform account. ReferredBy points at the referrer, if any.
type User struct {
	ID         int64     `db:"id" json:"id"`
	Username   string    `db:"username" json:"username"`
	ReferredBy *int64    `db:"referred_by" json:"referred_by"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Wallet holds a user's balances. There is exactly one per user.
type Wallet struct {
	UserID                int64           `db:"user_id" json:"user_id"`
	Spendable             decimal.Decimal `db:"spendable_balance" json:"spendable_balance"`
	ProductCommission     decimal.Decimal `db:"product_commission" json:"product_commission"`
	ReferralCommission    decimal.Decimal `db:"referral_commission" json:"referral_commission"`
	ReferralEarnedBalance decimal.Decimal `db:"referral_earned_balance" json:"referral_earned_balance"`
	BalanceSource         BalanceSource   `db:"balance_source" json:"balance_source"`
	HasRecharged          bool            `db:"has_recharged" json:"has_recharged"`
	IsFakeDisplayMode     bool            `db:"is_fake_display_mode" json:"is_fake_display_mode"`
	UpdatedAt             time.Time       `db:"updated_at" json:"updated_at"`
}

// NewWallet returns an empty wallet for a user.
func NewWallet(userID int64) *Wallet {
	return &Wallet{
		UserID:                userID,
		Spendable:             decimal.Zero,
		ProductCommission:     decimal.Zero,
		ReferralCommission:    decimal.Zero,
		ReferralEarnedBalance: decimal.Zero,
		BalanceSource:         SourceRecharge,
	}
}

// IsReferralOnly reports whether the wallet is funded purely by referral earnings.
func (w *Wallet) IsReferralOnly() bool {
	return w.BalanceSource == SourceReferral && !w.HasRecharged && w.ReferralEarnedBalance.IsPositive()
}

// Commission types.
const (
	CommissionSelf     = "self"
	CommissionReferral = "referral"
)

// CommissionRecord is an immutable commission entry.
// (UserID, TaskLabel, Type, TriggeredBy) is unique.
type CommissionRecord struct {
	ID          int64           `db:"id" json:"id"`
	UserID      int64           `db:"user_id" json:"user_id"`
	TaskLabel   string          `db:"task_label" json:"task_label"`
	Type        string          `db:"commission_type" json:"commission_type"`
	TriggeredBy int64           `db:"triggered_by" json:"triggered_by"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// CommissionSetting holds per-user rates (percent) and the daily task limit.
type CommissionSetting struct {
	UserID         int64           `db:"user_id" json:"user_id"`
	ProductRate    decimal.Decimal `db:"product_rate" json:"product_rate"`
	ReferralRate   decimal.Decimal `db:"referral_rate" json:"referral_rate"`
	DailyTaskLimit int             `db:"daily_task_limit" json:"daily_task_limit"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// NewCommissionSetting returns the all-zero setting used when none is stored.
func NewCommissionSetting(userID int64) *CommissionSetting {
	return &CommissionSetting{
		UserID:       userID,
		ProductRate:  decimal.Zero,
		ReferralRate: decimal.Zero,
	}
}

// Stop point statuses.
const (
	StopPointPending  = "pending"
	StopPointApproved = "approved"
)

// StopPoint gates a user's task sequence at Point until enough is recharged.
type StopPoint struct {
	ID                       int64            `db:"id" json:"id"`
	UserID                   int64            `db:"user_id" json:"user_id"`
	Point                    int              `db:"point" json:"point"`
	RequiredBalance          decimal.Decimal  `db:"required_balance" json:"required_balance"`
	RequiredBalanceRemaining *decimal.Decimal `db:"required_balance_remaining" json:"required_balance_remaining"`
	RechargedAmount          decimal.Decimal  `db:"recharged_amount" json:"recharged_amount"`
	LockedTaskPrice          *decimal.Decimal `db:"locked_task_price" json:"locked_task_price"`
	EstimatedBalanceSnapshot *decimal.Decimal `db:"estimated_balance_snapshot" json:"estimated_balance_snapshot"`
	SpecialBonusAmount       *decimal.Decimal `db:"special_bonus_amount" json:"special_bonus_amount"`
	BonusDisbursed           bool             `db:"bonus_disbursed" json:"bonus_disbursed"`
	BonusDisbursedAt         *time.Time       `db:"bonus_disbursed_at" json:"bonus_disbursed_at"`
	Status                   string           `db:"status" json:"status"`
	Order                    int              `db:"sort_order" json:"sort_order"`
	CreatedAt                time.Time        `db:"created_at" json:"created_at"`
}

// Triggered reports whether the gate snapshot has been taken.
func (sp *StopPoint) Triggered() bool {
	return sp.RequiredBalanceRemaining != nil
}

// Cleared reports whether the outstanding requirement has been met.
func (sp *StopPoint) Cleared() bool {
	return sp.Status == StopPointApproved ||
		(sp.RequiredBalanceRemaining != nil && !sp.RequiredBalanceRemaining.IsPositive())
}

// Open reports whether the gate still applies: pending and not yet cleared.
func (sp *StopPoint) Open() bool {
	return sp.Status == StopPointPending && !sp.Cleared()
}

// Outstanding returns the remaining requirement, or zero if not triggered.
func (sp *StopPoint) Outstanding() decimal.Decimal {
	if sp.RequiredBalanceRemaining == nil {
		return decimal.Zero
	}
	return *sp.RequiredBalanceRemaining
}

// Bonus returns the special bonus, or zero.
func (sp *StopPoint) Bonus() decimal.Decimal {
	if sp.SpecialBonusAmount == nil {
		return decimal.Zero
	}
	return *sp.SpecialBonusAmount
}

// StopPointProgress is the per-user pricing cursor.
// len(ActiveSliceShares) == ActiveSliceEnd - ActiveSliceStart + 1 whenever a slice is set.
type StopPointProgress struct {
	UserID                 int64             `db:"user_id" json:"user_id"`
	LastClearedID          *int64            `db:"last_cleared_id" json:"last_cleared_id"`
	ActiveSliceStart       int               `db:"active_slice_start_task" json:"active_slice_start_task"`
	ActiveSliceEnd         int               `db:"active_slice_end_task" json:"active_slice_end_task"`
	ActiveSliceStopPointID *int64            `db:"active_slice_stop_point_id" json:"active_slice_stop_point_id"`
	ActiveSliceShares      []decimal.Decimal `db:"active_slice_shares" json:"active_slice_shares"`
	ActiveSlicePoolBase    decimal.Decimal   `db:"active_slice_pool_base" json:"active_slice_pool_base"`
	UpdatedAt              time.Time         `db:"updated_at" json:"updated_at"`
}

// ClearSlice drops the active slice.
func (p *StopPointProgress) ClearSlice() {
	p.ActiveSliceStart = 0
	p.ActiveSliceEnd = 0
	p.ActiveSliceStopPointID = nil
	p.ActiveSliceShares = nil
	p.ActiveSlicePoolBase = decimal.Zero
}

// Product is a catalog item a task is performed on.
type Product struct {
	ID        int64           `db:"id" json:"id"`
	Name      string          `db:"name" json:"name"`
	Price     decimal.Decimal `db:"price" json:"price"`
	IsActive  bool            `db:"is_active" json:"is_active"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// UserProductTask is a priced task assignment. (UserID, ProductID, RoundNumber) is unique.
type UserProductTask struct {
	ID                        int64            `db:"id" json:"id"`
	UserID                    int64            `db:"user_id" json:"user_id"`
	ProductID                 int64            `db:"product_id" json:"product_id"`
	RoundNumber               int              `db:"round_number" json:"round_number"`
	TaskNumber                int              `db:"task_number" json:"task_number"`
	Price                     decimal.Decimal  `db:"price" json:"price"`
	RealPrice                 *decimal.Decimal `db:"real_price" json:"real_price"`
	FakeDisplayPrice          *decimal.Decimal `db:"fake_display_price" json:"fake_display_price"`
	IsFakeModeTask            bool             `db:"is_fake_mode_task" json:"is_fake_mode_task"`
	PricingSnapshotDailyLimit int              `db:"pricing_snapshot_daily_limit" json:"pricing_snapshot_daily_limit"`
	IsCompleted               bool             `db:"is_completed" json:"is_completed"`
	CompletedAt               *time.Time       `db:"completed_at" json:"completed_at"`
	CreatedAt                 time.Time        `db:"created_at" json:"created_at"`
}

// Label is the idempotency label used for the task's commission records.
func (t *UserProductTask) Label() string {
	return fmt.Sprintf("Task %d - Product %d", t.ID, t.ProductID)
}

// Recharge request statuses.
const (
	RechargePending  = "pending"
	RechargeApproved = "approved"
	RechargeRejected = "rejected"
)

// RechargeRequest is a user's request to add funds, approved by an admin.
type RechargeRequest struct {
	ID          int64           `db:"id" json:"id"`
	UserID      int64           `db:"user_id" json:"user_id"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	Status      string          `db:"status" json:"status"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	ProcessedAt *time.Time      `db:"processed_at" json:"processed_at"`
}

// LedgerEntry represents a balance change record.
type LedgerEntry struct {
	ID          int64           `db:"id" json:"id"`
	UserID      int64           `db:"user_id" json:"user_id"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	Type        string          `db:"type" json:"type"`
	Description *string         `db:"description" json:"description"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// Ledger entry types for categorizing balance changes.
const (
	LedgerRecharge           = "recharge"            // Approved recharge
	LedgerTaskCredit         = "task_credit"         // Task completion credit
	LedgerProductCommission  = "product_commission"  // Own task commission
	LedgerReferralCommission = "referral_commission" // Downline task commission
	LedgerStopPointBonus     = "stop_point_bonus"    // Bonus paid when a stop point clears
	LedgerAdminAdjust        = "admin_adjust"        // Manual correction
)

// EarningRank is a user's commission total for a ranking period.
type EarningRank struct {
	UserID   int64           `db:"user_id" json:"user_id"`
	Username string          `db:"username" json:"username"`
	Total    decimal.Decimal `db:"total" json:"total"`
}
