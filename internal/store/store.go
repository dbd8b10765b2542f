// Package store declares the persistence contracts used by the services.
// Implementations live in repository (PostgreSQL) and repository/memstore.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"task-reward-engine/internal/model"
)

// Common errors returned by every implementation.
var (
	ErrUserNotFound      = errors.New("user not found")
	ErrProductNotFound   = errors.New("product not found")
	ErrTaskNotFound      = errors.New("task not found")
	ErrStopPointNotFound = errors.New("stop point not found")
	ErrDuplicateStop     = errors.New("stop point already exists at this position")
	ErrCommissionMissing = errors.New("commission record not found")
	ErrRechargeNotFound  = errors.New("recharge request not found")
)

// TxFunc is the body of a transaction.
type TxFunc func(ctx context.Context, tx Tx) error

// Store opens transactions.
type Store interface {
	// WithUserLock runs fn in one transaction that holds the user's wallet row
	// lock. The wallet is created if missing. Any error rolls everything back.
	WithUserLock(ctx context.Context, userID int64, fn TxFunc) error
	// View runs fn without taking the wallet lock.
	View(ctx context.Context, fn TxFunc) error
}

// Tx exposes the repositories bound to one transaction.
type Tx interface {
	Users() UserStore
	Wallets() WalletStore
	Commissions() CommissionStore
	Settings() SettingsStore
	StopPoints() StopPointStore
	Progress() ProgressStore
	Tasks() TaskStore
	Products() ProductCatalog
	Ledger() LedgerStore
	Recharges() RechargeStore
}

// UserStore reads and registers users.
type UserStore interface {
	Get(ctx context.Context, userID int64) (*model.User, error)
	GetOrCreate(ctx context.Context, userID int64, username string, referredBy *int64) (*model.User, bool, error)
}

// WalletStore persists wallets.
type WalletStore interface {
	// Get returns the wallet, or a fresh unsaved one if the user has none.
	Get(ctx context.Context, userID int64) (*model.Wallet, error)
	// LockForUpdate creates the wallet if needed and locks its row.
	LockForUpdate(ctx context.Context, userID int64) (*model.Wallet, error)
	Save(ctx context.Context, w *model.Wallet) error
}

// CommissionStore records commissions idempotently.
type CommissionStore interface {
	// GetOrCreate inserts rec unless a record with the same key exists.
	// created is false when the existing record is returned.
	GetOrCreate(ctx context.Context, rec *model.CommissionRecord) (*model.CommissionRecord, bool, error)
	Find(ctx context.Context, userID int64, label, commissionType string, triggeredBy int64) (*model.CommissionRecord, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]*model.CommissionRecord, error)
	TopEarners(ctx context.Context, from, to time.Time, limit int) ([]*model.EarningRank, error)
}

// SettingsStore persists per-user commission settings.
type SettingsStore interface {
	// Get returns the stored setting or an all-zero one.
	Get(ctx context.Context, userID int64) (*model.CommissionSetting, error)
	Save(ctx context.Context, s *model.CommissionSetting) error
	Delete(ctx context.Context, userID int64) error
}

// StopPointStore persists stop points.
type StopPointStore interface {
	// ListByUser returns the user's stop points ordered by point.
	ListByUser(ctx context.Context, userID int64) ([]*model.StopPoint, error)
	// PendingFrom returns uncleared stop points with point >= taskNumber, ordered by point.
	PendingFrom(ctx context.Context, userID int64, taskNumber int) ([]*model.StopPoint, error)
	Get(ctx context.Context, userID, id int64) (*model.StopPoint, error)
	// Create inserts sp and sets its ID. Returns ErrDuplicateStop on a taken point.
	Create(ctx context.Context, sp *model.StopPoint) error
	Save(ctx context.Context, sp *model.StopPoint) error
	Delete(ctx context.Context, userID, id int64) error
	DeleteByUser(ctx context.Context, userID int64) error
}

// ProgressStore persists the per-user pricing cursor.
type ProgressStore interface {
	// Get returns the stored progress or an empty one.
	Get(ctx context.Context, userID int64) (*model.StopPointProgress, error)
	Save(ctx context.Context, p *model.StopPointProgress) error
	Delete(ctx context.Context, userID int64) error
}

// TaskStore persists task assignments.
type TaskStore interface {
	CountCompleted(ctx context.Context, userID int64) (int, error)
	// FindIncomplete returns the user's open assignment or ErrTaskNotFound.
	FindIncomplete(ctx context.Context, userID int64) (*model.UserProductTask, error)
	Get(ctx context.Context, userID, taskID int64) (*model.UserProductTask, error)
	// ProductsInRound returns the product IDs already assigned in a round.
	ProductsInRound(ctx context.Context, userID int64, round int) ([]int64, error)
	// Save inserts the task when ID is zero, otherwise updates it.
	Save(ctx context.Context, t *model.UserProductTask) error
	DeleteByUser(ctx context.Context, userID int64) error
}

// ProductCatalog reads and maintains products.
type ProductCatalog interface {
	ListActive(ctx context.Context) ([]*model.Product, error)
	Get(ctx context.Context, id int64) (*model.Product, error)
	Create(ctx context.Context, p *model.Product) error
}

// LedgerStore appends wallet history.
type LedgerStore interface {
	Append(ctx context.Context, userID int64, amount decimal.Decimal, entryType string, description *string) (*model.LedgerEntry, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]*model.LedgerEntry, error)
}

// RechargeStore persists recharge requests.
type RechargeStore interface {
	Create(ctx context.Context, r *model.RechargeRequest) error
	Get(ctx context.Context, id int64) (*model.RechargeRequest, error)
	Save(ctx context.Context, r *model.RechargeRequest) error
	ListPending(ctx context.Context, limit int) ([]*model.RechargeRequest, error)
}
