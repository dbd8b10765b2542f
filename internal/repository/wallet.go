package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"task-reward-engine/internal/model"
	"task-reward-engine/internal/store"
)

// WalletRepository handles wallet persistence.
type WalletRepository struct {
	db DBTX
}

// NewWalletRepository creates a new WalletRepository instance.
func NewWalletRepository(db DBTX) *WalletRepository {
	return &WalletRepository{db: db}
}

const walletColumns = `
	user_id, spendable_balance::text, product_commission::text, referral_commission::text,
	referral_earned_balance::text, balance_source, has_recharged, is_fake_display_mode, updated_at
`

func scanWallet(row pgx.Row) (*model.Wallet, error) {
	var (
		w                                    model.Wallet
		spendable, product, referral, earned string
		source                               string
	)
	if err := row.Scan(
		&w.UserID,
		&spendable,
		&product,
		&referral,
		&earned,
		&source,
		&w.HasRecharged,
		&w.IsFakeDisplayMode,
		&w.UpdatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if w.Spendable, err = parseDecimal(spendable); err != nil {
		return nil, err
	}
	if w.ProductCommission, err = parseDecimal(product); err != nil {
		return nil, err
	}
	if w.ReferralCommission, err = parseDecimal(referral); err != nil {
		return nil, err
	}
	if w.ReferralEarnedBalance, err = parseDecimal(earned); err != nil {
		return nil, err
	}
	w.BalanceSource = model.BalanceSource(source)
	return &w, nil
}

// Get retrieves a wallet. A user without a wallet gets an empty, unsaved one.
func (r *WalletRepository) Get(ctx context.Context, userID int64) (*model.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1`

	w, err := scanWallet(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.NewWallet(userID), nil
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return w, nil
}

// LockForUpdate creates the wallet row if missing and locks it for the
// rest of the transaction.
func (r *WalletRepository) LockForUpdate(ctx context.Context, userID int64) (*model.Wallet, error) {
	const insert = `
		INSERT INTO wallets (user_id, balance_source, updated_at)
		VALUES ($1, 'recharge', NOW())
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := r.db.Exec(ctx, insert, userID); err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}

	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1 FOR UPDATE`
	w, err := scanWallet(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock wallet: %w", err)
	}
	return w, nil
}

// Save writes every wallet field.
func (r *WalletRepository) Save(ctx context.Context, w *model.Wallet) error {
	const query = `
		INSERT INTO wallets (
			user_id, spendable_balance, product_commission, referral_commission,
			referral_earned_balance, balance_source, has_recharged, is_fake_display_mode, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			spendable_balance = EXCLUDED.spendable_balance,
			product_commission = EXCLUDED.product_commission,
			referral_commission = EXCLUDED.referral_commission,
			referral_earned_balance = EXCLUDED.referral_earned_balance,
			balance_source = EXCLUDED.balance_source,
			has_recharged = EXCLUDED.has_recharged,
			is_fake_display_mode = EXCLUDED.is_fake_display_mode,
			updated_at = NOW()
		RETURNING updated_at
	`

	err := r.db.QueryRow(ctx, query,
		w.UserID,
		w.Spendable.String(),
		w.ProductCommission.String(),
		w.ReferralCommission.String(),
		w.ReferralEarnedBalance.String(),
		string(w.BalanceSource),
		w.HasRecharged,
		w.IsFakeDisplayMode,
	).Scan(&w.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.ErrUserNotFound
		}
		if isCheckViolation(err) {
			return fmt.Errorf("failed to save wallet: negative balance for user %d", w.UserID)
		}
		return fmt.Errorf("failed to save wallet: %w", err)
	}
	return nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23514"
}
