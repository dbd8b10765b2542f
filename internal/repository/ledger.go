package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"task-reward-engine/internal/model"
)

// LedgerRepository handles wallet history persistence.
type LedgerRepository struct {
	db DBTX
}

// NewLedgerRepository creates a new LedgerRepository instance.
func NewLedgerRepository(db DBTX) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func scanLedgerEntry(row pgx.Row) (*model.LedgerEntry, error) {
	var (
		e      model.LedgerEntry
		amount string
	)
	if err := row.Scan(&e.ID, &e.UserID, &amount, &e.Type, &e.Description, &e.CreatedAt); err != nil {
		return nil, err
	}
	v, err := parseDecimal(amount)
	if err != nil {
		return nil, err
	}
	e.Amount = v
	return &e, nil
}

// Append records a balance change.
func (r *LedgerRepository) Append(ctx context.Context, userID int64, amount decimal.Decimal, entryType string, description *string) (*model.LedgerEntry, error) {
	return r.AppendAt(ctx, userID, amount, entryType, description, time.Now())
}

// AppendAt records a balance change with a specific timestamp.
// Useful for testing and data migration.
func (r *LedgerRepository) AppendAt(ctx context.Context, userID int64, amount decimal.Decimal, entryType string, description *string, createdAt time.Time) (*model.LedgerEntry, error) {
	const query = `
		INSERT INTO wallet_transactions (user_id, amount, type, description, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, user_id, amount::text, type, description, created_at
	`

	e, err := scanLedgerEntry(r.db.QueryRow(ctx, query, userID, amount.String(), entryType, description, createdAt))
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger entry: %w", err)
	}
	return e, nil
}

// ListByUser retrieves a user's ledger entries, newest first.
func (r *LedgerRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]*model.LedgerEntry, error) {
	const query = `
		SELECT id, user_id, amount::text, type, description, created_at
		FROM wallet_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*model.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger entries: %w", err)
	}

	return entries, nil
}
