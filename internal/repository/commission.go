package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"task-reward-engine/internal/model"
	"task-reward-engine/internal/store"
)

// CommissionRepository handles commission record persistence.
type CommissionRepository struct {
	db DBTX
}

// NewCommissionRepository creates a new CommissionRepository instance.
func NewCommissionRepository(db DBTX) *CommissionRepository {
	return &CommissionRepository{db: db}
}

const commissionColumns = `id, user_id, task_label, commission_type, triggered_by, amount::text, created_at`

func scanCommission(row pgx.Row) (*model.CommissionRecord, error) {
	var (
		rec    model.CommissionRecord
		amount string
	)
	if err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.TaskLabel,
		&rec.Type,
		&rec.TriggeredBy,
		&amount,
		&rec.CreatedAt,
	); err != nil {
		return nil, err
	}
	v, err := parseDecimal(amount)
	if err != nil {
		return nil, err
	}
	rec.Amount = v
	return &rec, nil
}

// GetOrCreate inserts the record unless one with the same
// (user, label, type, triggered_by) key exists, in which case the stored one is returned.
func (r *CommissionRepository) GetOrCreate(ctx context.Context, rec *model.CommissionRecord) (*model.CommissionRecord, bool, error) {
	query := `
		INSERT INTO commission_records (user_id, task_label, commission_type, triggered_by, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (user_id, task_label, commission_type, triggered_by) DO NOTHING
		RETURNING ` + commissionColumns

	created, err := scanCommission(r.db.QueryRow(ctx, query,
		rec.UserID, rec.TaskLabel, rec.Type, rec.TriggeredBy, rec.Amount.String(),
	))
	if err == nil {
		return created, true, nil
	}
	// A concurrent writer outside our lock raced us; the row is there either way.
	if !errors.Is(err, pgx.ErrNoRows) && !isUniqueViolation(err) {
		return nil, false, fmt.Errorf("failed to create commission: %w", err)
	}

	existing, err := r.Find(ctx, rec.UserID, rec.TaskLabel, rec.Type, rec.TriggeredBy)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// Find retrieves a commission record by its unique key.
func (r *CommissionRepository) Find(ctx context.Context, userID int64, label, commissionType string, triggeredBy int64) (*model.CommissionRecord, error) {
	query := `
		SELECT ` + commissionColumns + `
		FROM commission_records
		WHERE user_id = $1 AND task_label = $2 AND commission_type = $3 AND triggered_by = $4
	`

	rec, err := scanCommission(r.db.QueryRow(ctx, query, userID, label, commissionType, triggeredBy))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrCommissionMissing
		}
		return nil, fmt.Errorf("failed to get commission: %w", err)
	}
	return rec, nil
}

// ListByUser retrieves a user's commission records, newest first.
func (r *CommissionRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]*model.CommissionRecord, error) {
	query := `
		SELECT ` + commissionColumns + `
		FROM commission_records
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get commissions: %w", err)
	}
	defer rows.Close()

	var records []*model.CommissionRecord
	for rows.Next() {
		rec, err := scanCommission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan commission: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating commissions: %w", err)
	}

	return records, nil
}

// TopEarners retrieves the users with the highest commission totals in [from, to).
func (r *CommissionRepository) TopEarners(ctx context.Context, from, to time.Time, limit int) ([]*model.EarningRank, error) {
	const query = `
		SELECT c.user_id, u.username, SUM(c.amount)::text AS total
		FROM commission_records c
		JOIN users u ON c.user_id = u.id
		WHERE c.created_at >= $1
		  AND c.created_at < $2
		GROUP BY c.user_id, u.username
		HAVING SUM(c.amount) > 0
		ORDER BY SUM(c.amount) DESC, c.user_id
		LIMIT $3
	`

	rows, err := r.db.Query(ctx, query, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get top earners: %w", err)
	}
	defer rows.Close()

	var ranks []*model.EarningRank
	for rows.Next() {
		var (
			rank  model.EarningRank
			total string
		)
		if err := rows.Scan(&rank.UserID, &rank.Username, &total); err != nil {
			return nil, fmt.Errorf("failed to scan earning rank: %w", err)
		}
		if rank.Total, err = parseDecimal(total); err != nil {
			return nil, err
		}
		ranks = append(ranks, &rank)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating earning ranks: %w", err)
	}

	return ranks, nil
}
