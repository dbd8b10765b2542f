package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"task-reward-engine/internal/model"
	"task-reward-engine/internal/store"
)

// TaskRepository handles user product task persistence.
type TaskRepository struct {
	db DBTX
}

// NewTaskRepository creates a new TaskRepository instance.
func NewTaskRepository(db DBTX) *TaskRepository {
	return &TaskRepository{db: db}
}

const taskColumns = `
	id, user_id, product_id, round_number, task_number, price::text, real_price::text,
	fake_display_price::text, is_fake_mode_task, pricing_snapshot_daily_limit,
	is_completed, completed_at, created_at
`

func scanTask(row pgx.Row) (*model.UserProductTask, error) {
	var (
		t               model.UserProductTask
		price           string
		realPrice, fake *string
	)
	if err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.ProductID,
		&t.RoundNumber,
		&t.TaskNumber,
		&price,
		&realPrice,
		&fake,
		&t.IsFakeModeTask,
		&t.PricingSnapshotDailyLimit,
		&t.IsCompleted,
		&t.CompletedAt,
		&t.CreatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if t.Price, err = parseDecimal(price); err != nil {
		return nil, err
	}
	if t.RealPrice, err = parseNullDecimal(realPrice); err != nil {
		return nil, err
	}
	if t.FakeDisplayPrice, err = parseNullDecimal(fake); err != nil {
		return nil, err
	}
	return &t, nil
}

// CountCompleted returns how many tasks the user has completed in the current cycle.
func (r *TaskRepository) CountCompleted(ctx context.Context, userID int64) (int, error) {
	const query = `SELECT COUNT(*) FROM user_product_tasks WHERE user_id = $1 AND is_completed`

	var count int
	if err := r.db.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count completed tasks: %w", err)
	}
	return count, nil
}

// FindIncomplete retrieves the user's open task assignment.
func (r *TaskRepository) FindIncomplete(ctx context.Context, userID int64) (*model.UserProductTask, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM user_product_tasks
		WHERE user_id = $1 AND NOT is_completed
		ORDER BY id
		LIMIT 1
	`

	t, err := scanTask(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get open task: %w", err)
	}
	return t, nil
}

// Get retrieves one of a user's tasks.
func (r *TaskRepository) Get(ctx context.Context, userID, taskID int64) (*model.UserProductTask, error) {
	query := `SELECT ` + taskColumns + ` FROM user_product_tasks WHERE user_id = $1 AND id = $2`

	t, err := scanTask(r.db.QueryRow(ctx, query, userID, taskID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

// ProductsInRound returns the products assigned to the user in a round.
func (r *TaskRepository) ProductsInRound(ctx context.Context, userID int64, round int) ([]int64, error) {
	const query = `SELECT product_id FROM user_product_tasks WHERE user_id = $1 AND round_number = $2`

	rows, err := r.db.Query(ctx, query, userID, round)
	if err != nil {
		return nil, fmt.Errorf("failed to get round products: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan product id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating round products: %w", err)
	}

	return ids, nil
}

// Save inserts a new task or updates an existing one.
func (r *TaskRepository) Save(ctx context.Context, t *model.UserProductTask) error {
	if t.ID == 0 {
		return r.create(ctx, t)
	}

	const query = `
		UPDATE user_product_tasks SET
			task_number = $3,
			price = $4,
			real_price = $5,
			fake_display_price = $6,
			is_fake_mode_task = $7,
			pricing_snapshot_daily_limit = $8,
			is_completed = $9,
			completed_at = $10
		WHERE user_id = $1 AND id = $2
	`

	result, err := r.db.Exec(ctx, query,
		t.UserID,
		t.ID,
		t.TaskNumber,
		t.Price.String(),
		nullDecimal(t.RealPrice),
		nullDecimal(t.FakeDisplayPrice),
		t.IsFakeModeTask,
		t.PricingSnapshotDailyLimit,
		t.IsCompleted,
		t.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if result.RowsAffected() == 0 {
		return store.ErrTaskNotFound
	}
	return nil
}

func (r *TaskRepository) create(ctx context.Context, t *model.UserProductTask) error {
	const query = `
		INSERT INTO user_product_tasks (
			user_id, product_id, round_number, task_number, price, real_price,
			fake_display_price, is_fake_mode_task, pricing_snapshot_daily_limit,
			is_completed, completed_at, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		RETURNING id, created_at
	`

	err := r.db.QueryRow(ctx, query,
		t.UserID,
		t.ProductID,
		t.RoundNumber,
		t.TaskNumber,
		t.Price.String(),
		nullDecimal(t.RealPrice),
		nullDecimal(t.FakeDisplayPrice),
		t.IsFakeModeTask,
		t.PricingSnapshotDailyLimit,
		t.IsCompleted,
		t.CompletedAt,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// DeleteByUser removes all of a user's task assignments.
func (r *TaskRepository) DeleteByUser(ctx context.Context, userID int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM user_product_tasks WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete tasks: %w", err)
	}
	return nil
}
