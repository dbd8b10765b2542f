package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"task-reward-engine/internal/model"
	"task-reward-engine/internal/store"
)

// UserRepository handles user data persistence.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new UserRepository instance.
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// Create registers a user. The referrer, if given, must already exist.
func (r *UserRepository) Create(ctx context.Context, userID int64, username string, referredBy *int64) (*model.User, error) {
	const query = `
		INSERT INTO users (id, username, referred_by, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, username, referred_by, created_at
	`

	var user model.User
	err := r.db.QueryRow(ctx, query, userID, username, referredBy).Scan(
		&user.ID,
		&user.Username,
		&user.ReferredBy,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return &user, nil
}

// Get retrieves a user by ID.
// Returns store.ErrUserNotFound if the user does not exist.
func (r *UserRepository) Get(ctx context.Context, userID int64) (*model.User, error) {
	const query = `
		SELECT id, username, referred_by, created_at
		FROM users
		WHERE id = $1
	`

	var user model.User
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&user.ID,
		&user.Username,
		&user.ReferredBy,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

// GetOrCreate retrieves a user, registering one if it doesn't exist.
// The referrer is only recorded on creation.
func (r *UserRepository) GetOrCreate(ctx context.Context, userID int64, username string, referredBy *int64) (*model.User, bool, error) {
	const query = `
		INSERT INTO users (id, username, referred_by, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO NOTHING
		RETURNING id, username, referred_by, created_at
	`

	var user model.User
	err := r.db.QueryRow(ctx, query, userID, username, referredBy).Scan(
		&user.ID,
		&user.Username,
		&user.ReferredBy,
		&user.CreatedAt,
	)
	if err == nil {
		return &user, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to create user: %w", err)
	}

	existing, err := r.Get(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// Exists checks if a user with the given ID exists.
func (r *UserRepository) Exists(ctx context.Context, userID int64) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`

	var exists bool
	err := r.db.QueryRow(ctx, query, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}

	return exists, nil
}
