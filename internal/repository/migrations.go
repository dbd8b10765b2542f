package repository

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{
		name: "users table",
		sql: `
			CREATE TABLE IF NOT EXISTS users (
				id BIGINT PRIMARY KEY,
				username VARCHAR(255) NOT NULL DEFAULT '',
				referred_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_users_referred_by ON users(referred_by);
		`,
	},
	{
		name: "wallets table",
		sql: `
			CREATE TABLE IF NOT EXISTS wallets (
				user_id BIGINT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
				spendable_balance NUMERIC(18,2) NOT NULL DEFAULT 0 CHECK (spendable_balance >= 0),
				product_commission NUMERIC(18,2) NOT NULL DEFAULT 0,
				referral_commission NUMERIC(18,2) NOT NULL DEFAULT 0,
				referral_earned_balance NUMERIC(18,2) NOT NULL DEFAULT 0,
				balance_source VARCHAR(16) NOT NULL DEFAULT 'recharge',
				has_recharged BOOLEAN NOT NULL DEFAULT FALSE,
				is_fake_display_mode BOOLEAN NOT NULL DEFAULT FALSE,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
		`,
	},
	{
		name: "wallet_transactions table",
		sql: `
			CREATE TABLE IF NOT EXISTS wallet_transactions (
				id BIGSERIAL PRIMARY KEY,
				user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				amount NUMERIC(18,2) NOT NULL,
				type VARCHAR(50) NOT NULL,
				description TEXT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_wallet_transactions_user_time ON wallet_transactions(user_id, created_at DESC);
		`,
	},
	{
		name: "commission tables",
		sql: `
			CREATE TABLE IF NOT EXISTS commission_records (
				id BIGSERIAL PRIMARY KEY,
				user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				task_label VARCHAR(255) NOT NULL,
				commission_type VARCHAR(16) NOT NULL,
				triggered_by BIGINT NOT NULL,
				amount NUMERIC(18,2) NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE (user_id, task_label, commission_type, triggered_by)
			);
			CREATE INDEX IF NOT EXISTS idx_commission_records_time ON commission_records(created_at);

			CREATE TABLE IF NOT EXISTS commission_settings (
				user_id BIGINT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
				product_rate NUMERIC(7,2) NOT NULL DEFAULT 0,
				referral_rate NUMERIC(7,2) NOT NULL DEFAULT 0,
				daily_task_limit INT NOT NULL DEFAULT 0,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
		`,
	},
	{
		name: "stop point tables",
		sql: `
			CREATE TABLE IF NOT EXISTS stop_points (
				id BIGSERIAL PRIMARY KEY,
				user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				point INT NOT NULL CHECK (point > 0),
				required_balance NUMERIC(18,2) NOT NULL,
				required_balance_remaining NUMERIC(18,2),
				recharged_amount NUMERIC(18,2) NOT NULL DEFAULT 0,
				locked_task_price NUMERIC(18,2),
				estimated_balance_snapshot NUMERIC(18,2),
				special_bonus_amount NUMERIC(18,2),
				bonus_disbursed BOOLEAN NOT NULL DEFAULT FALSE,
				bonus_disbursed_at TIMESTAMPTZ,
				status VARCHAR(16) NOT NULL DEFAULT 'pending',
				sort_order INT NOT NULL DEFAULT 0,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE (user_id, point)
			);

			CREATE TABLE IF NOT EXISTS stop_point_progress (
				user_id BIGINT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
				last_cleared_id BIGINT REFERENCES stop_points(id) ON DELETE SET NULL,
				active_slice_start_task INT NOT NULL DEFAULT 0,
				active_slice_end_task INT NOT NULL DEFAULT 0,
				active_slice_stop_point_id BIGINT REFERENCES stop_points(id) ON DELETE SET NULL,
				active_slice_shares JSONB NOT NULL DEFAULT '[]'::jsonb,
				active_slice_pool_base NUMERIC(18,2) NOT NULL DEFAULT 0,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
		`,
	},
	{
		name: "product tables",
		sql: `
			CREATE TABLE IF NOT EXISTS products (
				id BIGSERIAL PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				price NUMERIC(18,2) NOT NULL DEFAULT 0,
				is_active BOOLEAN NOT NULL DEFAULT TRUE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);

			CREATE TABLE IF NOT EXISTS user_product_tasks (
				id BIGSERIAL PRIMARY KEY,
				user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				product_id BIGINT NOT NULL REFERENCES products(id),
				round_number INT NOT NULL DEFAULT 0,
				task_number INT NOT NULL,
				price NUMERIC(18,2) NOT NULL,
				real_price NUMERIC(18,2),
				fake_display_price NUMERIC(18,2),
				is_fake_mode_task BOOLEAN NOT NULL DEFAULT FALSE,
				pricing_snapshot_daily_limit INT NOT NULL DEFAULT 0,
				is_completed BOOLEAN NOT NULL DEFAULT FALSE,
				completed_at TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE (user_id, product_id, round_number)
			);
			CREATE INDEX IF NOT EXISTS idx_user_product_tasks_open ON user_product_tasks(user_id) WHERE NOT is_completed;
		`,
	},
	{
		name: "recharge_requests table",
		sql: `
			CREATE TABLE IF NOT EXISTS recharge_requests (
				id BIGSERIAL PRIMARY KEY,
				user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				amount NUMERIC(18,2) NOT NULL CHECK (amount > 0),
				status VARCHAR(16) NOT NULL DEFAULT 'pending',
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				processed_at TIMESTAMPTZ
			);
			CREATE INDEX IF NOT EXISTS idx_recharge_requests_pending ON recharge_requests(created_at) WHERE status = 'pending';
		`,
	},
}

// Migrate creates the schema. Every statement is idempotent.
func Migrate(ctx context.Context, db DBTX) error {
	log.Info().Msg("Running database migrations...")

	for i, m := range migrations {
		if _, err := db.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", i+1, m.name, err)
		}
		log.Info().Int("migration", i+1).Str("name", m.name).Msg("Migration applied")
	}

	log.Info().Msg("All migrations completed successfully")
	return nil
}
