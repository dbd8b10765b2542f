package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"task-reward-engine/internal/store"
)

// Store opens PostgreSQL transactions over a pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store instance.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithUserLock runs fn in a transaction whose first statement locks the user's
// wallet row with SELECT ... FOR UPDATE.
func (s *Store) WithUserLock(ctx context.Context, userID int64, fn store.TxFunc) error {
	return s.inTx(ctx, func(ctx context.Context, tx *Repos) error {
		if _, err := tx.wallets.LockForUpdate(ctx, userID); err != nil {
			return err
		}
		return fn(ctx, tx)
	})
}

// View runs fn in a transaction without taking the wallet lock.
func (s *Store) View(ctx context.Context, fn store.TxFunc) error {
	return s.inTx(ctx, func(ctx context.Context, tx *Repos) error {
		return fn(ctx, tx)
	})
}

func (s *Store) inTx(ctx context.Context, fn func(ctx context.Context, tx *Repos) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := fn(ctx, NewRepos(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// Repos bundles every repository over one DBTX. It implements store.Tx.
type Repos struct {
	users       *UserRepository
	wallets     *WalletRepository
	commissions *CommissionRepository
	settings    *SettingsRepository
	stopPoints  *StopPointRepository
	progress    *ProgressRepository
	tasks       *TaskRepository
	products    *ProductRepository
	ledger      *LedgerRepository
	recharges   *RechargeRepository
}

// NewRepos binds all repositories to db.
func NewRepos(db DBTX) *Repos {
	return &Repos{
		users:       NewUserRepository(db),
		wallets:     NewWalletRepository(db),
		commissions: NewCommissionRepository(db),
		settings:    NewSettingsRepository(db),
		stopPoints:  NewStopPointRepository(db),
		progress:    NewProgressRepository(db),
		tasks:       NewTaskRepository(db),
		products:    NewProductRepository(db),
		ledger:      NewLedgerRepository(db),
		recharges:   NewRechargeRepository(db),
	}
}

func (r *Repos) Users() store.UserStore             { return r.users }
func (r *Repos) Wallets() store.WalletStore         { return r.wallets }
func (r *Repos) Commissions() store.CommissionStore { return r.commissions }
func (r *Repos) Settings() store.SettingsStore      { return r.settings }
func (r *Repos) StopPoints() store.StopPointStore   { return r.stopPoints }
func (r *Repos) Progress() store.ProgressStore      { return r.progress }
func (r *Repos) Tasks() store.TaskStore             { return r.tasks }
func (r *Repos) Products() store.ProductCatalog     { return r.products }
func (r *Repos) Ledger() store.LedgerStore          { return r.ledger }
func (r *Repos) Recharges() store.RechargeStore     { return r.recharges }
