// Tests use testcontainers-go to spin up a PostgreSQL container.
package repository

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"task-reward-engine/internal/model"
	"task-reward-engine/internal/store"
)

// checkDockerAvailable checks if Docker is available and running
func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	err := cmd.Run()
	return err == nil
}

// setupTestDB creates a PostgreSQL container and returns a migrated connection pool
// Skips the test if Docker is not available
func setupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	require.NoError(t, Migrate(ctx, pool))

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	}

	return pool, cleanup
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func createUser(t *testing.T, pool *pgxpool.Pool, id int64, referredBy *int64) {
	t.Helper()
	_, err := NewUserRepository(pool).Create(context.Background(), id, "user", referredBy)
	require.NoError(t, err)
}

// ============================================================================
// Migration Tests
// ============================================================================

func TestMigrate_Idempotent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	require.NoError(t, Migrate(context.Background(), pool), "running migrations twice is a no-op")
}

// ============================================================================
// UserRepository Tests
// ============================================================================

func TestUserRepository_GetOrCreate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewUserRepository(pool)
	ctx := context.Background()

	user, created, err := repo.GetOrCreate(ctx, 1, "alice", nil)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "alice", user.Username)

	referrer := int64(1)
	bob, created, err := repo.GetOrCreate(ctx, 2, "bob", &referrer)
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, bob.ReferredBy)
	assert.Equal(t, int64(1), *bob.ReferredBy)

	again, created, err := repo.GetOrCreate(ctx, 2, "bob2", nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "bob", again.Username)

	_, err = repo.Get(ctx, 404)
	assert.ErrorIs(t, err, store.ErrUserNotFound)

	exists, err := repo.Exists(ctx, 1)
	require.NoError(t, err)
	assert.True(t, exists)
}

// ============================================================================
// WalletRepository Tests
// ============================================================================

func TestWalletRepository_LockAndSave(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	createUser(t, pool, 1, nil)

	repo := NewWalletRepository(pool)
	ctx := context.Background()

	fresh, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.True(t, fresh.Spendable.IsZero())

	w, err := repo.LockForUpdate(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.SourceRecharge, w.BalanceSource)

	w.Spendable = dec("123.45")
	w.ReferralEarnedBalance = dec("10.00")
	w.BalanceSource = model.SourceReferral
	w.IsFakeDisplayMode = true
	require.NoError(t, repo.Save(ctx, w))

	got, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.True(t, got.Spendable.Equal(dec("123.45")))
	assert.True(t, got.ReferralEarnedBalance.Equal(dec("10")))
	assert.Equal(t, model.SourceReferral, got.BalanceSource)
	assert.True(t, got.IsFakeDisplayMode)

	got.Spendable = dec("-1")
	assert.Error(t, repo.Save(ctx, got), "negative balance is rejected by the schema")

	_, err = repo.LockForUpdate(ctx, 404)
	assert.ErrorIs(t, err, store.ErrUserNotFound)
}

// ============================================================================
// CommissionRepository Tests
// ============================================================================

func TestCommissionRepository_GetOrCreateIdempotent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	createUser(t, pool, 1, nil)

	repo := NewCommissionRepository(pool)
	ctx := context.Background()
	rec := &model.CommissionRecord{
		UserID:      1,
		TaskLabel:   "Task 5 - Product 2",
		Type:        model.CommissionSelf,
		TriggeredBy: 1,
		Amount:      dec("1.25"),
	}

	first, created, err := repo.GetOrCreate(ctx, rec)
	require.NoError(t, err)
	assert.True(t, created)

	dup := *rec
	dup.Amount = dec("7.77")
	second, created, err := repo.GetOrCreate(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.Amount.Equal(dec("1.25")))

	recs, err := repo.ListByUser(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestCommissionRepository_ConcurrentGetOrCreate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	createUser(t, pool, 1, nil)

	repo := NewCommissionRepository(pool)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		errs    []error
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := repo.GetOrCreate(ctx, &model.CommissionRecord{
				UserID:      1,
				TaskLabel:   "Task 1 - Product 1",
				Type:        model.CommissionSelf,
				TriggeredBy: 1,
				Amount:      dec("2.00"),
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			}
			if ok {
				created++
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, errs)
	assert.Equal(t, 1, created, "exactly one writer creates the record")
}

func TestCommissionRepository_TopEarners(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	createUser(t, pool, 1, nil)
	createUser(t, pool, 2, nil)

	repo := NewCommissionRepository(pool)
	ctx := context.Background()
	add := func(userID int64, label, amount string) {
		_, _, err := repo.GetOrCreate(ctx, &model.CommissionRecord{
			UserID: userID, TaskLabel: label, Type: model.CommissionSelf, TriggeredBy: userID, Amount: dec(amount),
		})
		require.NoError(t, err)
	}
	add(1, "Task 1 - Product 1", "1.00")
	add(1, "Task 2 - Product 1", "2.50")
	add(2, "Task 3 - Product 1", "5.00")

	now := time.Now()
	ranks, err := repo.TopEarners(ctx, now.Add(-time.Hour), now.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, ranks, 2)
	assert.Equal(t, int64(2), ranks[0].UserID)
	assert.True(t, ranks[0].Total.Equal(dec("5")))
	assert.True(t, ranks[1].Total.Equal(dec("3.5")))

	ranks, err = repo.TopEarners(ctx, now.Add(time.Hour), now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, ranks)
}

// ============================================================================
// StopPointRepository / ProgressRepository Tests
// ============================================================================

func TestStopPointRepository_CRUD(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	createUser(t, pool, 1, nil)

	repo := NewStopPointRepository(pool)
	ctx := context.Background()

	bonus := dec("20")
	sp := &model.StopPoint{
		UserID:             1,
		Point:              5,
		RequiredBalance:    dec("200"),
		RechargedAmount:    decimal.Zero,
		SpecialBonusAmount: &bonus,
		Status:             model.StopPointPending,
		Order:              1,
	}
	require.NoError(t, repo.Create(ctx, sp))
	assert.NotZero(t, sp.ID)

	dup := *sp
	dup.ID = 0
	assert.ErrorIs(t, repo.Create(ctx, &dup), store.ErrDuplicateStop)

	later := &model.StopPoint{UserID: 1, Point: 9, RequiredBalance: dec("50"), RechargedAmount: decimal.Zero, Status: model.StopPointPending, Order: 2}
	require.NoError(t, repo.Create(ctx, later))

	remaining := dec("150")
	locked := dec("300")
	sp.RequiredBalanceRemaining = &remaining
	sp.LockedTaskPrice = &locked
	require.NoError(t, repo.Save(ctx, sp))

	got, err := repo.Get(ctx, 1, sp.ID)
	require.NoError(t, err)
	assert.True(t, got.Triggered())
	assert.False(t, got.Cleared())
	assert.True(t, got.Outstanding().Equal(remaining))
	assert.True(t, got.Bonus().Equal(bonus))

	pending, err := repo.PendingFrom(ctx, 1, 6)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 9, pending[0].Point)

	zero := decimal.Zero
	sp.RequiredBalanceRemaining = &zero
	sp.Status = model.StopPointApproved
	require.NoError(t, repo.Save(ctx, sp))
	pending, err = repo.PendingFrom(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1, "cleared stop points are not pending")

	archived := &model.StopPoint{UserID: 1, Point: 12, RequiredBalance: dec("80"), RechargedAmount: decimal.Zero, Status: "archived", Order: 3}
	require.NoError(t, repo.Create(ctx, archived))
	pending, err = repo.PendingFrom(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1, "only pending stop points gate tasks")
	assert.Equal(t, 9, pending[0].Point)

	require.NoError(t, repo.Delete(ctx, 1, later.ID))
	assert.ErrorIs(t, repo.Delete(ctx, 1, later.ID), store.ErrStopPointNotFound)
	_, err = repo.Get(ctx, 2, sp.ID)
	assert.ErrorIs(t, err, store.ErrStopPointNotFound)
}

func TestProgressRepository_SharesRoundTrip(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	createUser(t, pool, 1, nil)

	ctx := context.Background()
	sps := NewStopPointRepository(pool)
	sp := &model.StopPoint{UserID: 1, Point: 4, RequiredBalance: dec("100"), RechargedAmount: decimal.Zero, Status: model.StopPointPending}
	require.NoError(t, sps.Create(ctx, sp))

	repo := NewProgressRepository(pool)
	empty, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, empty.ActiveSliceShares)

	p := &model.StopPointProgress{
		UserID:                 1,
		ActiveSliceStart:       1,
		ActiveSliceEnd:         3,
		ActiveSliceStopPointID: &sp.ID,
		ActiveSliceShares:      []decimal.Decimal{dec("33.33"), dec("30.01"), dec("36.66")},
		ActiveSlicePoolBase:    dec("100"),
	}
	require.NoError(t, repo.Save(ctx, p))

	got, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ActiveSliceStart)
	assert.Equal(t, 3, got.ActiveSliceEnd)
	require.Len(t, got.ActiveSliceShares, 3)
	for i, want := range p.ActiveSliceShares {
		assert.True(t, want.Equal(got.ActiveSliceShares[i]), "share %d", i)
	}
	assert.True(t, got.ActiveSlicePoolBase.Equal(dec("100")))

	require.NoError(t, sps.Delete(ctx, 1, sp.ID))
	got, err = repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, got.ActiveSliceStopPointID, "deleting the stop point detaches the slice")
}

// ============================================================================
// TaskRepository Tests
// ============================================================================

func TestTaskRepository_SaveAndQuery(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	createUser(t, pool, 1, nil)

	ctx := context.Background()
	product := &model.Product{Name: "Widget", Price: dec("9.99"), IsActive: true}
	require.NoError(t, NewProductRepository(pool).Create(ctx, product))

	repo := NewTaskRepository(pool)
	_, err := repo.FindIncomplete(ctx, 1)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)

	realPrice := dec("5.00")
	display := dec("88.10")
	task := &model.UserProductTask{
		UserID:                    1,
		ProductID:                 product.ID,
		RoundNumber:               0,
		TaskNumber:                1,
		Price:                     realPrice,
		RealPrice:                 &realPrice,
		FakeDisplayPrice:          &display,
		IsFakeModeTask:            true,
		PricingSnapshotDailyLimit: 10,
	}
	require.NoError(t, repo.Save(ctx, task))
	assert.NotZero(t, task.ID)

	open, err := repo.FindIncomplete(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, task.ID, open.ID)
	require.NotNil(t, open.FakeDisplayPrice)
	assert.True(t, open.FakeDisplayPrice.Equal(display))

	dup := &model.UserProductTask{UserID: 1, ProductID: product.ID, RoundNumber: 0, TaskNumber: 2, Price: dec("1")}
	assert.Error(t, repo.Save(ctx, dup), "one assignment per product and round")

	now := time.Now()
	task.IsCompleted = true
	task.CompletedAt = &now
	require.NoError(t, repo.Save(ctx, task))

	count, err := repo.CountCompleted(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	ids, err := repo.ProductsInRound(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{product.ID}, ids)

	require.NoError(t, repo.DeleteByUser(ctx, 1))
	count, err = repo.CountCompleted(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, count)
}

// ============================================================================
// Store Tests
// ============================================================================

func TestStore_RollbackOnError(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	createUser(t, pool, 1, nil)

	st := NewStore(pool)
	ctx := context.Background()
	boom := errors.New("boom")

	err := st.WithUserLock(ctx, 1, func(ctx context.Context, tx store.Tx) error {
		w, err := tx.Wallets().LockForUpdate(ctx, 1)
		if err != nil {
			return err
		}
		w.Spendable = dec("50")
		if err := tx.Wallets().Save(ctx, w); err != nil {
			return err
		}
		if _, err := tx.Ledger().Append(ctx, 1, w.Spendable, model.LedgerRecharge, nil); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	w, err := NewWalletRepository(pool).Get(ctx, 1)
	require.NoError(t, err)
	assert.True(t, w.Spendable.IsZero())
	entries, err := NewLedgerRepository(pool).ListByUser(ctx, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_WithUserLockSerialises(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	createUser(t, pool, 1, nil)

	st := NewStore(pool)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := st.WithUserLock(ctx, 1, func(ctx context.Context, tx store.Tx) error {
				w, err := tx.Wallets().LockForUpdate(ctx, 1)
				if err != nil {
					return err
				}
				w.Spendable = w.Spendable.Add(dec("1.50"))
				return tx.Wallets().Save(ctx, w)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	w, err := NewWalletRepository(pool).Get(ctx, 1)
	require.NoError(t, err)
	assert.True(t, w.Spendable.Equal(dec("30")), "no lost updates, got %s", w.Spendable)
}
