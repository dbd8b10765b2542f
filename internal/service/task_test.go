package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-reward-engine/internal/model"
	"task-reward-engine/internal/pricing"
	"task-reward-engine/internal/store"
)

func TestNextTaskBlocksWithoutDailyLimit(t *testing.T) {
	env := newTestEnv(DefaultOptions(), 1)
	env.user(t, 1, nil)
	env.products(t, 2)

	res, err := env.tasks.NextTask(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, res.Block)
	assert.Equal(t, BlockDailyLimitUnset, res.Block.Code)
	assert.Equal(t, "Admin must set your daily task limit before you can start tasks.", res.Block.Message)
	assert.Nil(t, res.Task)
}

func TestNextTaskBlocksWithoutProducts(t *testing.T) {
	env := newTestEnv(DefaultOptions(), 1)
	env.user(t, 1, nil)
	env.settings(t, 1, "5", "0", 10)

	res, err := env.tasks.NextTask(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, res.Block)
	assert.Equal(t, BlockNoProducts, res.Block.Code)
}

func TestNextTaskBlocksWithoutBalance(t *testing.T) {
	env := newTestEnv(DefaultOptions(), 1)
	env.user(t, 1, nil)
	env.settings(t, 1, "5", "0", 10)
	env.products(t, 1)

	res, err := env.tasks.NextTask(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, res.Block)
	assert.Equal(t, BlockInsufficientBalance, res.Block.Code)
	assert.False(t, pricing.SliceOf(env.progress(t, 1)).Valid(), "no slice is stored for an empty pool")
}

func TestNextTaskPricePersistence(t *testing.T) {
	env := newTestEnv(DefaultOptions(), 7)
	env.user(t, 1, nil)
	env.settings(t, 1, "5", "0", 10)
	env.products(t, 3)
	env.fund(t, 1, "300")

	ctx := context.Background()
	first, err := env.tasks.NextTask(ctx, 1)
	require.NoError(t, err)
	require.Nil(t, first.Block)

	second, err := env.tasks.NextTask(ctx, 1)
	require.NoError(t, err)
	require.Nil(t, second.Block)

	assert.Equal(t, first.Task.ID, second.Task.ID)
	assert.Equal(t, first.Product.ID, second.Product.ID)
	assert.True(t, first.DisplayPrice.Equal(second.DisplayPrice))
	assert.True(t, first.RealPrice.Equal(second.RealPrice))
	assert.Equal(t, 1, first.TaskNumber)

	share := pricing.SliceOf(env.progress(t, 1)).Share(1)
	assert.True(t, pricing.TaskPrice(share, dec("5")).Equal(first.DisplayPrice), "price is share times product rate")
}

func TestDailyLimitReached(t *testing.T) {
	env := newTestEnv(DefaultOptions(), 3)
	env.user(t, 1, nil)
	env.settings(t, 1, "5", "0", 5)
	env.products(t, 2)
	env.fund(t, 1, "100")

	seen := make(map[int]bool)
	for i := 1; i <= 5; i++ {
		next, done := env.runTask(t, 1)
		assert.Equal(t, i, next.TaskNumber)
		assert.False(t, done.AlreadyCompleted)
		seen[next.TaskNumber] = true
	}
	assert.Len(t, seen, 5)

	res, err := env.tasks.NextTask(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, res.Block)
	assert.Equal(t, BlockDailyLimitReached, res.Block.Code)
	assert.Equal(t, "You have reached your daily task limit of 5.", res.Block.Message)

	err = env.store.View(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Tasks().FindIncomplete(ctx, 1)
		return err
	})
	assert.True(t, errors.Is(err, store.ErrTaskNotFound), "no assignment row is created past the limit")
}

func TestProductsNotRepeatedWithinRound(t *testing.T) {
	env := newTestEnv(DefaultOptions(), 11)
	env.user(t, 1, nil)
	env.settings(t, 1, "5", "0", 6)
	env.products(t, 3)
	env.fund(t, 1, "60")

	rounds := make(map[int]map[int64]bool)
	for i := 0; i < 6; i++ {
		next, _ := env.runTask(t, 1)
		r := next.Task.RoundNumber
		if rounds[r] == nil {
			rounds[r] = make(map[int64]bool)
		}
		assert.False(t, rounds[r][next.Product.ID], "product %d repeated in round %d", next.Product.ID, r)
		rounds[r][next.Product.ID] = true
	}
	assert.Len(t, rounds, 2)
}

func TestCompleteTaskIdempotent(t *testing.T) {
	env := newTestEnv(DefaultOptions(), 5)
	referrerID := int64(100)
	env.user(t, referrerID, nil)
	env.settings(t, referrerID, "0", "10", 0)
	env.user(t, 1, &referrerID)
	env.settings(t, 1, "5", "0", 10)
	env.products(t, 2)
	env.fund(t, 1, "300")

	ctx := context.Background()
	next, first := env.runTask(t, 1)
	require.Empty(t, first.Warning)
	price := next.Task.Price

	requireDec(t, pricing.Percent(price, dec("5")).String(), first.ProductCommission)
	base := price.Mul(dec("100")).Div(dec("5"))
	requireDec(t, pricing.Percent(base, dec("10")).String(), first.ReferralCommission)

	walletAfterFirst := env.wallet(t, 1)
	referrerAfterFirst := env.wallet(t, referrerID)
	requireDec(t, dec("300").Add(price).String(), walletAfterFirst.Spendable)
	requireDec(t, first.ProductCommission.String(), walletAfterFirst.ProductCommission)
	requireDec(t, first.ReferralCommission.String(), referrerAfterFirst.ReferralEarnedBalance)
	requireDec(t, first.ReferralCommission.String(), referrerAfterFirst.Spendable)
	assert.Equal(t, model.SourceReferral, referrerAfterFirst.BalanceSource)

	second, err := env.tasks.CompleteTask(ctx, 1, next.Task.ID)
	require.NoError(t, err)
	assert.True(t, second.AlreadyCompleted)
	assert.True(t, first.ProductCommission.Equal(second.ProductCommission))
	assert.True(t, first.ReferralCommission.Equal(second.ReferralCommission))

	assert.True(t, walletAfterFirst.Spendable.Equal(env.wallet(t, 1).Spendable))
	assert.True(t, walletAfterFirst.ProductCommission.Equal(env.wallet(t, 1).ProductCommission))
	assert.True(t, referrerAfterFirst.Spendable.Equal(env.wallet(t, referrerID).Spendable))

	own, err := env.commissions.ListCommissions(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, own, 1)
	assert.Equal(t, next.Task.Label(), own[0].TaskLabel)
	ref, err := env.commissions.ListCommissions(ctx, referrerID, 10)
	require.NoError(t, err)
	require.Len(t, ref, 1)
	assert.Equal(t, model.CommissionReferral, ref[0].Type)
	assert.Equal(t, int64(1), ref[0].TriggeredBy)
}

func TestCompleteTaskUnknownTask(t *testing.T) {
	env := newTestEnv(DefaultOptions(), 1)
	env.user(t, 1, nil)
	env.user(t, 2, nil)
	env.settings(t, 1, "5", "0", 10)
	env.products(t, 1)
	env.fund(t, 1, "50")

	next, err := env.tasks.NextTask(context.Background(), 1)
	require.NoError(t, err)
	require.Nil(t, next.Block)

	_, err = env.tasks.CompleteTask(context.Background(), 2, next.Task.ID)
	assert.ErrorIs(t, err, store.ErrTaskNotFound, "a task cannot be completed by another user")
	_, err = env.tasks.CompleteTask(context.Background(), 1, 9999)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestStopPointScenario(t *testing.T) {
	env := newTestEnv(shortfallOptions(), 42)
	env.user(t, 1, nil)
	env.settings(t, 1, "5", "0", 30)
	env.products(t, 10)
	env.fund(t, 1, "300")

	ctx := context.Background()
	_, _, err := env.stops.AddStopPoints(ctx, 1, []StopPointInput{{Point: 11, RequiredBalance: decPtr("800")}})
	require.NoError(t, err)

	for i := 1; i <= 10; i++ {
		next, _ := env.runTask(t, 1)
		require.Equal(t, i, next.TaskNumber)
		if i == 1 {
			slice := pricing.SliceOf(env.progress(t, 1))
			assert.Equal(t, 1, slice.Start)
			assert.Equal(t, 10, slice.End)
			requireDec(t, "300", slice.Sum())
		}
	}

	balance := env.wallet(t, 1).Spendable
	res, err := env.tasks.NextTask(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, res.Block)
	require.Equal(t, BlockStopPoint, res.Block.Code)
	sp := res.Block.StopPoint
	require.NotNil(t, sp)
	assert.Equal(t, 11, sp.Point)
	requireDec(t, dec("800").Sub(balance).String(), sp.Outstanding)
	requireDec(t, balance.Add(dec("800")).String(), sp.LockedTaskPrice)
	requireDec(t, sp.LockedTaskPrice.String(), sp.EstimatedBalance)

	_, err = env.wallets.AdjustBalance(ctx, 1, dec("10"), "goodwill")
	require.NoError(t, err)
	again, err := env.tasks.NextTask(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, again.Block)
	assert.True(t, sp.LockedTaskPrice.Equal(again.Block.StopPoint.LockedTaskPrice), "snapshot is frozen")
	assert.True(t, sp.Outstanding.Equal(again.Block.StopPoint.Outstanding))
	assert.Contains(t, env.notifier.kinds(), EventStopPointReached)
}

func TestPartialThenFullRecharge(t *testing.T) {
	env := newTestEnv(DefaultOptions(), 9)
	env.user(t, 1, nil)
	env.settings(t, 1, "5", "0", 10)
	env.products(t, 2)
	env.fund(t, 1, "100")

	ctx := context.Background()
	_, _, err := env.stops.AddStopPoints(ctx, 1, []StopPointInput{{Point: 1, RequiredBalance: decPtr("500"), Bonus: decPtr("100")}})
	require.NoError(t, err)

	res, err := env.tasks.NextTask(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, res.Block)
	requireDec(t, "500", res.Block.StopPoint.Outstanding)
	requireDec(t, "600", res.Block.StopPoint.LockedTaskPrice)
	requireDec(t, "700", res.Block.StopPoint.EstimatedBalance)

	partial := env.fund(t, 1, "200")
	require.NotNil(t, partial.StopPoint)
	requireDec(t, "300", partial.Remaining)
	assert.False(t, partial.Cleared)

	full := env.fund(t, 1, "300")
	require.NotNil(t, full.StopPoint)
	requireDec(t, "0", full.Remaining)
	assert.True(t, full.Cleared)
	assert.Equal(t, model.StopPointApproved, full.StopPoint.Status)
	assert.True(t, full.StopPoint.BonusDisbursed)
	requireDec(t, "500", full.StopPoint.RechargedAmount)
	requireDec(t, "700", env.wallet(t, 1).Spendable)

	progress := env.progress(t, 1)
	require.NotNil(t, progress.LastClearedID)
	assert.Equal(t, full.StopPoint.ID, *progress.LastClearedID)

	after := env.fund(t, 1, "50")
	assert.Nil(t, after.StopPoint, "recharges after clearance are plain credits")
	requireDec(t, "750", env.wallet(t, 1).Spendable)
	assert.Equal(t, 1, env.ledgerCount(t, 1, model.LedgerStopPointBonus))

	next, err := env.tasks.NextTask(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, next.Block)
	assert.Equal(t, 1, next.TaskNumber)
	assert.Contains(t, env.notifier.kinds(), EventStopPointCleared)
}

func TestShortfallModeClearsOnInitialSufficiency(t *testing.T) {
	env := newTestEnv(shortfallOptions(), 9)
	env.user(t, 1, nil)
	env.settings(t, 1, "5", "0", 10)
	env.products(t, 2)
	env.fund(t, 1, "500")

	ctx := context.Background()
	_, _, err := env.stops.AddStopPoints(ctx, 1, []StopPointInput{
		{Point: 1, RequiredBalance: decPtr("200"), Bonus: decPtr("25")},
		{Point: 6, RequiredBalance: decPtr("5000")},
	})
	require.NoError(t, err)

	res, err := env.tasks.NextTask(ctx, 1)
	require.NoError(t, err)
	require.Nil(t, res.Block)
	requireDec(t, "525", env.wallet(t, 1).Spendable)

	slice := pricing.SliceOf(env.progress(t, 1))
	assert.Equal(t, 1, slice.Start)
	assert.Equal(t, 5, slice.End, "the next stop point becomes the ceiling")
	require.NotNil(t, slice.StopPointID)
}

func TestReferralFakeMode(t *testing.T) {
	env := newTestEnv(DefaultOptions(), 13)
	env.user(t, 1, nil)
	env.settings(t, 1, "5", "0", 10)
	env.products(t, 3)

	w := model.NewWallet(1)
	w.Spendable = dec("50")
	w.ReferralEarnedBalance = dec("50")
	w.BalanceSource = model.SourceReferral
	env.setWallet(t, w)

	ctx := context.Background()
	res, err := env.tasks.NextTask(ctx, 1)
	require.NoError(t, err)
	require.Nil(t, res.Block)
	assert.True(t, res.IsFakeMode)
	assert.True(t, res.DisplayPrice.GreaterThanOrEqual(dec("30")) && res.DisplayPrice.LessThanOrEqual(dec("120")),
		"display price %s outside [30, 120]", res.DisplayPrice)
	requireDec(t, "5", res.RealPrice)
	assert.True(t, env.wallet(t, 1).IsFakeDisplayMode)

	again, err := env.tasks.NextTask(ctx, 1)
	require.NoError(t, err)
	assert.True(t, res.DisplayPrice.Equal(again.DisplayPrice), "fake pair persists until completion")
	assert.True(t, res.RealPrice.Equal(again.RealPrice))

	done, err := env.tasks.CompleteTask(ctx, 1, res.Task.ID)
	require.NoError(t, err)
	requireDec(t, "5", done.CreditedAmount)
	requireDec(t, res.DisplayPrice.String(), done.DisplayCredited())

	env.fund(t, 1, "10")
	normal, err := env.tasks.NextTask(ctx, 1)
	require.NoError(t, err)
	require.Nil(t, normal.Block)
	assert.False(t, normal.IsFakeMode, "a recharge leaves referral-only mode")
	assert.False(t, env.wallet(t, 1).IsFakeDisplayMode)
}

func TestReferralFakeModeInsufficient(t *testing.T) {
	env := newTestEnv(DefaultOptions(), 13)
	env.user(t, 1, nil)
	env.settings(t, 1, "5", "0", 10)
	env.products(t, 1)

	w := model.NewWallet(1)
	w.ReferralEarnedBalance = dec("50")
	w.BalanceSource = model.SourceReferral
	env.setWallet(t, w)

	res, err := env.tasks.NextTask(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, res.Block)
	assert.Equal(t, BlockInsufficientReferral, res.Block.Code)
}

func TestZeroReferrerRateOnDailyLimit(t *testing.T) {
	opts := DefaultOptions()
	opts.ZeroReferrerRateOnDailyLimit = true
	env := newTestEnv(opts, 21)
	referrerID := int64(50)
	env.user(t, referrerID, nil)
	env.settings(t, referrerID, "0", "10", 0)
	env.user(t, 1, &referrerID)
	env.settings(t, 1, "5", "0", 2)
	env.products(t, 2)
	env.fund(t, 1, "20")

	env.runTask(t, 1)
	s, err := env.commissions.GetSettings(context.Background(), referrerID)
	require.NoError(t, err)
	requireDec(t, "10", s.ReferralRate)

	env.runTask(t, 1)
	s, err = env.commissions.GetSettings(context.Background(), referrerID)
	require.NoError(t, err)
	assert.True(t, s.ReferralRate.IsZero())
}

func TestReferrerRateKeptByDefault(t *testing.T) {
	env := newTestEnv(DefaultOptions(), 21)
	referrerID := int64(50)
	env.user(t, referrerID, nil)
	env.settings(t, referrerID, "0", "10", 0)
	env.user(t, 1, &referrerID)
	env.settings(t, 1, "5", "0", 1)
	env.products(t, 1)
	env.fund(t, 1, "20")

	env.runTask(t, 1)
	s, err := env.commissions.GetSettings(context.Background(), referrerID)
	require.NoError(t, err)
	requireDec(t, "10", s.ReferralRate)
}

func TestResetCycle(t *testing.T) {
	env := newTestEnv(DefaultOptions(), 17)
	env.user(t, 1, nil)
	env.settings(t, 1, "5", "0", 10)
	env.products(t, 2)
	env.fund(t, 1, "100")

	ctx := context.Background()
	_, _, err := env.stops.AddStopPoints(ctx, 1, []StopPointInput{{Point: 5}})
	require.NoError(t, err)
	env.runTask(t, 1)
	env.runTask(t, 1)

	require.NoError(t, env.tasks.ResetCycle(ctx, 1))

	sps, err := env.stops.ListStopPoints(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, sps)
	assert.False(t, pricing.SliceOf(env.progress(t, 1)).Valid())

	recs, err := env.commissions.ListCommissions(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, recs, 2, "commission records survive a reset")
	assert.Equal(t, 2, env.ledgerCount(t, 1, model.LedgerTaskCredit))

	res, err := env.tasks.NextTask(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, res.Block)
	assert.Equal(t, BlockDailyLimitUnset, res.Block.Code)

	env.settings(t, 1, "5", "0", 10)
	res, err = env.tasks.NextTask(ctx, 1)
	require.NoError(t, err)
	require.Nil(t, res.Block)
	assert.Equal(t, 1, res.TaskNumber)
}

func TestCompleteTaskRefusedAtStopPointAddedAfterPricing(t *testing.T) {
	env := newTestEnv(DefaultOptions(), 21)
	env.user(t, 1, nil)
	env.settings(t, 1, "5", "0", 10)
	env.products(t, 3)
	env.fund(t, 1, "300")

	ctx := context.Background()
	open, err := env.tasks.NextTask(ctx, 1)
	require.NoError(t, err)
	require.Nil(t, open.Block)
	require.Equal(t, 1, open.TaskNumber)

	_, _, err = env.stops.AddStopPoints(ctx, 1, []StopPointInput{{Point: 1, RequiredBalance: decPtr("800")}})
	require.NoError(t, err)
	balance := env.wallet(t, 1).Spendable

	res, err := env.tasks.CompleteTask(ctx, 1, open.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, WarningStopPoint, res.Warning)
	assert.False(t, res.AlreadyCompleted)
	assert.True(t, res.CreditedAmount.IsZero())
	requireDec(t, balance.String(), env.wallet(t, 1).Spendable)
	assert.Zero(t, env.ledgerCount(t, 1, model.LedgerTaskCredit))

	blocked, err := env.tasks.NextTask(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, blocked.Block)
	assert.Equal(t, BlockStopPoint, blocked.Block.Code)
	assert.Equal(t, 1, blocked.TaskNumber, "the task sequence does not move past the gate")

	res, err = env.tasks.CompleteTask(ctx, 1, open.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, WarningStopPoint, res.Warning, "a triggered gate still refuses completion")

	env.fund(t, 1, "800")
	resumed, err := env.tasks.NextTask(ctx, 1)
	require.NoError(t, err)
	require.Nil(t, resumed.Block)
	assert.Equal(t, open.Task.ID, resumed.Task.ID)

	done, err := env.tasks.CompleteTask(ctx, 1, resumed.Task.ID)
	require.NoError(t, err)
	assert.Empty(t, done.Warning)
	assert.True(t, done.CreditedAmount.IsPositive())
}

func TestCompleteTaskRefusedAfterDailyLimitLowered(t *testing.T) {
	env := newTestEnv(DefaultOptions(), 22)
	env.user(t, 1, nil)
	env.settings(t, 1, "5", "0", 10)
	env.products(t, 3)
	env.fund(t, 1, "300")

	ctx := context.Background()
	env.runTask(t, 1)
	open, err := env.tasks.NextTask(ctx, 1)
	require.NoError(t, err)
	require.Nil(t, open.Block)
	require.Equal(t, 2, open.TaskNumber)

	env.settings(t, 1, "5", "0", 1)
	balance := env.wallet(t, 1).Spendable

	res, err := env.tasks.CompleteTask(ctx, 1, open.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, WarningDailyLimit, res.Warning)
	requireDec(t, balance.String(), env.wallet(t, 1).Spendable)
	assert.Equal(t, 1, env.ledgerCount(t, 1, model.LedgerTaskCredit))
}
