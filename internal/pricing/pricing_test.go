package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-reward-engine/internal/model"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestDistribute_SumInvariantGrid(t *testing.T) {
	a := NewAllocator(NewRand(42), 20)

	for _, pool := range []string{"0.01", "100.00", "9999.99"} {
		for _, n := range []int{1, 5, 30} {
			shares := a.Distribute(d(pool), n, decimal.Zero)
			require.Len(t, shares, n)
			assert.True(t, Sum(shares).Equal(d(pool)), "pool=%s n=%d sum=%s", pool, n, Sum(shares))
		}
	}
}

func TestDistribute_SingleShareTakesEverything(t *testing.T) {
	a := NewAllocator(NewRand(7), 20)

	shares := a.Distribute(d("123.45"), 1, d("3.45"))
	require.Len(t, shares, 1)
	assert.True(t, shares[0].Equal(d("120")))
}

func TestDistribute_PoolWithinBuffer(t *testing.T) {
	a := NewAllocator(NewRand(7), 20)

	shares := a.Distribute(d("10"), 4, d("10"))
	require.Len(t, shares, 4)
	for _, s := range shares {
		assert.True(t, s.IsZero())
	}

	assert.Empty(t, a.Distribute(d("10"), 0, decimal.Zero))
}

func TestDistribute_SharesStayNearAverage(t *testing.T) {
	a := NewAllocator(NewRand(99), 20)

	shares := a.Distribute(d("1000"), 10, decimal.Zero)
	// All but the residual share are drawn from [80, 120].
	inBand := 0
	for _, s := range shares {
		if s.GreaterThanOrEqual(d("80")) && s.LessThanOrEqual(d("120")) {
			inBand++
		}
	}
	assert.GreaterOrEqual(t, inBand, 9)
}

func TestGetOrAllocate_ReallocatesOnNewCeiling(t *testing.T) {
	a := NewAllocator(NewRand(5), 20)
	progress := &model.StopPointProgress{UserID: 1}
	sp1, sp2 := int64(1), int64(2)

	_, changed := a.GetOrAllocate(progress, 1, 10, &sp1, d("300"), decimal.Zero)
	require.True(t, changed)
	assert.True(t, SliceOf(progress).Sum().Equal(d("300")))

	_, changed = a.GetOrAllocate(progress, 4, 10, &sp1, d("500"), decimal.Zero)
	assert.False(t, changed)

	// A different stop point ceiling starts a fresh slice at the requested task.
	_, changed = a.GetOrAllocate(progress, 11, 20, &sp2, d("500"), decimal.Zero)
	require.True(t, changed)
	assert.Equal(t, 11, progress.ActiveSliceStart)
	assert.Equal(t, 20, progress.ActiveSliceEnd)
	assert.Len(t, progress.ActiveSliceShares, 10)
	assert.True(t, progress.ActiveSlicePoolBase.Equal(d("500")))

	// Same end without a stop point is a different ceiling too.
	_, changed = a.GetOrAllocate(progress, 12, 20, nil, d("500"), decimal.Zero)
	assert.True(t, changed)
	assert.Equal(t, 12, progress.ActiveSliceStart)
}

func TestGetOrAllocate_EmptyRange(t *testing.T) {
	a := NewAllocator(NewRand(5), 20)
	progress := &model.StopPointProgress{UserID: 1}

	share, changed := a.GetOrAllocate(progress, 5, 4, nil, d("100"), decimal.Zero)
	assert.False(t, changed)
	assert.True(t, share.IsZero())
}

func TestTaskPrice(t *testing.T) {
	assert.True(t, TaskPrice(d("30"), d("5")).Equal(d("1.5")))
	assert.True(t, TaskPrice(d("0.05"), d("5")).Equal(Cent), "floored at a cent")
	assert.True(t, TaskPrice(d("33.33"), d("3")).Equal(d("1")))
}

func TestRealTaskPrice(t *testing.T) {
	assert.True(t, RealTaskPrice(d("50"), 10).Equal(d("5")))
	assert.True(t, RealTaskPrice(d("50"), 3).Equal(d("16.66")), "truncated")
	assert.True(t, RealTaskPrice(d("50"), 0).Equal(d("50")))
	assert.True(t, RealTaskPrice(d("0"), 5).Equal(Cent))
}

func TestFakeDisplayPriceRange(t *testing.T) {
	a := NewAllocator(NewRand(11), 20)
	lo, hi := d("30"), d("120")

	for i := 0; i < 200; i++ {
		p := a.FakeDisplayPrice(lo, hi)
		assert.True(t, p.GreaterThanOrEqual(lo) && p.LessThanOrEqual(hi), "price %s out of range", p)
	}
}

func TestLeftoverBuffer(t *testing.T) {
	a := NewAllocator(NewRand(11), 20)

	assert.True(t, a.LeftoverBuffer(decimal.Zero, decimal.Zero).IsZero())
	b := a.LeftoverBuffer(d("7"), d("15"))
	assert.True(t, b.GreaterThanOrEqual(d("7")) && b.LessThanOrEqual(d("15")))
}
