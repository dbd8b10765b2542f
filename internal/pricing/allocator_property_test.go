package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"task-reward-engine/internal/model"
)

// drawCents draws an amount in cents between lo and hi inclusive.
func drawCents(t *rapid.T, lo, hi int64, label string) decimal.Decimal {
	return decimal.New(rapid.Int64Range(lo, hi).Draw(t, label), -2)
}

// TestDistributeSumProperty checks that shares always add up to pool - buffer.
func TestDistributeSumProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		pool := drawCents(t, 1, 1_000_000, "pool")
		buffer := drawCents(t, 0, 1500, "buffer")
		n := rapid.IntRange(1, 40).Draw(t, "n")
		seed := rapid.Uint64().Draw(t, "seed")

		a := NewAllocator(NewRand(seed|1), 20)
		shares := a.Distribute(pool, n, buffer)

		if len(shares) != n {
			t.Fatalf("expected %d shares, got %d", n, len(shares))
		}

		want := pool.Sub(buffer)
		if pool.LessThanOrEqual(buffer) {
			want = decimal.Zero
		}
		if got := Sum(shares); !got.Equal(want) {
			t.Fatalf("sum mismatch: pool=%s buffer=%s n=%d got=%s want=%s", pool, buffer, n, got, want)
		}

		for i, s := range shares {
			if s.IsNegative() {
				t.Fatalf("share %d is negative: %s", i, s)
			}
			if !s.Equal(s.Truncate(2)) {
				t.Fatalf("share %d has sub-cent precision: %s", i, s)
			}
		}
	})
}

// TestDistributeFloorProperty checks that every share is at least a cent
// whenever the usable amount allows it.
func TestDistributeFloorProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 30).Draw(t, "n")
		// At least one cent per share.
		pool := drawCents(t, int64(n), 1_000_000, "pool")
		seed := rapid.Uint64().Draw(t, "seed")

		shares := NewAllocator(NewRand(seed|1), 20).Distribute(pool, n, decimal.Zero)
		for i, s := range shares {
			if s.LessThan(Cent) {
				t.Fatalf("share %d below a cent: %s (pool=%s n=%d)", i, s, pool, n)
			}
		}
	})
}

// TestGetOrAllocateReuseProperty checks that repeated lookups inside a slice
// return the stored share without reallocating.
func TestGetOrAllocateReuseProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		start := rapid.IntRange(1, 20).Draw(t, "start")
		length := rapid.IntRange(1, 20).Draw(t, "length")
		end := start + length - 1
		pool := drawCents(t, 100, 500_000, "pool")
		spID := rapid.Int64Range(1, 1000).Draw(t, "spID")

		a := NewAllocator(NewRand(rapid.Uint64().Draw(t, "seed")|1), 20)
		progress := &model.StopPointProgress{UserID: 1}

		first, changed := a.GetOrAllocate(progress, start, end, &spID, pool, decimal.Zero)
		if !changed {
			t.Fatalf("first lookup must allocate")
		}

		task := rapid.IntRange(start, end).Draw(t, "task")
		other := pool.Add(decimal.NewFromInt(999))
		share, changed := a.GetOrAllocate(progress, task, end, &spID, other, decimal.Zero)
		if changed {
			t.Fatalf("lookup of task %d inside [%d,%d] reallocated", task, start, end)
		}
		if !share.Equal(progress.ActiveSliceShares[task-start]) {
			t.Fatalf("share mismatch for task %d", task)
		}
		if task == start && !share.Equal(first) {
			t.Fatalf("first share changed: %s vs %s", first, share)
		}
	})
}
