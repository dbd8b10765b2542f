// Package pricing divides funding pools into uneven per-task shares and
// derives display and real task prices.
package pricing

import (
	"github.com/shopspring/decimal"

	"task-reward-engine/internal/model"
)

var (
	// Cent is the smallest money unit.
	Cent = decimal.New(1, -2)

	hundred = decimal.NewFromInt(100)
)

// Allocator splits pools into shares using an injected random source.
type Allocator struct {
	rng       Rand
	variation decimal.Decimal
}

// NewAllocator creates an Allocator. variationPercent bounds how far a share
// may stray from the average (20 means plus or minus 20%).
func NewAllocator(rng Rand, variationPercent float64) *Allocator {
	if rng == nil {
		rng = NewRand(0)
	}
	return &Allocator{
		rng:       rng,
		variation: decimal.NewFromFloat(variationPercent).Div(hundred),
	}
}

// Rand returns the allocator's random source.
func (a *Allocator) Rand() Rand {
	return a.rng
}

// Distribute divides pool - buffer into n shares quantised to cents.
// The shares always sum to exactly pool - buffer. When the usable amount is
// smaller than one cent per share, trailing draws can fall to zero.
func (a *Allocator) Distribute(pool decimal.Decimal, n int, buffer decimal.Decimal) []decimal.Decimal {
	shares := make([]decimal.Decimal, max(n, 0))
	for i := range shares {
		shares[i] = decimal.Zero
	}
	if n <= 0 || pool.LessThanOrEqual(buffer) {
		return shares
	}

	usable := pool.Sub(buffer)
	avg := usable.Div(decimal.NewFromInt(int64(n))).Round(2)
	variation := avg.Mul(a.variation).Round(2)

	remaining := usable
	for i := 0; i < n-1; i++ {
		lo := decimal.Max(Cent, avg.Sub(variation))
		reserve := Cent.Mul(decimal.NewFromInt(int64(n - 1 - i)))
		hi := decimal.Min(remaining.Sub(reserve), avg.Add(variation))

		var share decimal.Decimal
		if hi.LessThan(lo) {
			share = decimal.Max(hi, decimal.Zero).Truncate(2)
		} else {
			share = a.uniform(lo, hi)
		}
		shares[i] = share
		remaining = remaining.Sub(share)
	}
	shares[n-1] = remaining

	a.rng.Shuffle(n, func(i, j int) {
		shares[i], shares[j] = shares[j], shares[i]
	})
	return shares
}

// uniform draws a cent-truncated value from [lo, hi].
func (a *Allocator) uniform(lo, hi decimal.Decimal) decimal.Decimal {
	f := decimal.NewFromFloat(a.rng.Float64())
	v := lo.Add(hi.Sub(lo).Mul(f)).Truncate(2)
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}

// GetOrAllocate returns the share for taskNumber from the progress's active
// slice, allocating a new slice over [taskNumber, end] when the stored one does
// not cover it. changed reports whether progress was modified and must be saved.
func (a *Allocator) GetOrAllocate(
	progress *model.StopPointProgress,
	taskNumber, end int,
	stopPointID *int64,
	pool, buffer decimal.Decimal,
) (share decimal.Decimal, changed bool) {
	if s := SliceOf(progress); s.Matches(end, stopPointID) && s.Covers(taskNumber) {
		return s.Share(taskNumber), false
	}

	n := end - taskNumber + 1
	if n <= 0 {
		return decimal.Zero, false
	}

	shares := a.Distribute(pool, n, buffer)
	progress.ActiveSliceStart = taskNumber
	progress.ActiveSliceEnd = end
	progress.ActiveSliceStopPointID = copyID(stopPointID)
	progress.ActiveSliceShares = shares
	progress.ActiveSlicePoolBase = pool
	return shares[0], true
}

// Slice is a read-only view of a stored allocation.
type Slice struct {
	Start       int
	End         int
	StopPointID *int64
	PoolBase    decimal.Decimal
	Shares      []decimal.Decimal
}

// SliceOf returns the active slice stored on progress.
func SliceOf(p *model.StopPointProgress) Slice {
	return Slice{
		Start:       p.ActiveSliceStart,
		End:         p.ActiveSliceEnd,
		StopPointID: p.ActiveSliceStopPointID,
		PoolBase:    p.ActiveSlicePoolBase,
		Shares:      p.ActiveSliceShares,
	}
}

// Valid reports whether the slice is set and its shares match its range.
func (s Slice) Valid() bool {
	return s.Start > 0 && s.End >= s.Start && len(s.Shares) == s.End-s.Start+1
}

// Matches reports whether the slice was allocated for the same ceiling.
func (s Slice) Matches(end int, stopPointID *int64) bool {
	return s.Valid() && s.End == end && sameID(s.StopPointID, stopPointID)
}

// Covers reports whether taskNumber lies within the slice.
func (s Slice) Covers(taskNumber int) bool {
	return s.Valid() && taskNumber >= s.Start && taskNumber <= s.End
}

// Share returns the share for taskNumber. The slice must cover it.
func (s Slice) Share(taskNumber int) decimal.Decimal {
	return s.Shares[taskNumber-s.Start]
}

// Sum returns the total of all shares.
func (s Slice) Sum() decimal.Decimal {
	return Sum(s.Shares)
}

// Sum adds up amounts.
func Sum(amounts []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range amounts {
		total = total.Add(v)
	}
	return total
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func copyID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
