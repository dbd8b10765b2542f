package pricing

import (
	"github.com/shopspring/decimal"
)

// Quantize rounds an amount to cents.
func Quantize(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

// FloorCent returns v, or one cent if v is below that.
func FloorCent(v decimal.Decimal) decimal.Decimal {
	if v.LessThan(Cent) {
		return Cent
	}
	return v
}

// TaskPrice applies a percentage rate to a share: share * rate / 100,
// rounded to cents and floored at one cent.
func TaskPrice(share, ratePercent decimal.Decimal) decimal.Decimal {
	return FloorCent(Quantize(share.Mul(ratePercent).Div(hundred)))
}

// Percent returns amount * ratePercent / 100 rounded to cents.
func Percent(amount, ratePercent decimal.Decimal) decimal.Decimal {
	return Quantize(amount.Mul(ratePercent).Div(hundred))
}

// RealTaskPrice spreads a balance evenly over the remaining tasks.
// The result is truncated to cents, floored at one cent and never exceeds the balance
// unless the balance itself is below one cent.
func RealTaskPrice(balance decimal.Decimal, remainingTasks int) decimal.Decimal {
	if remainingTasks < 1 {
		remainingTasks = 1
	}
	price := balance.Div(decimal.NewFromInt(int64(remainingTasks))).Truncate(2)
	if price.GreaterThan(balance) {
		price = balance.Truncate(2)
	}
	return FloorCent(price)
}

// Between draws a cent-truncated amount uniformly from [lo, hi].
// Equal bounds return lo without consuming randomness.
func (a *Allocator) Between(lo, hi decimal.Decimal) decimal.Decimal {
	if !hi.GreaterThan(lo) {
		return lo.Truncate(2)
	}
	return a.uniform(lo, hi)
}

// FakeDisplayPrice draws the price shown to referral-only users.
func (a *Allocator) FakeDisplayPrice(lo, hi decimal.Decimal) decimal.Decimal {
	return a.Between(lo, hi)
}

// LeftoverBuffer draws the amount held back from a pool.
func (a *Allocator) LeftoverBuffer(lo, hi decimal.Decimal) decimal.Decimal {
	if !hi.IsPositive() {
		return decimal.Zero
	}
	return a.Between(lo, hi)
}
