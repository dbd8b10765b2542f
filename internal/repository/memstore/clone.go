package memstore

import (
	"errors"

	"github.com/shopspring/decimal"

	"task-reward-engine/internal/model"
)

var (
	errNegativeBalance = errors.New("wallet balance cannot be negative")
	errDuplicateTask   = errors.New("task already assigned for this product and round")
)

func copyInt(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyDecimal(v *decimal.Decimal) *decimal.Decimal {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneUser(u *model.User) *model.User {
	c := *u
	c.ReferredBy = copyInt(u.ReferredBy)
	return &c
}

func cloneWallet(w *model.Wallet) *model.Wallet {
	c := *w
	return &c
}

func cloneStopPoint(sp *model.StopPoint) *model.StopPoint {
	c := *sp
	c.RequiredBalanceRemaining = copyDecimal(sp.RequiredBalanceRemaining)
	c.LockedTaskPrice = copyDecimal(sp.LockedTaskPrice)
	c.EstimatedBalanceSnapshot = copyDecimal(sp.EstimatedBalanceSnapshot)
	c.SpecialBonusAmount = copyDecimal(sp.SpecialBonusAmount)
	if sp.BonusDisbursedAt != nil {
		t := *sp.BonusDisbursedAt
		c.BonusDisbursedAt = &t
	}
	return &c
}

func cloneProgress(p *model.StopPointProgress) *model.StopPointProgress {
	c := *p
	c.LastClearedID = copyInt(p.LastClearedID)
	c.ActiveSliceStopPointID = copyInt(p.ActiveSliceStopPointID)
	if p.ActiveSliceShares != nil {
		c.ActiveSliceShares = append([]decimal.Decimal(nil), p.ActiveSliceShares...)
	}
	return &c
}

func cloneTask(t *model.UserProductTask) *model.UserProductTask {
	c := *t
	c.RealPrice = copyDecimal(t.RealPrice)
	c.FakeDisplayPrice = copyDecimal(t.FakeDisplayPrice)
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

func cloneLedger(e *model.LedgerEntry) *model.LedgerEntry {
	c := *e
	c.Description = copyString(e.Description)
	return &c
}

func cloneRecharge(r *model.RechargeRequest) *model.RechargeRequest {
	c := *r
	if r.ProcessedAt != nil {
		at := *r.ProcessedAt
		c.ProcessedAt = &at
	}
	return &c
}
