package api

import (
	"time"

	"github.com/shopspring/decimal"

	"task-reward-engine/internal/model"
	"task-reward-engine/internal/service"
)

// taskView is a task as the user sees it. Fake-mode tasks show their display price.
type taskView struct {
	ID          int64           `json:"id"`
	ProductID   int64           `json:"product_id"`
	RoundNumber int             `json:"round_number"`
	TaskNumber  int             `json:"task_number"`
	Price       decimal.Decimal `json:"price"`
	IsCompleted bool            `json:"is_completed"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

func newTaskView(t *model.UserProductTask) *taskView {
	if t == nil {
		return nil
	}
	price := t.Price
	if t.IsFakeModeTask && t.FakeDisplayPrice != nil {
		price = *t.FakeDisplayPrice
	}
	return &taskView{
		ID:          t.ID,
		ProductID:   t.ProductID,
		RoundNumber: t.RoundNumber,
		TaskNumber:  t.TaskNumber,
		Price:       price,
		IsCompleted: t.IsCompleted,
		CompletedAt: t.CompletedAt,
	}
}

type nextTaskView struct {
	TaskNumber   int                  `json:"task_number"`
	DisplayPrice decimal.Decimal      `json:"display_price"`
	Product      *model.Product       `json:"product,omitempty"`
	Task         *taskView            `json:"task,omitempty"`
	Block        *service.BlockReason `json:"block,omitempty"`
}

func newNextTaskView(res *service.NextTaskResult) nextTaskView {
	return nextTaskView{
		TaskNumber:   res.TaskNumber,
		DisplayPrice: res.DisplayPrice,
		Product:      res.Product,
		Task:         newTaskView(res.Task),
		Block:        res.Block,
	}
}

type completionView struct {
	Task               *taskView       `json:"task"`
	CreditedAmount     decimal.Decimal `json:"credited_amount"`
	ProductCommission  decimal.Decimal `json:"product_commission"`
	ReferralCommission decimal.Decimal `json:"referral_commission"`
	Warning            string          `json:"warning,omitempty"`
	AlreadyCompleted   bool            `json:"already_completed"`
}

func newCompletionView(res *service.CompletionResult) completionView {
	return completionView{
		Task:               newTaskView(res.Task),
		CreditedAmount:     res.DisplayCredited(),
		ProductCommission:  res.ProductCommission,
		ReferralCommission: res.ReferralCommission,
		Warning:            res.Warning,
		AlreadyCompleted:   res.AlreadyCompleted,
	}
}

// walletView hides the internal display-mode flag.
type walletView struct {
	UserID                int64               `json:"user_id"`
	Spendable             decimal.Decimal     `json:"spendable_balance"`
	ProductCommission     decimal.Decimal     `json:"product_commission"`
	ReferralCommission    decimal.Decimal     `json:"referral_commission"`
	ReferralEarnedBalance decimal.Decimal     `json:"referral_earned_balance"`
	BalanceSource         model.BalanceSource `json:"balance_source"`
	HasRecharged          bool                `json:"has_recharged"`
}

func newWalletView(w *model.Wallet) walletView {
	return walletView{
		UserID:                w.UserID,
		Spendable:             w.Spendable,
		ProductCommission:     w.ProductCommission,
		ReferralCommission:    w.ReferralCommission,
		ReferralEarnedBalance: w.ReferralEarnedBalance,
		BalanceSource:         w.BalanceSource,
		HasRecharged:          w.HasRecharged,
	}
}
