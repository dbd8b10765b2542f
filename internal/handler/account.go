// Package handler provides Telegram bot command handlers.
package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	tele "gopkg.in/telebot.v3"

	"task-reward-engine/internal/model"
	"task-reward-engine/internal/pkg/lock"
	"task-reward-engine/internal/service"
	"task-reward-engine/internal/store"
)

// AccountHandler handles registration, balance and recharge commands.
type AccountHandler struct {
	wallets     *service.WalletService
	userLock    *lock.UserLock
	lockTimeout time.Duration
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(wallets *service.WalletService, userLock *lock.UserLock, lockTimeout time.Duration) *AccountHandler {
	return &AccountHandler{
		wallets:     wallets,
		userLock:    userLock,
		lockTimeout: lockTimeout,
	}
}

// HandleStart handles the /start command.
// Format: /start [referrer_id]
func (h *AccountHandler) HandleStart(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	var referrerID *int64
	if args := c.Args(); len(args) > 0 {
		id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "ref"), 10, 64)
		if err == nil && id != sender.ID {
			referrerID = &id
		}
	}

	var (
		user    *model.User
		created bool
	)
	err := h.userLock.WithLockContext(ctx, sender.ID, h.lockTimeout, func() error {
		var err error
		user, created, err = h.wallets.Register(ctx, sender.ID, displayName(sender), referrerID)
		if errors.Is(err, store.ErrUserNotFound) && referrerID != nil {
			// Unknown referral codes are ignored.
			user, created, err = h.wallets.Register(ctx, sender.ID, displayName(sender), nil)
		}
		return err
	})
	if err != nil {
		log.Error().Err(err).Int64("user_id", sender.ID).Msg("Failed to register user")
		return c.Reply("❌ Could not create your account, please try again later")
	}

	if created {
		return c.Reply(fmt.Sprintf(
			"🎉 Welcome @%s!\n\n"+
				"Your account is ready.\n\n"+
				"Commands:\n"+
				"/balance - show your balances\n"+
				"/task - get your next task\n"+
				"/complete <task_id> - complete a task\n"+
				"/recharge <amount> - request a recharge\n"+
				"/history - recent wallet activity",
			user.Username,
		))
	}
	return c.Reply(fmt.Sprintf("👋 Welcome back @%s!", user.Username))
}

// HandleBalance handles the /balance command.
func (h *AccountHandler) HandleBalance(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	w, err := h.wallets.GetWallet(ctx, sender.ID)
	if errors.Is(err, store.ErrUserNotFound) {
		return c.Reply("❌ You have no account yet, send /start first")
	}
	if err != nil {
		return c.Reply("❌ Could not load your balance, please try again later")
	}

	return c.Reply(fmt.Sprintf(
		"💰 Wallet\n"+
			"━━━━━━━━━━━━━━━\n"+
			"Balance: %s\n"+
			"Product commission: %s\n"+
			"Referral commission: %s\n"+
			"━━━━━━━━━━━━━━━",
		money(w.Spendable), money(w.ProductCommission), money(w.ReferralCommission),
	))
}

// HandleRecharge handles the /recharge command.
// Format: /recharge <amount>
func (h *AccountHandler) HandleRecharge(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	args := c.Args()
	if len(args) < 1 {
		return c.Reply("❌ Usage: /recharge <amount>\nFor example: /recharge 100")
	}
	amount, err := decimal.NewFromString(args[0])
	if err != nil || !amount.IsPositive() {
		return c.Reply("❌ Amount must be a positive number")
	}

	var req *model.RechargeRequest
	err = h.userLock.WithLockContext(ctx, sender.ID, h.lockTimeout, func() error {
		var err error
		req, err = h.wallets.RequestRecharge(ctx, sender.ID, amount)
		return err
	})
	switch {
	case errors.Is(err, store.ErrUserNotFound):
		return c.Reply("❌ You have no account yet, send /start first")
	case errors.Is(err, lock.ErrLockTimeout):
		return c.Reply("⏳ Another request is in progress, please wait")
	case err != nil:
		return c.Reply("❌ Could not file your recharge, please try again later")
	}

	return c.Reply(fmt.Sprintf(
		"🧾 Recharge request #%d for %s submitted.\nAn admin will review it shortly.",
		req.ID, money(req.Amount),
	))
}

// HandleHistory handles the /history command.
func (h *AccountHandler) HandleHistory(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	entries, err := h.wallets.History(ctx, sender.ID, 10)
	if err != nil {
		return c.Reply("❌ Could not load your history, please try again later")
	}
	if len(entries) == 0 {
		return c.Reply("📭 No wallet activity yet")
	}

	var b strings.Builder
	b.WriteString("📜 Recent activity\n━━━━━━━━━━━━━━━\n")
	for _, e := range entries {
		sign := ""
		if e.Amount.IsPositive() {
			sign = "+"
		}
		fmt.Fprintf(&b, "%s %s%s %s\n", e.CreatedAt.Format("01-02 15:04"), sign, money(e.Amount), e.Type)
	}
	return c.Reply(b.String())
}

// displayName prefers the Telegram username, falling back to the first name.
func displayName(u *tele.User) string {
	if u.Username != "" {
		return u.Username
	}
	return u.FirstName
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}
