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

	"task-reward-engine/internal/pkg/lock"
	"task-reward-engine/internal/service"
	"task-reward-engine/internal/store"
)

// AdminHandler handles admin-related commands.
type AdminHandler struct {
	wallets     *service.WalletService
	tasks       *service.TaskService
	stops       *service.StopPointService
	commissions *service.CommissionService
	userLock    *lock.UserLock
	lockTimeout time.Duration
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(
	wallets *service.WalletService,
	tasks *service.TaskService,
	stops *service.StopPointService,
	commissions *service.CommissionService,
	userLock *lock.UserLock,
	lockTimeout time.Duration,
) *AdminHandler {
	return &AdminHandler{
		wallets:     wallets,
		tasks:       tasks,
		stops:       stops,
		commissions: commissions,
		userLock:    userLock,
		lockTimeout: lockTimeout,
	}
}

// HandlePending handles the /pending command.
// Lists recharge requests waiting for review.
func (h *AdminHandler) HandlePending(c tele.Context) error {
	reqs, err := h.wallets.ListPendingRecharges(context.Background(), 20)
	if err != nil {
		return c.Reply("❌ Could not load pending recharges")
	}
	if len(reqs) == 0 {
		return c.Reply("📭 No pending recharges")
	}

	var b strings.Builder
	b.WriteString("🧾 Pending recharges\n━━━━━━━━━━━━━━━\n")
	for _, r := range reqs {
		fmt.Fprintf(&b, "#%d user %d: %s\n", r.ID, r.UserID, money(r.Amount))
	}
	b.WriteString("━━━━━━━━━━━━━━━\n/approve <id> or /reject <id>")
	return c.Reply(b.String())
}

// HandleApprove handles the /approve command.
// Format: /approve <request_id>
func (h *AdminHandler) HandleApprove(c tele.Context) error {
	id, err := parseID(c.Args(), 0, "/approve <request_id>")
	if err != nil {
		return c.Reply(err.Error())
	}

	res, err := h.wallets.ApproveRecharge(context.Background(), id)
	if err != nil {
		return c.Reply(adminErrorReply(err))
	}
	h.logOperation(c, "approve_recharge", res.Request.UserID)

	msg := fmt.Sprintf(
		"✅ Recharge #%d approved\n\n"+
			"👤 User: %d\n"+
			"💰 Balance: %s",
		id, res.Request.UserID, money(res.Wallet.Spendable),
	)
	if res.StopPoint != nil {
		if res.Cleared {
			msg += fmt.Sprintf("\n🚦 Stop point at task %d cleared", res.StopPoint.Point)
		} else {
			msg += fmt.Sprintf("\n🚦 Stop point at task %d still needs %s", res.StopPoint.Point, money(res.Remaining))
		}
	}
	return c.Reply(msg)
}

// HandleReject handles the /reject command.
// Format: /reject <request_id>
func (h *AdminHandler) HandleReject(c tele.Context) error {
	id, err := parseID(c.Args(), 0, "/reject <request_id>")
	if err != nil {
		return c.Reply(err.Error())
	}

	req, err := h.wallets.RejectRecharge(context.Background(), id)
	if err != nil {
		return c.Reply(adminErrorReply(err))
	}
	h.logOperation(c, "reject_recharge", req.UserID)
	return c.Reply(fmt.Sprintf("🚫 Recharge #%d rejected", id))
}

// HandleLimit handles the /limit command.
// Format: /limit <user_id> <daily_limit> <product_rate> <referral_rate>
func (h *AdminHandler) HandleLimit(c tele.Context) error {
	const usage = "❌ Usage: /limit <user_id> <daily_limit> <product%> <referral%>\nFor example: /limit 123456789 30 5 10"
	args := c.Args()
	if len(args) < 4 {
		return c.Reply(usage)
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.Reply(usage)
	}
	limit, err := strconv.Atoi(args[1])
	if err != nil {
		return c.Reply(usage)
	}
	productRate, err1 := decimal.NewFromString(args[2])
	referralRate, err2 := decimal.NewFromString(args[3])
	if err1 != nil || err2 != nil {
		return c.Reply(usage)
	}

	ctx := context.Background()
	err = h.userLock.WithLockContext(ctx, userID, h.lockTimeout, func() error {
		_, err := h.commissions.UpdateSettings(ctx, userID, service.SettingsInput{
			ProductRate:    productRate,
			ReferralRate:   referralRate,
			DailyTaskLimit: limit,
		})
		return err
	})
	if err != nil {
		return c.Reply(adminErrorReply(err))
	}
	h.logOperation(c, "update_settings", userID)

	return c.Reply(fmt.Sprintf(
		"✅ Settings updated for %d\n"+
			"📋 Daily limit: %d\n"+
			"📦 Product rate: %s%%\n"+
			"👥 Referral rate: %s%%",
		userID, limit, productRate.StringFixed(2), referralRate.StringFixed(2),
	))
}

// HandleStopPoint handles the /stoppoint command.
// Format: /stoppoint <user_id> <point> [required] [bonus]
func (h *AdminHandler) HandleStopPoint(c tele.Context) error {
	const usage = "❌ Usage: /stoppoint <user_id> <point> [required] [bonus]\nFor example: /stoppoint 123456789 10 300 50"
	args := c.Args()
	if len(args) < 2 {
		return c.Reply(usage)
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.Reply(usage)
	}
	point, err := strconv.Atoi(args[1])
	if err != nil {
		return c.Reply(usage)
	}
	in := service.StopPointInput{Point: point}
	if len(args) > 2 {
		required, err := decimal.NewFromString(args[2])
		if err != nil {
			return c.Reply(usage)
		}
		in.RequiredBalance = &required
	}
	if len(args) > 3 {
		bonus, err := decimal.NewFromString(args[3])
		if err != nil {
			return c.Reply(usage)
		}
		in.Bonus = &bonus
	}

	ctx := context.Background()
	err = h.userLock.WithLockContext(ctx, userID, h.lockTimeout, func() error {
		_, _, err := h.stops.AddStopPoints(ctx, userID, []service.StopPointInput{in})
		return err
	})
	if err != nil {
		return c.Reply(adminErrorReply(err))
	}
	h.logOperation(c, "add_stop_point", userID)
	return c.Reply(fmt.Sprintf("✅ Stop point added at task %d for %d", point, userID))
}

// HandleStopPoints handles the /stoppoints command.
// Format: /stoppoints <user_id>
func (h *AdminHandler) HandleStopPoints(c tele.Context) error {
	userID, err := parseID(c.Args(), 0, "/stoppoints <user_id>")
	if err != nil {
		return c.Reply(err.Error())
	}
	sps, err := h.stops.ListStopPoints(context.Background(), userID)
	if err != nil {
		return c.Reply(adminErrorReply(err))
	}
	if len(sps) == 0 {
		return c.Reply("📭 No stop points")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🚦 Stop points for %d\n━━━━━━━━━━━━━━━\n", userID)
	for _, sp := range sps {
		state := "waiting"
		switch {
		case sp.Cleared():
			state = "cleared"
		case sp.Triggered():
			state = "needs " + money(sp.Outstanding())
		}
		fmt.Fprintf(&b, "#%d task %d: %s (%s)\n", sp.ID, sp.Point, money(sp.RequiredBalance), state)
	}
	return c.Reply(b.String())
}

// HandleAdjust handles the /adjust command.
// Format: /adjust <user_id> <amount> [note]
func (h *AdminHandler) HandleAdjust(c tele.Context) error {
	const usage = "❌ Usage: /adjust <user_id> <amount> [note]\nFor example: /adjust 123456789 -20 correction"
	args := c.Args()
	if len(args) < 2 {
		return c.Reply(usage)
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.Reply(usage)
	}
	amount, err := decimal.NewFromString(args[1])
	if err != nil {
		return c.Reply(usage)
	}
	note := strings.Join(args[2:], " ")
	if note == "" {
		note = fmt.Sprintf("Adjusted by admin %d", c.Sender().ID)
	}

	ctx := context.Background()
	var balance decimal.Decimal
	err = h.userLock.WithLockContext(ctx, userID, h.lockTimeout, func() error {
		w, err := h.wallets.AdjustBalance(ctx, userID, amount, note)
		if err == nil {
			balance = w.Spendable
		}
		return err
	})
	if err != nil {
		return c.Reply(adminErrorReply(err))
	}
	h.logOperation(c, "adjust_balance", userID)
	return c.Reply(fmt.Sprintf("✅ Balance of %d is now %s", userID, money(balance)))
}

// HandleReset handles the /reset command.
// Format: /reset <user_id>
func (h *AdminHandler) HandleReset(c tele.Context) error {
	userID, err := parseID(c.Args(), 0, "/reset <user_id>")
	if err != nil {
		return c.Reply(err.Error())
	}
	ctx := context.Background()
	err = h.userLock.WithLockContext(ctx, userID, h.lockTimeout, func() error {
		return h.tasks.ResetCycle(ctx, userID)
	})
	if err != nil {
		return c.Reply(adminErrorReply(err))
	}
	h.logOperation(c, "reset_cycle", userID)
	return c.Reply(fmt.Sprintf("♻️ Task cycle reset for %d", userID))
}

// HandleAddProduct handles the /addproduct command.
// Format: /addproduct <price> <name...>
func (h *AdminHandler) HandleAddProduct(c tele.Context) error {
	const usage = "❌ Usage: /addproduct <price> <name>\nFor example: /addproduct 49.90 Desk Lamp"
	args := c.Args()
	if len(args) < 2 {
		return c.Reply(usage)
	}
	price, err := decimal.NewFromString(args[0])
	if err != nil {
		return c.Reply(usage)
	}
	p, err := h.tasks.AddProduct(context.Background(), strings.Join(args[1:], " "), price)
	if err != nil {
		return c.Reply(adminErrorReply(err))
	}
	return c.Reply(fmt.Sprintf("✅ Product #%d %s added", p.ID, p.Name))
}

func (h *AdminHandler) logOperation(c tele.Context, operation string, targetID int64) {
	var adminID int64
	if s := c.Sender(); s != nil {
		adminID = s.ID
	}
	log.Info().
		Int64("admin_id", adminID).
		Int64("target_id", targetID).
		Str("operation", operation).
		Msg("Admin operation executed")
}

// parseID reads a numeric id from args[i].
func parseID(args []string, i int, usage string) (int64, error) {
	if len(args) <= i {
		return 0, fmt.Errorf("❌ Usage: %s", usage)
	}
	id, err := strconv.ParseInt(args[i], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("❌ ID must be a number")
	}
	return id, nil
}

// adminErrorReply turns a service error into an admin-facing message.
func adminErrorReply(err error) string {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		return "❌ " + verr.Error()
	case errors.Is(err, store.ErrUserNotFound):
		return "❌ User not found"
	case errors.Is(err, store.ErrRechargeNotFound):
		return "❌ Recharge request not found"
	case errors.Is(err, store.ErrStopPointNotFound):
		return "❌ Stop point not found"
	case errors.Is(err, service.ErrRechargeProcessed):
		return "❌ Recharge request was already processed"
	case errors.Is(err, service.ErrInsufficientBalance):
		return "❌ Balance is too low for this adjustment"
	case errors.Is(err, service.ErrInvalidAmount):
		return "❌ Amount must not be zero"
	case errors.Is(err, lock.ErrLockTimeout):
		return "⏳ The user is busy, try again"
	default:
		log.Error().Err(err).Msg("Admin command failed")
		return "❌ Operation failed, please try again later"
	}
}
