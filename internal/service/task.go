package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"task-reward-engine/internal/metrics"
	"task-reward-engine/internal/model"
	"task-reward-engine/internal/pricing"
	"task-reward-engine/internal/store"
)

// Block reason codes returned by NextTask.
const (
	BlockDailyLimitUnset      = "daily_limit_unset"
	BlockNoProducts           = "no_products"
	BlockDailyLimitReached    = "daily_limit_reached"
	BlockStopPoint            = "stop_point"
	BlockInsufficientReferral = "insufficient_referral_balance"
	BlockInsufficientBalance  = "insufficient_balance"
)

// Warnings returned by CompleteTask when the task is left open.
const (
	WarningNoPrice    = "Task has no price and cannot be completed."
	WarningStopPoint  = "A recharge is required before this task can be completed."
	WarningDailyLimit = "This task is beyond your daily task limit."
)

// StopPointBlock describes the gate a user must recharge past.
type StopPointBlock struct {
	ID               int64           `json:"stop_point_id"`
	Point            int             `json:"point"`
	Outstanding      decimal.Decimal `json:"outstanding"`
	LockedTaskPrice  decimal.Decimal `json:"locked_task_price"`
	EstimatedBalance decimal.Decimal `json:"estimated_balance"`
	Bonus            decimal.Decimal `json:"bonus"`
}

// BlockReason explains why no task can be handed out.
type BlockReason struct {
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	StopPoint *StopPointBlock `json:"stop_point,omitempty"`
}

// NextTaskResult is the outcome of a next-task request. Exactly one of Task
// and Block is set.
type NextTaskResult struct {
	Product      *model.Product         `json:"product,omitempty"`
	Task         *model.UserProductTask `json:"task,omitempty"`
	Block        *BlockReason           `json:"block,omitempty"`
	TaskNumber   int                    `json:"task_number"`
	DisplayPrice decimal.Decimal        `json:"display_price"`
	RealPrice    decimal.Decimal        `json:"-"`
	IsFakeMode   bool                   `json:"-"`
}

// CompletionResult is the outcome of completing a task.
type CompletionResult struct {
	Task               *model.UserProductTask `json:"task"`
	CreditedAmount     decimal.Decimal        `json:"-"`
	ProductCommission  decimal.Decimal        `json:"product_commission"`
	ReferralCommission decimal.Decimal        `json:"referral_commission"`
	Warning            string                 `json:"warning,omitempty"`
	AlreadyCompleted   bool                   `json:"already_completed"`
}

// DisplayCredited is the credited amount as the user sees it. Fake-mode tasks
// report their display price.
func (r *CompletionResult) DisplayCredited() decimal.Decimal {
	if r.Task != nil && r.Task.IsFakeModeTask && r.Task.FakeDisplayPrice != nil && r.CreditedAmount.IsPositive() {
		return *r.Task.FakeDisplayPrice
	}
	return r.CreditedAmount
}

// TaskService prices, hands out and completes tasks.
type TaskService struct {
	store    store.Store
	alloc    *pricing.Allocator
	gate     *StopPointService
	opts     Options
	notifier Notifier
}

// NewTaskService creates a new TaskService instance.
func NewTaskService(st store.Store, alloc *pricing.Allocator, gate *StopPointService, opts Options, notifier Notifier) *TaskService {
	if alloc == nil {
		alloc = pricing.NewAllocator(nil, 20)
	}
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &TaskService{
		store:    st,
		alloc:    alloc,
		gate:     gate,
		opts:     opts,
		notifier: notifier,
	}
}

// AddProduct adds an active product to the catalog.
func (s *TaskService) AddProduct(ctx context.Context, name string, price decimal.Decimal) (*model.Product, error) {
	if name == "" {
		return nil, invalid("name", "product name is required")
	}
	if price.IsNegative() {
		return nil, invalid("price", "price cannot be negative")
	}
	p := &model.Product{Name: name, Price: pricing.Quantize(price), IsActive: true}
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Products().Create(ctx, p)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add product: %w", err)
	}
	return p, nil
}

// ListProducts returns the active catalog.
func (s *TaskService) ListProducts(ctx context.Context) ([]*model.Product, error) {
	var products []*model.Product
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		products, err = tx.Products().ListActive(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

// NextTask returns the user's next priced task, or the reason none can be given.
// Asking again before completing returns the same task and price.
func (s *TaskService) NextTask(ctx context.Context, userID int64) (*NextTaskResult, error) {
	var (
		res    *NextTaskResult
		events []Event
	)
	err := s.store.WithUserLock(ctx, userID, func(ctx context.Context, tx store.Tx) error {
		events = events[:0]
		var err error
		res, err = s.nextTask(ctx, tx, userID, &events)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get next task: %w", err)
	}

	if res.Block != nil {
		metrics.TasksBlocked.WithLabelValues(res.Block.Code).Inc()
		log.Debug().Int64("user_id", userID).Str("reason", res.Block.Code).Msg("Next task blocked")
	} else {
		mode := "normal"
		if res.IsFakeMode {
			mode = "fake"
		}
		metrics.TasksPriced.WithLabelValues(mode).Inc()
	}
	notifyAll(ctx, s.notifier, events)
	return res, nil
}

func (s *TaskService) nextTask(ctx context.Context, tx store.Tx, userID int64, events *[]Event) (*NextTaskResult, error) {
	w, err := tx.Wallets().LockForUpdate(ctx, userID)
	if err != nil {
		return nil, err
	}
	setting, err := tx.Settings().Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	limit := setting.DailyTaskLimit
	if limit <= 0 {
		return blocked(BlockDailyLimitUnset, "Admin must set your daily task limit before you can start tasks."), nil
	}

	products, err := tx.Products().ListActive(ctx)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return blocked(BlockNoProducts, "No products are available right now."), nil
	}

	completed, err := tx.Tasks().CountCompleted(ctx, userID)
	if err != nil {
		return nil, err
	}
	next := completed + 1
	if next > limit {
		return blocked(BlockDailyLimitReached, fmt.Sprintf("You have reached your daily task limit of %d.", limit)), nil
	}

	open, err := tx.Tasks().FindIncomplete(ctx, userID)
	if err != nil && !errors.Is(err, store.ErrTaskNotFound) {
		return nil, err
	}
	round := completed / len(products)
	product, err := s.pickProduct(ctx, tx, userID, open, products, round)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return blocked(BlockNoProducts, "All products have been assigned this round."), nil
	}

	pending, err := tx.StopPoints().PendingFrom(ctx, userID, next)
	if err != nil {
		return nil, err
	}
	if len(pending) > 0 && pending[0].Point == next {
		sp := pending[0]
		if err := s.gate.ensureSnapshot(ctx, tx, w, sp, events); err != nil {
			return nil, err
		}
		if !sp.Cleared() {
			return stopPointBlocked(sp), nil
		}
		if err := tx.Wallets().Save(ctx, w); err != nil {
			return nil, err
		}
		pending = pending[1:]
	}

	end := limit
	var ceilingID *int64
	if len(pending) > 0 && pending[0].Point <= limit {
		end = pending[0].Point - 1
		id := pending[0].ID
		ceilingID = &id
	}

	task := open
	if task == nil {
		task = &model.UserProductTask{
			UserID:      userID,
			ProductID:   product.ID,
			RoundNumber: round,
		}
	}

	res := &NextTaskResult{Product: product, TaskNumber: next}
	if w.IsReferralOnly() {
		if block := s.priceFake(task, w, next, end); block != nil {
			return &NextTaskResult{Block: block, TaskNumber: next}, nil
		}
		if !w.IsFakeDisplayMode {
			w.IsFakeDisplayMode = true
			if err := tx.Wallets().Save(ctx, w); err != nil {
				return nil, err
			}
		}
		res.IsFakeMode = true
		res.DisplayPrice = *task.FakeDisplayPrice
		res.RealPrice = *task.RealPrice
	} else {
		if w.IsFakeDisplayMode {
			w.IsFakeDisplayMode = false
			if err := tx.Wallets().Save(ctx, w); err != nil {
				return nil, err
			}
		}
		block, err := s.priceNormal(ctx, tx, task, w, setting, completed, next, end, ceilingID, open == nil)
		if err != nil {
			return nil, err
		}
		if block != nil {
			return &NextTaskResult{Block: block, TaskNumber: next}, nil
		}
		res.DisplayPrice = task.Price
		res.RealPrice = task.Price
	}

	task.TaskNumber = next
	task.PricingSnapshotDailyLimit = limit
	if err := tx.Tasks().Save(ctx, task); err != nil {
		return nil, err
	}
	res.Task = task
	return res, nil
}

// priceFake fills in a referral-only task: the real price spreads the
// referral balance over the tasks left before the ceiling, the display price
// is cosmetic. An already priced open task keeps its pair.
func (s *TaskService) priceFake(task *model.UserProductTask, w *model.Wallet, next, end int) *BlockReason {
	if task.IsFakeModeTask && task.ID != 0 && task.TaskNumber == next &&
		task.RealPrice != nil && task.FakeDisplayPrice != nil &&
		!task.RealPrice.GreaterThan(w.Spendable) {
		return nil
	}

	leftover := s.alloc.LeftoverBuffer(s.opts.ReferralLeftoverMin, s.opts.ReferralLeftoverMax)
	available := w.Spendable.Sub(leftover)
	if !available.IsPositive() {
		return &BlockReason{Code: BlockInsufficientReferral, Message: "Your referral balance is too low to start another task."}
	}
	realPrice := pricing.RealTaskPrice(available, end-next+1)
	if realPrice.GreaterThan(available) {
		return &BlockReason{Code: BlockInsufficientReferral, Message: "Your referral balance is too low to start another task."}
	}
	display := s.alloc.FakeDisplayPrice(s.opts.FakeDisplayPriceMin, s.opts.FakeDisplayPriceMax)

	task.Price = realPrice
	task.RealPrice = &realPrice
	task.FakeDisplayPrice = &display
	task.IsFakeModeTask = true
	return nil
}

// priceNormal prices a task from the active slice: share * product rate.
func (s *TaskService) priceNormal(
	ctx context.Context,
	tx store.Tx,
	task *model.UserProductTask,
	w *model.Wallet,
	setting *model.CommissionSetting,
	completed, next, end int,
	ceilingID *int64,
	fresh bool,
) (*BlockReason, error) {
	progress, err := tx.Progress().Get(ctx, task.UserID)
	if err != nil {
		return nil, err
	}
	if completed == 0 && fresh {
		progress.ClearSlice()
	}

	buffer := decimal.Zero
	if ceilingID != nil {
		buffer = s.alloc.LeftoverBuffer(s.opts.StopPointBufferMin, s.opts.StopPointBufferMax)
	}
	share, changed := s.alloc.GetOrAllocate(progress, next, end, ceilingID, w.Spendable, buffer)
	if changed {
		if !w.Spendable.GreaterThan(buffer) {
			return &BlockReason{Code: BlockInsufficientBalance, Message: "Your balance is too low to start another task. Please recharge."}, nil
		}
		if err := tx.Progress().Save(ctx, progress); err != nil {
			return nil, err
		}
	}

	task.Price = pricing.TaskPrice(share, setting.ProductRate)
	task.RealPrice = nil
	task.FakeDisplayPrice = nil
	task.IsFakeModeTask = false
	return nil, nil
}

// pickProduct keeps the open assignment's product, otherwise draws a random
// active product not yet assigned in the round.
func (s *TaskService) pickProduct(ctx context.Context, tx store.Tx, userID int64, open *model.UserProductTask, products []*model.Product, round int) (*model.Product, error) {
	if open != nil {
		p, err := tx.Products().Get(ctx, open.ProductID)
		if err != nil {
			return nil, err
		}
		return p, nil
	}

	used, err := tx.Tasks().ProductsInRound(ctx, userID, round)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]bool, len(used))
	for _, id := range used {
		seen[id] = true
	}
	candidates := make([]*model.Product, 0, len(products))
	for _, p := range products {
		if !seen[p.ID] {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	idx := int(s.alloc.Rand().Float64() * float64(len(candidates)))
	if idx >= len(candidates) {
		idx = len(candidates) - 1
	}
	return candidates[idx], nil
}

func blocked(code, message string) *NextTaskResult {
	return &NextTaskResult{Block: &BlockReason{Code: code, Message: message}}
}

func stopPointBlocked(sp *model.StopPoint) *NextTaskResult {
	block := &StopPointBlock{
		ID:          sp.ID,
		Point:       sp.Point,
		Outstanding: sp.Outstanding(),
		Bonus:       sp.Bonus(),
	}
	if sp.LockedTaskPrice != nil {
		block.LockedTaskPrice = *sp.LockedTaskPrice
	}
	if sp.EstimatedBalanceSnapshot != nil {
		block.EstimatedBalance = *sp.EstimatedBalanceSnapshot
	}
	return &NextTaskResult{
		TaskNumber: sp.Point,
		Block: &BlockReason{
			Code:      BlockStopPoint,
			Message:   fmt.Sprintf("Recharge %s to continue past task %d.", block.Outstanding.StringFixed(2), sp.Point),
			StopPoint: block,
		},
	}
}

// CompleteTask applies a task's credit and commissions. Completing the same
// task again returns the recorded commissions and changes nothing.
func (s *TaskService) CompleteTask(ctx context.Context, userID, taskID int64) (*CompletionResult, error) {
	res := &CompletionResult{}
	err := s.store.WithUserLock(ctx, userID, func(ctx context.Context, tx store.Tx) error {
		*res = CompletionResult{}
		return s.completeTask(ctx, tx, userID, taskID, res)
	})
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to complete task: %w", err)
	}

	if !res.AlreadyCompleted && res.Warning == "" {
		metrics.TasksCompleted.Inc()
		log.Info().
			Int64("user_id", userID).
			Int64("task_id", taskID).
			Int("task_number", res.Task.TaskNumber).
			Str("credited", res.CreditedAmount.String()).
			Str("product_commission", res.ProductCommission.String()).
			Str("referral_commission", res.ReferralCommission.String()).
			Msg("Task completed")
	}
	return res, nil
}

func (s *TaskService) completeTask(ctx context.Context, tx store.Tx, userID, taskID int64, res *CompletionResult) error {
	task, err := tx.Tasks().Get(ctx, userID, taskID)
	if err != nil {
		return err
	}
	res.Task = task

	user, err := tx.Users().Get(ctx, userID)
	if err != nil {
		return err
	}
	label := task.Label()

	if task.IsCompleted {
		res.AlreadyCompleted = true
		rec, err := tx.Commissions().Find(ctx, userID, label, model.CommissionSelf, userID)
		if err == nil {
			res.ProductCommission = rec.Amount
		} else if !errors.Is(err, store.ErrCommissionMissing) {
			return err
		}
		if user.ReferredBy != nil {
			rec, err := tx.Commissions().Find(ctx, *user.ReferredBy, label, model.CommissionReferral, userID)
			if err == nil {
				res.ReferralCommission = rec.Amount
			} else if !errors.Is(err, store.ErrCommissionMissing) {
				return err
			}
		}
		return nil
	}

	w, err := tx.Wallets().LockForUpdate(ctx, userID)
	if err != nil {
		return err
	}
	setting, err := tx.Settings().Get(ctx, userID)
	if err != nil {
		return err
	}
	if warning, err := s.completionBlocked(ctx, tx, task, setting); err != nil || warning != "" {
		res.Warning = warning
		return err
	}

	amount := task.Price
	if (task.IsFakeModeTask || w.BalanceSource == model.SourceReferral) && task.RealPrice != nil {
		amount = *task.RealPrice
	}
	if !amount.IsPositive() {
		res.Warning = WarningNoPrice
		return nil
	}
	res.CreditedAmount = amount

	if err := credit(ctx, tx, w, amount, model.LedgerTaskCredit, label); err != nil {
		return err
	}
	if pc := pricing.Percent(task.Price, setting.ProductRate); pc.IsPositive() {
		rec, created, err := recordCommission(ctx, tx, userID, label, model.CommissionSelf, userID, pc)
		if err != nil {
			return err
		}
		res.ProductCommission = rec.Amount
		if created {
			w.ProductCommission = w.ProductCommission.Add(rec.Amount)
			if err := appendLedger(ctx, tx, userID, rec.Amount, model.LedgerProductCommission, label); err != nil {
				return err
			}
		}
	}
	if err := tx.Wallets().Save(ctx, w); err != nil {
		return err
	}

	if user.ReferredBy != nil {
		rc, err := s.payReferrer(ctx, tx, *user.ReferredBy, userID, label, task.Price, setting.ProductRate)
		if err != nil {
			return err
		}
		res.ReferralCommission = rc
	}

	now := time.Now()
	task.IsCompleted = true
	task.CompletedAt = &now
	if err := tx.Tasks().Save(ctx, task); err != nil {
		return err
	}

	if s.opts.ZeroReferrerRateOnDailyLimit && user.ReferredBy != nil && setting.DailyTaskLimit > 0 {
		completed, err := tx.Tasks().CountCompleted(ctx, userID)
		if err != nil {
			return err
		}
		if completed >= setting.DailyTaskLimit {
			return s.zeroReferralRate(ctx, tx, *user.ReferredBy)
		}
	}
	return nil
}

// completionBlocked re-checks the daily limit and the stop point at the
// task's number. A non-empty warning leaves the task open.
func (s *TaskService) completionBlocked(ctx context.Context, tx store.Tx, task *model.UserProductTask, setting *model.CommissionSetting) (string, error) {
	if setting.DailyTaskLimit <= 0 || task.TaskNumber > setting.DailyTaskLimit {
		return WarningDailyLimit, nil
	}
	pending, err := tx.StopPoints().PendingFrom(ctx, task.UserID, task.TaskNumber)
	if err != nil {
		return "", err
	}
	if len(pending) > 0 && pending[0].Point == task.TaskNumber && pending[0].Open() {
		return WarningStopPoint, nil
	}
	return "", nil
}

// payReferrer records the referral commission on the task's base amount
// (price / product rate) and credits the referrer once.
func (s *TaskService) payReferrer(ctx context.Context, tx store.Tx, referrerID, userID int64, label string, price, productRate decimal.Decimal) (decimal.Decimal, error) {
	base := decimal.Zero
	if productRate.IsPositive() {
		base = price.Mul(decimal.NewFromInt(100)).Div(productRate)
	}
	refSetting, err := tx.Settings().Get(ctx, referrerID)
	if err != nil {
		return decimal.Zero, err
	}
	amount := pricing.Percent(base, refSetting.ReferralRate)
	if !amount.IsPositive() {
		return decimal.Zero, nil
	}

	rec, created, err := recordCommission(ctx, tx, referrerID, label, model.CommissionReferral, userID, amount)
	if err != nil {
		return decimal.Zero, err
	}
	if !created {
		return rec.Amount, nil
	}

	rw, err := tx.Wallets().LockForUpdate(ctx, referrerID)
	if err != nil {
		return decimal.Zero, err
	}
	if err := credit(ctx, tx, rw, rec.Amount, model.LedgerReferralCommission, label); err != nil {
		return decimal.Zero, err
	}
	rw.ReferralEarnedBalance = rw.ReferralEarnedBalance.Add(rec.Amount)
	rw.ReferralCommission = rw.ReferralCommission.Add(rec.Amount)
	if !rw.HasRecharged {
		rw.BalanceSource = model.SourceReferral
	}
	if err := tx.Wallets().Save(ctx, rw); err != nil {
		return decimal.Zero, err
	}
	return rec.Amount, nil
}

func (s *TaskService) zeroReferralRate(ctx context.Context, tx store.Tx, referrerID int64) error {
	refSetting, err := tx.Settings().Get(ctx, referrerID)
	if err != nil {
		return err
	}
	if refSetting.ReferralRate.IsZero() {
		return nil
	}
	refSetting.ReferralRate = decimal.Zero
	if err := tx.Settings().Save(ctx, refSetting); err != nil {
		return err
	}
	log.Warn().Int64("referrer_id", referrerID).Msg("Referral rate zeroed after downline reached daily limit")
	return nil
}

// ResetCycle clears the user's tasks, stop points, pricing progress and
// settings. Commission records and wallet history are kept.
func (s *TaskService) ResetCycle(ctx context.Context, userID int64) error {
	err := s.store.WithUserLock(ctx, userID, func(ctx context.Context, tx store.Tx) error {
		if err := tx.Progress().Delete(ctx, userID); err != nil {
			return err
		}
		if err := tx.Tasks().DeleteByUser(ctx, userID); err != nil {
			return err
		}
		if err := tx.StopPoints().DeleteByUser(ctx, userID); err != nil {
			return err
		}
		if err := tx.Settings().Delete(ctx, userID); err != nil {
			return err
		}
		w, err := tx.Wallets().LockForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if w.IsFakeDisplayMode {
			w.IsFakeDisplayMode = false
			return tx.Wallets().Save(ctx, w)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to reset cycle: %w", err)
	}
	log.Info().Int64("user_id", userID).Msg("Task cycle reset")
	return nil
}
