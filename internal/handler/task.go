package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"task-reward-engine/internal/pkg/lock"
	"task-reward-engine/internal/service"
	"task-reward-engine/internal/store"
)

// CallbackComplete is the unique id of the inline "complete task" button.
const CallbackComplete = "complete"

// TaskHandler handles task commands.
type TaskHandler struct {
	tasks       *service.TaskService
	userLock    *lock.UserLock
	lockTimeout time.Duration
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(tasks *service.TaskService, userLock *lock.UserLock, lockTimeout time.Duration) *TaskHandler {
	return &TaskHandler{
		tasks:       tasks,
		userLock:    userLock,
		lockTimeout: lockTimeout,
	}
}

// HandleTask handles the /task command.
// Shows the user's current task, assigning and pricing a new one if needed.
func (h *TaskHandler) HandleTask(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	var res *service.NextTaskResult
	err := h.userLock.WithLockContext(ctx, sender.ID, h.lockTimeout, func() error {
		var err error
		res, err = h.tasks.NextTask(ctx, sender.ID)
		return err
	})
	if err != nil {
		return c.Reply(errorReply(err))
	}

	if res.Block != nil {
		msg := "⛔ " + res.Block.Message
		if sp := res.Block.StopPoint; sp != nil && sp.Bonus.IsPositive() {
			msg += fmt.Sprintf("\n🎁 A bonus of %s is paid once you continue.", money(sp.Bonus))
		}
		return c.Reply(msg)
	}

	markup := &tele.ReplyMarkup{}
	btn := markup.Data("✅ Complete", CallbackComplete, strconv.FormatInt(res.Task.ID, 10))
	markup.Inline(markup.Row(btn))

	return c.Reply(fmt.Sprintf(
		"📦 Task #%d\n"+
			"━━━━━━━━━━━━━━━\n"+
			"Product: %s\n"+
			"Price: %s\n"+
			"Task ID: %d\n"+
			"━━━━━━━━━━━━━━━",
		res.TaskNumber, res.Product.Name, money(res.DisplayPrice), res.Task.ID,
	), markup)
}

// HandleComplete handles the /complete command.
// Format: /complete <task_id>
func (h *TaskHandler) HandleComplete(c tele.Context) error {
	args := c.Args()
	if len(args) < 1 {
		return c.Reply("❌ Usage: /complete <task_id>\nSend /task to see your current task")
	}
	taskID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.Reply("❌ Task ID must be a number")
	}
	return h.complete(c, taskID)
}

// HandleCompleteCallback handles the inline complete button.
func (h *TaskHandler) HandleCompleteCallback(c tele.Context, payload string) error {
	taskID, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		return c.Respond(&tele.CallbackResponse{Text: "Invalid task"})
	}
	_ = c.Respond()
	return h.complete(c, taskID)
}

func (h *TaskHandler) complete(c tele.Context, taskID int64) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	var res *service.CompletionResult
	err := h.userLock.WithLockContext(ctx, sender.ID, h.lockTimeout, func() error {
		var err error
		res, err = h.tasks.CompleteTask(ctx, sender.ID, taskID)
		return err
	})
	if err != nil {
		return c.Send(errorReply(err))
	}

	switch {
	case res.Warning != "":
		return c.Send("⚠️ " + res.Warning)
	case res.AlreadyCompleted:
		return c.Send(fmt.Sprintf("ℹ️ Task %d was already completed", taskID))
	}

	log.Debug().
		Int64("user_id", sender.ID).
		Int64("task_id", taskID).
		Msg("Task completed via bot")

	return c.Send(fmt.Sprintf(
		"✅ Task %d completed\n"+
			"💵 Credited: %s\n"+
			"📈 Commission: %s\n\n"+
			"Send /task for the next one.",
		taskID, money(res.DisplayCredited()), money(res.ProductCommission),
	))
}

// errorReply turns a service error into a user-facing message.
func errorReply(err error) string {
	switch {
	case errors.Is(err, store.ErrUserNotFound):
		return "❌ You have no account yet, send /start first"
	case errors.Is(err, store.ErrTaskNotFound):
		return "❌ Task not found"
	case errors.Is(err, lock.ErrLockTimeout):
		return "⏳ Another request is in progress, please wait"
	default:
		return "❌ Something went wrong, please try again later"
	}
}

// ParseCallback splits raw callback data into its unique id and payload.
func ParseCallback(data string) (string, string) {
	data = strings.TrimPrefix(data, "\f")
	unique, payload, _ := strings.Cut(data, "|")
	return unique, payload
}
