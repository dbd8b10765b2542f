// Package notify delivers service events to Telegram chats.
package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"task-reward-engine/internal/service"
)

// Sender is the part of *tele.Bot used to deliver messages.
type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Telegram sends events to the admin chats and to the user they concern.
type Telegram struct {
	sender   Sender
	adminIDs []int64
}

// NewTelegram creates a notifier that sends through sender.
func NewTelegram(sender Sender, adminIDs []int64) *Telegram {
	return &Telegram{
		sender:   sender,
		adminIDs: adminIDs,
	}
}

// Notify delivers the event. Failures are logged and otherwise ignored.
func (t *Telegram) Notify(_ context.Context, event service.Event) {
	for _, id := range recipients(event, t.adminIDs) {
		text := format(event)
		if id != event.UserID {
			text = fmt.Sprintf("%s\n👤 User: %d", text, event.UserID)
		}
		if _, err := t.sender.Send(&tele.User{ID: id}, text); err != nil {
			log.Warn().
				Err(err).
				Str("event", event.Kind).
				Int64("chat_id", id).
				Msg("Failed to deliver notification")
		}
	}
}

// recipients returns the chats an event goes to, without duplicates.
// Admins see every event; the user sees events about their own wallet.
func recipients(event service.Event, adminIDs []int64) []int64 {
	seen := make(map[int64]bool, len(adminIDs)+1)
	out := make([]int64, 0, len(adminIDs)+1)
	add := func(id int64) {
		if id != 0 && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range adminIDs {
		add(id)
	}
	if event.Kind != service.EventRechargeRequested {
		add(event.UserID)
	}
	return out
}

func format(event service.Event) string {
	icon := "🔔"
	switch event.Kind {
	case service.EventRechargeRequested:
		icon = "🧾"
	case service.EventRechargeApproved:
		icon = "✅"
	case service.EventRechargeRejected:
		icon = "🚫"
	case service.EventStopPointReached:
		icon = "🚦"
	case service.EventStopPointCleared:
		icon = "🎉"
	}
	return icon + " " + event.Message
}
