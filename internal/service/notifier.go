package service

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Event kinds sent to the Notifier.
const (
	EventRechargeRequested = "recharge_requested"
	EventRechargeApproved  = "recharge_approved"
	EventRechargeRejected  = "recharge_rejected"
	EventStopPointReached  = "stop_point_reached"
	EventStopPointCleared  = "stop_point_cleared"
)

// Event is a notification about a user.
type Event struct {
	Kind    string
	UserID  int64
	Message string
}

// Notifier delivers events. Delivery is best effort and never affects the
// operation that produced the event.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// LogNotifier writes events to the log.
type LogNotifier struct{}

// Notify logs the event.
func (LogNotifier) Notify(_ context.Context, event Event) {
	log.Info().
		Str("event", event.Kind).
		Int64("user_id", event.UserID).
		Msg(event.Message)
}

// notifyAll sends events collected during a committed transaction.
func notifyAll(ctx context.Context, n Notifier, events []Event) {
	if n == nil {
		return
	}
	for _, e := range events {
		n.Notify(ctx, e)
	}
}
