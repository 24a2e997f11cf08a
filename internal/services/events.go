package services

import (
	"context"
	"time"

	"github.com/inkpost/apiserver/types"
)

// Notifier receives domain events after a mutation has been persisted.
// Delivery is best-effort and never affects the operation's outcome.
type Notifier interface {
	Notify(ctx context.Context, event types.Event)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, types.Event) {}

// NopNotifier discards every event.
var NopNotifier Notifier = nopNotifier{}

func newEvent(eventType, entityID string, actor types.User, payload any) types.Event {
	return types.Event{
		Type:       eventType,
		EntityID:   entityID,
		ActorID:    actor.ID,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}
