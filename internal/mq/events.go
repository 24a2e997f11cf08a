package mq

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/inkpost/apiserver/types"
)

const (
	attrEventType   = "event_type"
	attrEntityID    = "entity_id"
	attrContentType = "content_type"

	publishTimeout = 5 * time.Second
)

// EventPublisher delivers domain events to a channel. Failures are logged
// and swallowed.
type EventPublisher struct {
	mq      *MQ
	channel string
	logger  *slog.Logger
}

func NewEventPublisher(m *MQ, channel string, logger *slog.Logger) *EventPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventPublisher{
		mq:      m,
		channel: channel,
		logger:  logger.With("component", "events", "channel", channel),
	}
}

// Notify publishes event. It outlives the caller's cancellation so a client
// disconnect does not drop an event for a committed mutation.
func (p *EventPublisher) Notify(ctx context.Context, event types.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.ErrorContext(ctx, "encode event", "type", event.Type, "error", err)
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	id, err := p.mq.Publish(pubCtx, p.channel, data, map[string]string{
		attrEventType:   event.Type,
		attrEntityID:    event.EntityID,
		attrContentType: "application/json",
	})
	if err != nil {
		p.logger.WarnContext(ctx, "publish event failed", "type", event.Type, "entity_id", event.EntityID, "error", err)
		return
	}
	p.logger.DebugContext(ctx, "event published", "type", event.Type, "message_id", id)
}

// DecodeEvent parses a message produced by EventPublisher.
func DecodeEvent(msg Message) (types.Event, error) {
	var event types.Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return types.Event{}, err
	}
	return event, nil
}
