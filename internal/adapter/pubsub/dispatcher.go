package pubsub

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/juju/errors"

	"github.com/webitel/im-forum-delivery/internal/domain/model"
	"github.com/webitel/im-forum-delivery/internal/domain/presence"
)

const PresenceExchange = "im_forum.presence"

// EventDispatcher defines the high-level contract for outgoing events.
// This allows the domain to stay agnostic of the transport implementation.
type EventDispatcher interface {
	presence.Publisher
	Publisher() message.Publisher
}

type eventDispatcher struct {
	publisher message.Publisher
	logger    *slog.Logger
}

func NewEventDispatcher(pub message.Publisher, logger *slog.Logger) EventDispatcher {
	return &eventDispatcher{
		publisher: pub,
		logger:    logger,
	}
}

func (d *eventDispatcher) Publish(ctx context.Context, ev model.OutboundEventer) error {
	if ev == nil {
		return errors.NotValidf("nil outbound event")
	}

	payload, err := ev.ToJSON()
	if err != nil {
		return errors.Annotate(err, "event dispatcher: marshal")
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)

	d.logger.Debug("EVENT_PUBLISHING", "routing_key", ev.GetRoutingKey(), "msg_id", msg.UUID)
	if err := d.publisher.Publish(ev.GetRoutingKey(), msg); err != nil {
		return errors.Annotatef(err, "event dispatcher: publish %s", ev.GetRoutingKey())
	}
	return nil
}

func (d *eventDispatcher) Publisher() message.Publisher {
	return d.publisher
}
