package amqp

import (
	"context"
	"runtime/debug"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/juju/errors"

	"github.com/webitel/im-forum-delivery/internal/domain/event"
)

// TargetUserHeader narrows delivery to one user's connections.
const TargetUserHeader = "x-target-user"

// DomainHandler defines the functional signature for business logic.
type DomainHandler func(ctx context.Context, targetUserID string, ev event.Eventer) error

// [INFRASTRUCTURE_BRIDGE]
// Bind connects Watermill to Domain logic, handling Panic Recovery, Decoding and Ack policy.
func Bind(h *MessageHandler, fn DomainHandler) message.NoPublishHandlerFunc {
	return func(msg *message.Message) (err error) {
		// [PANIC_RECOVERY]
		// Safely handle runtime panics to keep the consumer alive.
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("PANIC_RECOVERED",
					"err", r,
					"stack", string(debug.Stack()),
					"msg_id", msg.UUID)
				err = errors.Errorf("panic: %v", r)
			}
		}()

		// [DECODING]
		ev, err := event.Decode(msg.Payload)
		if err != nil {
			h.logger.Error("DECODE_FAILED", "err", err, "msg_id", msg.UUID)
			return nil // ACK: Poison Pill protection.
		}

		// [IDENTIFICATION]
		target := msg.Metadata.Get(TargetUserHeader)

		// [EXECUTION]
		if err := fn(msg.Context(), target, ev); err != nil {
			if isTerminal(err) {
				h.logger.Warn("EVENT_REJECTED",
					"msg_id", msg.UUID,
					"event_id", ev.GetID(),
					"type", ev.GetKind(),
					"err", err)
				return nil // ACK: Redelivery cannot fix a bad event.
			}
			return err // NACK: Store failures trigger Retry policy.
		}
		return nil
	}
}

func isTerminal(err error) bool {
	return errors.Is(err, errors.NotValid) || errors.Is(err, errors.NotFound)
}
