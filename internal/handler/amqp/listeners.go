package amqp

import (
	"context"

	"github.com/webitel/im-forum-delivery/internal/domain/event"
)

// [ON_FORUM_EVENT]
// Routes the decoded event through the emitter, narrowed to one user when the
// producer asked for it.
func (h *MessageHandler) OnForumEventV1(ctx context.Context, target string, ev event.Eventer) error {
	var err error
	if target != "" {
		_, err = h.emitter.EmitToUser(ctx, target, ev)
	} else {
		_, err = h.emitter.Emit(ctx, ev)
	}
	if err != nil {
		return err
	}

	h.logger.Debug("EVENT_EMITTED",
		"event_id", ev.GetID(),
		"type", ev.GetKind(),
		"room_id", ev.GetRoomID(),
		"target", target,
		"trace_id", TraceIDFromContext(ctx))
	return nil
}
