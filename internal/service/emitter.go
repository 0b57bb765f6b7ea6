package service

import (
	"context"
	"log/slog"

	"github.com/juju/errors"

	"github.com/webitel/im-forum-delivery/internal/domain/event"
	"github.com/webitel/im-forum-delivery/internal/domain/presence"
)

// Emitter is the inbound surface for collaborators: they commit their own
// state change first and then hand the resulting event over.
type Emitter interface {
	Emit(ctx context.Context, ev event.Eventer) (*Report, error)
	EmitToUser(ctx context.Context, userID string, ev event.Eventer) (*Report, error)
	Typing(ctx context.Context, forumID, userID string, isTyping bool) (*Report, error)
}

var _ Emitter = (*EventEmitter)(nil)

type EventEmitter struct {
	broadcaster Broadcaster
	presence    presence.Presencer
	history     Historian
	directory   Directorer
	logger      *slog.Logger
}

func NewEventEmitter(
	b Broadcaster,
	pres presence.Presencer,
	hist Historian,
	dir Directorer,
	logger *slog.Logger,
) *EventEmitter {
	return &EventEmitter{
		broadcaster: b,
		presence:    pres,
		history:     hist,
		directory:   dir,
		logger:      logger,
	}
}

// Emit applies the side effects of ev and routes it by kind: forum creation
// goes to everyone, everything else to the room.
func (e *EventEmitter) Emit(ctx context.Context, ev event.Eventer) (*Report, error) {
	if ev == nil {
		return nil, errors.NotValidf("nil event")
	}
	switch ev.GetKind().Scope() {
	case event.ScopeAll:
		e.apply(ctx, ev)
		return e.broadcaster.BroadcastToAll(ctx, ev)
	case event.ScopeRoom:
		e.apply(ctx, ev)
		return e.broadcaster.BroadcastToRoom(ctx, ev.GetRoomID(), ev)
	default:
		return nil, errors.NotValidf("event type %q cannot be emitted", ev.GetKind())
	}
}

// EmitToUser delivers ev to a single user's connections regardless of kind.
func (e *EventEmitter) EmitToUser(ctx context.Context, userID string, ev event.Eventer) (*Report, error) {
	if ev == nil {
		return nil, errors.NotValidf("nil event")
	}
	if ev.GetKind().Scope() == event.ScopeNone {
		return nil, errors.NotValidf("event type %q cannot be emitted", ev.GetKind())
	}
	return e.broadcaster.BroadcastToUser(ctx, userID, ev)
}

// Typing records the indicator of userID in forumID and relays it to the room.
func (e *EventEmitter) Typing(ctx context.Context, forumID, userID string, isTyping bool) (*Report, error) {
	if forumID == "" || userID == "" {
		return nil, errors.NotValidf("typing without forumId/userId")
	}
	if _, err := e.directory.Forum(ctx, forumID); err != nil {
		return nil, err
	}
	user, err := e.directory.User(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.Emit(ctx, event.NewTypingEvent(forumID, userID, user.DisplayName(), isTyping))
}

// apply runs the store side effects of ev. They are best-effort: a failure is
// logged and the fan-out still happens.
func (e *EventEmitter) apply(ctx context.Context, ev event.Eventer) {
	var err error
	switch v := ev.(type) {
	case *event.MessageEvent:
		if v.GetKind() == event.MessageEdited {
			err = e.history.Edit(ctx, v.Message)
			break
		}
		err = e.history.Append(ctx, v.Message)
		if cerr := e.presence.ClearTyping(ctx, v.RoomID, v.Message.UserID); err == nil {
			err = cerr
		}
	case *event.MessageDeletedEvent:
		err = e.history.Remove(ctx, v.RoomID, v.MessageID)
	case *event.TypingEvent:
		if v.IsTyping {
			err = e.presence.SetTyping(ctx, v.RoomID, v.UserID, v.UserName)
		} else {
			err = e.presence.ClearTyping(ctx, v.RoomID, v.UserID)
		}
	case *event.MembershipEvent:
		e.directory.InvalidateUser(v.UserID)
	}
	if err != nil {
		e.logger.Warn("[EMIT] side effect failed",
			"event_id", ev.GetID(),
			"type", ev.GetKind(),
			"room_id", ev.GetRoomID(),
			"err", err,
		)
	}
}
