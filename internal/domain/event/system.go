package event

import (
	"github.com/juju/errors"

	"github.com/webitel/im-forum-delivery/internal/domain/model"
)

var (
	_ Eventer = (*ConnectedEvent)(nil)
	_ Eventer = (*ForumCreatedEvent)(nil)
)

// ConnectedEvent is the first frame of every session so the client can
// correlate its own connection id without a round trip.
type ConnectedEvent struct {
	Header
	ConnectionID string `json:"connectionId"`
}

func NewConnectedEvent(connID string) *ConnectedEvent {
	return &ConnectedEvent{Header: newHeader(Connected), ConnectionID: connID}
}

func (e *ConnectedEvent) GetRoomID() string { return "" }

// ForumCreatedEvent is global: every client sees it regardless of membership.
type ForumCreatedEvent struct {
	Header
	Forum model.Forum `json:"forum"`
}

func NewForumCreatedEvent(f model.Forum) *ForumCreatedEvent {
	return &ForumCreatedEvent{Header: newHeader(ForumCreated), Forum: f}
}

func (e *ForumCreatedEvent) GetRoomID() string { return "" }

func (e *ForumCreatedEvent) validate() error {
	if e.Forum.ID == "" {
		return errors.NotValidf("forum_created without forum.id")
	}
	if e.Forum.Participants == nil {
		e.Forum.Participants = []string{}
	}
	return nil
}
