package event

import (
	"github.com/juju/errors"

	"github.com/webitel/im-forum-delivery/internal/domain/model"
)

var (
	_ Eventer = (*MessageEvent)(nil)
	_ Eventer = (*MessageDeletedEvent)(nil)
)

// MessageEvent carries a full message for both "message" and "message_edited".
type MessageEvent struct {
	Header
	RoomID  string        `json:"roomId"`
	Message model.Message `json:"message"`
}

func NewMessageEvent(msg model.Message) *MessageEvent {
	return &MessageEvent{Header: newHeader(MessageCreated), RoomID: msg.ForumID, Message: msg}
}

// NewMessageEditedEvent marks the message as edited before wrapping it.
func NewMessageEditedEvent(msg model.Message) *MessageEvent {
	msg.Edited = true
	return &MessageEvent{Header: newHeader(MessageEdited), RoomID: msg.ForumID, Message: msg}
}

func (e *MessageEvent) GetRoomID() string { return e.RoomID }

func (e *MessageEvent) validate() error {
	if e.RoomID == "" {
		e.RoomID = e.Message.ForumID
	}
	switch {
	case e.RoomID == "":
		return errors.NotValidf("%s without roomId", e.Type)
	case e.Message.ID == "":
		return errors.NotValidf("%s without message.id", e.Type)
	case e.Message.UserID == "":
		return errors.NotValidf("%s without message.userId", e.Type)
	}
	if e.Message.ForumID == "" {
		e.Message.ForumID = e.RoomID
	}
	return nil
}

type MessageDeletedEvent struct {
	Header
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
}

func NewMessageDeletedEvent(roomID, messageID string) *MessageDeletedEvent {
	return &MessageDeletedEvent{Header: newHeader(MessageDeleted), RoomID: roomID, MessageID: messageID}
}

func (e *MessageDeletedEvent) GetRoomID() string { return e.RoomID }

func (e *MessageDeletedEvent) validate() error {
	if e.RoomID == "" || e.MessageID == "" {
		return errors.NotValidf("message_deleted without roomId/messageId")
	}
	return nil
}
