package event

import "github.com/juju/errors"

var (
	_ Eventer = (*TypingEvent)(nil)
	_ Eventer = (*TypingUpdateEvent)(nil)
)

// TypingEvent is the per-keystroke signal relayed to the room.
type TypingEvent struct {
	Header
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	IsTyping bool   `json:"isTyping"`
}

func NewTypingEvent(roomID, userID, userName string, isTyping bool) *TypingEvent {
	return &TypingEvent{
		Header:   newHeader(Typing),
		RoomID:   roomID,
		UserID:   userID,
		UserName: userName,
		IsTyping: isTyping,
	}
}

func (e *TypingEvent) GetRoomID() string { return e.RoomID }

func (e *TypingEvent) validate() error {
	if e.RoomID == "" || e.UserID == "" {
		return errors.NotValidf("typing without roomId/userId")
	}
	return nil
}

// TypingUpdateEvent is the self-healing snapshot of who is typing in a room,
// keyed by user id with display names as values.
type TypingUpdateEvent struct {
	Header
	RoomID      string            `json:"roomId"`
	TypingUsers map[string]string `json:"typingUsers"`
}

func NewTypingUpdateEvent(roomID string, typing map[string]string) *TypingUpdateEvent {
	if typing == nil {
		typing = map[string]string{}
	}
	return &TypingUpdateEvent{Header: newHeader(TypingUpdate), RoomID: roomID, TypingUsers: typing}
}

func (e *TypingUpdateEvent) GetRoomID() string { return e.RoomID }
