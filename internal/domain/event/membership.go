package event

import "github.com/juju/errors"

var _ Eventer = (*MembershipEvent)(nil)

// MembershipEvent announces a participant joining or leaving a forum.
// Participants is the forum's participant list after the change.
type MembershipEvent struct {
	Header
	RoomID       string   `json:"roomId"`
	UserID       string   `json:"userId"`
	UserName     string   `json:"userName"`
	Participants []string `json:"participants"`
}

func NewUserJoinedEvent(roomID, userID, userName string, participants []string) *MembershipEvent {
	return newMembership(UserJoined, roomID, userID, userName, participants)
}

func NewUserLeftEvent(roomID, userID, userName string, participants []string) *MembershipEvent {
	return newMembership(UserLeft, roomID, userID, userName, participants)
}

func newMembership(kind Kind, roomID, userID, userName string, participants []string) *MembershipEvent {
	if participants == nil {
		participants = []string{}
	}
	return &MembershipEvent{
		Header:       newHeader(kind),
		RoomID:       roomID,
		UserID:       userID,
		UserName:     userName,
		Participants: participants,
	}
}

func (e *MembershipEvent) GetRoomID() string { return e.RoomID }

func (e *MembershipEvent) validate() error {
	if e.RoomID == "" || e.UserID == "" {
		return errors.NotValidf("%s without roomId/userId", e.Type)
	}
	if e.Participants == nil {
		e.Participants = []string{}
	}
	return nil
}
