package event

import (
	"encoding/json"

	"github.com/juju/errors"
)

type validator interface {
	validate() error
}

// Encode returns the wire form of ev. The result is cached on the event so a
// fan-out to many connections marshals exactly once.
func Encode(ev Eventer) ([]byte, error) {
	if cached, ok := ev.GetCached().([]byte); ok {
		return cached, nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, errors.Annotatef(err, "encode %s event", ev.GetKind())
	}
	ev.SetCached(data)
	return data, nil
}

// Decode reconstructs a typed event from its wire form, filling a missing id
// or timestamp and enforcing the fields each kind requires.
func Decode(data []byte) (Eventer, error) {
	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, errors.NewNotValid(err, "event is not a JSON object")
	}

	var ev interface {
		Eventer
		fill()
	}
	switch head.Type {
	case Connected:
		ev = &ConnectedEvent{}
	case MessageCreated, MessageEdited:
		ev = &MessageEvent{}
	case MessageDeleted:
		ev = &MessageDeletedEvent{}
	case UserJoined, UserLeft:
		ev = &MembershipEvent{}
	case Typing:
		ev = &TypingEvent{}
	case TypingUpdate:
		ev = &TypingUpdateEvent{}
	case ForumCreated:
		ev = &ForumCreatedEvent{}
	case "":
		return nil, errors.NotValidf("event without type")
	default:
		return nil, errors.NotValidf("event type %q", head.Type)
	}

	if err := json.Unmarshal(data, ev); err != nil {
		return nil, errors.NewNotValid(err, string(head.Type)+" payload")
	}
	ev.fill()
	if v, ok := ev.(validator); ok {
		if err := v.validate(); err != nil {
			return nil, err
		}
	}
	return ev, nil
}

// Envelope is a queued frame: the decoded header plus the untouched bytes
// that are streamed to the client.
type Envelope struct {
	ID        string `json:"id"`
	Type      Kind   `json:"type"`
	Timestamp int64  `json:"timestamp"`
	RoomID    string `json:"roomId,omitempty"`

	Raw json.RawMessage `json:"-"`
}

func ParseEnvelope(data []byte) (*Envelope, error) {
	env := &Envelope{}
	if err := json.Unmarshal(data, env); err != nil {
		return nil, errors.NewNotValid(err, "queued frame")
	}
	env.Raw = json.RawMessage(data)
	return env, nil
}
