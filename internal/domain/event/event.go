package event

import (
	"time"

	"github.com/google/uuid"
)

// Kind is the wire discriminator carried in the "type" field.
type Kind string

const (
	Connected      Kind = "connected"     // [SYSTEM]
	TypingUpdate   Kind = "typing_update" // [SYSTEM]
	MessageCreated Kind = "message"
	MessageEdited  Kind = "message_edited"
	MessageDeleted Kind = "message_deleted"
	UserJoined     Kind = "user_joined"
	UserLeft       Kind = "user_left"
	Typing         Kind = "typing"
	ForumCreated   Kind = "forum_created"
)

func (k Kind) String() string { return string(k) }

// Scope tells the emitter which broadcast a kind is routed through.
type Scope int8

const (
	ScopeNone Scope = iota // server generated, never emitted by collaborators
	ScopeAll
	ScopeRoom
)

func (k Kind) Scope() Scope {
	switch k {
	case ForumCreated:
		return ScopeAll
	case MessageCreated, MessageEdited, MessageDeleted, UserJoined, UserLeft, Typing:
		return ScopeRoom
	default:
		return ScopeNone
	}
}

// Emittable lists the kinds collaborators may publish.
func Emittable() []Kind {
	return []Kind{MessageCreated, MessageEdited, MessageDeleted, UserJoined, UserLeft, Typing, ForumCreated}
}

// Eventer defines the contract for all data packets flowing through the queues.
type Eventer interface {
	GetID() string
	GetKind() Kind
	GetRoomID() string
	GetOccurredAt() int64
	GetCached() any
	SetCached(any)
}

// Header is embedded by every concrete event; its fields are flattened into
// the top level of the wire object.
type Header struct {
	ID        string `json:"id"`
	Type      Kind   `json:"type"`
	Timestamp int64  `json:"timestamp"`

	cached any // wire encoding, computed once per event
}

func newHeader(kind Kind) Header {
	return Header{
		ID:        uuid.NewString(),
		Type:      kind,
		Timestamp: time.Now().UnixMilli(),
	}
}

func (h *Header) GetID() string        { return h.ID }
func (h *Header) GetKind() Kind        { return h.Type }
func (h *Header) GetOccurredAt() int64 { return h.Timestamp }
func (h *Header) GetCached() any       { return h.cached }
func (h *Header) SetCached(v any)      { h.cached = v }

// fill completes headers of events decoded from collaborators.
func (h *Header) fill() {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.Timestamp == 0 {
		h.Timestamp = time.Now().UnixMilli()
	}
}
