package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const EventSource = "im-forum-delivery"

// OutboundEventer defines the contract for events that are being published
// from this service to the outside world (e.g., presence transitions).
type OutboundEventer interface {
	GetRoutingKey() string
	ToJSON() ([]byte, error)
}

var _ OutboundEventer = (*OutboundEvent)(nil)

// OutboundEvent is a concrete implementation for publishing.
type OutboundEvent struct {
	ID         string `json:"id"`
	Source     string `json:"source"`
	Kind       string `json:"kind"`
	UserID     string `json:"userId"`
	Payload    any    `json:"payload"`
	Timestamp  int64  `json:"timestamp"`
	routingKey string
}

// NewPresenceChangedEvent wraps a presence transition for the bus.
// Routing key: im_forum.presence.{user_id}.changed
func NewPresenceChangedEvent(change PresenceChange) *OutboundEvent {
	return &OutboundEvent{
		ID:         uuid.NewString(),
		Source:     EventSource,
		Kind:       "presence_changed",
		UserID:     change.UserID,
		Payload:    change,
		Timestamp:  time.Now().UnixMilli(),
		routingKey: "im_forum.presence." + change.UserID + ".changed",
	}
}

func (e *OutboundEvent) GetRoutingKey() string   { return e.routingKey }
func (e *OutboundEvent) ToJSON() ([]byte, error) { return json.Marshal(e) }
