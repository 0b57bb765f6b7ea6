package model

import (
	"time"

	"github.com/google/uuid"
)

// Transport names the wire protocol a connection streams over.
type Transport string

const (
	TransportSSE       Transport = "sse"
	TransportWebSocket Transport = "ws"
)

// [METADATA] EXPORTED FOR TRANSPORT AND ANALYTICS LAYERS
type ConnectMetadata struct {
	Transport Transport `json:"transport"`
	RemoteIP  string    `json:"remoteIp,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
}

// Connection is the registry record of one live client stream.
// It is owned by its session; the registry only stores a copy.
type Connection struct {
	ID            string          `json:"id"`
	UserID        string          `json:"userId"`
	CreatedAt     int64           `json:"createdAt"`
	LastHeartbeat int64           `json:"lastHeartbeat"`
	Metadata      ConnectMetadata `json:"metadata"`
}

// NewConnection allocates a fresh connection identity for userID.
func NewConnection(userID string, meta ConnectMetadata) *Connection {
	now := time.Now().UnixMilli()
	return &Connection{
		ID:            uuid.NewString(),
		UserID:        userID,
		CreatedAt:     now,
		LastHeartbeat: now,
		Metadata:      meta,
	}
}

// Age is the time elapsed since the connection was created.
func (c *Connection) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(c.CreatedAt))
}
