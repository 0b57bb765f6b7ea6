package model

type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
)

// Presence is derived from live connections; the stored copy only carries
// the last transition so offline users can report when they were last seen.
type Presence struct {
	UserID      string         `json:"userId"`
	Status      PresenceStatus `json:"status"`
	Connections int            `json:"connections"`
	LastSeen    int64          `json:"lastSeen,omitempty"`
	UpdatedAt   int64          `json:"updatedAt"`
}

// PresenceChange is published whenever a user flips between online and offline.
type PresenceChange struct {
	UserID    string         `json:"userId"`
	OldStatus PresenceStatus `json:"oldStatus"`
	NewStatus PresenceStatus `json:"newStatus"`
	Timestamp int64          `json:"timestamp"`
}
