package model

// Stats is a point-in-time view of the fan-out core.
type Stats struct {
	LiveConnections    int            `json:"liveConnections"`
	LocalSessions      int            `json:"localSessions"`
	ActiveUsers        int            `json:"activeUsers"`
	EnqueuedTotal      int64          `json:"enqueuedTotal"`
	ConnectionsPerUser map[string]int `json:"connectionsPerUser,omitempty"`
}
