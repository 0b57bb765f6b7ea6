package registry

// Key families owned by the registry and the queue. The store driver adds
// its own deployment prefix.
const (
	keyLiveConnections = "conn:live"
	keyEnqueuedCounter = "stats:events"
)

func keyConnection(connID string) string { return "conn:" + connID }

func keyQueue(connID string) string { return "conn:" + connID + ":queue" }

func keyUserConnections(userID string) string { return "user:" + userID + ":conns" }
