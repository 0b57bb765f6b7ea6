package marshaller

// SSEKeepAlive is a comment line; clients ignore it.
var SSEKeepAlive = []byte(": ping\n\n")

// SSEFrame wraps one JSON event as a server-sent event. The encoded JSON never
// contains raw newlines, so a single data line is enough.
func SSEFrame(data []byte) []byte {
	frame := make([]byte, 0, len(data)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, data...)
	frame = append(frame, '\n', '\n')
	return frame
}
