package interfaces

// Connection is the engine's view of a live client channel.
// ARCHITECTURAL DISCOVERY: The transport layer owns the connection lifetime;
// components holding a Connection only observe it and push frames through it.
type Connection interface {
	// Push serializes v and queues it for the client. It is the single
	// push-or-drop primitive: a closed or stalled connection drops the frame
	// and reports false, and callers never treat that as a send failure.
	Push(v interface{}) bool

	// GetUserID returns the authenticated identity owning the connection
	GetUserID() string
}
