package entities

// ClientSocket abstracts one live client connection so the actors never
// touch the websocket library directly. The comm package provides the
// gorilla-backed implementation; tests use in-memory fakes.
type ClientSocket interface {
	// SendFrame serializes and writes the frame, defaulting its timestamp.
	SendFrame(frame *Frame) error

	// Close sends a close control message with the given code and releases
	// the underlying connection.
	Close(code int, reason string) error

	// IsOpen reports whether the connection is still usable for writes.
	IsOpen() bool
}
