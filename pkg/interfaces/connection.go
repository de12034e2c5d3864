package interfaces

import "qchat/pkg/protocol"

// Conn is one live client connection as the relay core sees it.
//
// Implementations must make WriteFrame safe for concurrent use; the relay
// broadcasts presence from whichever handler goroutine triggered the change.
type Conn interface {
	// WriteFrame queues a frame for delivery to the peer. A non-nil error
	// means the transport is not writable; the relay treats the frame as
	// dropped and never retries.
	WriteFrame(f *protocol.Frame) error

	// Close tears the transport down and releases resources. Safe to call
	// more than once.
	Close() error

	// Identity returns the identity bound at AUTH time, or "" before
	// authentication.
	Identity() string

	// SetIdentity binds the claimed identity after a successful AUTH.
	SetIdentity(userID string)

	// Authenticated reports whether an AUTH frame has been accepted on this
	// connection.
	Authenticated() bool
}
