package client

import "errors"

// Session state errors
var (
	ErrAlreadyConnected = errors.New("session already connecting or connected")
	ErrNotConnected     = errors.New("session not connected")
	ErrNoEndpoints      = errors.New("no candidate endpoints configured")
)

// Connect failure reasons. Callers get one of these (possibly wrapped) so a
// timeout, an explicit rejection, an unreachable relay and a supersession are
// always distinguishable; never a bare boolean.
var (
	ErrAuthTimeout         = errors.New("authentication round-trip timed out")
	ErrAuthRejected        = errors.New("authentication rejected by relay")
	ErrEndpointUnreachable = errors.New("no endpoint reachable")
	ErrSuperseded          = errors.New("session superseded: logged in elsewhere")
	ErrSessionClosed       = errors.New("session closed")
)
