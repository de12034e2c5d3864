package protocol

import "errors"

// Frame shape errors
var (
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrUnknownFrameType = errors.New("unknown frame type")
	ErrMissingUserID    = errors.New("frame requires userId")
	ErrMissingTarget    = errors.New("frame requires targetUserId")
	ErrInvalidStatus    = errors.New("status must be online or offline")
	ErrNotRelayable     = errors.New("frame type is not relayable")
)

// Payload errors
var (
	ErrMalformedPayload = errors.New("malformed payload")
)
