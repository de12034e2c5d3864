package protocol

import (
	"encoding/json"
)

// FrameType discriminates the relay frame union.
type FrameType string

const (
	FrameAuth          FrameType = "AUTH"
	FramePing          FrameType = "PING"
	FramePong          FrameType = "PONG"
	FrameChat          FrameType = "CHAT"
	FrameFriendRequest FrameType = "FRIEND_REQUEST"
	FrameFriendAccept  FrameType = "FRIEND_ACCEPT"
	FrameFriendRemove  FrameType = "FRIEND_REMOVE"
	FrameStatusUpdate  FrameType = "STATUS_UPDATE"
	FrameOnlineUsers   FrameType = "ONLINE_USERS_LIST"
	FrameForceLogout   FrameType = "FORCE_LOGOUT"
)

// Presence status values carried by STATUS_UPDATE frames.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Frame is one logical unit of the wire protocol: a single JSON object per
// websocket text message, discriminated by Type. Only the fields belonging to
// the tag are populated; Validate enforces the shape. Payload is opaque to the
// relay and interpreted by the application layer on the receiving side.
type Frame struct {
	Type         FrameType       `json:"type"`
	UserID       string          `json:"userId,omitempty"`
	TargetUserID string          `json:"targetUserId,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	UserIDs      []string        `json:"userIds,omitempty"`
	Status       string          `json:"status,omitempty"`
	Reason       string          `json:"reason,omitempty"`
}

// NewAuth builds the client→server authentication frame.
func NewAuth(userID string) *Frame {
	return &Frame{Type: FrameAuth, UserID: userID}
}

// NewPing builds the client→server keepalive frame.
func NewPing() *Frame {
	return &Frame{Type: FramePing}
}

// NewPong builds the server→client keepalive echo.
func NewPong() *Frame {
	return &Frame{Type: FramePong}
}

// NewRelay builds an outbound application frame addressed to targetUserID.
// The relay strips TargetUserID before forwarding; any sender identity the
// recipient needs must already be embedded in payload.
func NewRelay(frameType FrameType, targetUserID string, payload any) (*Frame, error) {
	if !IsRelayType(frameType) {
		return nil, ErrNotRelayable
	}
	if targetUserID == "" {
		return nil, ErrMissingTarget
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Frame{Type: frameType, TargetUserID: targetUserID, Payload: raw}, nil
}

// NewStatusUpdate builds the presence broadcast frame.
func NewStatusUpdate(userID, status string) *Frame {
	return &Frame{Type: FrameStatusUpdate, UserID: userID, Status: status}
}

// NewOnlineUsers builds the point-in-time presence snapshot sent in answer to
// AUTH. It is not a live subscription: later arrivals show up only through
// STATUS_UPDATE broadcasts.
func NewOnlineUsers(userIDs []string) *Frame {
	if userIDs == nil {
		userIDs = []string{}
	}
	return &Frame{Type: FrameOnlineUsers, UserIDs: userIDs}
}

// NewForceLogout builds the supersession notice sent to an evicted session.
func NewForceLogout(reason string) *Frame {
	return &Frame{Type: FrameForceLogout, Reason: reason}
}

// IsRelayType reports whether frames of this type are forwarded verbatim to
// the target identity rather than handled by the relay itself.
func IsRelayType(t FrameType) bool {
	switch t {
	case FrameChat, FrameFriendRequest, FrameFriendAccept, FrameFriendRemove:
		return true
	default:
		return false
	}
}

// Forwarded returns the copy of a relay frame that actually crosses to the
// target: type and payload only, addressing stripped.
func (f *Frame) Forwarded() *Frame {
	return &Frame{Type: f.Type, Payload: f.Payload}
}

// Validate checks that the frame carries the fields its tag requires. The
// switch is exhaustive over known tags; unknown tags fail with
// ErrUnknownFrameType so the caller can drop the frame without tearing the
// connection down.
func (f *Frame) Validate() error {
	switch f.Type {
	case FrameAuth:
		if f.UserID == "" {
			return ErrMissingUserID
		}
	case FramePing, FramePong, FrameOnlineUsers:
		// No required fields.
	case FrameChat, FrameFriendRequest, FrameFriendAccept, FrameFriendRemove:
		// TargetUserID is present client→server and stripped on forward, so
		// the same frame shape is valid in both directions. An absent target
		// on the inbound leg is a routing decision, not a shape violation.
	case FrameStatusUpdate:
		if f.UserID == "" {
			return ErrMissingUserID
		}
		if f.Status != StatusOnline && f.Status != StatusOffline {
			return ErrInvalidStatus
		}
	case FrameForceLogout:
		// Reason is informational and may be empty.
	default:
		return ErrUnknownFrameType
	}
	return nil
}

// Decode parses one wire frame and validates its shape.
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, ErrMalformedFrame
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Encode serializes a frame for the wire.
func Encode(f *Frame) ([]byte, error) {
	return json.Marshal(f)
}
