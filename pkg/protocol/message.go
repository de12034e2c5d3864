package protocol

import (
	"encoding/json"
	"time"
)

// MessageType distinguishes chat message content kinds.
type MessageType string

const (
	MessageText  MessageType = "TEXT"
	MessageImage MessageType = "IMAGE"
)

// MessageStatus tracks the client-local delivery state of a message.
//
// The relay issues no application-level acknowledgment, so the transitions are
// deliberately weak: SENT means the local transport write succeeded, nothing
// more. DELIVERED is reachable only on the receiving side, when an inbound
// CHAT frame is persisted. FAILED means the local write errored.
type MessageStatus string

const (
	StatusPending   MessageStatus = "PENDING"
	StatusSent      MessageStatus = "SENT"
	StatusDelivered MessageStatus = "DELIVERED"
	StatusFailed    MessageStatus = "FAILED"
)

// Message is the client-local chat record. The relay never sees this type as
// such; it travels as the opaque payload of a CHAT frame.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	SenderID       string        `json:"senderId"`
	Content        string        `json:"content"`
	Type           MessageType   `json:"type"`
	Status         MessageStatus `json:"status"`
	Timestamp      int64         `json:"timestamp"`
}

// Time returns the message timestamp as a time.Time.
func (m *Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// Contact is a user profile as exchanged inside friend-signal payloads and
// stored in the client contact book.
type Contact struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	Status    string `json:"status,omitempty"`
}

// Conversation is the client-local dialog record, one per contact.
type Conversation struct {
	ID            string `json:"id"`
	ParticipantID string `json:"participantId"`
	UnreadCount   int    `json:"unreadCount"`
	UpdatedAt     int64  `json:"updatedAt"`
	LastMessageID string `json:"lastMessageId,omitempty"`
}

// FriendRequestPayload is carried by FRIEND_REQUEST frames. The sender embeds
// its own profile because the relay does not add sender identity on forward.
type FriendRequestPayload struct {
	FromUser  Contact `json:"fromUser"`
	Timestamp int64   `json:"timestamp"`
}

// FriendAcceptPayload is carried by FRIEND_ACCEPT frames.
type FriendAcceptPayload struct {
	User Contact `json:"user"`
}

// FriendRemovePayload is carried by FRIEND_REMOVE frames.
type FriendRemovePayload struct {
	UserID string `json:"userId"`
}

// DecodeChatPayload parses the payload of an inbound CHAT frame.
func DecodeChatPayload(raw json.RawMessage) (*Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, ErrMalformedPayload
	}
	if m.ID == "" || m.ConversationID == "" || m.SenderID == "" {
		return nil, ErrMalformedPayload
	}
	return &m, nil
}

// DecodeFriendRequestPayload parses the payload of a FRIEND_REQUEST frame.
func DecodeFriendRequestPayload(raw json.RawMessage) (*FriendRequestPayload, error) {
	var p FriendRequestPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, ErrMalformedPayload
	}
	if p.FromUser.ID == "" {
		return nil, ErrMalformedPayload
	}
	return &p, nil
}

// DecodeFriendAcceptPayload parses the payload of a FRIEND_ACCEPT frame.
func DecodeFriendAcceptPayload(raw json.RawMessage) (*FriendAcceptPayload, error) {
	var p FriendAcceptPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, ErrMalformedPayload
	}
	if p.User.ID == "" {
		return nil, ErrMalformedPayload
	}
	return &p, nil
}

// DecodeFriendRemovePayload parses the payload of a FRIEND_REMOVE frame.
func DecodeFriendRemovePayload(raw json.RawMessage) (*FriendRemovePayload, error) {
	var p FriendRemovePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, ErrMalformedPayload
	}
	if p.UserID == "" {
		return nil, ErrMalformedPayload
	}
	return &p, nil
}
