package chat

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"qchat/pkg/interfaces"
	"qchat/pkg/protocol"
)

// Sender writes frames to the relay. Satisfied by client.Session.
type Sender interface {
	Send(f *protocol.Frame) error
}

// Events are the presentation callbacks. They run synchronously after the
// corresponding record has been persisted, so a handler that crashes the
// process never loses the message it was shown.
type Events struct {
	OnMessage       func(m *protocol.Message)
	OnFriendRequest func(r *protocol.FriendRequestPayload)
	OnFriendAccept  func(c *protocol.Contact)
	OnFriendRemove  func(userID string)
}

// Messenger couples the relay session to the durable local stores. Outbound
// messages are persisted before the transport write; inbound messages are
// persisted before the presentation callback fires. The relay gives no
// delivery acknowledgment, so SENT means only that the local write succeeded.
type Messenger struct {
	self     protocol.Contact
	sender   Sender
	messages interfaces.MessageStore
	contacts interfaces.ContactStore
	events   Events
	log      *slog.Logger

	now func() time.Time
}

// NewMessenger wires a messenger for the user described by self.
func NewMessenger(self protocol.Contact, sender Sender, messages interfaces.MessageStore, contacts interfaces.ContactStore, events Events, log *slog.Logger) *Messenger {
	return &Messenger{
		self:     self,
		sender:   sender,
		messages: messages,
		contacts: contacts,
		events:   events,
		log:      log,
		now:      time.Now,
	}
}

// SendText sends a text message to targetUserID. The returned message carries
// the final local status: SENT when the transport write succeeded, FAILED
// otherwise (the error says why). Either way the message is on disk first and
// survives a crash or disconnect.
func (m *Messenger) SendText(targetUserID, content string) (*protocol.Message, error) {
	return m.send(targetUserID, content, protocol.MessageText)
}

// SendImage sends an image message; content is the image reference.
func (m *Messenger) SendImage(targetUserID, content string) (*protocol.Message, error) {
	return m.send(targetUserID, content, protocol.MessageImage)
}

func (m *Messenger) send(targetUserID, content string, messageType protocol.MessageType) (*protocol.Message, error) {
	conv, err := m.ensureConversation(targetUserID)
	if err != nil {
		return nil, err
	}

	msg := &protocol.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       m.self.ID,
		Content:        content,
		Type:           messageType,
		Status:         protocol.StatusPending,
		Timestamp:      m.now().UnixMilli(),
	}
	if err := m.messages.SaveMessage(msg); err != nil {
		return nil, fmt.Errorf("failed to persist outbound message: %w", err)
	}

	conv.UpdatedAt = msg.Timestamp
	conv.LastMessageID = msg.ID
	if err := m.messages.UpsertConversation(conv); err != nil {
		return nil, err
	}

	frame, err := protocol.NewRelay(protocol.FrameChat, targetUserID, msg)
	if err != nil {
		return nil, err
	}
	if sendErr := m.sender.Send(frame); sendErr != nil {
		msg.Status = protocol.StatusFailed
		if err := m.messages.UpdateMessageStatus(msg.ID, protocol.StatusFailed); err != nil {
			m.log.Error("failed to record message failure", "message_id", msg.ID, "error", err)
		}
		return msg, sendErr
	}

	msg.Status = protocol.StatusSent
	if err := m.messages.UpdateMessageStatus(msg.ID, protocol.StatusSent); err != nil {
		return msg, err
	}
	return msg, nil
}

// RetryMessage re-sends a previously FAILED message to its conversation peer.
// The record moves back to PENDING on disk before the new transport attempt.
func (m *Messenger) RetryMessage(msg *protocol.Message) error {
	conv, found, err := m.messages.Conversation(msg.ConversationID)
	if err != nil {
		return err
	}
	if !found {
		return ErrUnknownConversation
	}

	msg.Status = protocol.StatusPending
	if err := m.messages.SaveMessage(msg); err != nil {
		return err
	}

	frame, err := protocol.NewRelay(protocol.FrameChat, conv.ParticipantID, msg)
	if err != nil {
		return err
	}
	if sendErr := m.sender.Send(frame); sendErr != nil {
		msg.Status = protocol.StatusFailed
		if err := m.messages.UpdateMessageStatus(msg.ID, protocol.StatusFailed); err != nil {
			m.log.Error("failed to record message failure", "message_id", msg.ID, "error", err)
		}
		return sendErr
	}
	msg.Status = protocol.StatusSent
	return m.messages.UpdateMessageStatus(msg.ID, protocol.StatusSent)
}

// HandleFrame processes an inbound application frame. Wire it as the
// session's OnFrame handler.
func (m *Messenger) HandleFrame(f *protocol.Frame) {
	var err error
	switch f.Type {
	case protocol.FrameChat:
		err = m.handleChat(f)
	case protocol.FrameFriendRequest:
		err = m.handleFriendRequest(f)
	case protocol.FrameFriendAccept:
		err = m.handleFriendAccept(f)
	case protocol.FrameFriendRemove:
		err = m.handleFriendRemove(f)
	default:
		m.log.Warn("unexpected frame type", "type", f.Type)
		return
	}
	if err != nil {
		m.log.Warn("dropping inbound frame", "type", f.Type, "error", err)
	}
}

// handleChat persists an inbound message as DELIVERED under the local
// conversation with its sender, then surfaces it. The sender's own
// conversation ID travels in the payload but is meaningless here; each side
// keys conversations by the peer.
func (m *Messenger) handleChat(f *protocol.Frame) error {
	msg, err := protocol.DecodeChatPayload(f.Payload)
	if err != nil {
		return err
	}

	conv, err := m.ensureConversation(msg.SenderID)
	if err != nil {
		return err
	}
	msg.ConversationID = conv.ID
	msg.Status = protocol.StatusDelivered
	if err := m.messages.SaveMessage(msg); err != nil {
		return fmt.Errorf("failed to persist inbound message: %w", err)
	}

	conv.UnreadCount++
	conv.UpdatedAt = msg.Timestamp
	conv.LastMessageID = msg.ID
	if err := m.messages.UpsertConversation(conv); err != nil {
		return err
	}

	if h := m.events.OnMessage; h != nil {
		h(msg)
	}
	return nil
}

func (m *Messenger) handleFriendRequest(f *protocol.Frame) error {
	req, err := protocol.DecodeFriendRequestPayload(f.Payload)
	if err != nil {
		return err
	}
	if err := m.contacts.PutFriendRequest(req); err != nil {
		return err
	}
	if h := m.events.OnFriendRequest; h != nil {
		h(req)
	}
	return nil
}

// handleFriendAccept records the new friendship on the requesting side: the
// accepter's profile enters the contact book and a conversation is opened.
func (m *Messenger) handleFriendAccept(f *protocol.Frame) error {
	accept, err := protocol.DecodeFriendAcceptPayload(f.Payload)
	if err != nil {
		return err
	}
	if err := m.contacts.PutContact(&accept.User); err != nil {
		return err
	}
	if _, err := m.ensureConversation(accept.User.ID); err != nil {
		return err
	}
	if h := m.events.OnFriendAccept; h != nil {
		h(&accept.User)
	}
	return nil
}

func (m *Messenger) handleFriendRemove(f *protocol.Frame) error {
	remove, err := protocol.DecodeFriendRemovePayload(f.Payload)
	if err != nil {
		return err
	}
	if err := m.contacts.RemoveContact(remove.UserID); err != nil {
		return err
	}
	if err := m.messages.RemoveConversationByParticipant(remove.UserID); err != nil {
		return err
	}
	if h := m.events.OnFriendRemove; h != nil {
		h(remove.UserID)
	}
	return nil
}

// SendFriendRequest asks targetUserID for friendship. The sender embeds its
// own profile; the relay never adds sender identity on forward.
func (m *Messenger) SendFriendRequest(targetUserID string) error {
	payload := &protocol.FriendRequestPayload{
		FromUser:  m.self,
		Timestamp: m.now().UnixMilli(),
	}
	frame, err := protocol.NewRelay(protocol.FrameFriendRequest, targetUserID, payload)
	if err != nil {
		return err
	}
	return m.sender.Send(frame)
}

// AcceptFriendRequest accepts the pending request from fromUserID: the
// requester joins the contact book, a conversation opens, the pending entry
// is cleared, and a FRIEND_ACCEPT carrying our profile is answered.
func (m *Messenger) AcceptFriendRequest(fromUserID string) error {
	pending, err := m.contacts.FriendRequests()
	if err != nil {
		return err
	}
	var request *protocol.FriendRequestPayload
	for _, r := range pending {
		if r.FromUser.ID == fromUserID {
			request = r
			break
		}
	}
	if request == nil {
		return ErrNoPendingRequest
	}

	if err := m.contacts.PutContact(&request.FromUser); err != nil {
		return err
	}
	if _, err := m.ensureConversation(fromUserID); err != nil {
		return err
	}
	if err := m.contacts.RemoveFriendRequest(fromUserID); err != nil {
		return err
	}

	frame, err := protocol.NewRelay(protocol.FrameFriendAccept, fromUserID, &protocol.FriendAcceptPayload{User: m.self})
	if err != nil {
		return err
	}
	return m.sender.Send(frame)
}

// RemoveFriend drops targetUserID locally and signals the removal. The local
// removal happens first; the signal is best effort like every relay frame.
func (m *Messenger) RemoveFriend(targetUserID string) error {
	if err := m.contacts.RemoveContact(targetUserID); err != nil {
		return err
	}
	if err := m.messages.RemoveConversationByParticipant(targetUserID); err != nil {
		return err
	}

	frame, err := protocol.NewRelay(protocol.FrameFriendRemove, targetUserID, &protocol.FriendRemovePayload{UserID: m.self.ID})
	if err != nil {
		return err
	}
	return m.sender.Send(frame)
}

// History returns a conversation's messages in chronological order.
func (m *Messenger) History(conversationID string) ([]*protocol.Message, error) {
	return m.messages.MessagesByConversation(conversationID)
}

// Conversations returns all conversations, most recent first.
func (m *Messenger) Conversations() ([]*protocol.Conversation, error) {
	return m.messages.Conversations()
}

// MarkRead zeroes a conversation's unread counter.
func (m *Messenger) MarkRead(conversationID string) error {
	return m.messages.MarkConversationRead(conversationID)
}

// Contacts returns the contact book.
func (m *Messenger) Contacts() ([]*protocol.Contact, error) {
	return m.contacts.Contacts()
}

// FriendRequests returns the pending inbox.
func (m *Messenger) FriendRequests() ([]*protocol.FriendRequestPayload, error) {
	return m.contacts.FriendRequests()
}

func (m *Messenger) ensureConversation(participantID string) (*protocol.Conversation, error) {
	conv, found, err := m.messages.ConversationByParticipant(participantID)
	if err != nil {
		return nil, err
	}
	if found {
		return conv, nil
	}
	conv = &protocol.Conversation{
		ID:            uuid.NewString(),
		ParticipantID: participantID,
		UpdatedAt:     m.now().UnixMilli(),
	}
	if err := m.messages.UpsertConversation(conv); err != nil {
		return nil, err
	}
	return conv, nil
}
