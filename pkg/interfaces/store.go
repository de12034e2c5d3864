package interfaces

import "qchat/pkg/protocol"

// MessageStore is the client-local durable store for chat messages and
// conversations. The durability coupling persists before transport writes on
// send, and before surfacing on receive, so implementations must make a
// completed call mean the record is on disk.
type MessageStore interface {
	SaveMessage(m *protocol.Message) error
	UpdateMessageStatus(id string, status protocol.MessageStatus) error
	MessagesByConversation(conversationID string) ([]*protocol.Message, error)

	UpsertConversation(c *protocol.Conversation) error
	Conversation(id string) (*protocol.Conversation, bool, error)
	ConversationByParticipant(participantID string) (*protocol.Conversation, bool, error)
	Conversations() ([]*protocol.Conversation, error)
	MarkConversationRead(id string) error
	RemoveConversationByParticipant(participantID string) error

	Close() error
}

// ContactStore is the client-local store for the contact book, the pending
// friend-request inbox, and free-form settings.
type ContactStore interface {
	PutContact(c *protocol.Contact) error
	Contact(id string) (*protocol.Contact, bool, error)
	Contacts() ([]*protocol.Contact, error)
	RemoveContact(id string) error

	PutFriendRequest(r *protocol.FriendRequestPayload) error
	FriendRequests() ([]*protocol.FriendRequestPayload, error)
	RemoveFriendRequest(fromUserID string) error

	PutSetting(key string, value any) error
	Setting(key string, out any) (bool, error)

	Close() error
}
