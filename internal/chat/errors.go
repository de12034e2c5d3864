package chat

import "errors"

var (
	ErrNoPendingRequest    = errors.New("no pending friend request from that user")
	ErrUnknownConversation = errors.New("unknown conversation")
)
