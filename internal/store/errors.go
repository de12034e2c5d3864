package store

import "errors"

var (
	ErrStoreClosed        = errors.New("store is closed")
	ErrWriteTimeout       = errors.New("store write timed out")
	ErrMessageNotFound    = errors.New("message not found")
	ErrNoSuchConversation = errors.New("conversation not found")
)
