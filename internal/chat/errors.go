package chat

import (
	"errors"
	"fmt"

	"github.com/supportchat/internal/event"
)

var (
	// ErrNotConnected is the connectivity error: the push channel is unavailable.
	ErrNotConnected = event.ErrNotConnected
	ErrNoActiveChat = errors.New("no active chat")
	ErrChatNotFound = errors.New("chat not found")
	ErrChatClosed   = errors.New("chat is closed")
	ErrEmptyMessage = errors.New("message text is empty")
)

// CollaboratorError wraps a failed REST call. Store state is left at its
// pre-call value, so the caller may simply re-issue the action.
type CollaboratorError struct {
	Op     string
	ChatID string
	Err    error
}

func (e *CollaboratorError) Error() string {
	if e.ChatID == "" {
		return fmt.Sprintf("chat: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("chat: %s %s: %v", e.Op, e.ChatID, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// ChatCreationError is returned by StartChat when the create call fails.
type ChatCreationError struct {
	Err error
}

func (e *ChatCreationError) Error() string { return "chat: start chat: " + e.Err.Error() }

func (e *ChatCreationError) Unwrap() error { return e.Err }
