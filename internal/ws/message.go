package ws

import (
	"time"

	"github.com/supportchat/internal/model"
)

type EventType string

// Frames exchanged with console peers on /ws.
const (
	EventStateChanged EventType = "state_changed"
	EventConnection   EventType = "connection"
	EventMessageSent  EventType = "message_sent"
	EventError        EventType = "error"

	EventSelectChat  EventType = "select_chat"
	EventSendMessage EventType = "send_message"
	EventMarkRead    EventType = "mark_read"
	EventLoadOlder   EventType = "load_older"
)

// IncomingMessage is what a console peer sends.
type IncomingMessage struct {
	Type   EventType `json:"type"`
	ChatID string    `json:"chatId,omitempty"`
	Text   string    `json:"text,omitempty"`
}

// OutgoingMessage is what the console hub sends to its peers.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// StatePayload tells peers which slice of the chat state to re-read.
type StatePayload struct {
	Kind   string    `json:"kind"`
	ChatID string    `json:"chatId,omitempty"`
	At     time.Time `json:"at"`
}

// ConnectionPayload reports the push channel state.
type ConnectionPayload struct {
	Connected bool   `json:"connected"`
	Mode      string `json:"mode"`
}

// MessageSentPayload acknowledges a send_message frame with the optimistic message.
type MessageSentPayload struct {
	Message model.Message `json:"message"`
}
