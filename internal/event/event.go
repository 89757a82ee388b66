// Package event models the push-channel protocol: a closed set of inbound
// events, the outbound intents, and the JSON envelope both travel in.
package event

import (
	"github.com/supportchat/internal/model"
)

type Name string

const (
	NameNewMessage   Name = "new_message"
	NameNotification Name = "notification"
	NameStatusUpdate Name = "chat_status_update"
	NameMessagesRead Name = "messages_marked_read"
	NameSendMessage  Name = "send_message"
	NameMarkRead     Name = "mark_messages_read"
	NameJoinChat     Name = "join_chat"
)

// Event is an inbound push event. The set of implementations is closed:
// NewMessage, DirectNotification, StatusChange and ReadReceipt.
type Event interface {
	Name() Name
	ChatID() string
	sealed()
}

type NewMessage struct {
	Message model.Message `json:"message"`
}

func (e NewMessage) Name() Name     { return NameNewMessage }
func (e NewMessage) ChatID() string { return e.Message.ChatID }
func (NewMessage) sealed()          {}

// DirectNotification is the out-of-band alert fan-out. It may race the
// matching NewMessage or arrive through a different path.
type DirectNotification struct {
	Type    model.NotificationType `json:"type"`
	Chat    string                 `json:"chatId"`
	Message model.Message          `json:"message"`
}

func (e DirectNotification) Name() Name     { return NameNotification }
func (e DirectNotification) ChatID() string { return e.Chat }
func (DirectNotification) sealed()          {}

type StatusChange struct {
	Chat   string           `json:"chatId"`
	Status model.ChatStatus `json:"status"`
}

func (e StatusChange) Name() Name     { return NameStatusUpdate }
func (e StatusChange) ChatID() string { return e.Chat }
func (StatusChange) sealed()          {}

// ReadReceipt tells that one side has read a chat. ReaderRole is optional;
// when empty the receipt is attributed to the side opposite the viewer.
type ReadReceipt struct {
	Chat       string     `json:"chatId"`
	ReaderRole model.Role `json:"readerRole,omitempty"`
}

func (e ReadReceipt) Name() Name     { return NameMessagesRead }
func (e ReadReceipt) ChatID() string { return e.Chat }
func (ReadReceipt) sealed()          {}

// Intent is an outbound request emitted by the client.
type Intent interface {
	Name() Name
	ChatID() string
	intent()
}

type SendMessage struct {
	Chat     string `json:"chatId"`
	Text     string `json:"text"`
	ClientID string `json:"clientId,omitempty"`
}

func (i SendMessage) Name() Name     { return NameSendMessage }
func (i SendMessage) ChatID() string { return i.Chat }
func (SendMessage) intent()          {}

type MarkRead struct {
	Chat string `json:"chatId"`
}

func (i MarkRead) Name() Name     { return NameMarkRead }
func (i MarkRead) ChatID() string { return i.Chat }
func (MarkRead) intent()          {}

// JoinChat subscribes the connection to a chat room. Its payload is the bare chat id.
type JoinChat struct {
	Chat string
}

func (i JoinChat) Name() Name     { return NameJoinChat }
func (i JoinChat) ChatID() string { return i.Chat }
func (JoinChat) intent()          {}
