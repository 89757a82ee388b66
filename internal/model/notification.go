package model

import "time"

type NotificationType string

const (
	NotificationNewChat    NotificationType = "new_chat"
	NotificationNewMessage NotificationType = "new_message"
	NotificationChatClosed NotificationType = "chat_closed"
)

type Notification struct {
	ID        string           `json:"id"`
	ChatID    string           `json:"chatId"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"createdAt"`
	// Signature identifies the underlying server event independent of the delivery path.
	Signature string `json:"-"`
}

// Cursor tracks backward pagination of a chat timeline.
type Cursor struct {
	Total       int `json:"total"`
	CurrentPage int `json:"currentPage"`
	PageCount   int `json:"pageCount"`
}

// Exhausted reports whether every older page has been loaded.
func (c Cursor) Exhausted() bool { return c.CurrentPage >= c.PageCount }
