package model

import (
	"strings"
	"time"
)

// LocalIDPrefix marks ids minted on the client before the server confirms a message.
const LocalIDPrefix = "temp-"

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAgent    Role = "agent"
)

// Valid reports whether r names one of the two sides.
func (r Role) Valid() bool { return r == RoleCustomer || r == RoleAgent }

// Opposite returns the other side of the conversation.
func (r Role) Opposite() Role {
	if r == RoleAgent {
		return RoleCustomer
	}
	return RoleAgent
}

type Sender struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

type Attachment struct {
	URL  string `json:"url"`
	Type string `json:"type"`
	Name string `json:"name"`
}

type Message struct {
	ID          string       `json:"id"`
	ClientID    string       `json:"clientId,omitempty"`
	ChatID      string       `json:"chatId"`
	Sender      Sender       `json:"sender"`
	Text        string       `json:"text"`
	IsRead      bool         `json:"isRead"`
	CreatedAt   time.Time    `json:"createdAt"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Confirmed is false while the message still carries a local id.
func (m *Message) Confirmed() bool { return !strings.HasPrefix(m.ID, LocalIDPrefix) }

// Summary builds the denormalized chat summary for m.
func (m *Message) Summary() *LastMessage {
	return &LastMessage{
		Text:      m.Text,
		SenderID:  m.Sender.ID,
		CreatedAt: m.CreatedAt,
		IsRead:    m.IsRead,
	}
}

func (m Message) Clone() Message {
	if m.Attachments != nil {
		m.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	return m
}

// CloneMessages copies a timeline slice together with its elements.
func CloneMessages(in []Message) []Message {
	if in == nil {
		return nil
	}
	out := make([]Message, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}

// Viewer is the identity the session acts for: a customer in the widget or an agent in the console.
type Viewer struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

func (v Viewer) Sender() Sender {
	return Sender{ID: v.ID, Name: v.Name, Role: v.Role}
}

// Pagination mirrors the pagination block of GET /chats/:id/messages.
type Pagination struct {
	Total int `json:"total"`
	Page  int `json:"page"`
	Pages int `json:"pages"`
}

// MessagePage is one page of a chat timeline as returned by the REST collaborator.
type MessagePage struct {
	Messages   []Message  `json:"messages"`
	Pagination Pagination `json:"pagination"`
}
