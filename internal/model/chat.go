package model

import "time"

type ChatStatus string

const (
	ChatStatusActive  ChatStatus = "active"
	ChatStatusPending ChatStatus = "pending"
	ChatStatusClosed  ChatStatus = "closed"
)

// Valid reports whether s is one of the known lifecycle states.
func (s ChatStatus) Valid() bool {
	switch s {
	case ChatStatusActive, ChatStatusPending, ChatStatusClosed:
		return true
	}
	return false
}

// Participant is a reference to a customer or agent taking part in a chat.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// LastMessage is the denormalized summary of the newest message in a chat.
type LastMessage struct {
	Text      string    `json:"text"`
	SenderID  string    `json:"senderId"`
	CreatedAt time.Time `json:"createdAt"`
	IsRead    bool      `json:"isRead"`
}

// UnreadCount keeps one counter per side of the conversation.
type UnreadCount struct {
	Customer int `json:"customer"`
	Agent    int `json:"agent"`
}

// Get returns the counter of side r.
func (u UnreadCount) Get(r Role) int {
	if r == RoleAgent {
		return u.Agent
	}
	return u.Customer
}

// With returns a copy of u with the counter of side r set to n.
func (u UnreadCount) With(r Role, n int) UnreadCount {
	if r == RoleAgent {
		u.Agent = n
	} else {
		u.Customer = n
	}
	return u
}

type Note struct {
	Text      string    `json:"text"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Chat struct {
	ID          string        `json:"id"`
	Customer    Participant   `json:"customer"`
	Agents      []Participant `json:"agents,omitempty"`
	Status      ChatStatus    `json:"status"`
	LastMessage *LastMessage  `json:"lastMessage,omitempty"`
	UnreadCount UnreadCount   `json:"unreadCount"`
	Tags        []string      `json:"tags,omitempty"`
	Notes       []Note        `json:"notes,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// Closed reports whether the chat reached its terminal state.
func (c *Chat) Closed() bool { return c.Status == ChatStatusClosed }

// Clone returns a deep copy so callers never share slices with the store.
func (c Chat) Clone() Chat {
	out := c
	if c.Agents != nil {
		out.Agents = append([]Participant(nil), c.Agents...)
	}
	if c.Tags != nil {
		out.Tags = append([]string(nil), c.Tags...)
	}
	if c.Notes != nil {
		out.Notes = append([]Note(nil), c.Notes...)
	}
	if c.LastMessage != nil {
		lm := *c.LastMessage
		out.LastMessage = &lm
	}
	return out
}
