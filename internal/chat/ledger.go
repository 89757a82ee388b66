package chat

import (
	"time"

	"github.com/google/uuid"
	"github.com/supportchat/internal/model"
)

// Signature identifies the server event behind a notification regardless of
// whether it arrived inline as a message or out of band.
func Signature(senderID, text string) string {
	return senderID + "\x00" + text
}

const closedSignature = "\x00status:closed"

// Ledger is the notification list shown to the viewer. Entries are never
// removed; reading one is terminal.
type Ledger struct {
	entries []model.Notification
	newID   func() string
	now     func() time.Time
}

func NewLedger() *Ledger {
	return &Ledger{
		newID: func() string { return uuid.New().String() },
		now:   time.Now,
	}
}

// Add records n unless an unread entry with the same chat and signature
// already exists. It reports whether a new entry was created.
func (l *Ledger) Add(n model.Notification) (model.Notification, bool) {
	for _, e := range l.entries {
		if !e.Read && e.ChatID == n.ChatID && e.Signature == n.Signature {
			return e, false
		}
	}
	if n.ID == "" {
		n.ID = l.newID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = l.now()
	}
	n.Read = false
	l.entries = append(l.entries, n)
	return n, true
}

// ClearOne marks every entry of chatID read.
func (l *Ledger) ClearOne(chatID string) bool {
	changed := false
	for i := range l.entries {
		if l.entries[i].ChatID == chatID && !l.entries[i].Read {
			l.entries[i].Read = true
			changed = true
		}
	}
	return changed
}

func (l *Ledger) ClearAll() bool {
	changed := false
	for i := range l.entries {
		if !l.entries[i].Read {
			l.entries[i].Read = true
			changed = true
		}
	}
	return changed
}

// Dismiss marks a single entry read.
func (l *Ledger) Dismiss(id string) bool {
	for i := range l.entries {
		if l.entries[i].ID == id && !l.entries[i].Read {
			l.entries[i].Read = true
			return true
		}
	}
	return false
}

// Unread counts entries needing attention. It is independent of
// the per-chat unread counters.
func (l *Ledger) Unread() int {
	n := 0
	for _, e := range l.entries {
		if !e.Read {
			n++
		}
	}
	return n
}

func (l *Ledger) Entries() []model.Notification {
	return append([]model.Notification(nil), l.entries...)
}
