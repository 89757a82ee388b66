package chat

import (
	"context"

	"github.com/supportchat/internal/event"
	"github.com/supportchat/internal/model"
)

// ApplyMessage folds a confirmed message from the push channel into the state.
// For the active chat it is reconciled into the timeline; for any other chat
// it becomes a ledger entry. Either way the chat summary and counters move.
func (s *Store) ApplyMessage(ctx context.Context, m model.Message) {
	m = m.Clone()
	role := s.senderRole(m.Sender)
	m.Sender.Role = role
	fromViewer := m.Sender.ID == s.viewer.ID

	s.mu.Lock()
	idx := s.indexLocked(m.ChatID)
	newChat := idx < 0
	if newChat {
		s.chats = append([]model.Chat{s.stubChat(m)}, s.chats...)
		idx = 0
	}
	c := &s.chats[idx]

	active := s.activeID == m.ChatID && s.timelineChat == m.ChatID
	// a redelivered id still refreshes the timeline entry but moves no counter
	redelivered := s.applied.Seen(m.ID)
	outcome := Appended
	var replaced *model.Message
	if active {
		s.timeline, outcome, replaced = reconcile(s.timeline, m)
		if outcome == Appended && fromViewer {
			s.log.Debug().Str("chat", m.ChatID).Str("id", m.ID).Msg("echo matched no placeholder, appended")
		}
	}
	if outcome == ReplacedExisting {
		redelivered = true
	}
	if !redelivered {
		side := role.Opposite()
		c.UnreadCount = c.UnreadCount.With(side, c.UnreadCount.Get(side)+1)
	}
	switch {
	case c.LastMessage == nil || !m.CreatedAt.Before(c.LastMessage.CreatedAt):
		c.LastMessage = m.Summary()
	case outcome == ReplacedPlaceholder && describes(c.LastMessage, replaced):
		// the server clock put the echo before the placeholder
		c.LastMessage = m.Summary()
	}
	c.UpdatedAt = s.now()

	markRead := false
	var created *model.Notification
	switch {
	case fromViewer:
	case active && s.autoMarkRead:
		markRead = s.markInboundReadLocked(c)
	case !active && !redelivered:
		created = s.addNotificationLocked(model.Notification{
			ChatID:    m.ChatID,
			Type:      model.NotificationNewMessage,
			Title:     notificationTitle(model.NotificationNewMessage, m.Sender),
			Body:      m.Text,
			Signature: Signature(m.Sender.ID, m.Text),
		})
	}
	s.mu.Unlock()

	s.publish(ChangeChats, m.ChatID)
	if active {
		s.publish(ChangeTimeline, m.ChatID)
	}
	if created != nil {
		s.publish(ChangeNotifications, m.ChatID)
		s.alert(ctx, *created)
	}
	if newChat {
		s.emitQuiet(ctx, event.JoinChat{Chat: m.ChatID})
	}
	if markRead && s.emitter.Connected() {
		s.emitQuiet(ctx, event.MarkRead{Chat: m.ChatID})
	}
}

// ApplyNotification records an out-of-band notification. It is dropped when
// the viewer is looking at the chat or authored the message, and it collapses
// with an unread entry describing the same message.
func (s *Store) ApplyNotification(ctx context.Context, n event.DirectNotification) {
	typ := n.Type
	if typ == "" {
		typ = model.NotificationNewMessage
	}
	if n.Message.Sender.ID != "" && n.Message.Sender.ID == s.viewer.ID {
		return
	}

	s.mu.Lock()
	if n.Chat == s.activeID {
		s.mu.Unlock()
		return
	}
	newChat := false
	if s.indexLocked(n.Chat) < 0 && typ == model.NotificationNewChat {
		stub := n.Message
		stub.ChatID = n.Chat
		stub.Sender.Role = s.senderRole(stub.Sender)
		s.chats = append([]model.Chat{s.stubChat(stub)}, s.chats...)
		newChat = true
	}
	sig := Signature(n.Message.Sender.ID, n.Message.Text)
	if typ == model.NotificationChatClosed {
		sig = closedSignature
	}
	created := s.addNotificationLocked(model.Notification{
		ChatID:    n.Chat,
		Type:      typ,
		Title:     notificationTitle(typ, n.Message.Sender),
		Body:      n.Message.Text,
		Signature: sig,
	})
	s.mu.Unlock()

	if newChat {
		s.publish(ChangeChats, n.Chat)
		s.emitQuiet(ctx, event.JoinChat{Chat: n.Chat})
	}
	if created != nil {
		s.publish(ChangeNotifications, n.Chat)
		s.alert(ctx, *created)
	}
}

// ApplyStatus patches the lifecycle status of a chat. A transition to closed
// on a chat the viewer is not looking at produces a chat_closed entry.
func (s *Store) ApplyStatus(ctx context.Context, chatID string, status model.ChatStatus) {
	s.mu.Lock()
	i := s.indexLocked(chatID)
	if i < 0 || s.chats[i].Status == status {
		s.mu.Unlock()
		return
	}
	s.chats[i].Status = status
	s.chats[i].UpdatedAt = s.now()
	var created *model.Notification
	if status == model.ChatStatusClosed && chatID != s.activeID {
		created = s.addNotificationLocked(model.Notification{
			ChatID:    chatID,
			Type:      model.NotificationChatClosed,
			Title:     notificationTitle(model.NotificationChatClosed, model.Sender{}),
			Signature: closedSignature,
		})
	}
	s.mu.Unlock()

	s.publish(ChangeChats, chatID)
	if created != nil {
		s.publish(ChangeNotifications, chatID)
		s.alert(ctx, *created)
	}
}

// ApplyReadReceipt zeroes the counter of the side that read the chat. When the
// reader is the other side, the viewer's own messages become read.
func (s *Store) ApplyReadReceipt(chatID string, reader model.Role) {
	if !reader.Valid() {
		reader = s.viewer.Role.Opposite()
	}
	s.mu.Lock()
	i := s.indexLocked(chatID)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	c := &s.chats[i]
	c.UnreadCount = c.UnreadCount.With(reader, 0)
	if reader == s.viewer.Role {
		s.markInboundReadLocked(c)
	} else {
		if lm := c.LastMessage; lm != nil && lm.SenderID == s.viewer.ID {
			lm.IsRead = true
		}
		if s.timelineChat == chatID {
			for j := range s.timeline {
				if s.timeline[j].Sender.ID == s.viewer.ID {
					s.timeline[j].IsRead = true
				}
			}
		}
	}
	timeline := s.timelineChat == chatID
	s.mu.Unlock()

	s.publish(ChangeChats, chatID)
	if timeline {
		s.publish(ChangeTimeline, chatID)
	}
}

// describes reports whether the chat summary was taken from m.
func describes(lm *model.LastMessage, m *model.Message) bool {
	return lm != nil && m != nil && lm.CreatedAt.Equal(m.CreatedAt) && lm.Text == m.Text && lm.SenderID == m.Sender.ID
}

func (s *Store) addNotificationLocked(n model.Notification) *model.Notification {
	created, ok := s.ledger.Add(n)
	if !ok {
		return nil
	}
	return &created
}

func (s *Store) alert(ctx context.Context, n model.Notification) {
	if s.alerter != nil {
		s.alerter.Alert(ctx, n)
	}
}

// senderRole fills in a missing role: the viewer's own messages carry the
// viewer's role, anyone else is on the other side.
func (s *Store) senderRole(sender model.Sender) model.Role {
	if sender.Role.Valid() {
		return sender.Role
	}
	if sender.ID == s.viewer.ID {
		return s.viewer.Role
	}
	return s.viewer.Role.Opposite()
}

// stubChat builds a placeholder for a chat that appeared through the push
// channel before the list was reloaded.
func (s *Store) stubChat(m model.Message) model.Chat {
	c := model.Chat{
		ID:        m.ChatID,
		Status:    model.ChatStatusPending,
		CreatedAt: m.CreatedAt,
		UpdatedAt: s.now(),
	}
	if m.Sender.Role == model.RoleCustomer {
		c.Customer = model.Participant{ID: m.Sender.ID, Name: m.Sender.Name}
	} else if m.Sender.ID != "" {
		c.Agents = []model.Participant{{ID: m.Sender.ID, Name: m.Sender.Name}}
	}
	return c
}

func notificationTitle(t model.NotificationType, from model.Sender) string {
	name := from.Name
	if name == "" {
		name = from.ID
	}
	switch t {
	case model.NotificationNewChat:
		if name == "" {
			return "New chat"
		}
		return "New chat from " + name
	case model.NotificationChatClosed:
		return "Chat closed"
	default:
		if name == "" {
			return "New message"
		}
		return "New message from " + name
	}
}
