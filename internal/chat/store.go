// Package chat owns the client-side chat state: the chat list, the active
// chat and its timeline, the pagination cursor and the notification ledger.
// Every mutation goes through Store, which serializes them under one lock and
// tells observers what changed.
package chat

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/scylladb/go-set/strset"

	"github.com/supportchat/internal/event"
	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/model"
)

// API is the REST collaborator.
type API interface {
	ListChats(ctx context.Context) ([]model.Chat, error)
	FetchMessages(ctx context.Context, chatID string, page, limit int) (model.MessagePage, error)
	CreateChat(ctx context.Context, text string) (model.Chat, error)
	UpdateStatus(ctx context.Context, chatID string, status model.ChatStatus) (model.Chat, error)
	AddNote(ctx context.Context, chatID, note string) error
	UpdateTags(ctx context.Context, chatID string, tags []string) error
}

// Emitter sends intents over the push channel.
type Emitter interface {
	Connected() bool
	Emit(ctx context.Context, in event.Intent) error
}

// Alerter delivers freshly created ledger entries out of band.
type Alerter interface {
	Alert(ctx context.Context, n model.Notification)
}

type Option func(*Store)

func WithAlerter(a Alerter) Option { return func(s *Store) { s.alerter = a } }

func WithPageSize(n int) Option { return func(s *Store) { s.pager = NewPaginator(n) } }

func WithAutoMarkRead(on bool) Option { return func(s *Store) { s.autoMarkRead = on } }

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
		s.ledger.now = now
	}
}

// WithIDs overrides how local message ids and client idempotency keys are minted.
func WithIDs(localID, clientID func() string) Option {
	return func(s *Store) {
		if localID != nil {
			s.localID = localID
		}
		if clientID != nil {
			s.clientID = clientID
		}
	}
}

type Store struct {
	api          API
	emitter      Emitter
	alerter      Alerter
	viewer       model.Viewer
	pager        Paginator
	autoMarkRead bool
	now          func() time.Time
	localID      func() string
	clientID     func() string
	bus          *bus
	log          zerolog.Logger

	mu           sync.Mutex
	chats        []model.Chat
	activeID     string
	timeline     []model.Message
	timelineChat string
	cursor       model.Cursor
	ledger       *Ledger
	applied      *appliedIDs
	// gen changes whenever the timeline is re-seeded; responses carrying an
	// older generation are discarded.
	gen         uint64
	cancelFetch context.CancelFunc
}

func NewStore(api API, emitter Emitter, viewer model.Viewer, opts ...Option) *Store {
	s := &Store{
		api:          api,
		emitter:      emitter,
		viewer:       viewer,
		pager:        NewPaginator(DefaultPageSize),
		autoMarkRead: true,
		now:          time.Now,
		clientID:     func() string { return uuid.New().String() },
		bus:          newBus(),
		log:          logger.Module("chat"),
		ledger:       NewLedger(),
		applied:      newAppliedIDs(appliedWindow),
	}
	var seq atomic.Uint64
	s.localID = func() string {
		return fmt.Sprintf("%s%d-%d", model.LocalIDPrefix, s.now().UnixMilli(), seq.Add(1))
	}
	for _, opt := range opts {
		opt(s)
	}
	if !s.viewer.Role.Valid() {
		s.viewer.Role = model.RoleAgent
	}
	return s
}

func (s *Store) Viewer() model.Viewer { return s.viewer }

// Subscribe returns a channel of state changes. Call Unsubscribe when done.
func (s *Store) Subscribe() <-chan Change { return s.bus.subscribe() }

func (s *Store) Unsubscribe(ch <-chan Change) { s.bus.unsubscribe(ch) }

func (s *Store) publish(kind ChangeKind, chatID string) {
	s.bus.publish(Change{Kind: kind, ChatID: chatID, At: s.now()})
}

// --- Accessors (return copies) ---

func (s *Store) ListChats() []model.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Chat, len(s.chats))
	for i := range s.chats {
		out[i] = s.chats[i].Clone()
	}
	return out
}

func (s *Store) ActiveChat() (model.Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.activeLocked(); c != nil {
		return c.Clone(), true
	}
	return model.Chat{}, false
}

func (s *Store) ActiveChatID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

func (s *Store) Chat(chatID string) (model.Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(chatID); i >= 0 {
		return s.chats[i].Clone(), true
	}
	return model.Chat{}, false
}

// ChatIDs lists every loaded chat; the bridge joins one room per id.
func (s *Store) ChatIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, len(s.chats))
	for i := range s.chats {
		ids[i] = s.chats[i].ID
	}
	return ids
}

// Timeline returns the messages loaded for the active chat.
func (s *Store) Timeline() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeID == "" || s.timelineChat != s.activeID {
		return nil
	}
	return model.CloneMessages(s.timeline)
}

func (s *Store) Cursor() model.Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

func (s *Store) Notifications() []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Entries()
}

// UnreadNotifications is the number of ledger entries needing attention.
func (s *Store) UnreadNotifications() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Unread()
}

// --- UI intents ---

// LoadChats replaces the chat list with the collaborator's view.
func (s *Store) LoadChats(ctx context.Context) error {
	defer logger.DeferLogDuration("chat.LoadChats", time.Now())()
	chats, err := s.api.ListChats(ctx)
	if err != nil {
		return &CollaboratorError{Op: "list chats", Err: err}
	}
	s.mu.Lock()
	s.chats = make([]model.Chat, len(chats))
	for i := range chats {
		s.chats[i] = chats[i].Clone()
	}
	if s.activeID != "" && s.indexLocked(s.activeID) < 0 {
		s.resetActiveLocked()
	}
	s.mu.Unlock()
	s.publish(ChangeChats, "")
	return nil
}

// SelectChat makes chatID the active chat. Its notifications are marked read
// and the viewer-side unread counter is reset. When the cached timeline is
// stale the newest page is fetched; a response that arrives after the viewer
// moved on is discarded.
func (s *Store) SelectChat(ctx context.Context, chatID string) error {
	defer logger.DeferLogDuration("chat.SelectChat", time.Now())()

	s.mu.Lock()
	idx := s.indexLocked(chatID)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	s.activeID = chatID
	c := &s.chats[idx]
	stale := s.staleLocked(c)
	merge := stale && s.timelineChat == chatID && len(s.timeline) > 0
	if stale && !merge {
		s.timeline = nil
		s.timelineChat = chatID
		s.cursor = model.Cursor{}
	}
	cleared := s.ledger.ClearOne(chatID)
	unread := c.UnreadCount.Get(s.viewer.Role)
	s.markInboundReadLocked(c)

	var (
		fetchCtx context.Context
		cancel   context.CancelFunc
		gen      uint64
	)
	if stale {
		if s.cancelFetch != nil {
			s.cancelFetch()
		}
		if !merge {
			s.gen++
		}
		gen = s.gen
		fetchCtx, cancel = context.WithCancel(ctx)
		s.cancelFetch = cancel
	}
	s.mu.Unlock()

	s.publish(ChangeActive, chatID)
	if unread > 0 {
		s.publish(ChangeChats, chatID)
	}
	if cleared {
		s.publish(ChangeNotifications, chatID)
	}

	s.emitQuiet(ctx, event.JoinChat{Chat: chatID})
	if unread > 0 && s.emitter.Connected() {
		s.emitQuiet(ctx, event.MarkRead{Chat: chatID})
	}

	if !stale {
		return nil
	}
	defer cancel()
	page, err := s.api.FetchMessages(fetchCtx, chatID, 1, s.pager.Size())
	if err != nil {
		if fetchCtx.Err() != nil && ctx.Err() == nil {
			// Superseded by a later selection.
			return nil
		}
		return &CollaboratorError{Op: "fetch messages", ChatID: chatID, Err: err}
	}

	s.mu.Lock()
	if s.gen != gen || s.activeID != chatID || s.timelineChat != chatID {
		s.mu.Unlock()
		s.log.Debug().Str("chat", chatID).Msg("discarding stale timeline response")
		return nil
	}
	// pushes and local sends may have landed while the fetch was in flight
	s.timeline = MergeLatest(s.timeline, page.Messages)
	if merge {
		s.cursor = s.pager.Refresh(s.cursor, page.Pagination)
	} else {
		s.cursor = s.pager.First(page.Pagination)
	}
	s.cancelFetch = nil
	s.mu.Unlock()
	s.publish(ChangeTimeline, chatID)
	return nil
}

// StartChat opens a new conversation with an initial message. The created
// chat goes to the head of the list, becomes active and its timeline is
// seeded with one optimistic message.
func (s *Store) StartChat(ctx context.Context, text string) (model.Chat, error) {
	defer logger.DeferLogDuration("chat.StartChat", time.Now())()
	if strings.TrimSpace(text) == "" {
		return model.Chat{}, ErrEmptyMessage
	}
	created, err := s.api.CreateChat(ctx, text)
	if err != nil {
		return model.Chat{}, &ChatCreationError{Err: err}
	}

	msg := s.newLocalMessage(created.ID, text)
	s.mu.Lock()
	if i := s.indexLocked(created.ID); i >= 0 {
		s.chats = append(s.chats[:i], s.chats[i+1:]...)
	}
	c := created.Clone()
	if c.Status == "" {
		c.Status = model.ChatStatusPending
	}
	if c.LastMessage == nil {
		c.LastMessage = msg.Summary()
	}
	s.chats = append([]model.Chat{c}, s.chats...)
	if s.cancelFetch != nil {
		s.cancelFetch()
		s.cancelFetch = nil
	}
	s.gen++
	s.activeID = c.ID
	s.timelineChat = c.ID
	s.timeline = []model.Message{msg}
	s.cursor = model.Cursor{Total: 1, CurrentPage: 1, PageCount: 1}
	s.mu.Unlock()

	s.publish(ChangeChats, c.ID)
	s.publish(ChangeActive, c.ID)
	s.publish(ChangeTimeline, c.ID)
	s.emitQuiet(ctx, event.JoinChat{Chat: c.ID})
	return c.Clone(), nil
}

// SendMessage appends an optimistic message to the active chat and emits it.
// Without a live push channel nothing is mutated and ErrNotConnected is returned.
func (s *Store) SendMessage(ctx context.Context, text string) (model.Message, error) {
	if strings.TrimSpace(text) == "" {
		return model.Message{}, ErrEmptyMessage
	}
	s.mu.Lock()
	c := s.activeLocked()
	if c == nil {
		s.mu.Unlock()
		return model.Message{}, ErrNoActiveChat
	}
	if c.Closed() {
		s.mu.Unlock()
		return model.Message{}, fmt.Errorf("%w: %s", ErrChatClosed, c.ID)
	}
	if !s.emitter.Connected() {
		s.mu.Unlock()
		logger.Warnf("chat: send message to %s: %v", c.ID, ErrNotConnected)
		return model.Message{}, ErrNotConnected
	}
	chatID := c.ID
	msg := s.newLocalMessage(chatID, text)
	prevLast := c.LastMessage
	s.timeline = append(s.timeline, msg)
	c.LastMessage = msg.Summary()
	s.mu.Unlock()
	s.publish(ChangeTimeline, chatID)
	s.publish(ChangeChats, chatID)

	err := s.emitter.Emit(ctx, event.SendMessage{Chat: chatID, Text: text, ClientID: msg.ClientID})
	if err == nil {
		return msg.Clone(), nil
	}

	// The channel dropped between the check and the emit: undo the placeholder.
	s.mu.Lock()
	for i := range s.timeline {
		if s.timeline[i].ID == msg.ID {
			s.timeline = append(s.timeline[:i], s.timeline[i+1:]...)
			break
		}
	}
	if i := s.indexLocked(chatID); i >= 0 {
		if lm := s.chats[i].LastMessage; lm != nil && lm.CreatedAt.Equal(msg.CreatedAt) && lm.Text == msg.Text {
			s.chats[i].LastMessage = prevLast
		}
	}
	s.mu.Unlock()
	s.publish(ChangeTimeline, chatID)
	logger.Warnf("chat: send message to %s: %v", chatID, err)
	return model.Message{}, fmt.Errorf("send message: %w", err)
}

// CloseChat asks the collaborator to close chatID and patches the status on success.
func (s *Store) CloseChat(ctx context.Context, chatID string) error {
	c, ok := s.Chat(chatID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	if c.Closed() {
		return nil
	}
	updated, err := s.api.UpdateStatus(ctx, chatID, model.ChatStatusClosed)
	if err != nil {
		return &CollaboratorError{Op: "close chat", ChatID: chatID, Err: err}
	}
	status := updated.Status
	if status == "" {
		status = model.ChatStatusClosed
	}
	s.patch(chatID, func(c *model.Chat) {
		c.Status = status
		c.UpdatedAt = s.now()
	})
	return nil
}

// UpdateTags replaces the tag set of chatID. Closed chats only accept notes.
func (s *Store) UpdateTags(ctx context.Context, chatID string, tags []string) error {
	c, ok := s.Chat(chatID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	if c.Closed() {
		return fmt.Errorf("%w: %s", ErrChatClosed, chatID)
	}
	normalized := NormalizeTags(tags)
	if err := s.api.UpdateTags(ctx, chatID, normalized); err != nil {
		return &CollaboratorError{Op: "update tags", ChatID: chatID, Err: err}
	}
	s.patch(chatID, func(c *model.Chat) {
		c.Tags = normalized
		c.UpdatedAt = s.now()
	})
	return nil
}

// AddNote appends an internal note to chatID.
func (s *Store) AddNote(ctx context.Context, chatID, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	if _, ok := s.Chat(chatID); !ok {
		return fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	if err := s.api.AddNote(ctx, chatID, text); err != nil {
		return &CollaboratorError{Op: "add note", ChatID: chatID, Err: err}
	}
	author := s.viewer.Name
	if author == "" {
		author = s.viewer.ID
	}
	now := s.now()
	s.patch(chatID, func(c *model.Chat) {
		c.Notes = append(c.Notes, model.Note{Text: text, Author: author, CreatedAt: now})
		c.UpdatedAt = now
	})
	return nil
}

// LoadOlderMessages fetches the next older page of the active chat and
// prepends it. It is a no-op once the last page has been loaded.
func (s *Store) LoadOlderMessages(ctx context.Context) error {
	defer logger.DeferLogDuration("chat.LoadOlderMessages", time.Now())()
	s.mu.Lock()
	if s.activeID == "" || s.timelineChat != s.activeID {
		s.mu.Unlock()
		return ErrNoActiveChat
	}
	next, ok := s.pager.Next(s.cursor)
	if !ok {
		s.mu.Unlock()
		return nil
	}
	chatID, gen := s.activeID, s.gen
	s.mu.Unlock()

	page, err := s.api.FetchMessages(ctx, chatID, next, s.pager.Size())
	if err != nil {
		return &CollaboratorError{Op: "fetch older messages", ChatID: chatID, Err: err}
	}

	s.mu.Lock()
	if s.gen != gen || s.activeID != chatID || s.timelineChat != chatID {
		s.mu.Unlock()
		s.log.Debug().Str("chat", chatID).Int("page", next).Msg("discarding stale page")
		return nil
	}
	s.timeline = s.pager.Prepend(s.timeline, page.Messages)
	s.cursor = s.pager.Advance(s.cursor, page.Pagination, next)
	s.mu.Unlock()
	s.publish(ChangeTimeline, chatID)
	return nil
}

// MarkRead resets the viewer-side counter of the active chat and emits a read
// receipt. Calling it again without new inbound messages does nothing.
func (s *Store) MarkRead(ctx context.Context) error {
	s.mu.Lock()
	c := s.activeLocked()
	if c == nil {
		s.mu.Unlock()
		return nil
	}
	chatID := c.ID
	changed := s.markInboundReadLocked(c)
	s.mu.Unlock()
	if !changed {
		return nil
	}
	s.publish(ChangeChats, chatID)
	s.publish(ChangeTimeline, chatID)
	if !s.emitter.Connected() {
		logger.Warnf("chat: mark read %s: %v", chatID, ErrNotConnected)
		return nil
	}
	s.emitQuiet(ctx, event.MarkRead{Chat: chatID})
	return nil
}

// ClearNotifications marks every ledger entry of chatID read.
func (s *Store) ClearNotifications(chatID string) {
	s.mu.Lock()
	changed := s.ledger.ClearOne(chatID)
	s.mu.Unlock()
	if changed {
		s.publish(ChangeNotifications, chatID)
	}
}

func (s *Store) ClearAllNotifications() {
	s.mu.Lock()
	changed := s.ledger.ClearAll()
	s.mu.Unlock()
	if changed {
		s.publish(ChangeNotifications, "")
	}
}

// DismissNotification marks a single ledger entry read.
func (s *Store) DismissNotification(id string) bool {
	s.mu.Lock()
	changed := s.ledger.Dismiss(id)
	s.mu.Unlock()
	if changed {
		s.publish(ChangeNotifications, "")
	}
	return changed
}

// RefreshActive re-fetches the newest page of the active chat and merges it
// into the timeline. The polling fallback drives it while the push channel is down.
func (s *Store) RefreshActive(ctx context.Context) error {
	s.mu.Lock()
	if s.activeID == "" {
		s.mu.Unlock()
		return nil
	}
	chatID, gen := s.activeID, s.gen
	s.mu.Unlock()

	page, err := s.api.FetchMessages(ctx, chatID, 1, s.pager.Size())
	if err != nil {
		return &CollaboratorError{Op: "refresh messages", ChatID: chatID, Err: err}
	}

	s.mu.Lock()
	if s.gen != gen || s.activeID != chatID {
		s.mu.Unlock()
		return nil
	}
	if s.timelineChat != chatID {
		s.timelineChat = chatID
		s.timeline = nil
		s.cursor = model.Cursor{}
	}
	s.timeline = MergeLatest(s.timeline, page.Messages)
	s.cursor = s.pager.Refresh(s.cursor, page.Pagination)
	if n := len(s.timeline); n > 0 {
		if i := s.indexLocked(chatID); i >= 0 {
			last := s.timeline[n-1]
			if lm := s.chats[i].LastMessage; lm == nil || !last.CreatedAt.Before(lm.CreatedAt) {
				s.chats[i].LastMessage = last.Summary()
			}
		}
	}
	s.mu.Unlock()
	s.publish(ChangeTimeline, chatID)
	return nil
}

// --- helpers (callers hold s.mu where the name says Locked) ---

func (s *Store) indexLocked(chatID string) int {
	for i := range s.chats {
		if s.chats[i].ID == chatID {
			return i
		}
	}
	return -1
}

func (s *Store) activeLocked() *model.Chat {
	if s.activeID == "" {
		return nil
	}
	if i := s.indexLocked(s.activeID); i >= 0 {
		return &s.chats[i]
	}
	return nil
}

func (s *Store) resetActiveLocked() {
	if s.cancelFetch != nil {
		s.cancelFetch()
		s.cancelFetch = nil
	}
	s.gen++
	s.activeID = ""
	s.timeline = nil
	s.timelineChat = ""
	s.cursor = model.Cursor{}
}

// staleLocked reports whether the cached timeline cannot be shown for c as is.
func (s *Store) staleLocked(c *model.Chat) bool {
	if s.timelineChat != c.ID || len(s.timeline) == 0 {
		return true
	}
	last := s.timeline[len(s.timeline)-1]
	return c.LastMessage != nil && c.LastMessage.CreatedAt.After(last.CreatedAt)
}

// markInboundReadLocked zeroes the viewer-side counter of c and flags the
// other side's messages in the loaded timeline as read.
func (s *Store) markInboundReadLocked(c *model.Chat) bool {
	changed := false
	if c.UnreadCount.Get(s.viewer.Role) != 0 {
		c.UnreadCount = c.UnreadCount.With(s.viewer.Role, 0)
		changed = true
	}
	if lm := c.LastMessage; lm != nil && lm.SenderID != s.viewer.ID && !lm.IsRead {
		lm.IsRead = true
		changed = true
	}
	if s.timelineChat == c.ID {
		for i := range s.timeline {
			if s.timeline[i].Sender.ID != s.viewer.ID && !s.timeline[i].IsRead {
				s.timeline[i].IsRead = true
				changed = true
			}
		}
	}
	return changed
}

func (s *Store) patch(chatID string, fn func(c *model.Chat)) {
	s.mu.Lock()
	i := s.indexLocked(chatID)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	fn(&s.chats[i])
	s.mu.Unlock()
	s.publish(ChangeChats, chatID)
}

func (s *Store) newLocalMessage(chatID, text string) model.Message {
	return model.Message{
		ID:        s.localID(),
		ClientID:  s.clientID(),
		ChatID:    chatID,
		Sender:    s.viewer.Sender(),
		Text:      text,
		IsRead:    false,
		CreatedAt: s.now(),
	}
}

// emitQuiet emits an intent whose loss is tolerated: joins and read receipts
// are re-sent on the next select or reconnect.
func (s *Store) emitQuiet(ctx context.Context, in event.Intent) {
	if err := s.emitter.Emit(ctx, in); err != nil {
		s.log.Debug().Str("intent", string(in.Name())).Str("chat", in.ChatID()).Err(err).Msg("intent dropped")
	}
}

// NormalizeTags trims, deduplicates and sorts a tag list.
func NormalizeTags(tags []string) []string {
	set := strset.New()
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			set.Add(t)
		}
	}
	out := set.List()
	sort.Strings(out)
	return out
}
