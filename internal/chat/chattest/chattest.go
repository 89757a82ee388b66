// Package chattest provides in-memory collaborators for exercising chat.Store.
package chattest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/supportchat/internal/event"
	"github.com/supportchat/internal/model"
)

// API is an in-memory REST collaborator. History holds every message of a
// chat oldest first; FetchMessages serves it newest page first.
type API struct {
	mu      sync.Mutex
	chats   []model.Chat
	history map[string][]model.Message
	gates   map[string]chan struct{}
	fetches map[string][]int
	tags    map[string][]string
	notes   map[string][]string

	// Err, when set, fails every call.
	Err error
	// Created is returned by CreateChat.
	Created model.Chat
	// Started receives the chat id whenever FetchMessages begins.
	Started chan string
}

func NewAPI(chats ...model.Chat) *API {
	return &API{
		chats:   chats,
		history: make(map[string][]model.Message),
		gates:   make(map[string]chan struct{}),
		fetches: make(map[string][]int),
		tags:    make(map[string][]string),
		notes:   make(map[string][]string),
		Started: make(chan string, 64),
	}
}

func (a *API) SetHistory(chatID string, msgs []model.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history[chatID] = model.CloneMessages(msgs)
}

func (a *API) Append(chatID string, msgs ...model.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history[chatID] = append(a.history[chatID], msgs...)
}

// Hold makes FetchMessages for chatID block until the returned func is called.
func (a *API) Hold(chatID string) (release func()) {
	ch := make(chan struct{})
	a.mu.Lock()
	a.gates[chatID] = ch
	a.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (a *API) SetErr(err error) {
	a.mu.Lock()
	a.Err = err
	a.mu.Unlock()
}

func (a *API) err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Err
}

// Fetches returns the pages requested for chatID in call order.
func (a *API) Fetches(chatID string) []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int(nil), a.fetches[chatID]...)
}

func (a *API) Tags(chatID string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tags[chatID]
}

func (a *API) Notes(chatID string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.notes[chatID]
}

func (a *API) ListChats(context.Context) ([]model.Chat, error) {
	if err := a.err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.Chat, len(a.chats))
	for i := range a.chats {
		out[i] = a.chats[i].Clone()
	}
	return out, nil
}

func (a *API) FetchMessages(ctx context.Context, chatID string, page, limit int) (model.MessagePage, error) {
	a.mu.Lock()
	a.fetches[chatID] = append(a.fetches[chatID], page)
	gate := a.gates[chatID]
	a.mu.Unlock()

	select {
	case a.Started <- chatID:
	default:
	}
	if gate != nil {
		<-gate
	}
	if err := a.err(); err != nil {
		return model.MessagePage{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	all := a.history[chatID]
	total := len(all)
	pages := (total + limit - 1) / limit
	end := total - (page-1)*limit
	if end < 0 {
		end = 0
	}
	start := max(end-limit, 0)
	return model.MessagePage{
		Messages:   model.CloneMessages(all[start:end]),
		Pagination: model.Pagination{Total: total, Page: page, Pages: pages},
	}, nil
}

func (a *API) CreateChat(_ context.Context, text string) (model.Chat, error) {
	if err := a.err(); err != nil {
		return model.Chat{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.Created
	if c.ID == "" {
		c.ID = fmt.Sprintf("created-%d", len(a.chats)+1)
	}
	a.chats = append([]model.Chat{c}, a.chats...)
	return c.Clone(), nil
}

func (a *API) UpdateStatus(_ context.Context, chatID string, status model.ChatStatus) (model.Chat, error) {
	if err := a.err(); err != nil {
		return model.Chat{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.chats {
		if a.chats[i].ID == chatID {
			a.chats[i].Status = status
			return a.chats[i].Clone(), nil
		}
	}
	return model.Chat{}, fmt.Errorf("chat %s not found", chatID)
}

func (a *API) AddNote(_ context.Context, chatID, note string) error {
	if err := a.err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.notes[chatID] = append(a.notes[chatID], note)
	return nil
}

func (a *API) UpdateTags(_ context.Context, chatID string, tags []string) error {
	if err := a.err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tags[chatID] = append([]string(nil), tags...)
	return nil
}

// Emitter records intents. It starts connected.
type Emitter struct {
	mu      sync.Mutex
	up      bool
	err     error
	intents []event.Intent
}

func NewEmitter() *Emitter { return &Emitter{up: true} }

func (e *Emitter) SetConnected(up bool) {
	e.mu.Lock()
	e.up = up
	e.mu.Unlock()
}

// FailNext makes every following Emit fail with err while still reporting connected.
func (e *Emitter) FailNext(err error) {
	e.mu.Lock()
	e.err = err
	e.mu.Unlock()
}

func (e *Emitter) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.up
}

func (e *Emitter) Emit(_ context.Context, in event.Intent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.up {
		return event.ErrNotConnected
	}
	if e.err != nil {
		return e.err
	}
	e.intents = append(e.intents, in)
	return nil
}

// Sent returns the recorded intents with the given name.
func (e *Emitter) Sent(name event.Name) []event.Intent {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []event.Intent
	for _, in := range e.intents {
		if in.Name() == name {
			out = append(out, in)
		}
	}
	return out
}

// Alerts records alerted notifications.
type Alerts struct {
	mu   sync.Mutex
	list []model.Notification
}

func (a *Alerts) Alert(_ context.Context, n model.Notification) {
	a.mu.Lock()
	a.list = append(a.list, n)
	a.mu.Unlock()
}

func (a *Alerts) List() []model.Notification {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]model.Notification(nil), a.list...)
}

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// At returns a fixed instant offset by n seconds.
func At(n int) time.Time { return epoch.Add(time.Duration(n) * time.Second) }

// Msg builds a confirmed message sent at At(sec).
func Msg(id, chatID string, from model.Sender, text string, sec int) model.Message {
	return model.Message{ID: id, ChatID: chatID, Sender: from, Text: text, CreatedAt: At(sec)}
}
