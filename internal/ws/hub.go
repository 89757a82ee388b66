package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/supportchat/internal/chat"
	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/model"
)

// Actions are the chat intents a console peer may trigger over /ws.
type Actions interface {
	SelectChat(ctx context.Context, chatID string) error
	SendMessage(ctx context.Context, text string) (model.Message, error)
	MarkRead(ctx context.Context) error
	LoadOlderMessages(ctx context.Context) error
}

const actionTimeout = 15 * time.Second

// Hub fans chat state changes out to console peers.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	maxConns   int
	actions    Actions
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(actions Actions, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 64
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		maxConns:   maxConns,
		actions:    actions,
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

// Relay forwards store changes to every peer until ctx is done.
func (h *Hub) Relay(ctx context.Context, changes <-chan chat.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			h.Broadcast(OutgoingMessage{Type: EventStateChanged, Payload: StatePayload{
				Kind:   string(c.Kind),
				ChatID: c.ChatID,
				At:     c.At,
			}})
		}
	}
}

// Count returns the number of connected peers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) shutdown() {
	// collect under the lock, close outside it
	h.mu.Lock()
	all := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if len(h.clients) >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting peer=%s", h.maxConns, c.id)
		c.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	logger.Debugf("ws peer connected: %s", c.id)
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	h.mu.Unlock()
	c.Close()
	logger.Debugf("ws peer disconnected: %s", c.id)
}

// HandleMessage runs the intent carried by a peer frame.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	if h.actions == nil {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "read-only stream"})
		return
	}
	ctx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()

	var err error
	switch msg.Type {
	case EventSelectChat:
		if msg.ChatID == "" {
			err = errors.New("chatId required")
			break
		}
		err = h.actions.SelectChat(ctx, msg.ChatID)
	case EventSendMessage:
		var m model.Message
		m, err = h.actions.SendMessage(ctx, msg.Text)
		if err == nil {
			h.sendToClient(c, OutgoingMessage{Type: EventMessageSent, Payload: MessageSentPayload{Message: m}})
		}
	case EventMarkRead:
		err = h.actions.MarkRead(ctx)
	case EventLoadOlder:
		err = h.actions.LoadOlderMessages(ctx)
	default:
		err = errors.New("unknown event type")
	}
	if err != nil {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: err.Error()})
	}
}

// Broadcast sends msg to every peer.
func (h *Hub) Broadcast(msg OutgoingMessage) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.outbox <- msg:
	case <-c.closed:
	default:
		logger.Errorf("ws send buffer full, closing slow peer=%s", c.id)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// SendTo sends msg to a single peer.
func (h *Hub) SendTo(c *Client, msg OutgoingMessage) {
	h.sendToClient(c, msg)
}
