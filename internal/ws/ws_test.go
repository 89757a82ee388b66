package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supportchat/internal/chat"
	"github.com/supportchat/internal/event"
	"github.com/supportchat/internal/model"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestTransport_ReceivesEventsAndSendsIntents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		frame, _ := event.EncodeEvent(event.StatusChange{Chat: "c1", Status: model.ChatStatusClosed})
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"typing","payload":{"chatId":"c1"}}`))
		_ = conn.WriteMessage(websocket.TextMessage, frame)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- string(raw)
		}
	}))
	defer srv.Close()

	tr := NewTransport(wsURL(srv), WithBearer("tok"))
	assert.ErrorIs(t, tr.Send(context.Background(), event.JoinChat{Chat: "c1"}), event.ErrNotConnected)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	select {
	case up := <-tr.States():
		require.True(t, up)
	case <-time.After(2 * time.Second):
		t.Fatal("no state transition")
	}
	assert.True(t, tr.Connected())

	select {
	case ev := <-tr.Events():
		assert.Equal(t, event.StatusChange{Chat: "c1", Status: model.ChatStatusClosed}, ev)
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
	}

	require.NoError(t, tr.Send(ctx, event.JoinChat{Chat: "c1"}))
	select {
	case raw := <-received:
		assert.JSONEq(t, `{"type":"join_chat","payload":"c1"}`, raw)
	case <-time.After(2 * time.Second):
		t.Fatal("server got nothing")
	}

	cancel()
	assert.NoError(t, <-done)
}

func TestTransport_ReportsDownWhenDialFails(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	tr := NewTransport(wsURL(srv))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = tr.Run(ctx) }()

	select {
	case up := <-tr.States():
		assert.False(t, up)
	case <-time.After(2 * time.Second):
		t.Fatal("no state transition")
	}
	assert.False(t, tr.Connected())
}

type fakeActions struct {
	mu       sync.Mutex
	selected []string
}

func (a *fakeActions) SelectChat(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id == "missing" {
		return chat.ErrChatNotFound
	}
	a.selected = append(a.selected, id)
	return nil
}

func (a *fakeActions) SendMessage(_ context.Context, text string) (model.Message, error) {
	return model.Message{ID: model.LocalIDPrefix + "1", Text: text}, nil
}

func (a *fakeActions) MarkRead(context.Context) error          { return nil }
func (a *fakeActions) LoadOlderMessages(context.Context) error { return nil }

func (a *fakeActions) list() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.selected...)
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestHub_PeerActionsAndRelay(t *testing.T) {
	actions := &fakeActions{}
	hub := NewHub(actions, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	changes := make(chan chat.Change, 1)
	go hub.Relay(ctx, changes)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		cctx, ccancel := context.WithCancel(ctx)
		c := NewClient(hub, conn, "peer-1")
		c.Start(cctx, ccancel)
		hub.Register(c)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(IncomingMessage{Type: EventSelectChat, ChatID: "A"}))
	require.Eventually(t, func() bool { return len(actions.list()) == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(IncomingMessage{Type: EventSendMessage, Text: "hi"}))
	frame := readFrame(t, conn)
	assert.Equal(t, string(EventMessageSent), frame["type"])

	require.NoError(t, conn.WriteJSON(IncomingMessage{Type: EventSelectChat, ChatID: "missing"}))
	frame = readFrame(t, conn)
	assert.Equal(t, string(EventError), frame["type"])

	changes <- chat.Change{Kind: chat.ChangeTimeline, ChatID: "A"}
	frame = readFrame(t, conn)
	assert.Equal(t, string(EventStateChanged), frame["type"])
	payload := frame["payload"].(map[string]any)
	assert.Equal(t, "timeline", payload["kind"])
	assert.Equal(t, "A", payload["chatId"])
}

func TestClient_RejectsMalformedFramesAndKeepsReading(t *testing.T) {
	actions := &fakeActions{}
	hub := NewHub(actions, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		cctx, ccancel := context.WithCancel(ctx)
		c := NewClient(hub, conn, "peer-2")
		c.Start(cctx, ccancel)
		hub.Register(c)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	for _, raw := range []string{"not json", "{}"} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))
		frame := readFrame(t, conn)
		assert.Equal(t, string(EventError), frame["type"], raw)
		assert.Equal(t, "malformed frame", frame["payload"], raw)
	}

	require.NoError(t, conn.WriteJSON(IncomingMessage{Type: EventSelectChat, ChatID: "A"}))
	require.Eventually(t, func() bool { return len(actions.list()) == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Count() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestDecodeFrame(t *testing.T) {
	msg, err := decodeFrame([]byte(`{"type":"select_chat","chatId":"A"}`))
	require.NoError(t, err)
	assert.Equal(t, EventSelectChat, msg.Type)
	assert.Equal(t, "A", msg.ChatID)

	_, err = decodeFrame([]byte(`{"chatId":"A"}`))
	assert.ErrorIs(t, err, errUnknownFrame)

	_, err = decodeFrame([]byte(`{`))
	assert.Error(t, err)
}
