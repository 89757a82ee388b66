package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supportchat/internal/chat"
	"github.com/supportchat/internal/chat/chattest"
	"github.com/supportchat/internal/event"
	"github.com/supportchat/internal/model"
)

var (
	agent    = model.Sender{ID: "agent-1", Name: "Support", Role: model.RoleAgent}
	customer = model.Sender{ID: "cust-1", Name: "Ann", Role: model.RoleCustomer}
)

type fakeTransport struct {
	events chan event.Event
	states chan bool

	mu      sync.Mutex
	up      bool
	sendErr error
	sent    []event.Intent
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan event.Event), states: make(chan bool)}
}

func (t *fakeTransport) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (t *fakeTransport) Events() <-chan event.Event { return t.events }
func (t *fakeTransport) States() <-chan bool        { return t.states }

func (t *fakeTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.up
}

func (t *fakeTransport) setUp(up bool) {
	t.mu.Lock()
	t.up = up
	t.mu.Unlock()
}

func (t *fakeTransport) Send(_ context.Context, in event.Intent) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, in)
	return nil
}

func (t *fakeTransport) joins() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, in := range t.sent {
		if j, ok := in.(event.JoinChat); ok {
			out = append(out, j.Chat)
		}
	}
	return out
}

type manualTicker struct{ c chan time.Time }

func (m *manualTicker) C() <-chan time.Time { return m.c }
func (m *manualTicker) Stop()               {}

type harness struct {
	tr     *fakeTransport
	api    *chattest.API
	store  *chat.Store
	bridge *Bridge
	ticker *manualTicker
	fb     *Fallback
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		tr:     newFakeTransport(),
		ticker: &manualTicker{c: make(chan time.Time)},
		api: chattest.NewAPI(
			model.Chat{ID: "A", Status: model.ChatStatusActive},
			model.Chat{ID: "B", Status: model.ChatStatusPending},
		),
	}
	h.bridge = New(h.tr)
	h.store = chat.NewStore(h.api, h.bridge, model.Viewer{ID: agent.ID, Name: agent.Name, Role: model.RoleAgent})
	h.fb = NewFallback(h.store, time.Minute, WithTicker(func(time.Duration) Ticker { return h.ticker }))
	h.bridge.Attach(h.store, h.fb)
	require.NoError(t, h.store.LoadChats(context.Background()))
	return h
}

// start runs the bridge until the test ends.
func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.bridge.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (h *harness) setState(up bool) {
	h.tr.setUp(up)
	h.tr.states <- up
}

func TestEmit_FailsFastWhileDisconnected(t *testing.T) {
	h := newHarness(t)
	err := h.bridge.Emit(context.Background(), event.MarkRead{Chat: "A"})
	assert.ErrorIs(t, err, event.ErrNotConnected)
	assert.Empty(t, h.tr.sent)
}

func TestEmit_JoinsEachRoomOnce(t *testing.T) {
	h := newHarness(t)
	h.tr.setUp(true)
	ctx := context.Background()

	require.NoError(t, h.bridge.Emit(ctx, event.JoinChat{Chat: "A"}))
	require.NoError(t, h.bridge.Emit(ctx, event.JoinChat{Chat: "A"}))
	assert.Equal(t, []string{"A"}, h.tr.joins())

	h.tr.sendErr = errors.New("buffer full")
	err := h.bridge.Emit(ctx, event.JoinChat{Chat: "B"})
	require.Error(t, err)
	h.tr.sendErr = nil
	require.NoError(t, h.bridge.Emit(ctx, event.JoinChat{Chat: "B"}))
	assert.Equal(t, []string{"A", "B"}, h.tr.joins())
}

func TestRun_RejoinsEveryRoomOnReconnect(t *testing.T) {
	h := newHarness(t)
	var (
		mu     sync.Mutex
		states []State
	)
	h.bridge.OnState(func(_ bool, mode State) {
		mu.Lock()
		states = append(states, mode)
		mu.Unlock()
	})
	h.start(t)

	h.setState(true)
	require.Eventually(t, func() bool { return len(h.tr.joins()) == 2 }, time.Second, 5*time.Millisecond)

	h.setState(false)
	h.setState(true)
	require.Eventually(t, func() bool { return len(h.tr.joins()) == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"A", "B", "A", "B"}, h.tr.joins())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == 3
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []State{Live, Degraded, Live}, states)
	mu.Unlock()
}

func TestDispatch_DropsRedeliveredEvents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	msg := chattest.Msg("m1", "B", customer, "hello", 1)

	h.bridge.Dispatch(ctx, event.NewMessage{Message: msg})
	h.bridge.Dispatch(ctx, event.NewMessage{Message: msg})
	h.bridge.Dispatch(ctx, event.DirectNotification{Type: model.NotificationNewMessage, Chat: "B", Message: msg})

	c, ok := h.store.Chat("B")
	require.True(t, ok)
	assert.Equal(t, 1, c.UnreadCount.Agent)
	assert.Equal(t, 1, h.store.UnreadNotifications())
}

func TestDispatch_StatusAndReadReceipt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.bridge.Dispatch(ctx, event.NewMessage{Message: chattest.Msg("m1", "B", customer, "hello", 1)})
	h.bridge.Dispatch(ctx, event.ReadReceipt{Chat: "B", ReaderRole: model.RoleAgent})
	h.bridge.Dispatch(ctx, event.StatusChange{Chat: "B", Status: model.ChatStatusClosed})

	c, _ := h.store.Chat("B")
	assert.Zero(t, c.UnreadCount.Agent)
	assert.Equal(t, model.ChatStatusClosed, c.Status)
}

func TestFallback_PollsOnlyWhileDegraded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.api.SetHistory("A", []model.Message{chattest.Msg("m1", "A", customer, "one", 1)})
	require.NoError(t, h.store.SelectChat(ctx, "A"))
	require.Equal(t, []int{1}, h.api.Fetches("A"))

	h.fb.Degrade(ctx)
	h.fb.Degrade(ctx)
	assert.Equal(t, Degraded, h.fb.State())

	h.api.Append("A", chattest.Msg("m2", "A", customer, "two", 2))
	h.ticker.c <- time.Now()
	require.Eventually(t, func() bool { return len(h.store.Timeline()) == 2 }, time.Second, 5*time.Millisecond)
	h.ticker.c <- time.Now()
	require.Eventually(t, func() bool { return len(h.api.Fetches("A")) == 3 }, time.Second, 5*time.Millisecond)

	h.fb.Live()
	assert.Equal(t, Live, h.fb.State())
	select {
	case h.ticker.c <- time.Now():
		t.Fatal("tick consumed after Live returned")
	default:
	}
	assert.Len(t, h.api.Fetches("A"), 3)
}

func TestFallback_SkipsTicksWithoutActiveChat(t *testing.T) {
	h := newHarness(t)
	h.fb.Degrade(context.Background())
	h.ticker.c <- time.Now()
	h.ticker.c <- time.Now()
	h.fb.Live()
	assert.Empty(t, h.api.Fetches("A"))
	assert.Empty(t, h.api.Fetches("B"))
}

func TestSeenWindow_EvictsOldest(t *testing.T) {
	w := newSeenWindow(2)
	assert.False(t, w.Seen("a"))
	assert.False(t, w.Seen("b"))
	assert.True(t, w.Seen("a"))
	assert.False(t, w.Seen("c"))
	assert.False(t, w.Seen("a"), "a was evicted")
	assert.True(t, w.Seen("c"))
}
