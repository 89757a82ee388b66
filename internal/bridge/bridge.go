// Package bridge connects the push channel to the chat store. It is the only
// component that talks to a transport: inbound events are dispatched into the
// store in arrival order and outbound intents are sent through it.
package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/scylladb/go-set/strset"
	"golang.org/x/sync/errgroup"

	"github.com/supportchat/internal/chat"
	"github.com/supportchat/internal/event"
	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/model"
)

// Transport is a push channel. Events and States are delivered on channels
// owned by the transport; States carries true on connect and false on drop.
type Transport interface {
	Run(ctx context.Context) error
	Events() <-chan event.Event
	States() <-chan bool
	Connected() bool
	Send(ctx context.Context, in event.Intent) error
}

// Store is the part of chat.Store the bridge drives.
type Store interface {
	Refresher
	ChatIDs() []string
	Subscribe() <-chan chat.Change
	Unsubscribe(ch <-chan chat.Change)
	ApplyMessage(ctx context.Context, m model.Message)
	ApplyNotification(ctx context.Context, n event.DirectNotification)
	ApplyStatus(ctx context.Context, chatID string, status model.ChatStatus)
	ApplyReadReceipt(chatID string, reader model.Role)
}

type Bridge struct {
	transport Transport
	store     Store
	fallback  *Fallback
	seen      *seenWindow
	log       zerolog.Logger

	mu       sync.Mutex
	joined   *strset.Set
	watchers []func(connected bool, mode State)
}

func New(t Transport) *Bridge {
	return &Bridge{
		transport: t,
		seen:      newSeenWindow(defaultSeenWindow),
		joined:    strset.New(),
		log:       logger.Module("bridge"),
	}
}

// Attach binds the store the events are applied to. The fallback may be nil,
// in which case a dropped connection only stops live updates.
func (b *Bridge) Attach(store Store, fb *Fallback) {
	b.store = store
	b.fallback = fb
}

// OnState registers fn to be called after every connect and disconnect.
// Call it before Run.
func (b *Bridge) OnState(fn func(connected bool, mode State)) {
	b.watchers = append(b.watchers, fn)
}

func (b *Bridge) notify(connected bool) {
	mode := b.Mode()
	for _, fn := range b.watchers {
		fn(connected, mode)
	}
}

func (b *Bridge) Connected() bool { return b.transport.Connected() }

// Mode reports whether the store is fed by the push channel or by polling.
func (b *Bridge) Mode() State {
	if b.fallback == nil {
		if b.Connected() {
			return Live
		}
		return Degraded
	}
	return b.fallback.State()
}

// Emit sends an intent. It fails fast with event.ErrNotConnected while the
// channel is down. Joining a room already joined on this connection is a no-op.
func (b *Bridge) Emit(ctx context.Context, in event.Intent) error {
	if !b.transport.Connected() {
		return event.ErrNotConnected
	}
	join, isJoin := in.(event.JoinChat)
	if isJoin {
		b.mu.Lock()
		has := b.joined.Has(join.Chat)
		b.mu.Unlock()
		if has {
			return nil
		}
	}
	if err := b.transport.Send(ctx, in); err != nil {
		return fmt.Errorf("emit %s: %w", in.Name(), err)
	}
	if isJoin {
		b.mu.Lock()
		b.joined.Add(join.Chat)
		b.mu.Unlock()
	}
	return nil
}

// Run drives the transport and the dispatch loop until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	if b.store == nil {
		return fmt.Errorf("bridge: no store attached")
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.transport.Run(ctx) })
	g.Go(func() error { return b.loop(ctx) })
	return g.Wait()
}

func (b *Bridge) loop(ctx context.Context) error {
	changes := b.store.Subscribe()
	defer b.store.Unsubscribe(changes)
	defer func() {
		if b.fallback != nil {
			b.fallback.Stop()
		}
	}()

	events, states := b.transport.Events(), b.transport.States()
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-states:
			if !ok {
				return nil
			}
			if up {
				b.onConnect(ctx)
			} else {
				b.onDisconnect(ctx)
			}
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			b.Dispatch(ctx, ev)
		case c := <-changes:
			// a full reload of the list may bring chats whose rooms are not joined yet
			if c.Kind == chat.ChangeChats && c.ChatID == "" && b.Connected() {
				b.joinAll(ctx)
			}
		}
	}
}

// Dispatch applies one inbound event. Redelivered events are dropped.
func (b *Bridge) Dispatch(ctx context.Context, ev event.Event) {
	if key := dedupKey(ev); key != "" && b.seen.Seen(key) {
		b.log.Debug().Str("event", string(ev.Name())).Str("key", key).Msg("duplicate dropped")
		return
	}
	switch e := ev.(type) {
	case event.NewMessage:
		b.store.ApplyMessage(ctx, e.Message)
	case event.DirectNotification:
		b.store.ApplyNotification(ctx, e)
	case event.StatusChange:
		b.store.ApplyStatus(ctx, e.Chat, e.Status)
	case event.ReadReceipt:
		b.store.ApplyReadReceipt(e.Chat, e.ReaderRole)
	default:
		b.log.Warn().Str("event", string(ev.Name())).Msg("unhandled event")
	}
}

func dedupKey(ev event.Event) string {
	switch e := ev.(type) {
	case event.NewMessage:
		return "message:" + e.Message.ID
	case event.DirectNotification:
		if e.Message.ID != "" {
			return "notification:" + string(e.Type) + ":" + e.Message.ID
		}
		return "notification:" + e.Chat + ":" + string(e.Type) + ":" + chat.Signature(e.Message.Sender.ID, e.Message.Text)
	default:
		// status and read receipts are idempotent
		return ""
	}
}

func (b *Bridge) onConnect(ctx context.Context) {
	b.log.Info().Msg("push channel connected")
	b.mu.Lock()
	b.joined.Clear()
	b.mu.Unlock()
	if b.fallback != nil {
		b.fallback.Live()
	}
	b.joinAll(ctx)
	b.notify(true)
}

func (b *Bridge) onDisconnect(ctx context.Context) {
	b.log.Warn().Msg("push channel disconnected")
	b.mu.Lock()
	b.joined.Clear()
	b.mu.Unlock()
	if b.fallback != nil {
		b.fallback.Degrade(ctx)
	}
	b.notify(false)
}

func (b *Bridge) joinAll(ctx context.Context) {
	for _, id := range b.store.ChatIDs() {
		if err := b.Emit(ctx, event.JoinChat{Chat: id}); err != nil {
			b.log.Debug().Str("chat", id).Err(err).Msg("join failed")
			return
		}
	}
}
