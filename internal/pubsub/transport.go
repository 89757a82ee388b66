// Package pubsub is the push channel over Redis pub/sub. Each chat room is a
// channel, direct notifications arrive on the viewer's own channel and
// intents are published on a shared channel read by the backend.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/supportchat/internal/event"
	"github.com/supportchat/internal/logger"
)

const IntentChannel = "chat:intents"

func ChatChannel(chatID string) string   { return "chat:" + chatID }
func UserChannel(viewerID string) string { return "user:" + viewerID }

const (
	defaultHealthEvery = 5 * time.Second
	eventBufSize       = 256
	stateBufSize       = 16
	minBackoff         = 500 * time.Millisecond
	maxBackoff         = 30 * time.Second
)

// IntentFrame is what the transport publishes on IntentChannel.
type IntentFrame struct {
	ViewerID string `json:"viewerId"`
	event.Envelope
}

type Transport struct {
	client      *redis.Client
	viewerID    string
	healthEvery time.Duration
	log         zerolog.Logger

	events chan event.Event
	states chan bool

	connected atomic.Bool
	stateMu   sync.Mutex
	reported  bool

	psMu sync.Mutex
	ps   *redis.PubSub
}

type Option func(*Transport)

// WithHealthCheck sets how often the server is pinged to detect a dropped link.
func WithHealthCheck(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.healthEvery = d
		}
	}
}

func NewTransport(client *redis.Client, viewerID string, opts ...Option) *Transport {
	t := &Transport{
		client:      client,
		viewerID:    viewerID,
		healthEvery: defaultHealthEvery,
		log:         logger.Module("pubsub"),
		events:      make(chan event.Event, eventBufSize),
		states:      make(chan bool, stateBufSize),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) Events() <-chan event.Event { return t.events }
func (t *Transport) States() <-chan bool        { return t.states }
func (t *Transport) Connected() bool            { return t.connected.Load() }

// Send subscribes to a room for join_chat and publishes every other intent.
func (t *Transport) Send(ctx context.Context, in event.Intent) error {
	if !t.Connected() {
		return event.ErrNotConnected
	}
	if j, ok := in.(event.JoinChat); ok {
		t.psMu.Lock()
		ps := t.ps
		t.psMu.Unlock()
		if ps == nil {
			return event.ErrNotConnected
		}
		if err := ps.Subscribe(ctx, ChatChannel(j.Chat)); err != nil {
			return fmt.Errorf("subscribe %s: %w", j.Chat, err)
		}
		return nil
	}
	env, err := event.NewEnvelope(in)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(IntentFrame{ViewerID: t.viewerID, Envelope: env})
	if err != nil {
		return fmt.Errorf("encode %s: %w", in.Name(), err)
	}
	if err := t.client.Publish(ctx, IntentChannel, frame).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", in.Name(), err)
	}
	return nil
}

// Run subscribes to the viewer channel and forwards events until ctx is done.
// go-redis resubscribes on its own after a reconnect; a periodic ping tells
// the bridge when the link is down.
func (t *Transport) Run(ctx context.Context) error {
	ps, err := t.subscribe(ctx)
	if err != nil {
		// subscribe only gives up once ctx is done
		return nil
	}
	defer func() {
		t.psMu.Lock()
		t.ps = nil
		t.psMu.Unlock()
		if err := ps.Close(); err != nil {
			t.log.Debug().Err(err).Msg("close pubsub")
		}
	}()

	t.setConnected(ctx, true)
	go t.healthLoop(ctx)

	ch := ps.Channel(redis.WithChannelSize(eventBufSize))
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev, err := event.Decode([]byte(msg.Payload))
			if err != nil {
				if errors.Is(err, event.ErrUnknownEvent) {
					t.log.Debug().Str("channel", msg.Channel).Err(err).Msg("ignored message")
				} else {
					t.log.Warn().Str("channel", msg.Channel).Err(err).Msg("malformed message")
				}
				continue
			}
			select {
			case t.events <- ev:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// subscribe retries until the viewer channel subscription is confirmed.
func (t *Transport) subscribe(ctx context.Context) (*redis.PubSub, error) {
	backoff := minBackoff
	for {
		ps := t.client.Subscribe(ctx, UserChannel(t.viewerID))
		_, err := ps.Receive(ctx)
		if err == nil {
			t.psMu.Lock()
			t.ps = ps
			t.psMu.Unlock()
			return ps, nil
		}
		_ = ps.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		t.setConnected(ctx, false)
		t.log.Warn().Err(err).Dur("retry_in", backoff).Msg("subscribe failed")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (t *Transport) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(t.healthEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, t.healthEvery)
			err := t.client.Ping(pctx).Err()
			cancel()
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				t.log.Warn().Err(err).Msg("ping failed")
			}
			t.setConnected(ctx, err == nil)
		}
	}
}

func (t *Transport) setConnected(ctx context.Context, up bool) {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	if t.reported && t.connected.Load() == up {
		return
	}
	t.reported = true
	t.connected.Store(up)
	select {
	case t.states <- up:
	case <-ctx.Done():
	}
}
