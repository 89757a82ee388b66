package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/supportchat/internal/event"
	"github.com/supportchat/internal/logger"
)

const (
	minBackoff      = 500 * time.Millisecond
	maxBackoff      = 30 * time.Second
	eventBufSize    = 256
	stateBufSize    = 16
	maxInboundFrame = 1 << 20
)

// Transport is the push channel over a websocket to the chat backend. It
// redials with exponential backoff until Run's context is done.
type Transport struct {
	url      string
	header   http.Header
	dialer   *websocket.Dialer
	pongWait time.Duration
	log      zerolog.Logger

	events chan event.Event
	states chan bool

	connected atomic.Bool
	stateMu   sync.Mutex
	reported  bool

	sessMu sync.Mutex
	sess   *session
}

type session struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

type TransportOption func(*Transport)

// WithBearer authenticates the handshake.
func WithBearer(token string) TransportOption {
	return func(t *Transport) {
		if token != "" {
			t.header.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithPongWait sets how long the connection may stay silent before it is dropped.
func WithPongWait(d time.Duration) TransportOption {
	return func(t *Transport) {
		if d > 0 {
			t.pongWait = d
		}
	}
}

func WithDialer(d *websocket.Dialer) TransportOption {
	return func(t *Transport) { t.dialer = d }
}

func NewTransport(url string, opts ...TransportOption) *Transport {
	t := &Transport{
		url:      url,
		header:   http.Header{},
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		pongWait: pongWait,
		log:      logger.Module("ws"),
		events:   make(chan event.Event, eventBufSize),
		states:   make(chan bool, stateBufSize),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) Events() <-chan event.Event { return t.events }
func (t *Transport) States() <-chan bool        { return t.states }
func (t *Transport) Connected() bool            { return t.connected.Load() }

// Send queues an encoded intent on the current connection. There is no
// queue across connections: while disconnected it returns event.ErrNotConnected.
func (t *Transport) Send(ctx context.Context, in event.Intent) error {
	frame, err := event.Encode(in)
	if err != nil {
		return err
	}
	t.sessMu.Lock()
	s := t.sess
	t.sessMu.Unlock()
	if s == nil || !t.Connected() {
		return event.ErrNotConnected
	}
	select {
	case s.send <- frame:
		return nil
	case <-s.done:
		return event.ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errors.New("ws send buffer full")
	}
}

// Run keeps the connection up until ctx is done.
func (t *Transport) Run(ctx context.Context) error {
	backoff := minBackoff
	for {
		conn, resp, err := t.dialer.DialContext(ctx, t.url, t.header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			t.setConnected(ctx, false)
			t.log.Warn().Err(err).Dur("retry_in", backoff).Msg("dial failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = minBackoff
		t.serve(ctx, conn)
		t.setConnected(ctx, false)
		if ctx.Err() != nil {
			return nil
		}
	}
}

// setConnected publishes state transitions only. The first failed dial counts
// as a transition so a channel that never came up still reads as down.
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

func (t *Transport) serve(ctx context.Context, conn *websocket.Conn) {
	sctx, cancel := context.WithCancel(ctx)
	s := &session{conn: conn, send: make(chan []byte, sendBufSize), done: make(chan struct{})}
	t.sessMu.Lock()
	t.sess = s
	t.sessMu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t.writePump(sctx, s)
	}()

	t.setConnected(ctx, true)
	t.log.Info().Str("url", t.url).Msg("connected")
	t.readPump(sctx, s)

	cancel()
	close(s.done)
	conn.Close()
	wg.Wait()
	t.sessMu.Lock()
	t.sess = nil
	t.sessMu.Unlock()
}

func (t *Transport) readPump(ctx context.Context, s *session) {
	s.conn.SetReadLimit(maxInboundFrame)
	if err := s.conn.SetReadDeadline(time.Now().Add(t.pongWait)); err != nil {
		return
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(t.pongWait))
	})
	// the writer closes the connection on ctx cancel, which unblocks ReadMessage
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.log.Warn().Err(err).Msg("read failed")
			}
			return
		}
		// any frame proves liveness
		_ = s.conn.SetReadDeadline(time.Now().Add(t.pongWait))

		ev, err := event.Decode(raw)
		if err != nil {
			if errors.Is(err, event.ErrUnknownEvent) {
				t.log.Debug().Err(err).Msg("ignored frame")
			} else {
				t.log.Warn().Err(err).Msg("malformed frame")
			}
			continue
		}
		select {
		case t.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (t *Transport) writePump(ctx context.Context, s *session) {
	period := (t.pongWait * 9) / 10
	ticker := time.NewTicker(period)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case frame := <-s.send:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				t.log.Warn().Err(err).Msg("write failed")
				return
			}
		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (t *Transport) String() string { return fmt.Sprintf("ws(%s)", t.url) }
