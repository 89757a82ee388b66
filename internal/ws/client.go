package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/supportchat/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufSize    = 256
)

var errUnknownFrame = errors.New("frame has no type")

// Client is one console peer attached to /ws. The hub pushes frames into
// outbox; the peer's intents are decoded and handed back to the hub.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	id     string
	log    zerolog.Logger
	outbox chan OutgoingMessage
	// closed is shut once; the hub checks it before queueing.
	closed chan struct{}

	cancel    context.CancelFunc
	closeOnce sync.Once
	pumps     *errgroup.Group
}

func NewClient(hub *Hub, conn *websocket.Conn, id string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		id:     id,
		log:    logger.Module("ws").With().Str("peer", id).Logger(),
		outbox: make(chan OutgoingMessage, sendBufSize),
		closed: make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.id }

// Start runs the inbound and outbound loops until ctx ends or either loop
// fails. cancel is invoked by Close.
func (c *Client) Start(ctx context.Context, cancel context.CancelFunc) {
	c.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.inbound(gctx) })
	g.Go(func() error { return c.outbound(gctx) })
	c.pumps = g
}

// Wait returns once both loops are gone.
func (c *Client) Wait() {
	if c.pumps == nil {
		return
	}
	if err := c.pumps.Wait(); err != nil {
		c.log.Debug().Err(err).Msg("peer loop ended")
	}
}

// Close may be called from any goroutine, any number of times.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.closed)
		_ = c.conn.Close()
	})
}

// inbound reads frames until the socket fails or ctx ends.
func (c *Client) inbound(ctx context.Context) error {
	defer c.hub.Unregister(c)
	stop := context.AfterFunc(ctx, func() { _ = c.conn.Close() })
	defer stop()

	c.conn.SetReadLimit(maxMessageSize)
	extend := func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) }
	if err := extend(""); err != nil {
		return fmt.Errorf("read deadline: %w", err)
	}
	c.conn.SetPongHandler(extend)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || !websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return nil
			}
			c.log.Warn().Err(err).Msg("read failed")
			return err
		}
		msg, err := decodeFrame(raw)
		if err != nil {
			c.log.Debug().Err(err).Int("bytes", len(raw)).Msg("rejected frame")
			c.hub.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "malformed frame"})
			continue
		}
		c.hub.HandleMessage(ctx, c, msg)
	}
}

func decodeFrame(raw []byte) (IncomingMessage, error) {
	var msg IncomingMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return msg, err
	}
	if msg.Type == "" {
		return msg, errUnknownFrame
	}
	return msg, nil
}

// outbound drains the outbox and keeps the peer alive with pings.
func (c *Client) outbound(ctx context.Context) error {
	keepalive := time.NewTicker(pingPeriod)
	defer keepalive.Stop()
	defer c.conn.Close()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return nil
		case msg := <-c.outbox:
			if err := c.writeFrame(msg); err != nil {
				c.log.Warn().Err(err).Str("type", string(msg.Type)).Msg("write failed")
				return err
			}
		case <-keepalive.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

// writeFrame streams one JSON frame straight into the socket writer.
func (c *Client) writeFrame(msg OutgoingMessage) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(w).Encode(msg); err != nil {
		_ = w.Close()
		return fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	return w.Close()
}
