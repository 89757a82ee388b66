// Package alert delivers freshly created notifications outside the push
// channel: browser web push and an optional relay to an external push service.
package alert

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/model"
)

// Sender delivers one notification.
type Sender interface {
	Send(ctx context.Context, n model.Notification) error
}

const (
	defaultQueueSize = 128
	sendTimeout      = 10 * time.Second
)

// Dispatcher queues notifications and hands them to every sender from its own
// goroutine, so Alert never waits on the network.
type Dispatcher struct {
	senders []Sender
	queue   chan model.Notification
	log     zerolog.Logger
}

func NewDispatcher(size int, senders ...Sender) *Dispatcher {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Dispatcher{
		senders: senders,
		queue:   make(chan model.Notification, size),
		log:     logger.Module("alert"),
	}
}

// Alert enqueues n. A full queue drops it.
func (d *Dispatcher) Alert(_ context.Context, n model.Notification) {
	if len(d.senders) == 0 {
		return
	}
	select {
	case d.queue <- n:
	default:
		d.log.Warn().Str("chat", n.ChatID).Msg("alert queue full, dropped")
	}
}

func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-d.queue:
			for _, s := range d.senders {
				sctx, cancel := context.WithTimeout(ctx, sendTimeout)
				if err := s.Send(sctx, n); err != nil {
					d.log.Error().Err(err).Str("chat", n.ChatID).Str("type", string(n.Type)).Msg("alert delivery failed")
				}
				cancel()
			}
		}
	}
}
