package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/supportchat/internal/logger"
)

type State int

const (
	Live State = iota
	Degraded
)

func (s State) String() string {
	if s == Degraded {
		return "degraded"
	}
	return "live"
}

// Refresher re-fetches the active conversation over REST.
type Refresher interface {
	ActiveChatID() string
	RefreshActive(ctx context.Context) error
}

// Ticker is the subset of time.Ticker the fallback needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func newTimeTicker(d time.Duration) Ticker { return timeTicker{t: time.NewTicker(d)} }

const (
	DefaultPollInterval = 30 * time.Second
	refreshTimeout      = 15 * time.Second
)

// Fallback polls the active chat while the push channel is down. It holds no
// state across a dropped connection other than whether it is polling.
type Fallback struct {
	refresher Refresher
	interval  time.Duration
	newTicker func(time.Duration) Ticker

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

type FallbackOption func(*Fallback)

// WithTicker replaces the ticker source.
func WithTicker(fn func(time.Duration) Ticker) FallbackOption {
	return func(f *Fallback) { f.newTicker = fn }
}

func NewFallback(r Refresher, interval time.Duration, opts ...FallbackOption) *Fallback {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	f := &Fallback{refresher: r, interval: interval, newTicker: newTimeTicker}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fallback) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Degrade enters the Degraded state and starts polling. Repeated calls are no-ops.
func (f *Fallback) Degrade(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == Degraded {
		return
	}
	f.state = Degraded
	loopCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.done = make(chan struct{})
	go f.poll(loopCtx, f.done)
	logger.Warnf("push channel down, polling every %v", f.interval)
}

// Live returns to the Live state; no refresh happens after it returns.
func (f *Fallback) Live() {
	f.mu.Lock()
	if f.state == Live {
		f.mu.Unlock()
		return
	}
	f.state = Live
	cancel, done := f.cancel, f.done
	f.cancel, f.done = nil, nil
	f.mu.Unlock()

	cancel()
	<-done
	logger.Info("push channel restored, polling stopped")
}

// Stop ends polling on shutdown.
func (f *Fallback) Stop() { f.Live() }

func (f *Fallback) poll(ctx context.Context, done chan struct{}) {
	defer close(done)
	t := f.newTicker(f.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			if ctx.Err() != nil {
				return
			}
			if f.refresher.ActiveChatID() == "" {
				continue
			}
			rctx, cancel := context.WithTimeout(ctx, refreshTimeout)
			if err := f.refresher.RefreshActive(rctx); err != nil && ctx.Err() == nil {
				logger.Errorf("fallback refresh: %v", err)
			}
			cancel()
		}
	}
}
