package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/model"
)

type sendFunc func(ctx context.Context, payload []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error)

// WebPush доставляет уведомления в браузер агента по VAPID.
type WebPush struct {
	subs   *Subscriptions
	opts   webpush.Options
	sendFn sendFunc
}

func NewWebPush(subs *Subscriptions, keys *VAPIDKeys, subscriber string, ttl int) *WebPush {
	return &WebPush{
		subs: subs,
		opts: webpush.Options{
			Subscriber:      subscriber,
			VAPIDPublicKey:  keys.PublicKey,
			VAPIDPrivateKey: keys.PrivateKey,
			TTL:             ttl,
		},
		sendFn: webpush.SendNotificationWithContext,
	}
}

// PublicKey: ключ для pushManager.subscribe в браузере.
func (w *WebPush) PublicKey() string { return w.opts.VAPIDPublicKey }

func (w *WebPush) Subscriptions() *Subscriptions { return w.subs }

// Payload: то, что получает service worker.
type Payload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

func payloadOf(n model.Notification) Payload {
	return Payload{
		Title: n.Title,
		Body:  n.Body,
		Data: map[string]string{
			"chatId":         n.ChatID,
			"type":           string(n.Type),
			"notificationId": n.ID,
		},
	}
}

// Send рассылает уведомление по всем подпискам. Подписки, на которые сервис
// ответил 404/410, удаляются.
func (w *WebPush) Send(ctx context.Context, n model.Notification) error {
	subs := w.subs.List()
	if len(subs) == 0 {
		return nil
	}
	body, err := json.Marshal(payloadOf(n))
	if err != nil {
		return err
	}
	var failed int
	for i := range subs {
		sub := &subs[i]
		resp, err := w.sendFn(ctx, body, sub, &w.opts)
		if err != nil {
			logger.Errorf("webpush send %s: %v", shortEndpoint(sub.Endpoint), err)
			failed++
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
			if _, err := w.subs.Remove(sub.Endpoint); err != nil {
				logger.Errorf("webpush remove %s: %v", shortEndpoint(sub.Endpoint), err)
			}
		}
	}
	if failed == len(subs) {
		return fmt.Errorf("webpush: all %d deliveries failed", failed)
	}
	return nil
}

func shortEndpoint(e string) string {
	return e[:min(50, len(e))]
}
