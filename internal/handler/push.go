package handler

import (
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/supportchat/internal/alert"
)

// PushHandler управляет браузерными подписками агента на web push.
// webPush == nil: пуши выключены.
type PushHandler struct {
	webPush *alert.WebPush
}

func NewPushHandler(wp *alert.WebPush) *PushHandler {
	return &PushHandler{webPush: wp}
}

// GetConfig возвращает публичный VAPID-ключ, если пуши включены.
func (h *PushHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	if h.webPush == nil {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":        true,
		"vapidPublicKey": h.webPush.PublicKey(),
	})
}

// SubscribeRequest: subscription из PushManager.getSubscription().
type SubscribeRequest struct {
	Subscription webpush.Subscription `json:"subscription"`
}

func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	if h.webPush == nil {
		writeError(w, http.StatusServiceUnavailable, "push not configured")
		return
	}
	var req SubscribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.webPush.Subscriptions().Add(req.Subscription); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type UnsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	if h.webPush == nil {
		writeError(w, http.StatusServiceUnavailable, "push not configured")
		return
	}
	var req UnsubscribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint required")
		return
	}
	if _, err := h.webPush.Subscriptions().Remove(req.Endpoint); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to unsubscribe")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
