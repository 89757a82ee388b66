package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/supportchat/internal/chat"
	"github.com/supportchat/internal/model"
)

type NotificationHandler struct {
	store *chat.Store
}

func NewNotificationHandler(store *chat.Store) *NotificationHandler {
	return &NotificationHandler{store: store}
}

type NotificationsResponse struct {
	Notifications []model.Notification `json:"notifications"`
	Unread        int                  `json:"unread"`
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	list := h.store.Notifications()
	if list == nil {
		list = []model.Notification{}
	}
	writeJSON(w, http.StatusOK, NotificationsResponse{Notifications: list, Unread: h.store.UnreadNotifications()})
}

func (h *NotificationHandler) ClearAll(w http.ResponseWriter, r *http.Request) {
	h.store.ClearAllNotifications()
	w.WriteHeader(http.StatusNoContent)
}

func (h *NotificationHandler) ClearChat(w http.ResponseWriter, r *http.Request) {
	h.store.ClearNotifications(chi.URLParam(r, "chatId"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *NotificationHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	if !h.store.DismissNotification(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
