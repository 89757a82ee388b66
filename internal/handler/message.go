package handler

import (
	"net/http"

	"github.com/supportchat/internal/chat"
	"github.com/supportchat/internal/model"
)

type MessageHandler struct {
	store *chat.Store
}

func NewMessageHandler(store *chat.Store) *MessageHandler {
	return &MessageHandler{store: store}
}

// TimelineResponse is the active chat's loaded window.
type TimelineResponse struct {
	ChatID   string          `json:"chatId"`
	Messages []model.Message `json:"messages"`
	Cursor   model.Cursor    `json:"cursor"`
	HasOlder bool            `json:"hasOlder"`
}

func (h *MessageHandler) timeline() TimelineResponse {
	msgs := h.store.Timeline()
	if msgs == nil {
		msgs = []model.Message{}
	}
	cur := h.store.Cursor()
	return TimelineResponse{
		ChatID:   h.store.ActiveChatID(),
		Messages: msgs,
		Cursor:   cur,
		HasOlder: !cur.Exhausted(),
	}
}

func (h *MessageHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	if h.store.ActiveChatID() == "" {
		writeError(w, http.StatusConflict, chat.ErrNoActiveChat.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.timeline())
}

type SendMessageRequest struct {
	Text string `json:"text"`
}

// Send returns the optimistic message; its id is local until the echo arrives.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	m, err := h.store.SendMessage(r.Context(), req.Text)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, m)
}

func (h *MessageHandler) LoadOlder(w http.ResponseWriter, r *http.Request) {
	if err := h.store.LoadOlderMessages(r.Context()); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.timeline())
}

func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	if err := h.store.MarkRead(r.Context()); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
