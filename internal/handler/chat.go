package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/supportchat/internal/chat"
	"github.com/supportchat/internal/model"
)

type ChatHandler struct {
	store *chat.Store
}

func NewChatHandler(store *chat.Store) *ChatHandler {
	return &ChatHandler{store: store}
}

// List returns the chat list, newest first as kept by the store.
// ?reload=1 re-fetches it from the backend first.
func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("reload") == "1" {
		if err := h.store.LoadChats(r.Context()); err != nil {
			writeStoreError(w, err)
			return
		}
	}
	chats := h.store.ListChats()
	if chats == nil {
		chats = []model.Chat{}
	}
	writeJSON(w, http.StatusOK, chats)
}

type StartChatRequest struct {
	Message string `json:"message"`
}

func (h *ChatHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.store.StartChat(r.Context(), req.Message)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *ChatHandler) Active(w http.ResponseWriter, r *http.Request) {
	c, ok := h.store.ActiveChat()
	if !ok {
		writeError(w, http.StatusNotFound, "no active chat")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *ChatHandler) Select(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.SelectChat(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	c, _ := h.store.Chat(id)
	writeJSON(w, http.StatusOK, c)
}

func (h *ChatHandler) Close(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.CloseChat(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	c, _ := h.store.Chat(id)
	writeJSON(w, http.StatusOK, c)
}

type UpdateTagsRequest struct {
	Tags []string `json:"tags"`
}

func (h *ChatHandler) UpdateTags(w http.ResponseWriter, r *http.Request) {
	var req UpdateTagsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.store.UpdateTags(r.Context(), id, req.Tags); err != nil {
		writeStoreError(w, err)
		return
	}
	c, _ := h.store.Chat(id)
	writeJSON(w, http.StatusOK, c)
}

type AddNoteRequest struct {
	Note string `json:"note"`
}

func (h *ChatHandler) AddNote(w http.ResponseWriter, r *http.Request) {
	var req AddNoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Note == "" {
		writeError(w, http.StatusBadRequest, "note required")
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.store.AddNote(r.Context(), id, req.Note); err != nil {
		writeStoreError(w, err)
		return
	}
	c, _ := h.store.Chat(id)
	writeJSON(w, http.StatusCreated, c)
}
