package handler

import (
	"net/http"

	"github.com/supportchat/internal/bridge"
	"github.com/supportchat/internal/chat"
	"github.com/supportchat/internal/model"
	"github.com/supportchat/internal/ws"
)

// ConnectionStatus reports the push channel state.
type ConnectionStatus interface {
	Connected() bool
	Mode() bridge.State
}

func connectionPayload(s ConnectionStatus) ws.ConnectionPayload {
	return ws.ConnectionPayload{Connected: s.Connected(), Mode: s.Mode().String()}
}

// ConfigHandler отдаёт консоли то, что ей нужно знать о сессии.
type ConfigHandler struct {
	store    *chat.Store
	status   ConnectionStatus
	pageSize int
}

func NewConfigHandler(store *chat.Store, status ConnectionStatus, pageSize int) *ConfigHandler {
	return &ConfigHandler{store: store, status: status, pageSize: pageSize}
}

type SessionResponse struct {
	Viewer   model.Viewer `json:"viewer"`
	PageSize int          `json:"pageSize"`
}

// GetSession возвращает текущего пользователя и размер страницы истории.
func (h *ConfigHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SessionResponse{Viewer: h.store.Viewer(), PageSize: h.pageSize})
}

// GetConnection возвращает состояние push-канала: live или degraded (опрос по REST).
func (h *ConfigHandler) GetConnection(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, connectionPayload(h.status))
}
