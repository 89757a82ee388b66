package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/supportchat/internal/chat"
	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/restapi"
)

type errorResponse struct {
	Error string `json:"error"`
}

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return false
	}
	return true
}

// statusOf maps a store error to an HTTP status.
func statusOf(err error) int {
	var (
		collab   *chat.CollaboratorError
		creation *chat.ChatCreationError
	)
	switch {
	case errors.Is(err, chat.ErrNotConnected):
		return http.StatusServiceUnavailable
	case errors.Is(err, chat.ErrNoActiveChat), errors.Is(err, chat.ErrChatClosed):
		return http.StatusConflict
	case errors.Is(err, chat.ErrChatNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.As(err, &collab), errors.As(err, &creation):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type storeErrorResponse struct {
	Error          string `json:"error"`
	UpstreamStatus int    `json:"upstreamStatus,omitempty"`
}

func writeStoreError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	resp := storeErrorResponse{Error: err.Error()}
	var se *restapi.StatusError
	if errors.As(err, &se) {
		resp.UpstreamStatus = se.Code
	}
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		logger.Errorf("console: %v", err)
	}
	writeJSON(w, status, resp)
}
