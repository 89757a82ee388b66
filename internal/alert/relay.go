package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/supportchat/internal/model"
)

// Relay передаёт уведомления внешнему push-сервису (POST /api/notify).
type Relay struct {
	baseURL    string
	userID     string
	httpClient *http.Client
}

func NewRelay(baseURL, userID string) *Relay {
	return &Relay{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		userID:     userID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// NotifyRequest: тело запроса к push-сервису.
type NotifyRequest struct {
	UserID string            `json:"user_id"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

func (r *Relay) Send(ctx context.Context, n model.Notification) error {
	p := payloadOf(n)
	body, err := json.Marshal(NotifyRequest{UserID: r.userID, Title: p.Title, Body: p.Body, Data: p.Data})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/api/notify", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relay notify: %d", resp.StatusCode)
	}
	return nil
}
