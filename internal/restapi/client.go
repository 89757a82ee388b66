// Package restapi is the HTTP client for the chat backend's REST surface.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/supportchat/internal/model"
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: %d", e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("%s %s: %d: %s", e.Method, e.Path, e.Code, e.Body)
}

const maxErrorBody = 512

// Client calls the chat backend. Every request carries the bearer token when one is set.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.httpClient = hc } }

func NewClient(baseURL, token string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) ListChats(ctx context.Context) ([]model.Chat, error) {
	var chats []model.Chat
	if err := c.do(ctx, http.MethodGet, "/chats", nil, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

func (c *Client) FetchMessages(ctx context.Context, chatID string, page, limit int) (model.MessagePage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	var out model.MessagePage
	err := c.do(ctx, http.MethodGet, "/chats/"+url.PathEscape(chatID)+"/messages?"+q.Encode(), nil, &out)
	return out, err
}

type createChatRequest struct {
	Message string `json:"message"`
}

func (c *Client) CreateChat(ctx context.Context, text string) (model.Chat, error) {
	var out model.Chat
	err := c.do(ctx, http.MethodPost, "/chats", createChatRequest{Message: text}, &out)
	return out, err
}

type statusRequest struct {
	Status model.ChatStatus `json:"status"`
}

func (c *Client) UpdateStatus(ctx context.Context, chatID string, status model.ChatStatus) (model.Chat, error) {
	var out model.Chat
	err := c.do(ctx, http.MethodPut, "/chats/"+url.PathEscape(chatID), statusRequest{Status: status}, &out)
	return out, err
}

type noteRequest struct {
	Note string `json:"note"`
}

func (c *Client) AddNote(ctx context.Context, chatID, note string) error {
	return c.do(ctx, http.MethodPost, "/chats/"+url.PathEscape(chatID)+"/notes", noteRequest{Note: note}, nil)
}

type tagsRequest struct {
	Tags []string `json:"tags"`
}

func (c *Client) UpdateTags(ctx context.Context, chatID string, tags []string) error {
	if tags == nil {
		tags = []string{}
	}
	return c.do(ctx, http.MethodPut, "/chats/"+url.PathEscape(chatID)+"/tags", tagsRequest{Tags: tags}, nil)
}

// do sends body as JSON and decodes a 2xx response into out when out is not nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s %s: encode: %w", method, path, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	return nil
}
