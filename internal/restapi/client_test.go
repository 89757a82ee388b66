package restapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supportchat/internal/model"
	"github.com/supportchat/internal/restapi"
)

type backend struct {
	t      *testing.T
	mu     sync.Mutex
	auth   []string
	bodies map[string]map[string]any
}

func newBackend(t *testing.T) (*backend, *httptest.Server) {
	b := &backend{t: t, bodies: make(map[string]map[string]any)}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b.mu.Lock()
			b.auth = append(b.auth, r.Header.Get("Authorization"))
			b.mu.Unlock()
			next.ServeHTTP(w, r)
		})
	})
	r.Get("/api/chats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []model.Chat{{ID: "c1", Status: model.ChatStatusActive}})
	})
	r.Get("/api/chats/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "id") == "missing" {
			http.Error(w, `{"error":"chat not found"}`, http.StatusNotFound)
			return
		}
		q := r.URL.Query()
		assert.Equal(t, "2", q.Get("page"))
		assert.Equal(t, "25", q.Get("limit"))
		writeJSON(w, model.MessagePage{
			Messages:   []model.Message{{ID: "m1", ChatID: "c1", Text: "hi"}},
			Pagination: model.Pagination{Total: 26, Page: 2, Pages: 2},
		})
	})
	r.Post("/api/chats", func(w http.ResponseWriter, r *http.Request) {
		b.record("create", r)
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, model.Chat{ID: "new", Status: model.ChatStatusPending})
	})
	r.Put("/api/chats/{id}", func(w http.ResponseWriter, r *http.Request) {
		b.record("status", r)
		writeJSON(w, model.Chat{ID: chi.URLParam(r, "id"), Status: model.ChatStatusClosed})
	})
	r.Post("/api/chats/{id}/notes", func(w http.ResponseWriter, r *http.Request) {
		b.record("note", r)
		w.WriteHeader(http.StatusNoContent)
	})
	r.Put("/api/chats/{id}/tags", func(w http.ResponseWriter, r *http.Request) {
		b.record("tags", r)
		writeJSON(w, map[string]bool{"ok": true})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return b, srv
}

func (b *backend) record(key string, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		b.t.Errorf("%s: decode body: %v", key, err)
	}
	b.mu.Lock()
	b.bodies[key] = body
	b.mu.Unlock()
}

func (b *backend) body(key string) map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bodies[key]
}

func (b *backend) headers() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.auth...)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_Endpoints(t *testing.T) {
	b, srv := newBackend(t)
	c := restapi.NewClient(srv.URL+"/api/", "secret", time.Second)
	ctx := context.Background()

	chats, err := c.ListChats(ctx)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "c1", chats[0].ID)

	page, err := c.FetchMessages(ctx, "c1", 2, 25)
	require.NoError(t, err)
	assert.Equal(t, 26, page.Pagination.Total)
	assert.Equal(t, "m1", page.Messages[0].ID)

	created, err := c.CreateChat(ctx, "need help")
	require.NoError(t, err)
	assert.Equal(t, "new", created.ID)
	assert.Equal(t, "need help", b.body("create")["message"])

	updated, err := c.UpdateStatus(ctx, "c1", model.ChatStatusClosed)
	require.NoError(t, err)
	assert.Equal(t, model.ChatStatusClosed, updated.Status)
	assert.Equal(t, "closed", b.body("status")["status"])

	require.NoError(t, c.AddNote(ctx, "c1", "called back"))
	assert.Equal(t, "called back", b.body("note")["note"])

	require.NoError(t, c.UpdateTags(ctx, "c1", nil))
	assert.Equal(t, []any{}, b.body("tags")["tags"])

	for _, h := range b.headers() {
		assert.Equal(t, "Bearer secret", h)
	}
}

func TestClient_StatusError(t *testing.T) {
	_, srv := newBackend(t)
	c := restapi.NewClient(srv.URL+"/api", "", time.Second)

	_, err := c.FetchMessages(context.Background(), "missing", 1, 30)
	var se *restapi.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Equal(t, http.MethodGet, se.Method)
	assert.Contains(t, se.Body, "chat not found")
}

func TestClient_NoTokenNoHeader(t *testing.T) {
	b, srv := newBackend(t)
	c := restapi.NewClient(srv.URL+"/api", "", time.Second)
	_, err := c.ListChats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{""}, b.headers())
}
