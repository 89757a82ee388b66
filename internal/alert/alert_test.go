package alert

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supportchat/internal/model"
)

func sub(endpoint string) webpush.Subscription {
	return webpush.Subscription{
		Endpoint: endpoint,
		Keys:     webpush.Keys{P256dh: "p256dh-" + endpoint, Auth: "auth-" + endpoint},
	}
}

func TestSubscriptions_PersistAndReplace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "push", "subs.json")
	s, err := LoadSubscriptions(path)
	require.NoError(t, err)
	assert.Empty(t, s.List())

	require.NoError(t, s.Add(sub("https://push.example/a")))
	require.NoError(t, s.Add(sub("https://push.example/b")))
	require.NoError(t, s.Add(sub("https://push.example/a")))
	assert.Error(t, s.Add(webpush.Subscription{Endpoint: "https://push.example/c"}))

	reloaded, err := LoadSubscriptions(path)
	require.NoError(t, err)
	list := reloaded.List()
	require.Len(t, list, 2)
	assert.Equal(t, "https://push.example/b", list[0].Endpoint)
	assert.Equal(t, "https://push.example/a", list[1].Endpoint)

	removed, err := reloaded.Remove("https://push.example/b")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = reloaded.Remove("https://push.example/b")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestSubscriptions_KeepsMostRecent(t *testing.T) {
	s, err := LoadSubscriptions("")
	require.NoError(t, err)
	for i := 0; i < maxSubscriptions+3; i++ {
		require.NoError(t, s.Add(sub(strings.Repeat("x", i+1))))
	}
	list := s.List()
	require.Len(t, list, maxSubscriptions)
	assert.Equal(t, strings.Repeat("x", 4), list[0].Endpoint)
}

func TestWebPush_DropsGoneSubscriptions(t *testing.T) {
	subs, _ := LoadSubscriptions("")
	require.NoError(t, subs.Add(sub("gone")))
	require.NoError(t, subs.Add(sub("ok")))

	wp := NewWebPush(subs, &VAPIDKeys{PublicKey: "pub", PrivateKey: "priv"}, "support", 30)
	var payloads []Payload
	wp.sendFn = func(_ context.Context, body []byte, s *webpush.Subscription, opts *webpush.Options) (*http.Response, error) {
		var p Payload
		require.NoError(t, json.Unmarshal(body, &p))
		payloads = append(payloads, p)
		assert.Equal(t, "pub", opts.VAPIDPublicKey)
		code := http.StatusCreated
		if s.Endpoint == "gone" {
			code = http.StatusGone
		}
		return &http.Response{StatusCode: code, Body: io.NopCloser(strings.NewReader(""))}, nil
	}

	n := model.Notification{ID: "n1", ChatID: "c1", Type: model.NotificationNewMessage, Title: "New message from Ann", Body: "hi"}
	require.NoError(t, wp.Send(context.Background(), n))

	require.Len(t, payloads, 2)
	assert.Equal(t, "c1", payloads[0].Data["chatId"])
	assert.Equal(t, "n1", payloads[0].Data["notificationId"])
	list := subs.List()
	require.Len(t, list, 1)
	assert.Equal(t, "ok", list[0].Endpoint)
}

func TestWebPush_AllFailed(t *testing.T) {
	subs, _ := LoadSubscriptions("")
	require.NoError(t, subs.Add(sub("a")))
	wp := NewWebPush(subs, &VAPIDKeys{PublicKey: "pub", PrivateKey: "priv"}, "support", 30)
	wp.sendFn = func(context.Context, []byte, *webpush.Subscription, *webpush.Options) (*http.Response, error) {
		return nil, errors.New("dial tcp: refused")
	}
	assert.Error(t, wp.Send(context.Background(), model.Notification{ChatID: "c1"}))
}

func TestRelay_PostsNotify(t *testing.T) {
	got := make(chan NotifyRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/notify", r.URL.Path)
		var req NotifyRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		got <- req
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	r := NewRelay(srv.URL+"/", "agent-1")
	require.NoError(t, r.Send(context.Background(), model.Notification{ChatID: "c1", Type: model.NotificationChatClosed, Title: "Chat closed"}))
	req := <-got
	assert.Equal(t, "agent-1", req.UserID)
	assert.Equal(t, "Chat closed", req.Title)
	assert.Equal(t, "chat_closed", req.Data["type"])
}

func TestRelay_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	assert.Error(t, NewRelay(srv.URL, "agent-1").Send(context.Background(), model.Notification{}))
}

type recordingSender struct {
	mu   sync.Mutex
	got  []string
	fail bool
}

func (s *recordingSender) Send(_ context.Context, n model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, n.ID)
	if s.fail {
		return errors.New("boom")
	}
	return nil
}

func (s *recordingSender) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.got...)
}

func TestDispatcher_FansOutAndSurvivesFailures(t *testing.T) {
	failing := &recordingSender{fail: true}
	ok := &recordingSender{}
	d := NewDispatcher(4, failing, ok)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	d.Alert(ctx, model.Notification{ID: "n1"})
	d.Alert(ctx, model.Notification{ID: "n2"})
	require.Eventually(t, func() bool { return len(ok.ids()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"n1", "n2"}, failing.ids())

	cancel()
	assert.NoError(t, <-done)
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	s := &recordingSender{}
	d := NewDispatcher(1, s)
	d.Alert(context.Background(), model.Notification{ID: "n1"})
	d.Alert(context.Background(), model.Notification{ID: "n2"})
	assert.Len(t, d.queue, 1)
}

func TestEnsureVAPIDKeys_GeneratesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vapid.json")
	first, err := EnsureVAPIDKeys(path)
	require.NoError(t, err)
	require.NotEmpty(t, first.PublicKey)
	second, err := EnsureVAPIDKeys(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
