package pubsub

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supportchat/internal/event"
	"github.com/supportchat/internal/model"
)

func TestChannels(t *testing.T) {
	assert.Equal(t, "chat:c1", ChatChannel("c1"))
	assert.Equal(t, "user:agent-1", UserChannel("agent-1"))
}

func TestSend_NotConnected(t *testing.T) {
	tr := NewTransport(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), "agent-1")
	assert.ErrorIs(t, tr.Send(context.Background(), event.MarkRead{Chat: "c1"}), event.ErrNotConnected)
}

// Needs a running Redis: TEST_REDIS_URL=redis://localhost:6379/15 go test ./internal/pubsub
func TestTransport_Redis(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tr := NewTransport(rdb, "agent-1", WithHealthCheck(time.Second))
	go func() { _ = tr.Run(ctx) }()
	require.True(t, <-tr.States())

	intents := rdb.Subscribe(ctx, IntentChannel)
	defer intents.Close()
	_, err = intents.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, tr.Send(ctx, event.JoinChat{Chat: "c1"}))
	frame, err := event.EncodeEvent(event.StatusChange{Chat: "c1", Status: model.ChatStatusClosed})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return rdb.Publish(ctx, ChatChannel("c1"), frame).Val() > 0
	}, 2*time.Second, 20*time.Millisecond)

	select {
	case ev := <-tr.Events():
		assert.Equal(t, event.StatusChange{Chat: "c1", Status: model.ChatStatusClosed}, ev)
	case <-ctx.Done():
		t.Fatal("no event from room channel")
	}

	require.NoError(t, tr.Send(ctx, event.SendMessage{Chat: "c1", Text: "hi", ClientID: "k1"}))
	msg, err := intents.ReceiveMessage(ctx)
	require.NoError(t, err)
	var got IntentFrame
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, "agent-1", got.ViewerID)
	assert.Equal(t, event.NameSendMessage, got.Type)
}
