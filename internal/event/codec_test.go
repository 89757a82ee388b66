package event_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supportchat/internal/event"
	"github.com/supportchat/internal/model"
)

func TestDecode_Variants(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want event.Event
	}{
		{
			name: "new message",
			raw:  `{"type":"new_message","payload":{"message":{"id":"m1","chatId":"c1","text":"hi"}}}`,
			want: event.NewMessage{Message: model.Message{ID: "m1", ChatID: "c1", Text: "hi"}},
		},
		{
			name: "notification inherits chat id",
			raw:  `{"type":"notification","payload":{"type":"new_chat","chatId":"c2","message":{"text":"help"}}}`,
			want: event.DirectNotification{Type: model.NotificationNewChat, Chat: "c2", Message: model.Message{ChatID: "c2", Text: "help"}},
		},
		{
			name: "status update",
			raw:  `{"type":"chat_status_update","payload":{"chatId":"c1","status":"closed"}}`,
			want: event.StatusChange{Chat: "c1", Status: model.ChatStatusClosed},
		},
		{
			name: "read receipt without role",
			raw:  `{"type":"messages_marked_read","payload":{"chatId":"c1"}}`,
			want: event.ReadReceipt{Chat: "c1"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := event.Decode([]byte(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.want, ev)
		})
	}
}

func TestDecode_Rejects(t *testing.T) {
	cases := map[string]string{
		"garbage":       `{"type":`,
		"unknown":       `{"type":"typing","payload":{"chatId":"c1"}}`,
		"no message id": `{"type":"new_message","payload":{"message":{"chatId":"c1"}}}`,
		"bad status":    `{"type":"chat_status_update","payload":{"chatId":"c1","status":"archived"}}`,
		"missing chat":  `{"type":"messages_marked_read","payload":{}}`,
		"payload type":  `{"type":"new_message","payload":"oops"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := event.Decode([]byte(raw))
			assert.Error(t, err)
		})
	}

	_, err := event.Decode([]byte(`{"type":"typing","payload":{}}`))
	assert.ErrorIs(t, err, event.ErrUnknownEvent)
}

func TestEncode_Intents(t *testing.T) {
	raw, err := event.Encode(event.JoinChat{Chat: "c1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"join_chat","payload":"c1"}`, string(raw))

	raw, err = event.Encode(event.SendMessage{Chat: "c1", Text: "hi", ClientID: "k1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"send_message","payload":{"chatId":"c1","text":"hi","clientId":"k1"}}`, string(raw))

	raw, err = event.Encode(event.MarkRead{Chat: "c1"})
	require.NoError(t, err)
	var env event.Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, event.NameMarkRead, env.Type)
	assert.JSONEq(t, `{"chatId":"c1"}`, string(env.Payload))
}

func TestEncodeEvent_DecodesBack(t *testing.T) {
	in := event.StatusChange{Chat: "c9", Status: model.ChatStatusPending}
	raw, err := event.EncodeEvent(in)
	require.NoError(t, err)
	out, err := event.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
