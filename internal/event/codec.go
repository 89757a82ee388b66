package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownEvent is returned by Decode for names outside the inbound set.
var ErrUnknownEvent = errors.New("unknown event")

// Envelope is the frame exchanged over every transport.
type Envelope struct {
	Type    Name            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Decode parses a raw frame into one of the inbound event variants.
func Decode(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return DecodePayload(env.Type, env.Payload)
}

// DecodePayload parses the payload of an already split envelope.
func DecodePayload(name Name, payload json.RawMessage) (Event, error) {
	var (
		ev  Event
		err error
	)
	switch name {
	case NameNewMessage:
		var e NewMessage
		err = json.Unmarshal(payload, &e)
		if err == nil && e.Message.ID == "" {
			err = errors.New("message id required")
		}
		ev = e
	case NameNotification:
		var e DirectNotification
		err = json.Unmarshal(payload, &e)
		if err == nil && e.Message.ChatID == "" {
			e.Message.ChatID = e.Chat
		}
		ev = e
	case NameStatusUpdate:
		var e StatusChange
		err = json.Unmarshal(payload, &e)
		if err == nil && !e.Status.Valid() {
			err = fmt.Errorf("invalid status %q", e.Status)
		}
		ev = e
	case NameMessagesRead:
		var e ReadReceipt
		err = json.Unmarshal(payload, &e)
		ev = e
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	if ev.ChatID() == "" {
		return nil, fmt.Errorf("decode %s: chat id required", name)
	}
	return ev, nil
}

// NewEnvelope wraps an intent in the wire envelope. join_chat carries the bare
// chat id as its payload.
func NewEnvelope(in Intent) (Envelope, error) {
	var payload any = in
	if j, ok := in.(JoinChat); ok {
		payload = j.Chat
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", in.Name(), err)
	}
	return Envelope{Type: in.Name(), Payload: raw}, nil
}

// Encode renders an intent as an envelope ready for the wire.
func Encode(in Intent) ([]byte, error) {
	env, err := NewEnvelope(in)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// EncodeEvent renders an inbound event. Servers and test fakes use it to
// produce frames the client understands.
func EncodeEvent(ev Event) ([]byte, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.Name(), err)
	}
	return json.Marshal(Envelope{Type: ev.Name(), Payload: raw})
}

// ErrNotConnected is returned by transports when an intent cannot be emitted
// because the push channel is down. Intents are never queued.
var ErrNotConnected = errors.New("push channel not connected")
