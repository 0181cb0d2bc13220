// Package event normalizes the JSON bodies the backend pushes into one
// internal shape. Inbound bodies come in two envelopes: a typed notification
// {"type": ..., ...} and a compound chat push {"message": ..., "updatedSession": ...}.
package event

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/openmall/realtime/internal/session"
)

// Reserved and normalized event types.
const (
	TypeForceLogout = "FORCE_LOGOUT"
	TypeChatMessage = "CHAT_MESSAGE"

	TypeOrderPaid      = "ORDER_PAID"
	TypeOrderShipped   = "ORDER_SHIPPED"
	TypeOrderCompleted = "ORDER_COMPLETED"
)

// Message is a chat message carried by the compound envelope.
type Message struct {
	ID          int64  `json:"id"`
	SessionID   int64  `json:"sessionId"`
	SenderID    int64  `json:"senderId"`
	SenderRole  string `json:"senderRole"`
	SenderName  string `json:"senderName,omitempty"`
	Content     string `json:"content"`
	MessageType string `json:"messageType,omitempty"`
	Status      string `json:"status,omitempty"`
	CreatedAt   string `json:"createdAt,omitempty"`
}

// Event is the normalized internal form every dispatch step works with.
type Event struct {
	Type string
	// ID is the server-side notification id, 0 when absent.
	ID int64
	// Payload is the event-specific payload with any double-encoding undone.
	// For typed envelopes without an explicit payload field it is the whole
	// envelope object.
	Payload map[string]any
	// Raw is the original body, kept for fallback rendering.
	Raw json.RawMessage

	// Message and UpdatedSession are set only for compound chat pushes.
	Message        *Message
	UpdatedSession *session.Session
}

// IsCompound reports whether the event carried the chat compound envelope.
func (e *Event) IsCompound() bool {
	return e.Message != nil
}

type probe struct {
	Type           string          `json:"type"`
	ID             int64           `json:"id"`
	Payload        json.RawMessage `json:"payload"`
	Message        json.RawMessage `json:"message"`
	UpdatedSession json.RawMessage `json:"updatedSession"`
}

// Decode tries the known envelope shapes in a fixed priority order: compound
// chat push first, then the typed notification envelope. Malformed JSON is an
// error and the caller drops the body.
func Decode(raw []byte) (*Event, error) {
	var p probe
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode event body: %w", err)
	}

	// Compound only when message is an object; typed envelopes may carry a
	// plain-string "message" field for display text.
	if isObject(p.Message) {
		return decodeCompound(raw, p)
	}

	ev := &Event{
		Type:    p.Type,
		ID:      p.ID,
		Raw:     append(json.RawMessage(nil), raw...),
		Payload: decodePayload(p.Payload, raw),
	}
	return ev, nil
}

func decodeCompound(raw []byte, p probe) (*Event, error) {
	var msg Message
	if err := json.Unmarshal(p.Message, &msg); err != nil {
		return nil, fmt.Errorf("decode compound message: %w", err)
	}

	ev := &Event{
		Type:    TypeChatMessage,
		Raw:     append(json.RawMessage(nil), raw...),
		Message: &msg,
	}

	if isObject(p.UpdatedSession) {
		var sess session.Session
		if err := json.Unmarshal(p.UpdatedSession, &sess); err != nil {
			return nil, fmt.Errorf("decode updated session: %w", err)
		}
		ev.UpdatedSession = &sess
	}
	return ev, nil
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// decodePayload resolves the event payload. The payload field may be an
// object, a JSON-encoded string (double-encoded by some backend paths), or
// absent, in which case the envelope itself is the payload.
func decodePayload(payload json.RawMessage, envelope []byte) map[string]any {
	if len(payload) == 0 || string(payload) == "null" {
		var whole map[string]any
		if err := json.Unmarshal(envelope, &whole); err != nil {
			return map[string]any{}
		}
		return whole
	}

	var obj map[string]any
	if err := json.Unmarshal(payload, &obj); err == nil {
		return obj
	}

	// Double-encoded: payload is a string holding JSON.
	var s string
	if err := json.Unmarshal(payload, &s); err == nil {
		if err := json.Unmarshal([]byte(s), &obj); err == nil {
			return obj
		}
		// Not JSON inside; keep the raw string value.
		return map[string]any{"value": s}
	}
	return map[string]any{}
}
