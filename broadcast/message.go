package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jrsteele09/go-auth-session/credential"
	"github.com/tidwall/gjson"
)

var (
	ErrClosed         = errors.New("broadcast channel closed")
	ErrUnknownMessage = errors.New("unknown message type")
)

// MessageType tags the cross-tab message union.
type MessageType string

const (
	// RequestingAuth is sent by a tab that has no credential of its own.
	RequestingAuth MessageType = "requesting_auth"

	// RespondingAuth answers a RequestingAuth; Auth is nil when the
	// responder has no session.
	RespondingAuth MessageType = "responding_auth"

	// StorageSync announces a tab's new credential after a refresh, or
	// with a nil Auth, that the session was revoked.
	StorageSync MessageType = "storage_sync"
)

func (t MessageType) valid() bool {
	switch t {
	case RequestingAuth, RespondingAuth, StorageSync:
		return true
	}
	return false
}

type Message struct {
	Type      MessageType            `json:"type"`
	From      string                 `json:"from"`                // sending tab id
	RequestID string                 `json:"requestId,omitempty"` // pairs a response with its request
	Auth      *credential.Credential `json:"auth,omitempty"`
}

// Session returns Auth as a credential.Session.
func (m Message) Session() credential.Session {
	return credential.FromPointer(m.Auth)
}

// Encode serializes m for the wire.
func Encode(m Message) ([]byte, error) {
	if !m.Type.valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, m.Type)
	}
	return json.Marshal(m)
}

// Decode parses a wire message. The type tag is checked before the
// full unmarshal so foreign traffic on the channel is rejected cheaply.
func Decode(data []byte) (Message, error) {
	if !gjson.ValidBytes(data) {
		return Message{}, fmt.Errorf("decoding message: invalid json")
	}
	typ := MessageType(gjson.GetBytes(data, "type").Str)
	if !typ.valid() {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownMessage, typ)
	}

	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decoding message: %w", err)
	}
	return m, nil
}
