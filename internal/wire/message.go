// Package wire implements eddi's line-delimited JSON protocol (spec.md
// §4.2 WireCodec): one ProtocolMessage per line, framed with a trailing
// newline, decoded from a tagged sum type.
package wire

import (
	"time"
)

// Tag identifies a ProtocolMessage's variant.
type Tag string

const (
	TagAuth            Tag = "Auth"
	TagAuthResponse    Tag = "AuthResponse"
	TagSend            Tag = "Send"
	TagBroadcast       Tag = "Broadcast"
	TagReceive         Tag = "Receive"
	TagReceiveResponse Tag = "ReceiveResponse"
	TagPing            Tag = "Ping"
	TagPong            Tag = "Pong"
	TagError           Tag = "Error"
)

// Message is the queue's stored record (spec.md §3 Message).
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	Content   []byte    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether m is no longer visible to readers as of now.
func (m Message) Expired(now time.Time) bool {
	return !now.Before(m.ExpiresAt)
}

// ProtocolMessage is the tagged sum type exchanged over the wire. Exactly
// one of the variant-specific fields is meaningful for a given Tag; this
// mirrors the Rust source's enum via a flat, tag-discriminated struct
// rather than Go's lack of sum types, matching how the rest of the pack
// (config layers, CLI flag structs) flattens variant data into one struct
// with a discriminator field.
type ProtocolMessage struct {
	Tag Tag `json:"tag"`

	// Auth
	Code     string `json:"code,omitempty"`
	ClientID string `json:"client_id,omitempty"`

	// AuthResponse
	Success  bool   `json:"success,omitempty"`
	Message  string `json:"message,omitempty"`
	ServerID string `json:"server_id,omitempty"`

	// Send / Broadcast
	Content []byte   `json:"content,omitempty"`
	Msg     *Message `json:"broadcast_message,omitempty"`

	// Receive
	Since *time.Time `json:"since,omitempty"`

	// ReceiveResponse
	Messages []Message `json:"messages,omitempty"`
}

// Auth constructs an Auth message.
func Auth(code, clientID string) ProtocolMessage {
	return ProtocolMessage{Tag: TagAuth, Code: code, ClientID: clientID}
}

// AuthResponse constructs an AuthResponse message.
func AuthResponse(success bool, message, serverID string) ProtocolMessage {
	return ProtocolMessage{Tag: TagAuthResponse, Success: success, Message: message, ServerID: serverID}
}

// Send constructs a Send message.
func Send(content []byte) ProtocolMessage {
	return ProtocolMessage{Tag: TagSend, Content: content}
}

// Broadcast constructs a Broadcast message.
func Broadcast(msg Message) ProtocolMessage {
	return ProtocolMessage{Tag: TagBroadcast, Msg: &msg}
}

// Receive constructs a Receive message, optionally bounded by since.
func Receive(since *time.Time) ProtocolMessage {
	return ProtocolMessage{Tag: TagReceive, Since: since}
}

// ReceiveResponse constructs a ReceiveResponse message.
func ReceiveResponse(messages []Message) ProtocolMessage {
	return ProtocolMessage{Tag: TagReceiveResponse, Messages: messages}
}

// Ping constructs a Ping message.
func Ping() ProtocolMessage { return ProtocolMessage{Tag: TagPing} }

// Pong constructs a Pong message.
func Pong() ProtocolMessage { return ProtocolMessage{Tag: TagPong} }

// NewError constructs an Error message.
func NewError(message string) ProtocolMessage {
	return ProtocolMessage{Tag: TagError, Message: message}
}
