// Package ctrlproto defines the envelope exchanged between a clusterd master
// and its workers over the per-worker control channel. Unlike an RPC
// protocol, messages in this direction carry no reply: "balancing" always
// arrives master-to-worker alongside a passed file descriptor, and "close"
// always arrives worker-to-master with no attachment.
package ctrlproto

import (
	"encoding/json"
	"fmt"
)

// MessageType identifies the kind of control message.
type MessageType string

const (
	// MessageBalancing is sent master -> worker. The accompanying socket
	// file descriptor is transferred out-of-band as SCM_RIGHTS ancillary
	// data on the same sendmsg/recvmsg call.
	MessageBalancing MessageType = "balancing"
	// MessageClose is sent worker -> master when the worker's transport
	// server voluntarily closes.
	MessageClose MessageType = "close"
)

// Message is the envelope for all control-channel traffic.
type Message struct {
	Type MessageType `json:"type"`
	// RemoteAddr is set on a MessageBalancing so the worker's logs can
	// correlate an injected connection with its origin.
	RemoteAddr string `json:"remote_addr,omitempty"`
}

// NewBalancingMessage builds the master -> worker handoff envelope.
func NewBalancingMessage(remoteAddr string) *Message {
	return &Message{Type: MessageBalancing, RemoteAddr: remoteAddr}
}

// NewCloseMessage builds the worker -> master voluntary-close envelope.
func NewCloseMessage() *Message {
	return &Message{Type: MessageClose}
}

// Marshal serializes the message to JSON. Callers that negotiated a
// different codec (msgpack, etc.) bypass this and use that codec directly;
// Marshal/Unmarshal exist for the default JSON path and for tests.
func (m *Message) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// Unmarshal deserializes the message from JSON.
func (m *Message) Unmarshal(data []byte) error {
	return json.Unmarshal(data, m)
}

// IsBalancing reports whether this is a master -> worker handoff message.
func (m *Message) IsBalancing() bool {
	return m.Type == MessageBalancing
}

// IsClose reports whether this is a worker -> master close notification.
func (m *Message) IsClose() bool {
	return m.Type == MessageClose
}

// Validate rejects malformed envelopes early, before a caller acts on them.
func (m *Message) Validate() error {
	switch m.Type {
	case MessageBalancing, MessageClose:
		return nil
	default:
		return fmt.Errorf("ctrlproto: unknown message type %q", m.Type)
	}
}
