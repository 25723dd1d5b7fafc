// Package signal encodes and decodes the JSON envelopes exchanged over the
// relay's WebSocket connections and its distribution bridge. It never
// inspects the semantics of a client's payload beyond the fields needed for
// routing (clientId, targetClientId, sessionId).
package signal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Type is the discriminator tag carried on every envelope.
type Type string

const (
	TypeConnected Type = "connected"
	TypeJoin      Type = "join"
	TypeLeave     Type = "leave"
	TypeMessage   Type = "message"
	TypePing      Type = "ping"
	TypePong      Type = "pong"
)

// Envelope is the wire shape of every frame: a type tag plus an opaque data
// payload. The router never unmarshals Data for anything but routing fields;
// it is preserved verbatim when re-encoding for delivery.
type Envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Descriptor is the identity a peer advertises on join, and echoes back on
// leave. The server stores it verbatim and never mutates or validates it
// beyond the fields it needs for routing.
type Descriptor struct {
	ClientID  string `json:"clientId"`
	Name      string `json:"name"`
	Avatar    string `json:"avatar,omitempty"`
	CreatedAt int64  `json:"createdAt"`
	Resume    bool   `json:"resume,omitempty"`
}

// MessagePayload is the routing-relevant shape of a `message` envelope's
// data. Arbitrary additional fields the sender includes are preserved by
// keeping the raw envelope around for forwarding rather than round-tripping
// through this struct.
type MessagePayload struct {
	ClientID       string `json:"clientId"`
	TargetClientID string `json:"targetClientId"`
	SessionID      string `json:"sessionId"`
}

// Decode parses a single text frame into an Envelope. It rejects unknown
// top-level fields and trailing data, matching the strictness the relay
// applies everywhere else it parses client input.
func Decode(frame []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(frame))
	dec.DisallowUnknownFields()

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Envelope{}, fmt.Errorf("%w: trailing data after frame", ErrMalformedFrame)
	}

	switch env.Type {
	case TypeConnected, TypeJoin, TypeLeave, TypeMessage, TypePing, TypePong:
	default:
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownSignalType, env.Type)
	}

	return env, nil
}

// Encode serializes an Envelope back to a text frame.
func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// DecodeDescriptor extracts the Descriptor carried by a join/leave envelope.
func DecodeDescriptor(env Envelope) (Descriptor, error) {
	var d Descriptor
	if len(env.Data) == 0 {
		return Descriptor{}, fmt.Errorf("%w: missing descriptor data", ErrMalformedFrame)
	}
	if err := json.Unmarshal(env.Data, &d); err != nil {
		return Descriptor{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if d.ClientID == "" {
		return Descriptor{}, fmt.Errorf("%w: descriptor missing clientId", ErrMalformedFrame)
	}
	return d, nil
}

// DecodeMessagePayload extracts the routing fields from a `message`
// envelope's data without discarding the rest of the payload — the caller
// still has the full raw Envelope to forward.
func DecodeMessagePayload(env Envelope) (MessagePayload, error) {
	var p MessagePayload
	if len(env.Data) == 0 {
		return MessagePayload{}, fmt.Errorf("%w: missing message data", ErrMalformedFrame)
	}
	// Message payloads carry arbitrary sender-defined fields alongside the
	// routing fields, so unlike Decode/DecodeDescriptor this intentionally
	// allows unknown fields.
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return MessagePayload{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if p.TargetClientID == "" {
		return MessagePayload{}, fmt.Errorf("%w: message missing targetClientId", ErrMalformedFrame)
	}
	return p, nil
}

// NewConnected builds the server's post-upgrade greeting, carrying the
// room's stored password hash (or JSON null when the room has none).
func NewConnected(passwordHash *string) Envelope {
	data, _ := json.Marshal(passwordHash)
	return Envelope{Type: TypeConnected, Data: data}
}

// NewDescriptorEnvelope builds a join or leave envelope carrying a
// Descriptor.
func NewDescriptorEnvelope(t Type, d Descriptor) Envelope {
	data, _ := json.Marshal(d)
	return Envelope{Type: t, Data: data}
}

// NewPing builds a liveness ping. It carries no data.
func NewPing() Envelope {
	return Envelope{Type: TypePing}
}

// NewPong builds a liveness pong. It carries no data.
func NewPong() Envelope {
	return Envelope{Type: TypePong}
}
