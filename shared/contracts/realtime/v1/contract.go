// Package v1 defines the Pulse realtime wire contract as seen by clients.
//
// Every frame in either direction is a JSON object carrying a "type"
// discriminator. The package is intentionally dependency-light so it can be
// shared between the client core and any tooling that speaks the protocol.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Type constants (wire-stable).
const (
	// TypePing is a server->client liveness probe. It carries no payload
	// and must be answered with a pong on the same connection.
	TypePing = "ping"
	// TypePong is the client->server answer to a ping.
	TypePong = "pong"

	// TypeConnected is sent by the server right after a successful upgrade.
	TypeConnected = "connected"
	// TypeServiceUpdate pushes a fresh health-check result for a service.
	TypeServiceUpdate = "service_update"
	// TypeAlert pushes a newly raised or resolved alert.
	TypeAlert = "alert"
)

// Envelope is the parsed wrapper around one inbound frame.
//
// Raw always holds the complete frame so unrecognized types can be forwarded
// verbatim to subscribers.
type Envelope struct {
	Type string
	Raw  json.RawMessage
}

// ParseEnvelope extracts the type discriminator from a frame.
//
// It accepts any JSON object with a non-empty "type"; unknown types are NOT
// an error here, so the protocol stays forward compatible. Everything else
// (non-object frames, missing type) is rejected.
func ParseEnvelope(data []byte) (Envelope, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Envelope{}, fmt.Errorf("invalid frame: %w", err)
	}
	if strings.TrimSpace(probe.Type) == "" {
		return Envelope{}, errors.New("missing field: type")
	}

	raw := make(json.RawMessage, len(data))
	copy(raw, data)
	return Envelope{Type: probe.Type, Raw: raw}, nil
}

// Pong returns the encoded pong frame. It never fails.
func Pong() []byte {
	return []byte(`{"type":"pong"}`)
}

// Outbound is the wrapper for client-originated frames other than pong.
type Outbound struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs structural validation for an outbound frame.
func (o Outbound) Validate() error {
	if strings.TrimSpace(o.Type) == "" {
		return errors.New("missing field: type")
	}
	if o.Type == TypePing {
		return errors.New("clients must not originate pings")
	}
	return nil
}
