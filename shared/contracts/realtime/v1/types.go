package v1

import (
	"encoding/json"
	"fmt"
	"time"
)

// ConnectedPayload is the greeting frame sent after the upgrade completes.
type ConnectedPayload struct {
	Message string `json:"message"`
	Time    int64  `json:"time"`
}

// ServiceUpdatePayload carries one health-check result.
type ServiceUpdatePayload struct {
	ServiceID      string    `json:"service_id"`
	Name           string    `json:"name,omitempty"`
	Status         string    `json:"status"` // up, down, degraded
	ResponseTimeMs *int      `json:"response_time_ms,omitempty"`
	StatusCode     *int      `json:"status_code,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	CheckedAt      time.Time `json:"checked_at,omitempty"`
}

// AlertPayload carries a raised or resolved alert.
type AlertPayload struct {
	ID         string     `json:"id"`
	ServiceID  string     `json:"service_id"`
	Kind       string     `json:"alert_type,omitempty"` // downtime, latency, threshold
	Message    string     `json:"message"`
	Severity   string     `json:"severity,omitempty"` // low, medium, high, critical
	Resolved   bool       `json:"is_resolved,omitempty"`
	CreatedAt  time.Time  `json:"created_at,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Message is the tagged variant delivered to subscribers.
//
// Exactly one of the typed payload pointers is set for recognized types;
// unrecognized types leave all pointers nil and are identified by Type with
// the original frame in Raw.
type Message struct {
	Type string
	Raw  json.RawMessage

	Connected     *ConnectedPayload
	ServiceUpdate *ServiceUpdatePayload
	Alert         *AlertPayload
}

// Recognized reports whether the message decoded into a typed payload.
func (m Message) Recognized() bool {
	return m.Connected != nil || m.ServiceUpdate != nil || m.Alert != nil
}

// DecodeMessage turns a parsed envelope into the tagged variant.
//
// A recognized type whose body does not match its schema is an error; an
// unknown type is not (forward compatibility).
func DecodeMessage(env Envelope) (Message, error) {
	msg := Message{Type: env.Type, Raw: env.Raw}

	switch env.Type {
	case TypeConnected:
		var p ConnectedPayload
		if err := json.Unmarshal(env.Raw, &p); err != nil {
			return Message{}, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		msg.Connected = &p
	case TypeServiceUpdate:
		var p ServiceUpdatePayload
		if err := json.Unmarshal(env.Raw, &p); err != nil {
			return Message{}, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		msg.ServiceUpdate = &p
	case TypeAlert:
		var p AlertPayload
		if err := json.Unmarshal(env.Raw, &p); err != nil {
			return Message{}, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		msg.Alert = &p
	}

	return msg, nil
}
