// ABOUTME: Tagged-union event types carried by the pub/sub fabric
// ABOUTME: JSON envelope codec over the closed set of event kinds

package fabric

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind tags an event on the wire.
type Kind string

// The closed set of fabric event kinds. Adding a kind means touching the
// codec and every dispatch site; the compiler and TestMarshalRoundTrip keep
// the set honest.
const (
	KindConnectionEstablished Kind = "connection_established"
	KindChatMessage           Kind = "chat_message"
	KindAgentMessage          Kind = "agent_message"
	KindSessionAssigned       Kind = "session_assigned"
	KindSessionEscalated      Kind = "session_escalated"
	KindSessionUpdate         Kind = "session_update"
	KindPresenceUpdate        Kind = "presence_update"
	KindError                 Kind = "error"
)

// Event is one fabric payload. The concrete type carries the data; Kind()
// is the wire tag.
type Event interface {
	Kind() Kind
}

// ConnectionEstablished confirms a user channel joined its group.
type ConnectionEstablished struct {
	CompanyID string `json:"company_id"`
	SessionID string `json:"session_id"`
}

// ChatMessage is an end-user message forwarded to the assigned agent.
type ChatMessage struct {
	CompanyID string    `json:"company_id"`
	SessionID string    `json:"session_id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	SentAt    time.Time `json:"sent_at"`
}

// AgentMessage is a human agent's reply delivered to the user channel.
type AgentMessage struct {
	CompanyID string    `json:"company_id"`
	SessionID string    `json:"session_id"`
	AgentID   string    `json:"agent_id"`
	Content   string    `json:"content"`
	SentAt    time.Time `json:"sent_at"`
}

// SessionAssigned announces a handoff was bound to an agent.
type SessionAssigned struct {
	HandoffID string `json:"handoff_id"`
	CompanyID string `json:"company_id"`
	SessionID string `json:"session_id"`
	AgentID   string `json:"agent_id"`
	Priority  string `json:"priority"`
}

// SessionEscalated announces a new pending handoff.
type SessionEscalated struct {
	HandoffID string `json:"handoff_id"`
	CompanyID string `json:"company_id"`
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
	Priority  string `json:"priority"`
}

// SessionUpdate carries a handoff status change (transfer, resolve, cancel).
type SessionUpdate struct {
	HandoffID     string `json:"handoff_id"`
	CompanyID     string `json:"company_id"`
	SessionID     string `json:"session_id"`
	Status        string `json:"status"`
	DerivedStatus string `json:"derived_status"`
	AgentID       string `json:"agent_id,omitempty"`
}

// PresenceUpdate carries an agent's new availability for monitor dashboards.
type PresenceUpdate struct {
	CompanyID string `json:"company_id"`
	AgentID   string `json:"agent_id"`
	Status    string `json:"status"`
}

// ErrorEvent reports a per-connection failure without closing the connection.
type ErrorEvent struct {
	Message string `json:"message"`
}

func (ConnectionEstablished) Kind() Kind { return KindConnectionEstablished }
func (ChatMessage) Kind() Kind           { return KindChatMessage }
func (AgentMessage) Kind() Kind          { return KindAgentMessage }
func (SessionAssigned) Kind() Kind       { return KindSessionAssigned }
func (SessionEscalated) Kind() Kind      { return KindSessionEscalated }
func (SessionUpdate) Kind() Kind         { return KindSessionUpdate }
func (PresenceUpdate) Kind() Kind        { return KindPresenceUpdate }
func (ErrorEvent) Kind() Kind            { return KindError }

// Marshal encodes an event into the wire envelope {"type": <kind>, ...}.
func Marshal(e Event) ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s payload: %w", e.Kind(), err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("flattening %s payload: %w", e.Kind(), err)
	}
	fields["type"] = json.RawMessage(fmt.Sprintf("%q", e.Kind()))
	return json.Marshal(fields)
}

// Unmarshal decodes a wire envelope back into its concrete event type.
// Unknown kinds are an error: the set is closed.
func Unmarshal(data []byte) (Event, error) {
	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}

	var e Event
	switch head.Type {
	case KindConnectionEstablished:
		e = &ConnectionEstablished{}
	case KindChatMessage:
		e = &ChatMessage{}
	case KindAgentMessage:
		e = &AgentMessage{}
	case KindSessionAssigned:
		e = &SessionAssigned{}
	case KindSessionEscalated:
		e = &SessionEscalated{}
	case KindSessionUpdate:
		e = &SessionUpdate{}
	case KindPresenceUpdate:
		e = &PresenceUpdate{}
	case KindError:
		e = &ErrorEvent{}
	default:
		return nil, fmt.Errorf("unknown event kind %q", head.Type)
	}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("decoding %s payload: %w", head.Type, err)
	}
	return e, nil
}
