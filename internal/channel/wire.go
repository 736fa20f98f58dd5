// ABOUTME: Inbound frame envelope shared by the connection actors
// ABOUTME: Every client frame is a JSON object tagged by "type"

package channel

import "encoding/json"

// Inbound frame type names. Outbound names live with the fabric event kinds.
const (
	frameTypePing         = "ping"
	frameTypeChatMessage  = "chat_message"
	frameTypeAgentMessage = "agent_message"
	frameTypeStatusUpdate = "status_update"
)

// inboundFrame is the superset envelope of all client frames. Which fields
// matter depends on Type; unknown types get an error event back.
type inboundFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content,omitempty"`
	Status    string `json:"status,omitempty"`
}

// decodeFrame parses a raw client payload. A nil return with ok=false means
// the payload was not a valid envelope.
func decodeFrame(raw []byte) (*inboundFrame, bool) {
	var f inboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, false
	}
	if f.Type == "" {
		return nil, false
	}
	return &f, true
}
