// ABOUTME: Store interface and data types for handoff-gateway persistence
// ABOUTME: Defines AgentPresence, HandoffSession, SessionTransfer and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrInvalidTransition is returned when a handoff state change is not allowed
// from the session's current status
var ErrInvalidTransition = errors.New("invalid transition")

// ErrAgentUnknown is returned when presence is requested for an agent that was
// never provisioned
var ErrAgentUnknown = errors.New("agent unknown")

// AgentStatus is an agent's availability state for receiving new hand-offs.
type AgentStatus string

// Agent presence states
const (
	AgentStatusPending   AgentStatus = "pending"
	AgentStatusAvailable AgentStatus = "available"
	AgentStatusBusy      AgentStatus = "busy"
	AgentStatusOffline   AgentStatus = "offline"
)

// HandoffStatus is the lifecycle state of an escalated conversation.
type HandoffStatus string

// Handoff session states. Pending is the only initial state;
// completed and cancelled are terminal.
const (
	HandoffStatusPending   HandoffStatus = "pending"
	HandoffStatusActive    HandoffStatus = "active"
	HandoffStatusCompleted HandoffStatus = "completed"
	HandoffStatusCancelled HandoffStatus = "cancelled"
)

// Terminal reports whether the status has no outgoing transitions.
func (s HandoffStatus) Terminal() bool {
	return s == HandoffStatusCompleted || s == HandoffStatusCancelled
}

// Priority is the urgency assigned to a hand-off at escalation time.
type Priority string

// Handoff priorities
const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank orders priorities for queue sorting; higher means more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// AgentPresence is the persisted availability record for one agent identity.
// It is shared by all gateway processes so status is consistent cluster-wide.
type AgentPresence struct {
	AgentID            string
	CompanyID          string
	Status             AgentStatus
	FirstLoginComplete bool
	LastActive         *time.Time
	LastAssigned       *time.Time
	UpdatedAt          time.Time
}

// EffectiveStatus is the externally observable status. Until the agent has
// completed first login the visible status is always pending, regardless of
// what the underlying field holds.
func (p *AgentPresence) EffectiveStatus() AgentStatus {
	if !p.FirstLoginComplete {
		return AgentStatusPending
	}
	return p.Status
}

// HandoffSession represents one conversation escalated from automated to
// human handling. Retained indefinitely for analytics; never deleted here.
type HandoffSession struct {
	ID               string
	CompanyID        string
	SessionID        string // conversation key
	Status           HandoffStatus
	Priority         Priority
	AssignedAgentID  *string
	EscalationReason string
	Notes            *string
	CreatedAt        time.Time
	ResolvedAt       *time.Time
}

// DerivedStatus computes the compatibility view older readers rely on:
// resolved if resolved_at is set, assigned if an agent is bound, else pending.
// The explicit Status field is authoritative; the two views must agree on the
// terminal/assigned boundaries.
func (h *HandoffSession) DerivedStatus() string {
	switch {
	case h.ResolvedAt != nil:
		return "resolved"
	case h.AssignedAgentID != nil:
		return "assigned"
	default:
		return "pending"
	}
}

// SessionTransfer is an immutable audit record of one reassignment.
type SessionTransfer struct {
	ID            string
	HandoffID     string
	FromAgentID   *string
	ToAgentID     *string
	Reason        string
	TransferredAt time.Time
	TransferredBy string
}

// Conversation links a user-facing session key to its owning company.
type Conversation struct {
	ID        string
	CompanyID string
	SessionID string
	CreatedAt time.Time
}

// Sender types for conversation messages
const (
	SenderTypeUser  = "user"
	SenderTypeAgent = "agent"
	SenderTypeBot   = "bot"
)

// ConversationMessage is a single persisted chat message.
type ConversationMessage struct {
	ID         string
	SessionID  string
	SenderType string
	Content    string
	CreatedAt  time.Time
}

// Store defines the persistence interface for handoff routing state.
type Store interface {
	// Conversations (persistence collaborator surface)
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, companyID, sessionID string) (*Conversation, error)
	AppendMessage(ctx context.Context, msg *ConversationMessage) error
	GetMessages(ctx context.Context, sessionID string, limit int) ([]*ConversationMessage, error)

	// Handoff sessions (transition logic lives behind these)
	Escalate(ctx context.Context, companyID, sessionID, reason string, priority Priority) (*HandoffSession, error)
	Assign(ctx context.Context, handoffID, agentID string) (*HandoffSession, error)
	Transfer(ctx context.Context, handoffID, fromAgentID, toAgentID, reason, transferredBy string) (*HandoffSession, error)
	Resolve(ctx context.Context, handoffID string, notes *string) (*HandoffSession, error)
	Cancel(ctx context.Context, handoffID string) (*HandoffSession, error)
	GetHandoff(ctx context.Context, handoffID string) (*HandoffSession, error)
	GetActiveHandoff(ctx context.Context, companyID, sessionID string) (*HandoffSession, error)
	ListPendingHandoffs(ctx context.Context, companyID string) ([]*HandoffSession, error)
	ListTransfers(ctx context.Context, handoffID string) ([]*SessionTransfer, error)

	// Agent presence mirror
	ProvisionAgent(ctx context.Context, agentID, companyID string) error
	GetPresence(ctx context.Context, agentID string) (*AgentPresence, error)
	SavePresence(ctx context.Context, presence *AgentPresence) error
	ListPresenceByCompany(ctx context.Context, companyID string) ([]*AgentPresence, error)

	Close() error
}
