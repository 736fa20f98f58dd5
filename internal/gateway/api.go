// ABOUTME: HTTP command API for handoff lifecycle and agent presence
// ABOUTME: Escalate, assign, transfer, resolve, cancel, queue, and status endpoints

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/2389/handoff-gateway/internal/auth"
	"github.com/2389/handoff-gateway/internal/presence"
	"github.com/2389/handoff-gateway/internal/store"
)

// EscalateRequest is the JSON request body for POST /api/handoffs.
type EscalateRequest struct {
	CommandID string `json:"command_id,omitempty"`
	CompanyID string `json:"company_id"`
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
	Priority  string `json:"priority,omitempty"`
}

// AssignRequest is the JSON request body for POST /api/handoffs/{id}/assign.
type AssignRequest struct {
	CommandID string `json:"command_id,omitempty"`
	AgentID   string `json:"agent_id"`
}

// TransferRequest is the JSON request body for POST /api/handoffs/{id}/transfer.
type TransferRequest struct {
	CommandID     string `json:"command_id,omitempty"`
	FromAgentID   string `json:"from_agent_id"`
	ToAgentID     string `json:"to_agent_id"`
	Reason        string `json:"reason,omitempty"`
	TransferredBy string `json:"transferred_by"`
}

// ResolveRequest is the JSON request body for POST /api/handoffs/{id}/resolve.
type ResolveRequest struct {
	CommandID string  `json:"command_id,omitempty"`
	Notes     *string `json:"notes,omitempty"`
}

// CancelRequest is the JSON request body for POST /api/handoffs/{id}/cancel.
type CancelRequest struct {
	CommandID string `json:"command_id,omitempty"`
}

// StatusRequest is the JSON request body for POST /api/agents/{id}/status.
type StatusRequest struct {
	Status string `json:"status"`
}

// HandoffResponse is the JSON view of a handoff session.
type HandoffResponse struct {
	ID               string  `json:"id"`
	CompanyID        string  `json:"company_id"`
	SessionID        string  `json:"session_id"`
	Status           string  `json:"status"`
	DerivedStatus    string  `json:"derived_status"`
	Priority         string  `json:"priority"`
	AssignedAgentID  *string `json:"assigned_agent_id"`
	EscalationReason string  `json:"escalation_reason"`
	Notes            *string `json:"notes,omitempty"`
	CreatedAt        string  `json:"created_at"`
	ResolvedAt       *string `json:"resolved_at,omitempty"`
}

// PresenceResponse is the JSON view of one agent's presence.
type PresenceResponse struct {
	AgentID      string  `json:"agent_id"`
	CompanyID    string  `json:"company_id"`
	Status       string  `json:"status"`
	LastActive   *string `json:"last_active,omitempty"`
	LastAssigned *string `json:"last_assigned,omitempty"`
}

func handoffToResponse(h *store.HandoffSession) HandoffResponse {
	resp := HandoffResponse{
		ID:               h.ID,
		CompanyID:        h.CompanyID,
		SessionID:        h.SessionID,
		Status:           string(h.Status),
		DerivedStatus:    h.DerivedStatus(),
		Priority:         string(h.Priority),
		AssignedAgentID:  h.AssignedAgentID,
		EscalationReason: h.EscalationReason,
		Notes:            h.Notes,
		CreatedAt:        h.CreatedAt.UTC().Format(time.RFC3339),
	}
	if h.ResolvedAt != nil {
		s := h.ResolvedAt.UTC().Format(time.RFC3339)
		resp.ResolvedAt = &s
	}
	return resp
}

func presenceToResponse(p *store.AgentPresence) PresenceResponse {
	resp := PresenceResponse{
		AgentID:   p.AgentID,
		CompanyID: p.CompanyID,
		Status:    string(p.EffectiveStatus()),
	}
	if p.LastActive != nil {
		s := p.LastActive.UTC().Format(time.RFC3339)
		resp.LastActive = &s
	}
	if p.LastAssigned != nil {
		s := p.LastAssigned.UTC().Format(time.RFC3339)
		resp.LastAssigned = &s
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeOpError maps domain errors to HTTP statuses.
func writeOpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrAgentUnknown), errors.Is(err, presence.ErrAgentUnknown):
		writeError(w, http.StatusNotFound, "agent unknown")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// requirePrincipal authenticates the request and rejects anonymous callers.
func (g *Gateway) requirePrincipal(w http.ResponseWriter, r *http.Request) *auth.Identity {
	identity, err := g.authn.Authenticate(r)
	if err != nil || identity.Anonymous() {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil
	}
	return identity
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// handleHandoffs serves POST /api/handoffs (escalate) and
// GET /api/handoffs?company_id=X (pending queue).
func (g *Gateway) handleHandoffs(w http.ResponseWriter, r *http.Request) {
	if g.requirePrincipal(w, r) == nil {
		return
	}

	switch r.Method {
	case http.MethodPost:
		g.handleEscalate(w, r)
	case http.MethodGet:
		g.handlePendingQueue(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (g *Gateway) handleEscalate(w http.ResponseWriter, r *http.Request) {
	var req EscalateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.CompanyID == "" || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "company_id and session_id are required")
		return
	}

	priority := store.Priority(req.Priority)
	if req.Priority == "" {
		priority = store.PriorityMedium
	}
	switch priority {
	case store.PriorityLow, store.PriorityMedium, store.PriorityHigh, store.PriorityUrgent:
	default:
		writeError(w, http.StatusBadRequest, "invalid priority")
		return
	}

	handoff, err := g.coordinator.OnEscalationTrigger(r.Context(), req.CommandID, req.CompanyID, req.SessionID, req.Reason, priority)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, handoffToResponse(handoff))
}

func (g *Gateway) handlePendingQueue(w http.ResponseWriter, r *http.Request) {
	companyID := r.URL.Query().Get("company_id")
	if companyID == "" {
		writeError(w, http.StatusBadRequest, "company_id is required")
		return
	}

	queue, err := g.coordinator.PendingQueue(r.Context(), companyID)
	if err != nil {
		writeOpError(w, err)
		return
	}

	responses := make([]HandoffResponse, 0, len(queue))
	for _, h := range queue {
		responses = append(responses, handoffToResponse(h))
	}
	writeJSON(w, http.StatusOK, map[string]any{"handoffs": responses})
}

// handleHandoffByID serves GET /api/handoffs/{id} and the lifecycle commands
// POST /api/handoffs/{id}/{assign|transfer|resolve|cancel}.
func (g *Gateway) handleHandoffByID(w http.ResponseWriter, r *http.Request) {
	if g.requirePrincipal(w, r) == nil {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/handoffs/")
	parts := strings.Split(rest, "/")
	handoffID := parts[0]
	if handoffID == "" {
		writeError(w, http.StatusBadRequest, "handoff id required")
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		g.handleGetHandoff(w, r, handoffID)
		return
	}

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var (
		handoff *store.HandoffSession
		err     error
	)
	switch parts[1] {
	case "assign":
		var req AssignRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.AgentID == "" {
			writeError(w, http.StatusBadRequest, "agent_id is required")
			return
		}
		handoff, err = g.coordinator.OnAssign(r.Context(), req.CommandID, handoffID, req.AgentID)
	case "transfer":
		var req TransferRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.FromAgentID == "" || req.ToAgentID == "" {
			writeError(w, http.StatusBadRequest, "from_agent_id and to_agent_id are required")
			return
		}
		handoff, err = g.coordinator.OnTransfer(r.Context(), req.CommandID, handoffID, req.FromAgentID, req.ToAgentID, req.Reason, req.TransferredBy)
	case "resolve":
		var req ResolveRequest
		if !decodeBody(w, r, &req) {
			return
		}
		handoff, err = g.coordinator.OnResolve(r.Context(), req.CommandID, handoffID, req.Notes)
	case "cancel":
		var req CancelRequest
		if !decodeBody(w, r, &req) {
			return
		}
		handoff, err = g.coordinator.OnCancel(r.Context(), req.CommandID, handoffID)
	default:
		writeError(w, http.StatusNotFound, "unknown operation")
		return
	}

	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, handoffToResponse(handoff))
}

func (g *Gateway) handleGetHandoff(w http.ResponseWriter, r *http.Request, handoffID string) {
	handoff, err := g.store.GetHandoff(r.Context(), handoffID)
	if err != nil {
		writeOpError(w, err)
		return
	}

	transfers, err := g.store.ListTransfers(r.Context(), handoffID)
	if err != nil {
		writeOpError(w, err)
		return
	}

	type transferView struct {
		FromAgentID   *string `json:"from_agent_id"`
		ToAgentID     *string `json:"to_agent_id"`
		Reason        string  `json:"reason,omitempty"`
		TransferredAt string  `json:"transferred_at"`
		TransferredBy string  `json:"transferred_by"`
	}
	views := make([]transferView, 0, len(transfers))
	for _, tr := range transfers {
		views = append(views, transferView{
			FromAgentID:   tr.FromAgentID,
			ToAgentID:     tr.ToAgentID,
			Reason:        tr.Reason,
			TransferredAt: tr.TransferredAt.UTC().Format(time.RFC3339),
			TransferredBy: tr.TransferredBy,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"handoff":   handoffToResponse(handoff),
		"transfers": views,
	})
}

// handleAgents serves GET /api/agents?company_id=X (presence listing).
func (g *Gateway) handleAgents(w http.ResponseWriter, r *http.Request) {
	if g.requirePrincipal(w, r) == nil {
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	companyID := r.URL.Query().Get("company_id")
	if companyID == "" {
		writeError(w, http.StatusBadRequest, "company_id is required")
		return
	}

	agents, err := g.store.ListPresenceByCompany(r.Context(), companyID)
	if err != nil {
		writeOpError(w, err)
		return
	}

	responses := make([]PresenceResponse, 0, len(agents))
	for _, p := range agents {
		responses = append(responses, presenceToResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": responses})
}

// handleAgentByID serves POST /api/agents/{id}/status and
// POST /api/agents/{id}/first-login.
func (g *Gateway) handleAgentByID(w http.ResponseWriter, r *http.Request) {
	if g.requirePrincipal(w, r) == nil {
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/agents/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "unknown operation")
		return
	}
	agentID := parts[0]

	switch parts[1] {
	case "status":
		var req StatusRequest
		if !decodeBody(w, r, &req) {
			return
		}
		status := store.AgentStatus(req.Status)
		switch status {
		case store.AgentStatusAvailable, store.AgentStatusBusy:
		default:
			writeError(w, http.StatusBadRequest, "status must be available or busy")
			return
		}
		if err := g.registry.SetStatus(r.Context(), agentID, status); err != nil {
			writeOpError(w, err)
			return
		}
	case "first-login":
		if err := g.registry.CompleteFirstLogin(r.Context(), agentID); err != nil {
			writeOpError(w, err)
			return
		}
	default:
		writeError(w, http.StatusNotFound, "unknown operation")
		return
	}

	status, err := g.registry.GetStatus(r.Context(), agentID)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"agent_id": agentID,
		"status":   string(status),
	})
}
