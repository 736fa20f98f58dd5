// ABOUTME: Routing coordinator orchestrating store, presence, and fabric
// ABOUTME: Escalate, assign, transfer, resolve, cancel; idempotent to retries

package routing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/handoff-gateway/internal/dedupe"
	"github.com/2389/handoff-gateway/internal/fabric"
	"github.com/2389/handoff-gateway/internal/presence"
	"github.com/2389/handoff-gateway/internal/store"
)

const (
	// commandTTL bounds how long a command id suppresses retries.
	commandTTL = 5 * time.Minute
	// commandCacheSize bounds the dedupe cache.
	commandCacheSize = 10000
)

// Coordinator is the orchestration layer between the connection channels,
// the session store, the presence registry, and the fabric. It holds no
// state of its own beyond the command dedupe cache: every transition is a
// single store call whose transaction prevents lost updates, and every
// side effect is a fabric publish.
type Coordinator struct {
	store    store.Store
	registry *presence.Registry
	fab      fabric.Fabric
	commands *dedupe.Cache
	logger   *slog.Logger

	autoAssign bool
}

// Options tunes coordinator behavior.
type Options struct {
	// AutoAssign makes escalation immediately bind the handoff to the
	// least-recently-assigned available agent, when one exists.
	AutoAssign bool
}

// NewCoordinator wires the coordinator. Close releases the dedupe cache.
func NewCoordinator(st store.Store, registry *presence.Registry, fab fabric.Fabric, opts Options, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		store:      st,
		registry:   registry,
		fab:        fab,
		commands:   dedupe.New(commandTTL, commandCacheSize),
		logger:     logger.With("component", "routing"),
		autoAssign: opts.AutoAssign,
	}

	// Presence changes surface on the company's monitor dashboard.
	registry.SetOnChange(func(companyID, agentID string, status store.AgentStatus) {
		if err := fab.Publish(context.Background(), fabric.MonitorGroup(companyID), fabric.PresenceUpdate{
			CompanyID: companyID,
			AgentID:   agentID,
			Status:    string(status),
		}); err != nil {
			c.logger.Warn("presence update publish failed", "agent_id", agentID, "error", err)
		}
	})

	return c
}

// Close stops the command cache sweeper.
func (c *Coordinator) Close() {
	c.commands.Close()
}

// duplicate reports whether this command id was already processed. An empty
// id means the caller does not want dedupe (internal calls).
func (c *Coordinator) duplicate(commandID string) bool {
	if commandID == "" {
		return false
	}
	return c.commands.Seen(commandID)
}

// OnEscalationTrigger creates (or returns) the open handoff for a
// conversation and announces it on the monitor group. Duplicate triggers
// for the same open conversation return the same handoff.
func (c *Coordinator) OnEscalationTrigger(ctx context.Context, commandID, companyID, sessionID, reason string, priority store.Priority) (*store.HandoffSession, error) {
	if c.duplicate(commandID) {
		return c.store.GetActiveHandoff(ctx, companyID, sessionID)
	}

	handoff, err := c.store.Escalate(ctx, companyID, sessionID, reason, priority)
	if err != nil {
		return nil, fmt.Errorf("escalating session %s: %w", sessionID, err)
	}

	if err := c.fab.Publish(ctx, fabric.MonitorGroup(companyID), fabric.SessionEscalated{
		HandoffID: handoff.ID,
		CompanyID: companyID,
		SessionID: sessionID,
		Reason:    handoff.EscalationReason,
		Priority:  string(handoff.Priority),
	}); err != nil {
		c.logger.Warn("escalation publish failed", "handoff_id", handoff.ID, "error", err)
	}

	c.logger.Info("session escalated",
		"handoff_id", handoff.ID,
		"company_id", companyID,
		"session_id", sessionID,
		"priority", handoff.Priority,
	)

	if c.autoAssign && handoff.Status == store.HandoffStatusPending {
		if assigned, err := c.tryAutoAssign(ctx, handoff); err != nil {
			c.logger.Warn("auto-assign failed", "handoff_id", handoff.ID, "error", err)
		} else if assigned != nil {
			return assigned, nil
		}
	}

	return handoff, nil
}

// tryAutoAssign binds the handoff to the least-recently-assigned available
// agent. No available agent is not an error; the handoff stays pending.
func (c *Coordinator) tryAutoAssign(ctx context.Context, handoff *store.HandoffSession) (*store.HandoffSession, error) {
	agents, err := c.registry.ListAvailable(ctx, handoff.CompanyID)
	if err != nil {
		return nil, err
	}
	if len(agents) == 0 {
		return nil, nil
	}
	return c.OnAssign(ctx, "", handoff.ID, agents[0].AgentID)
}

// OnAssign binds a pending handoff to an agent and announces the assignment
// on the agent's and the company's monitor groups. Retrying with the same
// agent on an already-active handoff is a no-op; a different agent is an
// invalid transition.
func (c *Coordinator) OnAssign(ctx context.Context, commandID, handoffID, agentID string) (*store.HandoffSession, error) {
	if c.duplicate(commandID) {
		return c.store.GetHandoff(ctx, handoffID)
	}

	handoff, err := c.store.Assign(ctx, handoffID, agentID)
	if err != nil {
		return nil, fmt.Errorf("assigning handoff %s: %w", handoffID, err)
	}

	// Assignment does not force BUSY; it only records ordering for the
	// least-recently-assigned policy.
	if err := c.registry.MarkAssigned(ctx, agentID); err != nil {
		c.logger.Warn("recording assignment failed", "agent_id", agentID, "error", err)
	}

	assigned := fabric.SessionAssigned{
		HandoffID: handoff.ID,
		CompanyID: handoff.CompanyID,
		SessionID: handoff.SessionID,
		AgentID:   agentID,
		Priority:  string(handoff.Priority),
	}
	c.publish(ctx, fabric.AgentGroup(agentID), assigned)
	c.publish(ctx, fabric.MonitorGroup(handoff.CompanyID), assigned)

	c.logger.Info("handoff assigned", "handoff_id", handoff.ID, "agent_id", agentID)
	return handoff, nil
}

// OnTransfer reassigns an active handoff to another agent. The previous
// agent and the monitor see a session_update; the new agent receives
// session_assigned as if freshly bound.
func (c *Coordinator) OnTransfer(ctx context.Context, commandID, handoffID, fromAgentID, toAgentID, reason, transferredBy string) (*store.HandoffSession, error) {
	if c.duplicate(commandID) {
		return c.store.GetHandoff(ctx, handoffID)
	}

	handoff, err := c.store.Transfer(ctx, handoffID, fromAgentID, toAgentID, reason, transferredBy)
	if err != nil {
		return nil, fmt.Errorf("transferring handoff %s: %w", handoffID, err)
	}

	if err := c.registry.MarkAssigned(ctx, toAgentID); err != nil {
		c.logger.Warn("recording assignment failed", "agent_id", toAgentID, "error", err)
	}

	update := c.updateEvent(handoff)
	c.publish(ctx, fabric.AgentGroup(fromAgentID), update)
	c.publish(ctx, fabric.MonitorGroup(handoff.CompanyID), update)
	c.publish(ctx, fabric.AgentGroup(toAgentID), fabric.SessionAssigned{
		HandoffID: handoff.ID,
		CompanyID: handoff.CompanyID,
		SessionID: handoff.SessionID,
		AgentID:   toAgentID,
		Priority:  string(handoff.Priority),
	})

	c.logger.Info("handoff transferred",
		"handoff_id", handoff.ID,
		"from_agent_id", fromAgentID,
		"to_agent_id", toAgentID,
	)
	return handoff, nil
}

// OnResolve completes an active or pending handoff and fans the final
// session_update out to the agent, the monitor, and the user.
func (c *Coordinator) OnResolve(ctx context.Context, commandID, handoffID string, notes *string) (*store.HandoffSession, error) {
	if c.duplicate(commandID) {
		return c.store.GetHandoff(ctx, handoffID)
	}

	handoff, err := c.store.Resolve(ctx, handoffID, notes)
	if err != nil {
		return nil, fmt.Errorf("resolving handoff %s: %w", handoffID, err)
	}

	c.fanOutUpdate(ctx, handoff)
	c.logger.Info("handoff resolved", "handoff_id", handoff.ID)
	return handoff, nil
}

// OnCancel abandons a pending or active handoff without resolution.
func (c *Coordinator) OnCancel(ctx context.Context, commandID, handoffID string) (*store.HandoffSession, error) {
	if c.duplicate(commandID) {
		return c.store.GetHandoff(ctx, handoffID)
	}

	handoff, err := c.store.Cancel(ctx, handoffID)
	if err != nil {
		return nil, fmt.Errorf("cancelling handoff %s: %w", handoffID, err)
	}

	c.fanOutUpdate(ctx, handoff)
	c.logger.Info("handoff cancelled", "handoff_id", handoff.ID)
	return handoff, nil
}

// PendingQueue lists a company's unassigned handoffs, most urgent and
// oldest first, for the monitor dashboard.
func (c *Coordinator) PendingQueue(ctx context.Context, companyID string) ([]*store.HandoffSession, error) {
	return c.store.ListPendingHandoffs(ctx, companyID)
}

func (c *Coordinator) updateEvent(handoff *store.HandoffSession) fabric.SessionUpdate {
	update := fabric.SessionUpdate{
		HandoffID:     handoff.ID,
		CompanyID:     handoff.CompanyID,
		SessionID:     handoff.SessionID,
		Status:        string(handoff.Status),
		DerivedStatus: handoff.DerivedStatus(),
	}
	if handoff.AssignedAgentID != nil {
		update.AgentID = *handoff.AssignedAgentID
	}
	return update
}

// fanOutUpdate delivers a terminal status change everywhere it matters.
func (c *Coordinator) fanOutUpdate(ctx context.Context, handoff *store.HandoffSession) {
	update := c.updateEvent(handoff)
	if handoff.AssignedAgentID != nil {
		c.publish(ctx, fabric.AgentGroup(*handoff.AssignedAgentID), update)
	}
	c.publish(ctx, fabric.MonitorGroup(handoff.CompanyID), update)
	c.publish(ctx, fabric.UserGroup(handoff.CompanyID, handoff.SessionID), update)
}

// publish logs delivery failures instead of propagating them: a group with
// no listeners or a broken fabric must not fail the state transition that
// already committed.
func (c *Coordinator) publish(ctx context.Context, group string, event fabric.Event) {
	if err := c.fab.Publish(ctx, group, event); err != nil {
		c.logger.Warn("event publish failed", "group", group, "kind", event.Kind(), "error", err)
	}
}
