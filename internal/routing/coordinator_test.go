// ABOUTME: Tests for the routing coordinator
// ABOUTME: Covers escalate/assign/transfer/resolve/cancel flows and dedupe

package routing

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/handoff-gateway/internal/fabric"
	"github.com/2389/handoff-gateway/internal/presence"
	"github.com/2389/handoff-gateway/internal/store"
)

type coordEnv struct {
	store    store.Store
	registry *presence.Registry
	fab      *fabric.MemoryFabric
	coord    *Coordinator
}

func newCoordEnv(t *testing.T, opts Options) *coordEnv {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	logger := slog.New(slog.NewTextHandler(&strings.Builder{}, &slog.HandlerOptions{Level: slog.LevelError}))
	fab := fabric.NewMemoryFabric(logger)
	t.Cleanup(func() { _ = fab.Close() })

	registry := presence.NewRegistry(st, 0, logger)
	t.Cleanup(registry.Close)

	coord := NewCoordinator(st, registry, fab, opts, logger)
	t.Cleanup(coord.Close)

	return &coordEnv{store: st, registry: registry, fab: fab, coord: coord}
}

func (e *coordEnv) readyAgent(t *testing.T, agentID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.registry.Provision(ctx, agentID, "acme"))
	require.NoError(t, e.registry.CompleteFirstLogin(ctx, agentID))
	require.NoError(t, e.registry.OnConnect(ctx, agentID))
}

func drainEvent(t *testing.T, ch <-chan fabric.Event) fabric.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestEscalation_PublishesToMonitor(t *testing.T) {
	env := newCoordEnv(t, Options{})
	ctx := context.Background()

	monitorCh, _ := env.fab.Join(ctx, fabric.MonitorGroup("acme"))

	handoff, err := env.coord.OnEscalationTrigger(ctx, "cmd-1", "acme", "sess-1", "unknown query", store.PriorityMedium)
	require.NoError(t, err)
	assert.Equal(t, store.HandoffStatusPending, handoff.Status)

	event := drainEvent(t, monitorCh)
	escalated, ok := event.(fabric.SessionEscalated)
	require.True(t, ok)
	assert.Equal(t, handoff.ID, escalated.HandoffID)
	assert.Equal(t, "unknown query", escalated.Reason)
}

func TestEscalation_DuplicateCommandReturnsSameHandoff(t *testing.T) {
	env := newCoordEnv(t, Options{})
	ctx := context.Background()

	first, err := env.coord.OnEscalationTrigger(ctx, "cmd-1", "acme", "sess-1", "reason", store.PriorityLow)
	require.NoError(t, err)

	second, err := env.coord.OnEscalationTrigger(ctx, "cmd-1", "acme", "sess-1", "reason", store.PriorityLow)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestEscalation_SameSessionDifferentCommandStillIdempotent(t *testing.T) {
	env := newCoordEnv(t, Options{})
	ctx := context.Background()

	first, err := env.coord.OnEscalationTrigger(ctx, "cmd-1", "acme", "sess-1", "reason", store.PriorityLow)
	require.NoError(t, err)

	// A distinct retry for the same open conversation hits the store's
	// idempotence and returns the original handoff.
	second, err := env.coord.OnEscalationTrigger(ctx, "cmd-2", "acme", "sess-1", "other reason", store.PriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestAssign_PublishesToAgentAndMonitor(t *testing.T) {
	env := newCoordEnv(t, Options{})
	ctx := context.Background()
	env.readyAgent(t, "agent-1")

	handoff, err := env.coord.OnEscalationTrigger(ctx, "", "acme", "sess-1", "reason", store.PriorityHigh)
	require.NoError(t, err)

	agentCh, _ := env.fab.Join(ctx, fabric.AgentGroup("agent-1"))
	monitorCh, _ := env.fab.Join(ctx, fabric.MonitorGroup("acme"))

	assigned, err := env.coord.OnAssign(ctx, "cmd-2", handoff.ID, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, store.HandoffStatusActive, assigned.Status)
	require.NotNil(t, assigned.AssignedAgentID)
	assert.Equal(t, "agent-1", *assigned.AssignedAgentID)

	for _, ch := range []<-chan fabric.Event{agentCh, monitorCh} {
		event := drainEvent(t, ch)
		sa, ok := event.(fabric.SessionAssigned)
		require.True(t, ok, "expected session_assigned, got %s", event.Kind())
		assert.Equal(t, handoff.ID, sa.HandoffID)
		assert.Equal(t, "agent-1", sa.AgentID)
	}
}

func TestAssign_DifferentAgentOnActiveIsInvalid(t *testing.T) {
	env := newCoordEnv(t, Options{})
	ctx := context.Background()

	handoff, err := env.coord.OnEscalationTrigger(ctx, "", "acme", "sess-1", "reason", store.PriorityMedium)
	require.NoError(t, err)
	_, err = env.coord.OnAssign(ctx, "", handoff.ID, "agent-1")
	require.NoError(t, err)

	_, err = env.coord.OnAssign(ctx, "", handoff.ID, "agent-2")
	require.ErrorIs(t, err, store.ErrInvalidTransition)
}

func TestAssign_RetrySameAgentIsNoOp(t *testing.T) {
	env := newCoordEnv(t, Options{})
	ctx := context.Background()

	handoff, err := env.coord.OnEscalationTrigger(ctx, "", "acme", "sess-1", "reason", store.PriorityMedium)
	require.NoError(t, err)
	_, err = env.coord.OnAssign(ctx, "", handoff.ID, "agent-1")
	require.NoError(t, err)

	again, err := env.coord.OnAssign(ctx, "", handoff.ID, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, store.HandoffStatusActive, again.Status)
}

func TestTransfer_NotifiesBothAgentsAndMonitor(t *testing.T) {
	env := newCoordEnv(t, Options{})
	ctx := context.Background()
	env.readyAgent(t, "agent-1")
	env.readyAgent(t, "agent-2")

	handoff, err := env.coord.OnEscalationTrigger(ctx, "", "acme", "sess-1", "reason", store.PriorityMedium)
	require.NoError(t, err)
	_, err = env.coord.OnAssign(ctx, "", handoff.ID, "agent-1")
	require.NoError(t, err)

	fromCh, _ := env.fab.Join(ctx, fabric.AgentGroup("agent-1"))
	toCh, _ := env.fab.Join(ctx, fabric.AgentGroup("agent-2"))

	transferred, err := env.coord.OnTransfer(ctx, "cmd-t", handoff.ID, "agent-1", "agent-2", "shift change", "supervisor-1")
	require.NoError(t, err)
	require.NotNil(t, transferred.AssignedAgentID)
	assert.Equal(t, "agent-2", *transferred.AssignedAgentID)
	assert.Equal(t, store.HandoffStatusActive, transferred.Status)

	update, ok := drainEvent(t, fromCh).(fabric.SessionUpdate)
	require.True(t, ok)
	assert.Equal(t, "agent-2", update.AgentID)

	assignedEvent, ok := drainEvent(t, toCh).(fabric.SessionAssigned)
	require.True(t, ok)
	assert.Equal(t, "agent-2", assignedEvent.AgentID)

	transfers, err := env.store.ListTransfers(ctx, handoff.ID)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, "supervisor-1", transfers[0].TransferredBy)
}

func TestResolve_FansOutToAgentMonitorAndUser(t *testing.T) {
	env := newCoordEnv(t, Options{})
	ctx := context.Background()

	handoff, err := env.coord.OnEscalationTrigger(ctx, "", "acme", "sess-1", "reason", store.PriorityMedium)
	require.NoError(t, err)
	_, err = env.coord.OnAssign(ctx, "", handoff.ID, "agent-1")
	require.NoError(t, err)

	agentCh, _ := env.fab.Join(ctx, fabric.AgentGroup("agent-1"))
	monitorCh, _ := env.fab.Join(ctx, fabric.MonitorGroup("acme"))
	userCh, _ := env.fab.Join(ctx, fabric.UserGroup("acme", "sess-1"))

	notes := "answered in chat"
	resolved, err := env.coord.OnResolve(ctx, "cmd-r", handoff.ID, &notes)
	require.NoError(t, err)
	assert.Equal(t, store.HandoffStatusCompleted, resolved.Status)
	assert.NotNil(t, resolved.ResolvedAt)

	for _, ch := range []<-chan fabric.Event{agentCh, monitorCh, userCh} {
		update, ok := drainEvent(t, ch).(fabric.SessionUpdate)
		require.True(t, ok)
		assert.Equal(t, "completed", update.Status)
		assert.Equal(t, "resolved", update.DerivedStatus)
	}
}

func TestCancel_PendingHandoff(t *testing.T) {
	env := newCoordEnv(t, Options{})
	ctx := context.Background()

	handoff, err := env.coord.OnEscalationTrigger(ctx, "", "acme", "sess-1", "reason", store.PriorityMedium)
	require.NoError(t, err)

	cancelled, err := env.coord.OnCancel(ctx, "cmd-c", handoff.ID)
	require.NoError(t, err)
	assert.Equal(t, store.HandoffStatusCancelled, cancelled.Status)

	// The conversation can escalate again after cancellation.
	fresh, err := env.coord.OnEscalationTrigger(ctx, "", "acme", "sess-1", "again", store.PriorityMedium)
	require.NoError(t, err)
	assert.NotEqual(t, handoff.ID, fresh.ID)
}

func TestAutoAssign_BindsLeastRecentlyAssignedAgent(t *testing.T) {
	env := newCoordEnv(t, Options{AutoAssign: true})
	ctx := context.Background()
	env.readyAgent(t, "agent-1")
	env.readyAgent(t, "agent-2")

	// agent-1 was assigned recently; agent-2 never.
	require.NoError(t, env.registry.MarkAssigned(ctx, "agent-1"))

	handoff, err := env.coord.OnEscalationTrigger(ctx, "", "acme", "sess-1", "reason", store.PriorityMedium)
	require.NoError(t, err)

	assert.Equal(t, store.HandoffStatusActive, handoff.Status)
	require.NotNil(t, handoff.AssignedAgentID)
	assert.Equal(t, "agent-2", *handoff.AssignedAgentID)
}

func TestAutoAssign_NoAvailableAgentLeavesPending(t *testing.T) {
	env := newCoordEnv(t, Options{AutoAssign: true})
	ctx := context.Background()

	handoff, err := env.coord.OnEscalationTrigger(ctx, "", "acme", "sess-1", "reason", store.PriorityMedium)
	require.NoError(t, err)
	assert.Equal(t, store.HandoffStatusPending, handoff.Status)
}

func TestPresenceChange_PublishesToMonitor(t *testing.T) {
	env := newCoordEnv(t, Options{})
	ctx := context.Background()

	monitorCh, _ := env.fab.Join(ctx, fabric.MonitorGroup("acme"))

	env.readyAgent(t, "agent-1") // OnConnect flips to available

	// readyAgent produces offline (first login) then available (connect).
	var last fabric.PresenceUpdate
	for i := 0; i < 2; i++ {
		update, ok := drainEvent(t, monitorCh).(fabric.PresenceUpdate)
		require.True(t, ok)
		last = update
	}
	assert.Equal(t, "agent-1", last.AgentID)
	assert.Equal(t, "available", last.Status)
}

func TestPendingQueue_OrderedByPriorityThenAge(t *testing.T) {
	env := newCoordEnv(t, Options{})
	ctx := context.Background()

	_, err := env.coord.OnEscalationTrigger(ctx, "", "acme", "sess-low", "reason", store.PriorityLow)
	require.NoError(t, err)
	_, err = env.coord.OnEscalationTrigger(ctx, "", "acme", "sess-urgent", "reason", store.PriorityUrgent)
	require.NoError(t, err)
	_, err = env.coord.OnEscalationTrigger(ctx, "", "acme", "sess-high", "reason", store.PriorityHigh)
	require.NoError(t, err)

	queue, err := env.coord.PendingQueue(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, queue, 3)
	assert.Equal(t, "sess-urgent", queue[0].SessionID)
	assert.Equal(t, "sess-high", queue[1].SessionID)
	assert.Equal(t, "sess-low", queue[2].SessionID)
}
