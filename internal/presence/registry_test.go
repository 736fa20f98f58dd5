// ABOUTME: Tests for the presence registry
// ABOUTME: Covers first-login masking, connect/disconnect, lease expiry, and availability ordering

package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/handoff-gateway/internal/store"
)

func newRegistry(t *testing.T, leaseTTL time.Duration) (*Registry, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	r := NewRegistry(s, leaseTTL, nil)
	t.Cleanup(func() {
		r.Close()
		s.Close()
	})
	return r, s
}

func TestSetStatus_IgnoredBeforeFirstLogin(t *testing.T) {
	r, _ := newRegistry(t, 0)
	ctx := context.Background()

	require.NoError(t, r.Provision(ctx, "agent-1", "co-1"))

	// Silently ignored, not an error: stale clients may still send these.
	require.NoError(t, r.SetStatus(ctx, "agent-1", store.AgentStatusAvailable))
	status, err := r.GetStatus(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, store.AgentStatusPending, status)

	require.NoError(t, r.SetStatus(ctx, "agent-1", store.AgentStatusBusy))
	status, err = r.GetStatus(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, store.AgentStatusPending, status)
}

func TestCompleteFirstLogin_ForcesOffline(t *testing.T) {
	r, _ := newRegistry(t, 0)
	ctx := context.Background()

	require.NoError(t, r.Provision(ctx, "agent-1", "co-1"))
	require.NoError(t, r.CompleteFirstLogin(ctx, "agent-1"))

	status, err := r.GetStatus(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, store.AgentStatusOffline, status)

	// Now explicit status changes take effect.
	require.NoError(t, r.SetStatus(ctx, "agent-1", store.AgentStatusAvailable))
	status, err = r.GetStatus(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, store.AgentStatusAvailable, status)
}

func TestOnConnect_AvailableOnlyAfterFirstLogin(t *testing.T) {
	r, _ := newRegistry(t, 0)
	ctx := context.Background()

	require.NoError(t, r.Provision(ctx, "agent-1", "co-1"))

	require.NoError(t, r.OnConnect(ctx, "agent-1"))
	status, err := r.GetStatus(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, store.AgentStatusPending, status)

	require.NoError(t, r.CompleteFirstLogin(ctx, "agent-1"))
	require.NoError(t, r.OnConnect(ctx, "agent-1"))
	status, err = r.GetStatus(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, store.AgentStatusAvailable, status)
}

func TestOnDisconnect_OfflineAndLastActiveRecorded(t *testing.T) {
	r, s := newRegistry(t, 0)
	ctx := context.Background()

	require.NoError(t, r.Provision(ctx, "agent-1", "co-1"))
	require.NoError(t, r.CompleteFirstLogin(ctx, "agent-1"))
	require.NoError(t, r.OnConnect(ctx, "agent-1"))

	require.NoError(t, r.OnDisconnect(ctx, "agent-1"))

	p, err := s.GetPresence(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, store.AgentStatusOffline, p.Status)
	assert.NotNil(t, p.LastActive)
}

func TestSetStatus_UnknownAgent(t *testing.T) {
	r, _ := newRegistry(t, 0)
	err := r.SetStatus(context.Background(), "ghost", store.AgentStatusAvailable)
	assert.ErrorIs(t, err, ErrAgentUnknown)
}

func TestListAvailable_LeastRecentlyAssignedFirst(t *testing.T) {
	r, _ := newRegistry(t, 0)
	ctx := context.Background()

	for _, id := range []string{"agent-1", "agent-2", "agent-3"} {
		require.NoError(t, r.Provision(ctx, id, "co-1"))
		require.NoError(t, r.CompleteFirstLogin(ctx, id))
		require.NoError(t, r.OnConnect(ctx, id))
	}

	// agent-2 was assigned most recently, agent-3 never.
	require.NoError(t, r.MarkAssigned(ctx, "agent-1"))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, r.MarkAssigned(ctx, "agent-2"))

	available, err := r.ListAvailable(ctx, "co-1")
	require.NoError(t, err)
	require.Len(t, available, 3)
	assert.Equal(t, "agent-3", available[0].AgentID)
	assert.Equal(t, "agent-1", available[1].AgentID)
	assert.Equal(t, "agent-2", available[2].AgentID)
}

func TestListAvailable_ExcludesBusyOfflinePending(t *testing.T) {
	r, _ := newRegistry(t, 0)
	ctx := context.Background()

	require.NoError(t, r.Provision(ctx, "fresh", "co-1")) // pending

	require.NoError(t, r.Provision(ctx, "busy", "co-1"))
	require.NoError(t, r.CompleteFirstLogin(ctx, "busy"))
	require.NoError(t, r.SetStatus(ctx, "busy", store.AgentStatusBusy))

	require.NoError(t, r.Provision(ctx, "online", "co-1"))
	require.NoError(t, r.CompleteFirstLogin(ctx, "online"))
	require.NoError(t, r.OnConnect(ctx, "online"))

	available, err := r.ListAvailable(ctx, "co-1")
	require.NoError(t, err)
	require.Len(t, available, 1)
	assert.Equal(t, "online", available[0].AgentID)
}

func TestLeaseExpiry_MarksOffline(t *testing.T) {
	r, _ := newRegistry(t, 50*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, r.Provision(ctx, "agent-1", "co-1"))
	require.NoError(t, r.CompleteFirstLogin(ctx, "agent-1"))
	require.NoError(t, r.OnConnect(ctx, "agent-1"))

	status, err := r.GetStatus(ctx, "agent-1")
	require.NoError(t, err)
	require.Equal(t, store.AgentStatusAvailable, status)

	// No heartbeat: the sweeper should force offline within a few TTLs.
	require.Eventually(t, func() bool {
		status, err := r.GetStatus(ctx, "agent-1")
		return err == nil && status == store.AgentStatusOffline
	}, 2*time.Second, 20*time.Millisecond)
}

func TestOnChange_FiresOnVisibleTransitions(t *testing.T) {
	r, _ := newRegistry(t, 0)
	ctx := context.Background()

	var mu sync.Mutex
	var changes []store.AgentStatus
	r.SetOnChange(func(companyID, agentID string, status store.AgentStatus) {
		mu.Lock()
		changes = append(changes, status)
		mu.Unlock()
	})

	require.NoError(t, r.Provision(ctx, "agent-1", "co-1"))

	// Masked write: no visible transition, no callback.
	require.NoError(t, r.SetStatus(ctx, "agent-1", store.AgentStatusOffline))

	require.NoError(t, r.CompleteFirstLogin(ctx, "agent-1")) // pending -> offline
	require.NoError(t, r.OnConnect(ctx, "agent-1"))          // offline -> available

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []store.AgentStatus{store.AgentStatusOffline, store.AgentStatusAvailable}, changes)
}
