// ABOUTME: Tests for the in-process fabric fan-out
// ABOUTME: Covers multi-member delivery, group isolation, ordering and cleanup

package fabric

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiveEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		require.True(t, ok, "channel closed before event arrived")
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestPublish_ReachesAllMembers(t *testing.T) {
	f := NewMemoryFabric(nil)
	defer f.Close()
	ctx := context.Background()

	ch1, _ := f.Join(ctx, AgentGroup("agent-1"))
	ch2, _ := f.Join(ctx, AgentGroup("agent-1"))

	err := f.Publish(ctx, AgentGroup("agent-1"), PresenceUpdate{AgentID: "agent-1", Status: "busy"})
	require.NoError(t, err)

	for _, ch := range []<-chan Event{ch1, ch2} {
		event := receiveEvent(t, ch)
		assert.Equal(t, KindPresenceUpdate, event.Kind())
	}
}

func TestPublish_GroupsAreIsolated(t *testing.T) {
	f := NewMemoryFabric(nil)
	defer f.Close()
	ctx := context.Background()

	agentCh, _ := f.Join(ctx, AgentGroup("agent-1"))
	monitorCh, _ := f.Join(ctx, MonitorGroup("acme"))

	err := f.Publish(ctx, MonitorGroup("acme"), SessionEscalated{HandoffID: "h-1", CompanyID: "acme"})
	require.NoError(t, err)

	receiveEvent(t, monitorCh)

	select {
	case e := <-agentCh:
		t.Fatalf("agent group received monitor event %s", e.Kind())
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublish_OrderPreservedPerCall(t *testing.T) {
	f := NewMemoryFabric(nil)
	defer f.Close()
	ctx := context.Background()

	ch, _ := f.Join(ctx, UserGroup("acme", "sess-1"))

	err := f.Publish(ctx, UserGroup("acme", "sess-1"),
		SessionUpdate{HandoffID: "h-1", Status: "active"},
		ChatMessage{SessionID: "sess-1", Content: "first"},
		ChatMessage{SessionID: "sess-1", Content: "second"},
	)
	require.NoError(t, err)

	assert.Equal(t, KindSessionUpdate, receiveEvent(t, ch).Kind())
	first := receiveEvent(t, ch)
	second := receiveEvent(t, ch)
	assert.Equal(t, "first", first.(ChatMessage).Content)
	assert.Equal(t, "second", second.(ChatMessage).Content)
}

func TestPublish_NoMembersIsNotAnError(t *testing.T) {
	f := NewMemoryFabric(nil)
	defer f.Close()

	err := f.Publish(context.Background(), AgentGroup("nobody"), ErrorEvent{Message: "lost"})
	require.NoError(t, err)
}

func TestLeave_ClosesChannelAndStopsDelivery(t *testing.T) {
	f := NewMemoryFabric(nil)
	defer f.Close()
	ctx := context.Background()

	ch, memberID := f.Join(ctx, AgentGroup("agent-1"))
	f.Leave(AgentGroup("agent-1"), memberID)

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after Leave")

	// Publishing afterwards must not panic on the closed channel.
	err := f.Publish(ctx, AgentGroup("agent-1"), PresenceUpdate{AgentID: "agent-1"})
	require.NoError(t, err)
}

func TestLeave_UnknownMemberIsNoOp(t *testing.T) {
	f := NewMemoryFabric(nil)
	defer f.Close()

	f.Leave(AgentGroup("agent-1"), "not-a-member")
	f.Leave("no-such-group", "not-a-member")
}

func TestJoin_ContextCancelCleansUp(t *testing.T) {
	f := NewMemoryFabric(nil)
	defer f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := f.Join(ctx, AgentGroup("agent-1"))
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should close after context cancel")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancel")
	}
}

func TestClose_ClosesAllMemberChannels(t *testing.T) {
	f := NewMemoryFabric(nil)
	ctx := context.Background()

	ch1, _ := f.Join(ctx, AgentGroup("agent-1"))
	ch2, _ := f.Join(ctx, MonitorGroup("acme"))

	require.NoError(t, f.Close())

	_, ok1 := <-ch1
	_, ok2 := <-ch2
	assert.False(t, ok1)
	assert.False(t, ok2)
}

func TestGroupKeys(t *testing.T) {
	assert.Equal(t, "agent:agent-1", AgentGroup("agent-1"))
	assert.Equal(t, "monitor:acme", MonitorGroup("acme"))
	assert.Equal(t, "user:acme:sess-1", UserGroup("acme", "sess-1"))
}
