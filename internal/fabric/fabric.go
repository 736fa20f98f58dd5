// ABOUTME: Fabric interface and the in-process group fan-out implementation
// ABOUTME: Connections join named groups; publishes reach every joined member

package fabric

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	// memberBufferSize is the channel buffer for each group member.
	memberBufferSize = 64
)

// Fabric is the named-group publish/subscribe abstraction shared by all
// connection channels. Delivery is at-most-once: a publish to a group with no
// live members is logged and dropped, and a slow member can lose events.
// Events passed to a single Publish call are observed in order by each member.
type Fabric interface {
	// Join registers a member on the group. The returned channel receives
	// events until Leave is called or ctx is cancelled.
	Join(ctx context.Context, group string) (<-chan Event, string)

	// Leave removes a member and closes its channel.
	Leave(group, memberID string)

	// Publish delivers events to every current member of the group,
	// on every gateway process attached to the same fabric.
	Publish(ctx context.Context, group string, events ...Event) error

	// Close shuts the fabric down and closes all member channels.
	Close() error
}

// Group key construction. One group per agent, one per company monitor view,
// one per user conversation.

// AgentGroup is the fan-out destination for one agent's live connections.
func AgentGroup(agentID string) string { return "agent:" + agentID }

// MonitorGroup is the company-wide dashboard destination.
func MonitorGroup(companyID string) string { return "monitor:" + companyID }

// UserGroup is the destination for one conversation's user connections.
func UserGroup(companyID, sessionID string) string {
	return "user:" + companyID + ":" + sessionID
}

// MemoryFabric is the in-process Fabric. It is the whole story for a
// single-process deployment and the local delivery half of KafkaFabric.
type MemoryFabric struct {
	mu      sync.RWMutex
	members map[string]map[string]chan Event // group -> memberID -> ch
	logger  *slog.Logger
}

// NewMemoryFabric creates an in-process fabric. Pass nil logger for default.
func NewMemoryFabric(logger *slog.Logger) *MemoryFabric {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryFabric{
		members: make(map[string]map[string]chan Event),
		logger:  logger.With("component", "fabric"),
	}
}

// Join registers a member for events on the given group. The membership is
// automatically cleaned up when ctx is cancelled.
func (f *MemoryFabric) Join(ctx context.Context, group string) (<-chan Event, string) {
	memberID := uuid.New().String()
	ch := make(chan Event, memberBufferSize)

	f.mu.Lock()
	if _, ok := f.members[group]; !ok {
		f.members[group] = make(map[string]chan Event)
	}
	f.members[group][memberID] = ch
	f.mu.Unlock()

	f.logger.Debug("member joined group", "group", group, "member_id", memberID)

	go func() {
		<-ctx.Done()
		f.Leave(group, memberID)
	}()

	return ch, memberID
}

// Leave removes a member and closes its channel.
func (f *MemoryFabric) Leave(group, memberID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	members, ok := f.members[group]
	if !ok {
		return
	}
	ch, exists := members[memberID]
	if !exists {
		return
	}
	delete(members, memberID)
	close(ch)
	if len(members) == 0 {
		delete(f.members, group)
	}

	f.logger.Debug("member left group", "group", group, "member_id", memberID)
}

// Publish sends events to all members of the group in order.
// Non-blocking: events are dropped for members whose channels are full.
func (f *MemoryFabric) Publish(_ context.Context, group string, events ...Event) error {
	f.mu.RLock()
	members := f.members[group]
	// Copy member channels under read lock to avoid holding it during sends
	targets := make([]chan Event, 0, len(members))
	for _, ch := range members {
		targets = append(targets, ch)
	}
	f.mu.RUnlock()

	if len(targets) == 0 {
		// At-most-once by design: no live member, no retry.
		f.logger.Debug("no members for group, dropping publish", "group", group, "events", len(events))
		return nil
	}

	for _, event := range events {
		for _, ch := range targets {
			select {
			case ch <- event:
			default:
				f.logger.Debug("dropped event for slow member",
					"group", group,
					"kind", event.Kind(),
				)
			}
		}
	}
	return nil
}

// Close shuts down the fabric and closes all member channels.
func (f *MemoryFabric) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for group, members := range f.members {
		for memberID, ch := range members {
			close(ch)
			delete(members, memberID)
		}
		delete(f.members, group)
	}
	f.logger.Debug("fabric closed")
	return nil
}
