// ABOUTME: Presence registry tracking each agent's availability state
// ABOUTME: Backed by the shared store mirror so status is consistent cluster-wide

package presence

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/2389/handoff-gateway/internal/store"
)

// ErrAgentUnknown indicates presence was requested for an unprovisioned agent.
var ErrAgentUnknown = errors.New("agent unknown")

// Mirror is what the registry needs from storage. The persisted record is the
// authoritative copy; every gateway process reads and writes the same rows.
type Mirror interface {
	ProvisionAgent(ctx context.Context, agentID, companyID string) error
	GetPresence(ctx context.Context, agentID string) (*store.AgentPresence, error)
	SavePresence(ctx context.Context, presence *store.AgentPresence) error
	ListPresenceByCompany(ctx context.Context, companyID string) ([]*store.AgentPresence, error)
}

// ChangeFunc is called after a presence transition with the agent's new
// externally visible status.
type ChangeFunc func(companyID, agentID string, status store.AgentStatus)

// Registry owns agent availability transitions. Per-agent locking keeps
// concurrent connection tasks from interleaving read-modify-write cycles on
// the same agent; different agents never contend.
type Registry struct {
	mirror   Mirror
	leaseTTL time.Duration
	logger   *slog.Logger
	onChange ChangeFunc

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	leases map[string]time.Time // agentID -> last heartbeat, this process

	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
}

// NewRegistry creates a presence registry. leaseTTL bounds how long a
// crashed-without-clean-close connection can leave an agent looking online;
// zero disables lease expiry.
func NewRegistry(mirror Mirror, leaseTTL time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		mirror:   mirror,
		leaseTTL: leaseTTL,
		logger:   logger.With("component", "presence"),
		locks:    make(map[string]*sync.Mutex),
		leases:   make(map[string]time.Time),
		done:     make(chan struct{}),
	}
	if leaseTTL > 0 {
		go r.sweepExpiredLeases()
	}
	return r
}

// SetOnChange registers a callback invoked after each visible status change.
func (r *Registry) SetOnChange(fn ChangeFunc) {
	r.onChange = fn
}

// Provision creates the presence record for a new agent identity (status
// pending, first login incomplete). Idempotent.
func (r *Registry) Provision(ctx context.Context, agentID, companyID string) error {
	return r.mirror.ProvisionAgent(ctx, agentID, companyID)
}

// SetStatus applies an explicit status change requested by the agent.
// Attempts to go available/busy before first login completes are silently
// ignored to tolerate stale clients. Transitioning to offline records
// last_active.
func (r *Registry) SetStatus(ctx context.Context, agentID string, status store.AgentStatus) error {
	return r.withAgent(ctx, agentID, func(p *store.AgentPresence) bool {
		if !p.FirstLoginComplete && (status == store.AgentStatusAvailable || status == store.AgentStatusBusy) {
			r.logger.Debug("ignoring status change before first login",
				"agent_id", agentID,
				"requested", status,
			)
			return false
		}
		r.applyStatus(p, status)
		return true
	})
}

// OnConnect marks the agent available iff first login is complete, and
// starts its heartbeat lease.
func (r *Registry) OnConnect(ctx context.Context, agentID string) error {
	err := r.withAgent(ctx, agentID, func(p *store.AgentPresence) bool {
		if !p.FirstLoginComplete {
			return false
		}
		r.applyStatus(p, store.AgentStatusAvailable)
		return true
	})
	if err != nil {
		return err
	}
	r.Touch(agentID)
	return nil
}

// OnDisconnect marks the agent offline unconditionally and drops its lease.
func (r *Registry) OnDisconnect(ctx context.Context, agentID string) error {
	r.mu.Lock()
	delete(r.leases, agentID)
	r.mu.Unlock()

	return r.withAgent(ctx, agentID, func(p *store.AgentPresence) bool {
		r.applyStatus(p, store.AgentStatusOffline)
		return true
	})
}

// CompleteFirstLogin flips the first-login flag and forces the agent
// offline; the agent must then explicitly go online.
func (r *Registry) CompleteFirstLogin(ctx context.Context, agentID string) error {
	return r.withAgent(ctx, agentID, func(p *store.AgentPresence) bool {
		p.FirstLoginComplete = true
		r.applyStatus(p, store.AgentStatusOffline)
		return true
	})
}

// Touch refreshes the agent's heartbeat lease. Called on every inbound frame
// from the agent's connection, including pings.
func (r *Registry) Touch(agentID string) {
	if r.leaseTTL <= 0 {
		return
	}
	r.mu.Lock()
	r.leases[agentID] = time.Now()
	r.mu.Unlock()
}

// MarkAssigned records the assignment time used by the ListAvailable
// tie-break.
func (r *Registry) MarkAssigned(ctx context.Context, agentID string) error {
	return r.withAgent(ctx, agentID, func(p *store.AgentPresence) bool {
		now := time.Now().UTC()
		p.LastAssigned = &now
		return true
	})
}

// GetStatus returns the agent's externally visible status.
func (r *Registry) GetStatus(ctx context.Context, agentID string) (store.AgentStatus, error) {
	p, err := r.mirror.GetPresence(ctx, agentID)
	if err != nil {
		if errors.Is(err, store.ErrAgentUnknown) {
			return "", ErrAgentUnknown
		}
		return "", err
	}
	return p.EffectiveStatus(), nil
}

// ListAvailable returns the company's available agents, least recently
// assigned first. Agents that never received an assignment sort before any
// that have.
func (r *Registry) ListAvailable(ctx context.Context, companyID string) ([]*store.AgentPresence, error) {
	all, err := r.mirror.ListPresenceByCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}

	var available []*store.AgentPresence
	for _, p := range all {
		if p.EffectiveStatus() == store.AgentStatusAvailable {
			available = append(available, p)
		}
	}

	sort.SliceStable(available, func(i, j int) bool {
		a, b := available[i].LastAssigned, available[j].LastAssigned
		switch {
		case a == nil && b == nil:
			return available[i].AgentID < available[j].AgentID
		case a == nil:
			return true
		case b == nil:
			return false
		default:
			return a.Before(*b)
		}
	})
	return available, nil
}

// Close stops the lease sweeper. Safe to call multiple times.
func (r *Registry) Close() {
	r.closeMu.Lock()
	defer r.closeMu.Unlock()
	if !r.closed {
		close(r.done)
		r.closed = true
	}
}

// withAgent runs fn on the agent's presence record under that agent's lock
// and persists the record if fn reports a change.
func (r *Registry) withAgent(ctx context.Context, agentID string, fn func(p *store.AgentPresence) bool) error {
	lock := r.agentLock(agentID)
	lock.Lock()
	defer lock.Unlock()

	p, err := r.mirror.GetPresence(ctx, agentID)
	if err != nil {
		if errors.Is(err, store.ErrAgentUnknown) {
			return ErrAgentUnknown
		}
		return err
	}

	before := p.EffectiveStatus()
	if !fn(p) {
		return nil
	}
	p.UpdatedAt = time.Now().UTC()
	if err := r.mirror.SavePresence(ctx, p); err != nil {
		return err
	}

	after := p.EffectiveStatus()
	if after != before && r.onChange != nil {
		r.onChange(p.CompanyID, p.AgentID, after)
	}
	return nil
}

// applyStatus mutates the status field, recording last_active on the way to
// offline.
func (r *Registry) applyStatus(p *store.AgentPresence, status store.AgentStatus) {
	if status == store.AgentStatusOffline {
		now := time.Now().UTC()
		p.LastActive = &now
	}
	p.Status = status
}

func (r *Registry) agentLock(agentID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[agentID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[agentID] = lock
	}
	return lock
}

// sweepExpiredLeases periodically forces agents whose heartbeat lease has
// lapsed to offline. This closes the stale-presence gap left by connections
// that die without a clean close.
func (r *Registry) sweepExpiredLeases() {
	interval := r.leaseTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.runSweep()
		case <-r.done:
			return
		}
	}
}

func (r *Registry) runSweep() {
	now := time.Now()

	r.mu.Lock()
	var expired []string
	for agentID, last := range r.leases {
		if now.Sub(last) > r.leaseTTL {
			expired = append(expired, agentID)
			delete(r.leases, agentID)
		}
	}
	r.mu.Unlock()

	for _, agentID := range expired {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.OnDisconnect(ctx, agentID); err != nil {
			r.logger.Warn("failed to expire stale presence",
				"agent_id", agentID,
				"error", err,
			)
		} else {
			r.logger.Info("presence lease expired",
				"agent_id", agentID,
				"ttl", r.leaseTTL,
			)
		}
		cancel()
	}
}
