// ABOUTME: Websocket endpoint handlers for the three connection kinds
// ABOUTME: Authenticates, authorizes, upgrades, then hands off to a channel actor

package gateway

import (
	"net/http"

	"github.com/2389/handoff-gateway/internal/auth"
	"github.com/2389/handoff-gateway/internal/channel"
)

// handleUserWS serves GET /ws/user?company_id=X&session_id=Y. The room gate
// runs before the upgrade: a rejected principal never sees
// connection_established.
func (g *Gateway) handleUserWS(w http.ResponseWriter, r *http.Request) {
	companyID := r.URL.Query().Get("company_id")
	sessionID := r.URL.Query().Get("session_id")

	identity, err := g.authn.Authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !g.authz.CanJoinRoom(identity, companyID, sessionID) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("user websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	ch := channel.NewUserChannel(g.store, g.fab, companyID, sessionID, g.logger)
	ch.Run(r.Context(), conn)
}

// handleAgentWS serves GET /ws/agent. The agent identity comes from the
// token; agents are provisioned on first contact so presence rows exist
// before the first status write.
func (g *Gateway) handleAgentWS(w http.ResponseWriter, r *http.Request) {
	identity, err := g.authn.Authenticate(r)
	if err != nil || identity.Anonymous() || identity.Kind != auth.KindAgent {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if err := g.registry.Provision(r.Context(), identity.Subject, identity.CompanyID); err != nil {
		g.logger.Error("agent provisioning failed", "agent_id", identity.Subject, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("agent websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	ch := channel.NewAgentChannel(g.store, g.fab, g.registry, identity.Subject, identity.CompanyID, g.logger)
	ch.Run(r.Context(), conn)
}

// handleMonitorWS serves GET /ws/monitor. Monitors must present a monitor
// or agent credential for the company they observe.
func (g *Gateway) handleMonitorWS(w http.ResponseWriter, r *http.Request) {
	identity, err := g.authn.Authenticate(r)
	if err != nil || identity.Anonymous() {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("monitor websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	ch := channel.NewMonitorChannel(g.fab, identity.CompanyID, g.logger)
	ch.Run(r.Context(), conn)
}
