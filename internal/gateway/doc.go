// ABOUTME: Package documentation for the gateway orchestrator
// ABOUTME: Endpoints, wiring, and deployment modes

// Package gateway assembles the handoff-gateway server: it wires the SQLite
// session store, the presence registry, the pub/sub fabric, and the routing
// coordinator, then serves everything over one HTTP listener.
//
// # Endpoints
//
// Websocket endpoints, one per connection actor kind:
//
//	GET /ws/user?company_id=X&session_id=Y   end-user conversation channel
//	GET /ws/agent                            human agent channel (agent token)
//	GET /ws/monitor                          company dashboard channel
//
// Command API (bearer token required):
//
//	POST /api/handoffs                       escalate a conversation
//	GET  /api/handoffs?company_id=X          pending queue, priority then age
//	GET  /api/handoffs/{id}                  handoff detail with transfers
//	POST /api/handoffs/{id}/assign           bind to an agent
//	POST /api/handoffs/{id}/transfer         reassign to another agent
//	POST /api/handoffs/{id}/resolve          complete
//	POST /api/handoffs/{id}/cancel           abandon
//	GET  /api/agents?company_id=X            presence listing
//	POST /api/agents/{id}/status             manual available/busy
//	POST /api/agents/{id}/first-login        complete first login
//
// Plus /health and /ready probes.
//
// # Deployment
//
// The gateway listens on a plain TCP address or, when configured, joins a
// tailnet via tsnet and serves there instead. With Kafka brokers configured
// the fabric spans processes; otherwise fan-out is in-process only.
package gateway
