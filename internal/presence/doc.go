// ABOUTME: Package documentation for agent presence tracking
// ABOUTME: Describes the status model, first-login gate, and heartbeat leases

// Package presence tracks the availability of human agents.
//
// # Status Model
//
// An agent is pending, available, busy, or offline. The stored status and
// the visible status differ in one case: until an agent completes first
// login, every status reads back as pending. Agents and admin tooling set
// available and busy; offline is entered on disconnect or lease expiry.
//
// # Registry
//
// Registry is the in-memory authority for live status. It persists every
// change through a Mirror (the SQLite store in production) so status
// survives restarts, and invokes an optional ChangeFunc whenever the
// visible status actually changes, which the gateway uses to publish
// presence_update events to monitor dashboards.
//
// # Heartbeat Leases
//
// Each connected agent holds a lease renewed by Touch on every inbound
// frame. A background sweeper forces agents with expired leases to offline,
// so a silently dead connection cannot leave an agent marked available.
//
// # Assignment Ordering
//
// ListAvailable returns available agents least-recently-assigned first,
// with never-assigned agents ahead of all others and ties broken by agent
// id. The routing coordinator uses this order for auto-assignment.
package presence
