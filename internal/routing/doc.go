// ABOUTME: Package documentation for the routing coordinator
// ABOUTME: Describes orchestration flow and idempotence guarantees

// Package routing orchestrates handoff lifecycle operations across the
// session store, the presence registry, and the pub/sub fabric.
//
// The coordinator owns no session state. Each operation is one transactional
// store call followed by fabric publishes: escalation announces on the
// company monitor group, assignment on the agent's and monitor groups, and
// terminal updates fan out to agent, monitor, and user groups. Publish
// failures are logged, never propagated, because the state transition has
// already committed.
//
// Operations are idempotent to duplicate command delivery twice over: a
// TTL cache absorbs exact command retries by id, and the store's transition
// semantics make semantic retries safe (re-escalating an open conversation
// returns the existing handoff; re-assigning an active handoff to the same
// agent is a no-op).
//
// With AutoAssign enabled, escalation immediately binds the handoff to the
// least-recently-assigned available agent; with none available the handoff
// stays pending for manual pickup from the queue.
package routing
