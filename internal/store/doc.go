// Package store provides persistent storage for the gateway using SQLite.
//
// # Architecture
//
// The Store interface covers three concerns:
//
//   - Conversations: the persistence collaborator surface used by connection
//     channels (GetConversation, AppendMessage, GetMessages)
//   - Handoff sessions: the escalation state machine, implemented as atomic
//     transactions (Escalate, Assign, Transfer, Resolve, Cancel)
//   - Agent presence mirror: the cluster-shared availability records behind
//     the presence registry
//
// SQLiteStore implements the whole interface in a single struct.
//
// # Handoff State Machine
//
// pending -(assign)-> active -(resolve)-> completed
// active -(transfer)-> active (different assignee)
// pending|active -(cancel)-> cancelled
//
// Completed and cancelled are terminal. A partial unique index on open
// sessions guarantees at most one non-terminal handoff per conversation,
// which makes Escalate's idempotence transactional rather than best-effort.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: Requested entity does not exist
//   - ErrInvalidTransition: State change not allowed from current status
//   - ErrAgentUnknown: Presence requested for an unprovisioned agent
//
// All methods accept context.Context for cancellation support. Use
// NewSQLiteStore(":memory:") for tests.
package store
