// ABOUTME: Package documentation for the connection actors
// ABOUTME: Describes the three channel kinds and their concurrency shape

// Package channel implements the per-connection actors that mediate between
// a live websocket and the pub/sub fabric.
//
// # Channel Kinds
//
//   - UserChannel (company + session): persists inbound chat and forwards it
//     to the assigned agent's group; emits connection_established on open.
//   - AgentChannel (agent id): presence side effects on open/close, heartbeat
//     renewal on every frame, verbatim relay of the agent's group, and
//     inbound agent replies delivered to the user's group.
//   - MonitorChannel (company id): read-only relay of the company's monitor
//     group for dashboards.
//
// # Concurrency Shape
//
// Each actor runs its read loop on the caller's goroutine and one background
// pump forwarding fabric events to the socket. Writes from both sides are
// serialized by a mutex, as gorilla/websocket allows a single writer.
// Inbound frames on one connection are processed strictly in arrival order.
//
// # Error Behavior
//
// A malformed or unsupported frame produces an error event on the same
// connection and processing continues; only transport errors end the actor.
// Liveness is the client's responsibility: a ping frame gets an immediate
// pong, and the read deadline resets on any inbound frame.
package channel
