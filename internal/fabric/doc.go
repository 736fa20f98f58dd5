// ABOUTME: Package documentation for the pub/sub fabric
// ABOUTME: Describes groups, delivery guarantees, and the Kafka deployment mode

// Package fabric provides the named-group publish/subscribe layer that
// connects user, agent, and monitor channels to the routing coordinator.
//
// # Groups
//
// Every destination is a string group key built by one of three helpers:
//
//   - AgentGroup(agentID): all live connections of one human agent
//   - MonitorGroup(companyID): a company's dashboard connections
//   - UserGroup(companyID, sessionID): one conversation's user connections
//
// Publishers never know who is listening; they publish to a key and the
// fabric delivers to whoever has joined it.
//
// # Delivery Guarantees
//
// Delivery is at-most-once. A publish to a group with no live members is
// dropped, and a member that cannot keep up with its buffered channel loses
// events rather than blocking the publisher. Events passed to a single
// Publish call are observed in order by each member; no ordering is promised
// across separate Publish calls.
//
// # Implementations
//
// MemoryFabric is the single-process implementation: a map of group keys to
// buffered member channels, fanned out under a read lock. KafkaFabric layers
// cross-process delivery on top of it: publishes are written to one shared
// Kafka topic keyed by group, and every gateway process consumes the topic
// with its own consumer group id, delivering each record to its local
// MemoryFabric. An agent connected to one process thus receives events
// published by any other process.
//
// # Events
//
// The wire format is a flat JSON envelope with a "type" tag over a closed
// set of event kinds; see Marshal and Unmarshal.
package fabric
