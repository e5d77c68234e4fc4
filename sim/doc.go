// Package sim provides the core types of the lockstep simulation framework.
//
// # Reading Guide
//
// Start with these files to understand the kernel shared by every process:
//   - event.go: Event, Priority and Payload, the envelope carried on the bus
//   - envelope.go: Encode/Decode wire codec for events
//   - checkpoint.go: CheckpointRequest and the reserved checkpoint topics
//   - participant.go: Participant and Persistable capabilities
//   - errors.go: the error taxonomy (fatal vs recovered)
//
// # Architecture
//
// The sim package defines data types and interfaces; the machinery lives in
// sub-packages:
//   - sim/topology/: participant registry, port allocation, naming service
//   - sim/bus/: topic-based publish/subscribe transports (in-memory, Redis)
//   - sim/barrier/: READY/GO rendezvous used at startup and at every checkpoint
//   - sim/schedule/: deterministic scheduling queue for periodic events
//   - sim/clock/: lock-step clock driver owning simulation time
//   - sim/persist/: declarative field schemas and checkpoint stores
//   - sim/model/: participant runtime and example models
//   - sim/cluster/: in-process launcher running a whole topology
//   - sim/trace/: barrier round and checkpoint records
//   - sim/metrics/: Prometheus instrumentation
//
// Models register their factories with model.Register from init functions.
package sim
