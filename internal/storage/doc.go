// Package storage implements the local data-durability layer for
// intermittently connected telemetry devices.
//
// Architecture:
//
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│  Producers  │────▶│ Coordinator │────▶│   Backend   │
//	│ (channels)  │     │ (run loop)  │     │ (ram/file)  │
//	└─────────────┘     └─────────────┘     └─────────────┘
//	                           │
//	                           ▼
//	                    ┌─────────────┐
//	                    │ Batch pipe  │────▶ consumer
//	                    └─────────────┘
//
// The storage layer provides:
//   - A mode state machine (passthrough vs buffer) with explicit
//     rejection semantics
//   - A pluggable six-operation backend contract with a volatile ring
//     buffer and a persistent segment log implementation
//   - Overwrite-oldest eviction, so storing never fails on capacity
//   - A session-based batch protocol streaming framed records through a
//     bounded pipe in flow-controlled rounds
//   - One-shot flush and clear housekeeping operations
//
// All coordinator state is confined to a single run goroutine fed by a
// command mailbox; producers and the consumer never share memory with
// it beyond the batch pipe.
package storage
