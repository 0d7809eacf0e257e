// Package tekton provides a service mesh for the Greek Chorus AI specialists:
// independent model-backed workers that register themselves, claim a TCP port,
// and answer newline-delimited JSON requests.
//
// # Architecture
//
// The mesh has five cooperating subsystems:
//
//	┌─────────────────────────────────────┐
//	│         Routing Engine              │  preferred → rules →
//	│  (rules, capability, fallbacks)     │  capability → chain
//	└─────────────────────────────────────┘
//	           ↓ selects
//	┌─────────────────────────────────────┐
//	│        Connection Pool              │  one socket per
//	│   (NDJSON over raw TCP)             │  specialist
//	└─────────────────────────────────────┘
//	           ↓ reads / writes back
//	┌─────────────────────────────────────┐
//	│          Registry                   │  file-backed, shared
//	│  (identity, ports, metrics)         │  across processes
//	└─────────────────────────────────────┘
//	           ↑ status writes
//	┌─────────────────────────────────────┐
//	│        Health Monitor               │  periodic ping sweeps,
//	│  (healthy/degraded/unresponsive)    │  latency classification
//	└─────────────────────────────────────┘
//
// The registry is the single source of truth. It lives in a shared directory
// guarded by advisory file locks, so independent launcher processes — not just
// goroutines — cooperate safely on registration and port allocation.
//
// # Packages
//
//   - registry: persistent specialist directory, port allocation, audit log
//   - wire: the NDJSON request/response protocol
//   - pool: persistent connections, request delivery, failures as data
//   - health: periodic probing and status classification
//   - routing: rule-based specialist selection and team assembly
//   - metric: Prometheus collectors and the metrics endpoint
//   - config: file and environment configuration
//
// The chorusctl command wraps all of this for operators.
package tekton
