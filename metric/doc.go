// Package metric provides Prometheus metrics for the specialist mesh: core
// collectors for specialist status, request outcomes, health probes, and
// routing decisions, plus a registry for component-owned collectors and an
// HTTP server to expose them.
package metric
