// Package sinks implements concrete progress consumers: Prometheus collectors,
// a sampled structured log, and an in-memory status board for the status
// server. Each sink satisfies progress.Sink and tolerates repeated Consume calls.
package sinks
