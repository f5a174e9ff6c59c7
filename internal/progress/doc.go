// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces the worker pool uses to report pass progress. Events are batched
// on a background goroutine and fanned out to sinks such as a sampled log,
// Prometheus gauges or the status board behind the status server.
package progress
