// Package engine implements the background task processing engine: admission
// control in front of a bounded worker pool, durable per-task status tracking
// with an append-only audit log, retry with exponential backoff, aggregate
// statistics, and coordinated shutdown that drains or cancels in-flight work.
//
// The engine owns in-flight execution state for the lifetime of the process;
// the task records themselves live in the durable store and are only
// referenced by ID.
package engine
