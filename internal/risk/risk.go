// Package risk maintains per-entity rolling state and scores payments
// against hot-swappable rule weights.
//
// The store is split into 1024 independently locked shards selected by an
// FNV-1a hash of the entity name, so concurrent scorers touching different
// entities almost never contend. The scoring math itself is wait-free: it
// reads the active weight set through an atomic index into a two-slot
// array and never allocates.
package risk

import "time"

// Decision thresholds. Payments scoring above BlockThreshold are blocked;
// anything above AlertThreshold is materialized downstream as an alert.
const (
	BlockThreshold = 0.8
	AlertThreshold = 0.5
)

// Result is the outcome of scoring a single payment.
type Result struct {
	Score    float64
	Blocked  bool
	Velocity float64
}

// Alertable reports whether the payment should be forwarded downstream.
func (r Result) Alertable() bool { return r.Score > AlertThreshold }

// processEpoch anchors the monotonic clock used for velocity decay.
var processEpoch = time.Now()

// monotonicNanos returns nanoseconds on a monotonic clock. time.Since uses
// the runtime's monotonic reading, so wall-clock jumps never produce a
// spurious decay or a negative interval.
func monotonicNanos() int64 { return int64(time.Since(processEpoch)) }
