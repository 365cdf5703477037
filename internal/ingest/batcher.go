package ingest

import "time"

// Adaptive batching thresholds. The consumer's acknowledgement latency (how
// long the previous chunk took to flush) drives the next chunk size.
const (
	slowAckThreshold = 5 * time.Second
	lateAckThreshold = 2 * time.Second

	hardFloor = 100
	softFloor = 500

	// recoveryFactor grows the chunk size back toward the default once the
	// consumer keeps up. From the hard floor, the default is reached within
	// three emits.
	recoveryFactor = 4
)

// Batcher adaptively sizes channel chunks for one session. Not safe for
// concurrent use; each pipeline run owns its own.
type Batcher struct {
	defaultSize int
	size        int
	adaptive    bool
}

// NewBatcher creates a batcher with the given default chunk size. When
// adaptive is false the size never changes.
func NewBatcher(defaultSize int, adaptive bool) *Batcher {
	if defaultSize <= 0 {
		defaultSize = 1000
	}
	return &Batcher{defaultSize: defaultSize, size: defaultSize, adaptive: adaptive}
}

// Size returns the current chunk size.
func (b *Batcher) Size() int {
	return b.size
}

// Observe adjusts the chunk size from the latest acknowledgement latency and
// reports whether the next chunk should carry the backpressure flag.
func (b *Batcher) Observe(ackLatency time.Duration) bool {
	if !b.adaptive {
		return false
	}
	switch {
	case ackLatency > slowAckThreshold:
		b.size = max(hardFloor, b.size/4)
		return true
	case ackLatency > lateAckThreshold:
		b.size = max(softFloor, b.size/2)
		return false
	default:
		b.size = min(b.defaultSize, b.size*recoveryFactor)
		return false
	}
}
