package tspacket

// LabelSet is a bit-set of up to 32 labels (§3: "bit-set of up to 32
// labels"). Label numbers are 0..31.
type LabelSet uint32

// Set returns a copy of the set with label n added.
func (l LabelSet) Set(n uint) LabelSet {
	if n > 31 {
		return l
	}
	return l | (1 << n)
}

// Clear returns a copy of the set with label n removed.
func (l LabelSet) Clear(n uint) LabelSet {
	if n > 31 {
		return l
	}
	return l &^ (1 << n)
}

// Has reports whether label n is present in the set.
func (l LabelSet) Has(n uint) bool {
	if n > 31 {
		return false
	}
	return l&(1<<n) != 0
}

// Metadata is the parallel record carried alongside each packet slot
// (§3 "Packet metadata slot"): input timestamp, label bits, the
// bitrate-changed hint, and auxiliary flags. It is preserved across
// stages until the packet leaves the buffer.
type Metadata struct {
	// InputTimestamp is the 64-bit source-time (or synthesized
	// monotonic) timestamp stamped when the packet was admitted.
	InputTimestamp int64

	// Labels is preserved across the chain and usable by filters (P6).
	Labels LabelSet

	// BitrateChanged is set by a processor plugin to force bitrate
	// recomputation at the next adjustment tick (§4.4).
	BitrateChanged bool

	// Flush is the advisory flag requesting the next stage be woken
	// even though the natural batch threshold has not been met (§4.3).
	Flush bool

	// FreshFromInput marks a packet that was just admitted by the
	// input executor in the current batch (as opposed to one that has
	// been sitting in the ring from an earlier batch) — used by the
	// stuffing injector to decide whether a shared batch timestamp
	// still applies.
	FreshFromInput bool
}

// Reset clears a metadata record back to its zero value in place, used
// when a slot is recycled back into the input stage's free window.
func (m *Metadata) Reset() {
	*m = Metadata{}
}
