// Package inject implements the Stuffing & Timestamp Injector (C5): a
// pre-filter inside the input executor that inserts synthetic null
// packets around the real stream and stamps input timestamps (spec.md
// §4.5). It never grows the logical stream beyond what stuffing slots
// already provide — it only ever steals or fills slots the input
// executor already owns.
package inject

import (
	"sync/atomic"
	"time"

	"github.com/tsduckgo/tsp/internal/tspacket"
)

// Ring is the narrow surface the injector needs from the input
// executor to append stuffing packets beyond what the plugin itself
// produced.
type Ring interface {
	RequestFreeWindow(max int) (start, length int)
	WindowAt(idx int) (tspacket.Packet, *tspacket.Metadata)
	ReleaseRaw(n int)
	SlotCount() int
}

// Config mirrors the §6.1 stuffing options.
type Config struct {
	// AddStartStuffing: the first N packets emitted are null packets,
	// before any plugin packet.
	AddStartStuffing int
	// AddInputStuffing: for every InPkt packets read from the plugin,
	// NullPkt synthetic nulls are added. The input executor writes the
	// nulls owed for a batch as one run right after that batch, so they
	// fall exactly every InPkt packets only when batch boundaries land
	// on multiples of InPkt.
	AddInputStuffingNull int
	AddInputStuffingIn    int
	// AddStopStuffing: after end-of-input, N null packets are
	// appended before input_end propagates.
	AddStopStuffing int
}

// Injector applies Config to each batch the input executor admits.
type Injector struct {
	cfg Config

	startEmitted  int
	sinceInterleave int
	clock         func() int64
}

// New builds an injector. clock defaults to time.Now().UnixNano if nil;
// tests may supply a deterministic one.
func New(cfg Config, clock func() int64) *Injector {
	if clock == nil {
		clock = func() int64 { return time.Now().UnixNano() }
	}
	return &Injector{cfg: cfg, clock: clock}
}

// StampAndStuff stamps input timestamps on a freshly-admitted batch
// (preserving any plugin-provided timestamp) and marks every packet as
// fresh from input. It inserts no stuffing itself: start and stop
// stuffing are written by WriteStartStuffing and AppendStopStuffing,
// interleaved stuffing is counted by MaybeInterleave, and firstBatch is
// not used.
func (inj *Injector) StampAndStuff(pkts []tspacket.Packet, metas []*tspacket.Metadata, firstBatch bool) {
	if len(pkts) == 0 {
		return
	}
	ts := inj.clock()
	for i := range pkts {
		if metas[i].InputTimestamp == 0 {
			metas[i].InputTimestamp = ts
		}
		metas[i].FreshFromInput = true
	}
	_ = firstBatch
}

// WriteStartStuffing fills count null packets into free ring slots
// ahead of the input plugin's first batch and releases them downstream
// (§4.5 "add_start_stuffing"). Call once, before the input executor's
// first Receive.
func WriteStartStuffing(r Ring, count int, clock func() int64) {
	writeNulls(r, count, clock)
}

// AppendStopStuffing fills cfg.AddStopStuffing null packets after the
// input plugin reports end-of-stream, before input_end propagates
// (§4.5 "add_stop_stuffing").
func (inj *Injector) AppendStopStuffing(r Ring) {
	if inj.cfg.AddStopStuffing <= 0 {
		return
	}
	writeNulls(r, inj.cfg.AddStopStuffing, inj.clock)
}

// MaybeInterleave is called by the input executor after admitting n
// plugin-sourced packets; it returns how many null packets should now
// be interleaved per the add_input_stuffing ratio, and advances the
// internal counter. The caller is responsible for actually writing
// those nulls into free ring slots via WriteStartStuffing-style calls.
func (inj *Injector) MaybeInterleave(n int) int {
	if inj.cfg.AddInputStuffingIn <= 0 || inj.cfg.AddInputStuffingNull <= 0 {
		return 0
	}
	inj.sinceInterleave += n
	count := 0
	for inj.sinceInterleave >= inj.cfg.AddInputStuffingIn {
		inj.sinceInterleave -= inj.cfg.AddInputStuffingIn
		count += inj.cfg.AddInputStuffingNull
	}
	return count
}

func writeNulls(r Ring, count int, clock func() int64) {
	if clock == nil {
		clock = func() int64 { return time.Now().UnixNano() }
	}
	remaining := count
	for remaining > 0 {
		start, length := r.RequestFreeWindow(remaining)
		if length == 0 {
			break
		}
		ts := clock()
		for i := 0; i < length; i++ {
			pkt, meta := r.WindowAt(start + i)
			tspacket.WriteNull(pkt.Bytes)
			meta.Reset()
			meta.InputTimestamp = ts
			meta.FreshFromInput = true
		}
		r.ReleaseRaw(length)
		remaining -= length
	}
}

// sequence is a monotonically increasing counter usable as a
// deterministic clock substitute in tests that need strictly ordered
// (not merely non-decreasing) timestamps.
var sequence int64

// NextSequence returns a process-wide monotonically increasing value,
// for callers constructing a deterministic clock func.
func NextSequence() int64 {
	return atomic.AddInt64(&sequence, 1)
}
