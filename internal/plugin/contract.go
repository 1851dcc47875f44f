// Package plugin defines the narrow contract the core interacts with
// plugins through (spec.md §6.2), and the registration/lookup machinery
// of §6.3. Per §9's design note, the original's inheritance-based
// plugin polymorphism is replaced with a capability record: a plugin
// implements whichever of the three small interfaces below matches its
// role, plus any of the optional capability interfaces it supports.
package plugin

import (
	"context"

	"github.com/tsduckgo/tsp/internal/tspacket"
)

// Verdict is a processor plugin's disposition for one packet (§4.3).
type Verdict int

const (
	// OK: packet unchanged or mutated in place.
	OK Verdict = iota
	// Null: replace the packet with a null packet.
	Null
	// Drop: set the sync byte to 0.
	Drop
	// Stall: force a flush and re-evaluate later. The executor
	// re-presents the SAME packet on the next wake-up — see §13 of
	// SPEC_FULL.md for why this policy was chosen over skip-ahead.
	Stall
	// End: propagate end-of-input downstream from this stage.
	End
	// Abort: fatal; propagate abort upstream from this stage.
	Abort
)

func (v Verdict) String() string {
	switch v {
	case OK:
		return "OK"
	case Null:
		return "NULL"
	case Drop:
		return "DROP"
	case Stall:
		return "STALL"
	case End:
		return "END"
	case Abort:
		return "ABORT"
	default:
		return "UNKNOWN"
	}
}

// Severity mirrors the levels a plugin may report through its Sink
// (§6.2 "a report(severity, message) sink provided by the core").
type Severity int

const (
	SeverityTrace Severity = iota
	SeverityDebug
	SeverityInfo
	SeverityWarn
	SeverityError
	SeverityFatal
)

// Sink is the thread-safe, non-blocking report capability passed into
// every plugin at construction (§6.2, §9 "Async logging"). A plugin may
// call Report from any goroutine; Report itself never blocks on I/O.
type Sink interface {
	Report(severity Severity, message string)
}

// lifecycle is embedded by every plugin kind's interface:
// start() and stop() (§6.2). Implementations are plain Go methods, not
// a Go `interface` embed, because start/stop signatures differ only in
// spirit across kinds but Go requires each to name its own type.
type lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Input is the capability set an input plugin implements (§6.2).
type Input interface {
	lifecycle
	// Receive fills as many of the given packets/metadata pairs as it
	// can (up to len(pkts)) and returns how many were written, and
	// whether end-of-stream was reached. metas[i].InputTimestamp is
	// left untouched by plugins that don't report their own source
	// timestamps — the input executor fills in a synthesized one.
	Receive(ctx context.Context, pkts []tspacket.Packet, metas []*tspacket.Metadata) (n int, eof bool, err error)
}

// InputAborter is an optional input-plugin capability: ask a blocked
// Receive call to abandon its pending operation (§5 "Cancellation").
type InputAborter interface {
	Abort()
}

// BitrateSource is an optional capability (input or processor plugins):
// hardware- or plugin-reported bitrate (§4.4 source 2).
type BitrateSource interface {
	Bitrate() (bitsPerSecond uint64, ok bool)
}

// RealTimeDeclarer is an optional capability: a plugin may declare
// itself real-time, selecting the real-time tuning regime unless
// overridden (§4.8, §6.1 "realtime").
type RealTimeDeclarer interface {
	IsRealTime() bool
}

// Processor is the capability set a processor plugin implements.
type Processor interface {
	lifecycle
	// ProcessPacket is invoked only for non-dropped, label-matched
	// packets (§4.3, P5, P6); the core never calls it otherwise.
	ProcessPacket(pkt tspacket.Packet, meta *tspacket.Metadata) Verdict
}

// JointTerminationOptIn is an optional processor capability (§4.6 item
// 3): the plugin wants to participate in the joint-termination AND-gate
// instead of terminating the pipeline unilaterally.
type JointTerminationOptIn interface {
	JointTerminationOptedIn() bool
	// JointlyDone reports whether this plugin currently considers
	// itself done; re-evaluated by the arbiter after each batch.
	JointlyDone() bool
}

// LabelFilter is an optional processor capability implementing the
// core-owned `--only-label` bypass (§4.3, §6.2: "an --only-label filter
// honored by the core"). When present, OnlyLabel returns the label the
// processor was configured to require; the core never invokes
// ProcessPacket for packets lacking that label.
type LabelFilter interface {
	OnlyLabel() (label uint, ok bool)
}

// Output is the capability set an output plugin implements.
type Output interface {
	lifecycle
	// Send delivers the given packets/metadata; returns true on
	// success. A false return makes the output executor stop and
	// propagate an abort; it does not retry. An error return is always
	// fatal (PluginFatal, §7).
	Send(ctx context.Context, pkts []tspacket.Packet, metas []*tspacket.Metadata) (bool, error)
}

// OptionParser is implemented by any plugin (of any kind) that accepts
// CLI options; invoked once at construction (§6.2).
type OptionParser interface {
	ParseOptions(args []string) error
}
