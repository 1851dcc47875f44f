package supervisor

import (
	"github.com/tsduckgo/tsp/internal/ledger"
	"github.com/tsduckgo/tsp/internal/observability"
)

// Ledger exposes the ledger for the control channel and diagnostics
// API; both only ever read window snapshots or signal condition
// variables, never mutate stage plugin state directly.
func (p *Pipeline) Ledger() *ledger.Ledger {
	return p.ledger
}

// Bitrate returns the current declared bitrate and which source
// produced it (§4.4), for the control channel's "bitrate" command and
// the diagnostics API.
func (p *Pipeline) Bitrate() (bitsPerSecond uint64, sourceName string) {
	bps, src := p.bitrate.Current()
	return bps, src.String()
}

// StageNames returns the plugin name bound to each stage, in chain
// order, for the control channel's "list" command.
func (p *Pipeline) StageNames() []string {
	return append([]string(nil), p.stageNames...)
}

// SetLogLevel changes the global log level at runtime (§4.7 "set
// per-stage log verbosity" — applied globally since this module's
// logger is a single shared *slog.Logger, not one instance per stage).
func (p *Pipeline) SetLogLevel(level string) {
	observability.SetLogLevel(level)
}

// BufferLocked reports whether the resident packet buffer is
// currently page-locked, for the diagnostics API.
func (p *Pipeline) BufferLocked() bool {
	return p.buffer.Locked()
}

// SlotCount returns N_slots, for the diagnostics API.
func (p *Pipeline) SlotCount() int {
	return p.buffer.SlotCount()
}

// Dropped returns how many plugin report messages were discarded due
// to a full async sink queue.
func (p *Pipeline) Dropped() uint64 {
	return p.sink.Dropped()
}
