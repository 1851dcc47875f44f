// Package bitrate implements the Bitrate Propagator (C4): a
// lock-free, atomically published declared bitrate with priority-
// ordered sources (spec.md §4.4).
package bitrate

import (
	"sync/atomic"
	"time"

	"github.com/tsduckgo/tsp/internal/tspacket"
)

// Source identifies which of the four priority-ordered inputs last
// set the declared bitrate.
type Source int

const (
	// SourceNone means no bitrate has been established yet.
	SourceNone Source = iota
	// SourceOverride is the fixed --bitrate command-line value.
	SourceOverride
	// SourcePlugin is a hardware-reported value from the input plugin.
	SourcePlugin
	// SourcePCR is derived from PCR deltas observed in the stream.
	SourcePCR
	// SourceDTS is the fallback estimator when no PCR pair is seen.
	SourceDTS
)

func (s Source) String() string {
	switch s {
	case SourceOverride:
		return "override"
	case SourcePlugin:
		return "plugin"
	case SourcePCR:
		return "pcr"
	case SourceDTS:
		return "dts"
	default:
		return "none"
	}
}

// pcrTicksPerSecond is the MPEG-2 system clock frequency the PCR field
// counts at (27 MHz, ISO/IEC 13818-1).
const pcrTicksPerSecond = 27_000_000

// Propagator holds the current declared bitrate as an atomic value,
// recomputed at most once per AdjustInterval unless a processor plugin
// flags BitrateChanged to force an earlier recomputation (§4.4).
type Propagator struct {
	// published is a packed snapshot: bits/sec in the low 56 bits and
	// the Source in the high byte, so a single atomic load returns a
	// self-consistent pair (§4.4 "lock-free reads of an atomic value").
	published atomic.Uint64

	overrideBps uint64
	adjustEvery time.Duration

	lastAdjust  time.Time
	stale       atomic.Bool

	// PCR tracking state, mutated only by ObserveInputSlice, which the
	// input executor calls from a single goroutine — no locking needed.
	lastPCRPID   uint16
	haveLastPCR  bool
	lastPCRValue uint64
	lastPCRTime  time.Time
	bytesSinceLastPCR uint64

	now func() time.Time
}

// Config configures a Propagator.
type Config struct {
	// OverrideBps, if non-zero, fixes the bitrate permanently at
	// source priority 1 (§4.4 item 1).
	OverrideBps uint64
	// AdjustInterval is how often recomputation is allowed (default
	// 5s, §4.4, §6.1 bitrate_adjust_interval).
	AdjustInterval time.Duration
}

// New builds a Propagator. If cfg.OverrideBps is set, every other
// source is permanently shadowed.
func New(cfg Config) *Propagator {
	p := &Propagator{
		overrideBps: cfg.OverrideBps,
		adjustEvery: cfg.AdjustInterval,
		now:         time.Now,
	}
	if cfg.AdjustInterval <= 0 {
		p.adjustEvery = 5 * time.Second
	}
	if cfg.OverrideBps > 0 {
		p.publish(cfg.OverrideBps, SourceOverride)
	}
	return p
}

// Current returns the declared bitrate and the source that produced
// it, via a single atomic load (§4.4 "lock-free reads").
func (p *Propagator) Current() (bitsPerSecond uint64, source Source) {
	v := p.published.Load()
	return v & 0x00FFFFFFFFFFFFFF, Source(v >> 56)
}

func (p *Propagator) publish(bps uint64, src Source) {
	if p.overrideBps > 0 && src != SourceOverride {
		return
	}
	if src == SourcePCR || src == SourceDTS {
		if _, cur := p.Current(); cur == SourcePlugin {
			return
		}
	}
	p.published.Store((uint64(src) << 56) | (bps & 0x00FFFFFFFFFFFFFF))
}

// ReportPluginBitrate applies source priority 2: a hardware- or
// plugin-reported bitrate (§4.4 item 2).
func (p *Propagator) ReportPluginBitrate(bps uint64) {
	if bps == 0 {
		return
	}
	p.publish(bps, SourcePlugin)
}

// ForceRecompute marks the current value stale, honoring a processor
// plugin's BitrateChanged metadata flag (§4.4 "force recomputation").
// The next ObserveInputSlice call recomputes regardless of
// AdjustInterval.
func (p *Propagator) ForceRecompute() {
	p.stale.Store(true)
}

// ObserveInputSlice runs the PCR estimator (falling back to DTS) over
// a just-admitted slice of packets, publishing a new bitrate at most
// once per AdjustInterval unless ForceRecompute was called (§4.4 items
// 3-4). The estimator runs on every slice, but its result is not
// published while the current value came from the plugin: plugin
// priority always wins per the source ordering, and once a plugin value
// has been published the estimator does not replace it.
func (p *Propagator) ObserveInputSlice(pkts []tspacket.Packet) {
	now := p.now()
	forced := p.stale.Load()
	if !forced && !p.lastAdjust.IsZero() && now.Sub(p.lastAdjust) < p.adjustEvery {
		p.accumulatePCR(pkts)
		return
	}

	if bps, ok := p.accumulatePCR(pkts); ok {
		p.publish(bps, SourcePCR)
		p.lastAdjust = now
		p.stale.Store(false)
		return
	}

	if bps, ok := p.dtsEstimate(pkts); ok {
		p.publish(bps, SourceDTS)
		p.lastAdjust = now
		p.stale.Store(false)
	}
}

// accumulatePCR scans pkts for PCR fields on the first PID carrying
// one and derives bits/sec from the delta between consecutive PCR
// values and the byte count observed between them (ISO/IEC 13818-1
// §2.4.2.2).
func (p *Propagator) accumulatePCR(pkts []tspacket.Packet) (uint64, bool) {
	for i := range pkts {
		pkt := pkts[i]
		if pkt.IsDropped() || !pkt.HasAdaptationField() {
			p.bytesSinceLastPCR += tspacket.PacketSize
			continue
		}
		pcr, ok := readPCR(pkt.Bytes)
		if !ok {
			p.bytesSinceLastPCR += tspacket.PacketSize
			continue
		}
		pid := pkt.PID()
		if !p.haveLastPCR || pid != p.lastPCRPID {
			p.lastPCRPID = pid
			p.lastPCRValue = pcr
			p.lastPCRTime = p.now()
			p.haveLastPCR = true
			p.bytesSinceLastPCR = tspacket.PacketSize
			continue
		}

		deltaTicks := pcrDelta(p.lastPCRValue, pcr)
		p.bytesSinceLastPCR += tspacket.PacketSize
		if deltaTicks == 0 {
			continue
		}
		seconds := float64(deltaTicks) / pcrTicksPerSecond
		bps := uint64(float64(p.bytesSinceLastPCR*8) / seconds)

		p.lastPCRValue = pcr
		p.bytesSinceLastPCR = 0
		if bps > 0 {
			return bps, true
		}
	}
	return 0, false
}

// dtsEstimate is the fallback used when no PCR pair was observed
// within the slice (§4.4 item 4). Without payload-level PES parsing
// (out of scope, §1 non-goals) it falls back to wall-clock timing of
// the admitted slice itself, which is the best the core can do without
// inspecting PES headers a plugin may later strip.
func (p *Propagator) dtsEstimate(pkts []tspacket.Packet) (uint64, bool) {
	if len(pkts) == 0 {
		return 0, false
	}
	now := p.now()
	if p.lastAdjust.IsZero() {
		return 0, false
	}
	elapsed := now.Sub(p.lastAdjust).Seconds()
	if elapsed <= 0 {
		return 0, false
	}
	bytes := len(pkts) * tspacket.PacketSize
	return uint64(float64(bytes*8) / elapsed), true
}

// readPCR extracts the 42-bit PCR value (base*300+extension) from a
// packet's adaptation field, if present (ISO/IEC 13818-1 §2.4.3.5).
// Grounded on the same header-only parsing go-astits performs when
// decoding adaptation fields, reimplemented narrowly here because this
// module only ever touches header bytes, never full demuxing.
func readPCR(b []byte) (uint64, bool) {
	if len(b) < 6 || b[3]&0x20 == 0 {
		return 0, false
	}
	afLen := int(b[4])
	if afLen < 7 || len(b) < 5+afLen {
		return 0, false
	}
	flags := b[5]
	if flags&0x10 == 0 {
		return 0, false
	}
	af := b[6:]
	base := uint64(af[0])<<25 | uint64(af[1])<<17 | uint64(af[2])<<9 | uint64(af[3])<<1 | uint64(af[4]>>7)
	ext := uint64(af[4]&0x01)<<8 | uint64(af[5])
	return base*300 + ext, true
}

// pcrDelta computes a wraparound-aware difference between two 42-bit
// PCR values (base*300+ext wraps at 2^33*300).
func pcrDelta(prev, cur uint64) uint64 {
	const pcrMax = (uint64(1) << 33) * 300
	if cur >= prev {
		return cur - prev
	}
	return (pcrMax - prev) + cur
}
