// Package executor implements the Plugin Executor (C3): the three
// per-stage goroutine loops (input, processor, output) that drive
// packets through the ledger-owned ring, invoking plugins and applying
// their verdicts (spec.md §4.3).
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tsduckgo/tsp/internal/bitrate"
	"github.com/tsduckgo/tsp/internal/buffer"
	"github.com/tsduckgo/tsp/internal/inject"
	"github.com/tsduckgo/tsp/internal/ledger"
	"github.com/tsduckgo/tsp/internal/plugin"
	"github.com/tsduckgo/tsp/internal/tspacket"
)

// Batching knobs (§6.1). Zero means "unbounded" except where noted.
type Batching struct {
	MaxInputPackets     int
	MaxFlushedPackets   int
	MaxOutputPackets    int
	InitialInputPackets int
}

// DefaultOfflineBatching returns the offline tuning regime (§4.3, §4.8).
func DefaultOfflineBatching(slotCount int) Batching {
	return Batching{
		MaxInputPackets:     0,
		MaxFlushedPackets:   10000,
		MaxOutputPackets:    0,
		InitialInputPackets: slotCount / 2,
	}
}

// DefaultRealTimeBatching returns the real-time tuning regime.
func DefaultRealTimeBatching(slotCount int) Batching {
	return Batching{
		MaxInputPackets:     1000,
		MaxFlushedPackets:   1000,
		MaxOutputPackets:    0,
		InitialInputPackets: slotCount / 2,
	}
}

// ErrAborted is returned by a Run method when its stage observed
// Aborted and exited without completing normal drainage.
var ErrAborted = errors.New("executor: stage aborted")

// Input drives stage 0: pulls packets from the input plugin into the
// ring, stamps timestamps, applies stuffing, and releases to stage 1.
type Input struct {
	Ledger   *ledger.Ledger
	Buffer   *buffer.Buffer
	Plugin   plugin.Input
	Injector *inject.Injector
	Bitrate  *bitrate.Propagator
	Sink     plugin.Sink
	Logger   *slog.Logger
	Batching Batching

	// StartStuffingCount is the number of null packets to emit ahead of
	// the input plugin's first batch (§4.5 "add_start_stuffing"). Set
	// before calling Run.
	StartStuffingCount int

	receiveTimeout func(context.Context) (context.Context, context.CancelFunc)
	seenFirstBatch bool
}

// Run executes the input loop until input_end or abort (§4.3 "Input
// executor specifics"). It owns stage 0, the only writer of fresh
// packet bytes.
func (in *Input) Run(ctx context.Context) error {
	const stage = 0
	logger := in.Logger

	if in.StartStuffingCount > 0 {
		inject.WriteStartStuffing(in, in.StartStuffingCount, nil)
	}

	for {
		if in.Ledger.HasPendingTermination(stage) {
			return nil
		}

		start, length := in.Ledger.WaitForWindow(stage, in.capForThisBatch())
		if length == 0 {
			continue
		}

		pkts, metas := in.windowViews(start, length)

		rctx := ctx
		var cancel context.CancelFunc
		if in.receiveTimeout != nil {
			rctx, cancel = in.receiveTimeout(ctx)
		}
		n, eof, err := in.Plugin.Receive(rctx, pkts, metas)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			logger.Error("input plugin failed", slog.String("error", err.Error()))
			in.Ledger.MarkSelfAborted(stage)
			in.Ledger.PropagateTermination(stage, ledger.TerminationInputEnd)
			return fmt.Errorf("input executor: %w", err)
		}

		in.Injector.StampAndStuff(pkts[:n], metas[:n], !in.seenFirstBatch)
		in.seenFirstBatch = true

		if n > 0 {
			if bs, ok := in.Plugin.(plugin.BitrateSource); ok {
				if bps, ok2 := bs.Bitrate(); ok2 {
					in.Bitrate.ReportPluginBitrate(bps)
				}
			}
			in.Bitrate.ObserveInputSlice(pkts[:n])
		}

		flush := n >= in.Batching.InitialInputPackets || eof
		in.Ledger.Release(stage, n, flush)

		if n > 0 {
			if nulls := in.Injector.MaybeInterleave(n); nulls > 0 {
				inject.WriteStartStuffing(in, nulls, nil)
			}
		}

		if eof {
			in.Injector.AppendStopStuffing(in)
			in.Ledger.PropagateTermination(stage, ledger.TerminationInputEnd)
			return nil
		}
	}
}

func (in *Input) capForThisBatch() int {
	if !in.seenFirstBatch && in.Batching.InitialInputPackets > 0 {
		return in.Batching.InitialInputPackets
	}
	return in.Batching.MaxInputPackets
}

func (in *Input) windowViews(start, length int) ([]tspacket.Packet, []*tspacket.Metadata) {
	pkts := make([]tspacket.Packet, length)
	metas := make([]*tspacket.Metadata, length)
	for i := 0; i < length; i++ {
		idx := (start + i) % in.Buffer.SlotCount()
		pkts[i] = in.Buffer.Packet(idx)
		metas[i] = in.Buffer.Metadata(idx)
	}
	return pkts, metas
}

// ReleaseRaw is used by the stuffing injector to append null packets
// directly into the input stage's write window (C5 is "a pre-filter
// inside the input executor", §4.5).
func (in *Input) ReleaseRaw(n int) {
	in.Ledger.Release(0, n, true)
}

// WindowAt exposes a raw packet/metadata pair at a ring index for the
// injector to write synthetic stuffing into.
func (in *Input) WindowAt(idx int) (tspacket.Packet, *tspacket.Metadata) {
	i := idx % in.Buffer.SlotCount()
	return in.Buffer.Packet(i), in.Buffer.Metadata(i)
}

// RequestFreeWindow exposes the ledger's window request for the
// injector's own stuffing-append loop.
func (in *Input) RequestFreeWindow(max int) (start, length int) {
	return in.Ledger.RequestWindow(0, max)
}

// SlotCount exposes the ring size to the injector.
func (in *Input) SlotCount() int { return in.Buffer.SlotCount() }
