package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tsduckgo/tsp/internal/ledger"
	"github.com/tsduckgo/tsp/internal/plugin"
	"github.com/tsduckgo/tsp/internal/tspacket"
)

// Output drives the final stage: calls plugin.Send on its read window,
// obeying max_output_packets, then releases consumed slots back to the
// input stage around the ring (§4.3 "Output executor specifics").
type Output struct {
	StageIndex int
	Ledger     *ledger.Ledger
	Buffer     bufferView
	Plugin     plugin.Output
	Logger     *slog.Logger
	Batching   Batching
}

// Run executes the output loop until input_end-and-drained or abort.
func (o *Output) Run(ctx context.Context) error {
	stage := o.StageIndex
	logger := o.Logger

	for {
		start, length := o.Ledger.WaitForWindow(stage, o.Batching.MaxOutputPackets)
		if length == 0 {
			logger.Info("output stage drained, exiting", slog.Int("stage", stage))
			return nil
		}

		pkts := make([]tspacket.Packet, length)
		metas := make([]*tspacket.Metadata, length)
		for i := 0; i < length; i++ {
			idx := (start + i) % o.Buffer.SlotCount()
			pkts[i] = o.Buffer.Packet(idx)
			metas[i] = o.Buffer.Metadata(idx)
		}

		ok, err := o.Plugin.Send(ctx, pkts, metas)
		if err != nil {
			logger.Error("output plugin failed", slog.String("error", err.Error()))
			o.Ledger.PropagateTermination(stage, ledger.TerminationAbort)
			return fmt.Errorf("output executor: %w", err)
		}
		if !ok {
			logger.Warn("output plugin declined window, stopping", slog.Int("stage", stage))
			o.Ledger.PropagateTermination(stage, ledger.TerminationAbort)
			return fmt.Errorf("output executor: stage %d plugin declined its send", stage)
		}

		for i := 0; i < length; i++ {
			idx := (start + i) % o.Buffer.SlotCount()
			o.Buffer.Metadata(idx).Reset()
		}
		o.Ledger.Release(stage, length, false)
	}
}
