package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tsduckgo/tsp/internal/ledger"
	"github.com/tsduckgo/tsp/internal/plugin"
	"github.com/tsduckgo/tsp/internal/termination"
	"github.com/tsduckgo/tsp/internal/tspacket"
)

// Processor drives one of stages 1..K: reads a window, invokes the
// plugin per non-dropped, label-matched packet, applies the returned
// verdict in place, and releases the window downstream (§4.3
// "Processor executor specifics").
type Processor struct {
	StageIndex int
	Ledger     *ledger.Ledger
	Buffer     bufferView
	Plugin     plugin.Processor
	Arbiter    *termination.Arbiter
	Bitrate    bitrateReceiver
	Logger     *slog.Logger
	Batching   Batching

	onlyLabel   uint
	hasOnlyLabel bool
}

// bufferView is the narrow slice of *buffer.Buffer the executors need;
// defined here (rather than importing buffer directly into every
// executor type) so processor/output stages depend only on indexed
// packet/metadata access, not buffer's allocation concerns.
type bufferView interface {
	Packet(i int) tspacket.Packet
	Metadata(i int) *tspacket.Metadata
	SlotCount() int
}

type bitrateReceiver interface {
	ObserveInputSlice(pkts []tspacket.Packet)
	ForceRecompute()
}

// Run executes the processor loop until input_end-and-drained or
// abort.
func (p *Processor) Run(ctx context.Context) error {
	stage := p.StageIndex
	logger := p.Logger

	if lf, ok := p.Plugin.(plugin.LabelFilter); ok {
		p.onlyLabel, p.hasOnlyLabel = lf.OnlyLabel()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		start, length := p.Ledger.WaitForWindow(stage, p.Batching.MaxFlushedPackets)
		if length == 0 {
			if kind, ok := p.Ledger.PendingTerminationKind(stage); ok {
				p.Ledger.PropagateTermination(stage, kind)
				if kind == ledger.TerminationAbort {
					return fmt.Errorf("processor executor: stage %d forwarding abort", stage)
				}
				return nil
			}
			continue
		}

		var flush bool
		for i := 0; i < length; i++ {
			idx := (start + i) % p.Buffer.SlotCount()
			pkt := p.Buffer.Packet(idx)
			meta := p.Buffer.Metadata(idx)

			if pkt.IsDropped() || (p.hasOnlyLabel && !meta.Labels.Has(p.onlyLabel)) {
				continue
			}

			verdict := p.Plugin.ProcessPacket(pkt, meta)
			if meta.BitrateChanged {
				p.Bitrate.ForceRecompute()
			}

			switch verdict {
			case plugin.OK:
			case plugin.Null:
				tspacket.WriteNull(pkt.Bytes)
			case plugin.Drop:
				pkt.Drop()
			case plugin.Stall:
				flush = true
				length = i
			case plugin.End:
				logger.Info("processor requested end", slog.Int("stage", stage))
				length = i
				p.Ledger.Release(stage, length, true)
				p.Ledger.PropagateTermination(stage, ledger.TerminationInputEnd)
				return nil
			case plugin.Abort:
				logger.Error("processor aborted", slog.Int("stage", stage))
				p.Ledger.Release(stage, i, true)
				p.Ledger.PropagateTermination(stage, ledger.TerminationAbort)
				return fmt.Errorf("processor executor: stage %d aborted", stage)
			}
			if verdict == plugin.Stall {
				break
			}
		}

		if p.Arbiter != nil {
			if jt, ok := p.Plugin.(plugin.JointTerminationOptIn); ok && jt.JointTerminationOptedIn() {
				p.Arbiter.Declare(stage, jt.JointlyDone())
			}
		}

		p.Ledger.Release(stage, length, flush)

		if length == 0 {
			if kind, ok := p.Ledger.PendingTerminationKind(stage); ok {
				p.Ledger.PropagateTermination(stage, kind)
				if kind == ledger.TerminationAbort {
					return fmt.Errorf("processor executor: stage %d forwarding abort", stage)
				}
				return nil
			}
		}
	}
}
