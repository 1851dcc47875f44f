// Package filterlabel provides the built-in "setlabel" processor
// plugin: it stamps a packet label (spec.md glossary "Label") on
// packets matching a configured PID set, and optionally implements
// plugin.LabelFilter via --only-label so the executor can skip
// invoking it on packets outside a caller-chosen label — the
// core-owned bypass spec.md §6.2 calls out for label-aware plugins.
package filterlabel

import (
	"context"
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/tsduckgo/tsp/internal/plugin"
	"github.com/tsduckgo/tsp/internal/tspacket"
)

// Name is the registered built-in name for -P setlabel.
const Name = "setlabel"

// Processor sets label on every packet whose PID is in pids.
type Processor struct {
	sink plugin.Sink
	pids map[uint16]struct{}
	label uint

	onlyLabel    uint
	hasOnlyLabel bool
}

// NewProcessor constructs the setlabel plugin. Matches plugin.Factory.
func NewProcessor(sink plugin.Sink, args []string) (any, error) {
	p := &Processor{sink: sink, pids: make(map[uint16]struct{})}
	if err := p.ParseOptions(args); err != nil {
		return nil, err
	}
	return p, nil
}

// ParseOptions implements plugin.OptionParser. Accepts one --pid flag
// holding a comma-separated PID list (a repeated --pid replaces the
// earlier one), a single --label (0-31) and an optional --only-label.
func (p *Processor) ParseOptions(args []string) error {
	fs := flag.NewFlagSet("setlabel", flag.ContinueOnError)
	var pidList string
	var label uint
	var onlyLabel int
	fs.StringVar(&pidList, "pid", "", "comma-separated list of PIDs to label")
	fs.UintVar(&label, "label", 0, "label number to set (0-31)")
	fs.IntVar(&onlyLabel, "only-label", -1, "only process packets already carrying this label (0-31); -1 disables the filter")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("setlabel: %w", err)
	}
	if label > 31 {
		return fmt.Errorf("setlabel: label %d out of range 0-31", label)
	}
	p.label = label
	if onlyLabel >= 0 {
		if onlyLabel > 31 {
			return fmt.Errorf("setlabel: only-label %d out of range 0-31", onlyLabel)
		}
		p.onlyLabel = uint(onlyLabel)
		p.hasOnlyLabel = true
	}
	if pidList == "" {
		return fmt.Errorf("setlabel: --pid is required")
	}
	for _, tok := range strings.Split(pidList, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		v, err := strconv.ParseUint(tok, 0, 16)
		if err != nil {
			return fmt.Errorf("setlabel: invalid pid %q: %w", tok, err)
		}
		p.pids[uint16(v)] = struct{}{}
	}
	return nil
}

// Start implements plugin.Processor.
func (p *Processor) Start(_ context.Context) error { return nil }

// Stop implements plugin.Processor.
func (p *Processor) Stop(_ context.Context) error { return nil }

// ProcessPacket implements plugin.Processor.
func (p *Processor) ProcessPacket(pkt tspacket.Packet, meta *tspacket.Metadata) plugin.Verdict {
	if pkt.IsDropped() {
		return plugin.OK
	}
	if _, match := p.pids[pkt.PID()]; match {
		meta.Labels = meta.Labels.Set(p.label)
	}
	return plugin.OK
}

// OnlyLabel implements plugin.LabelFilter. When --only-label was given,
// the core never calls ProcessPacket for packets lacking that label.
func (p *Processor) OnlyLabel() (uint, bool) {
	return p.onlyLabel, p.hasOnlyLabel
}

var (
	_ plugin.Processor  = (*Processor)(nil)
	_ plugin.LabelFilter = (*Processor)(nil)
)
