// Package fileio provides the built-in file/stdin/stdout input and
// output plugins that back TSP's CLI defaults (spec.md §6.1: "Defaults:
// input = standard-input file reader; output = standard-output file
// writer"). Besides these, the module ships only the setlabel processor
// in internal/plugins/filterlabel — everything else (tuners, UDP/SRT/HLS, CAS, analyzers) is an external
// collaborator per §1 scope.
package fileio

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/tsduckgo/tsp/internal/plugin"
	"github.com/tsduckgo/tsp/internal/tspacket"
)

// InputName is the registered built-in name for -I file.
const InputName = "file"

// Input reads TS packets from a file path, or from stdin when no path
// (or "-") is given.
type Input struct {
	sink plugin.Sink
	path string

	r      io.ReadCloser
	br     *bufio.Reader
	closed bool
}

// NewInput constructs the file input plugin. Matches plugin.Factory.
func NewInput(sink plugin.Sink, args []string) (any, error) {
	in := &Input{sink: sink}
	if err := in.ParseOptions(args); err != nil {
		return nil, err
	}
	return in, nil
}

// ParseOptions implements plugin.OptionParser.
func (in *Input) ParseOptions(args []string) error {
	fs := flag.NewFlagSet("file-input", flag.ContinueOnError)
	fs.StringVar(&in.path, "path", "", "input file path (default: stdin)")
	if len(args) > 0 {
		if err := fs.Parse(args); err != nil {
			return fmt.Errorf("file input: %w", err)
		}
		if in.path == "" && fs.NArg() > 0 {
			in.path = fs.Arg(0)
		}
	}
	return nil
}

// Start implements plugin.Input.
func (in *Input) Start(_ context.Context) error {
	if in.path == "" || in.path == "-" {
		in.r = io.NopCloser(os.Stdin)
	} else {
		f, err := os.Open(in.path)
		if err != nil {
			return fmt.Errorf("file input: opening %s: %w", in.path, err)
		}
		in.r = f
	}
	in.br = bufio.NewReaderSize(in.r, tspacket.PacketSize*1024)
	return nil
}

// Stop implements plugin.Input.
func (in *Input) Stop(_ context.Context) error {
	if in.closed {
		return nil
	}
	in.closed = true
	return in.r.Close()
}

// Receive implements plugin.Input: fills as many packets as the
// window allows from the underlying reader.
func (in *Input) Receive(_ context.Context, pkts []tspacket.Packet, _ []*tspacket.Metadata) (int, bool, error) {
	n := 0
	for n < len(pkts) {
		_, err := io.ReadFull(in.br, pkts[n].Bytes)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return n, true, nil
			}
			return n, false, fmt.Errorf("file input: %w", err)
		}
		if pkts[n].Bytes[0] != tspacket.SyncByte {
			in.sink.Report(plugin.SeverityWarn, fmt.Sprintf("file input: lost sync at packet %d", n))
		}
		n++
	}
	return n, false, nil
}

var _ plugin.Input = (*Input)(nil)
