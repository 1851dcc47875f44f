package fileio

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/tsduckgo/tsp/internal/plugin"
	"github.com/tsduckgo/tsp/internal/tspacket"
)

// OutputName is the registered built-in name for -O file.
const OutputName = "file"

// Output writes TS packets to a file path, or to stdout when no path
// (or "-") is given.
type Output struct {
	sink plugin.Sink
	path string
	keep bool

	w      io.WriteCloser
	bw     *bufio.Writer
	closed bool
}

// NewOutput constructs the file output plugin. Matches plugin.Factory.
func NewOutput(sink plugin.Sink, args []string) (any, error) {
	out := &Output{sink: sink}
	if err := out.ParseOptions(args); err != nil {
		return nil, err
	}
	return out, nil
}

// ParseOptions implements plugin.OptionParser.
func (out *Output) ParseOptions(args []string) error {
	fs := flag.NewFlagSet("file-output", flag.ContinueOnError)
	fs.StringVar(&out.path, "path", "", "output file path (default: stdout)")
	fs.BoolVar(&out.keep, "keep", false, "do not overwrite an existing file")
	if len(args) > 0 {
		if err := fs.Parse(args); err != nil {
			return fmt.Errorf("file output: %w", err)
		}
		if out.path == "" && fs.NArg() > 0 {
			out.path = fs.Arg(0)
		}
	}
	return nil
}

// Start implements plugin.Output.
func (out *Output) Start(_ context.Context) error {
	if out.path == "" || out.path == "-" {
		out.w = nopWriteCloser{os.Stdout}
	} else {
		flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		if out.keep {
			flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
		}
		f, err := os.OpenFile(out.path, flags, 0o644)
		if err != nil {
			return fmt.Errorf("file output: opening %s: %w", out.path, err)
		}
		out.w = f
	}
	out.bw = bufio.NewWriterSize(out.w, tspacket.PacketSize*1024)
	return nil
}

// Stop implements plugin.Output.
func (out *Output) Stop(_ context.Context) error {
	if out.closed {
		return nil
	}
	out.closed = true
	if err := out.bw.Flush(); err != nil {
		return fmt.Errorf("file output: flush: %w", err)
	}
	return out.w.Close()
}

// Send implements plugin.Output: writes every packet in the window,
// including dropped slots rewritten as stuffing by the ledger/executor
// layer — the output plugin itself never filters.
func (out *Output) Send(_ context.Context, pkts []tspacket.Packet, _ []*tspacket.Metadata) (bool, error) {
	for i := range pkts {
		if _, err := out.bw.Write(pkts[i].Bytes); err != nil {
			return false, fmt.Errorf("file output: %w", err)
		}
	}
	return true, nil
}

var _ plugin.Output = (*Output)(nil)

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
