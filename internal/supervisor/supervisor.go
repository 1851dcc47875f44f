// Package supervisor implements the Supervisor (C8): the lifecycle
// sequence that turns a parsed plugin chain into a running pipeline of
// executor goroutines, and tears it down again (spec.md §4.8).
package supervisor

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tsduckgo/tsp/internal/bitrate"
	"github.com/tsduckgo/tsp/internal/buffer"
	"github.com/tsduckgo/tsp/internal/config"
	"github.com/tsduckgo/tsp/internal/executor"
	"github.com/tsduckgo/tsp/internal/inject"
	"github.com/tsduckgo/tsp/internal/ledger"
	"github.com/tsduckgo/tsp/internal/observability"
	"github.com/tsduckgo/tsp/internal/plugin"
	"github.com/tsduckgo/tsp/internal/termination"
)

// PluginSpec names one plugin in the chain and its raw CLI arguments,
// as parsed from a `-I`/`-P`/`-O` stanza (§6.1).
type PluginSpec struct {
	Name string
	Args []string
}

// Chain is the parsed `-I ... (-P ...)* -O ...` invocation (§6.1).
type Chain struct {
	Input      PluginSpec
	Processors []PluginSpec
	Output     PluginSpec
}

// RunOptions bundles everything the supervisor needs beyond the chain
// itself: resolved configuration and an exe directory for the plugin
// lookup path search (§6.3).
type RunOptions struct {
	Config *config.Config
	Logger *slog.Logger
	ExeDir string
}

// Pipeline is a fully-instantiated, running chain: the buffer, ledger,
// bitrate propagator, and one goroutine per stage. RunID uniquely
// identifies this run in logs and the diagnostics API (§12.2
// supplement).
type Pipeline struct {
	RunID  string
	Logger *slog.Logger

	ledger  *ledger.Ledger
	buffer  *buffer.Buffer
	bitrate *bitrate.Propagator
	sink    *observability.AsyncSink
	arbiter *termination.Arbiter

	stageNames []string
	runners    []func(context.Context) error
	lifecycles []lifecycle
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	errs       chan error
}

// lifecycle is the Start/Stop pair every plugin kind shares (§6.2),
// named locally since plugin.lifecycle is unexported.
type lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// New parses options, allocates the buffer, instantiates every plugin
// in chain order, and wires up the ledger — but does not yet start any
// executor goroutine (§4.8 steps 1-6).
func New(ctx context.Context, chain Chain, opts RunOptions) (*Pipeline, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	runID := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	logger = logger.With(slog.String("run_id", runID))

	sink := observability.NewAsyncSink(logger, 1024)

	slotCount := cfg.Buffer.SlotCount()
	buf, err := buffer.New(buffer.Config{
		SlotCount:  slotCount,
		LockMemory: cfg.Buffer.LockPage,
		Logger:     logger,
	})
	if err != nil {
		sink.Close()
		return nil, fmt.Errorf("supervisor: %w", err)
	}

	kinds := make([]ledger.Kind, 0, len(chain.Processors)+2)
	names := make([]string, 0, len(chain.Processors)+2)
	kinds = append(kinds, ledger.Input)
	names = append(names, chain.Input.Name)
	for _, p := range chain.Processors {
		kinds = append(kinds, ledger.Processor)
		names = append(names, p.Name)
	}
	kinds = append(kinds, ledger.Output)
	names = append(names, chain.Output.Name)

	l, err := ledger.New(slotCount, kinds, names)
	if err != nil {
		buf.Close()
		sink.Close()
		return nil, fmt.Errorf("supervisor: %w", err)
	}

	inputPlugin, err := instantiate[plugin.Input](plugin.Inputs, chain.Input, opts.ExeDir, sink)
	if err != nil {
		buf.Close()
		sink.Close()
		return nil, fmt.Errorf("supervisor: loading input plugin %q: %w", chain.Input.Name, err)
	}

	procPlugins := make([]plugin.Processor, len(chain.Processors))
	for i, spec := range chain.Processors {
		p, err := instantiate[plugin.Processor](plugin.Processors, spec, opts.ExeDir, sink)
		if err != nil {
			buf.Close()
			sink.Close()
			return nil, fmt.Errorf("supervisor: loading processor plugin %q (stage %d): %w", spec.Name, i+1, err)
		}
		procPlugins[i] = p
	}

	outputPlugin, err := instantiate[plugin.Output](plugin.Outputs, chain.Output, opts.ExeDir, sink)
	if err != nil {
		buf.Close()
		sink.Close()
		return nil, fmt.Errorf("supervisor: loading output plugin %q: %w", chain.Output.Name, err)
	}

	realTime := resolveRealTime(cfg.RealTime, inputPlugin, procPlugins, outputPlugin)
	var batching executor.Batching
	if realTime {
		batching = executor.DefaultRealTimeBatching(slotCount)
	} else {
		batching = executor.DefaultOfflineBatching(slotCount)
	}
	if cfg.Batching.MaxInputPackets > 0 {
		batching.MaxInputPackets = cfg.Batching.MaxInputPackets
	}
	if cfg.Batching.MaxFlushedPackets > 0 {
		batching.MaxFlushedPackets = cfg.Batching.MaxFlushedPackets
	}
	if cfg.Batching.MaxOutputPackets > 0 {
		batching.MaxOutputPackets = cfg.Batching.MaxOutputPackets
	}
	if cfg.Batching.InitialInputPackets > 0 {
		batching.InitialInputPackets = cfg.Batching.InitialInputPackets
	}

	bp := bitrate.New(bitrate.Config{
		OverrideBps:    cfg.Bitrate.OverrideBps,
		AdjustInterval: cfg.Bitrate.AdjustInterval.Duration(),
	})

	var optedIn []int
	for i, p := range procPlugins {
		if jt, ok := p.(plugin.JointTerminationOptIn); ok && jt.JointTerminationOptedIn() {
			optedIn = append(optedIn, i+1)
		}
	}
	arb := termination.New(l, optedIn, cfg.Termination.IgnoreJointTermination)

	pipe := &Pipeline{
		RunID:      runID,
		Logger:     logger,
		ledger:     l,
		buffer:     buf,
		bitrate:    bp,
		sink:       sink,
		arbiter:    arb,
		stageNames: names,
		errs:       make(chan error, len(kinds)),
	}

	pipe.buildStages(buf, inputPlugin, procPlugins, outputPlugin, batching, cfg)
	return pipe, nil
}

// instantiate resolves and constructs one plugin, type-asserting it to
// the capability interface its role requires.
func instantiate[T any](reg *plugin.Registry, spec PluginSpec, exeDir string, sink plugin.Sink) (T, error) {
	var zero T
	factory, err := plugin.Resolve(reg, spec.Name, exeDir)
	if err != nil {
		return zero, err
	}
	inst, err := factory(sink, spec.Args)
	if err != nil {
		return zero, fmt.Errorf("constructing plugin: %w", err)
	}
	typed, ok := inst.(T)
	if !ok {
		return zero, fmt.Errorf("plugin %q does not implement the required capability set", spec.Name)
	}
	return typed, nil
}

// resolveRealTime applies §4.8's "select real-time defaults" rule.
func resolveRealTime(mode string, in plugin.Input, procs []plugin.Processor, out plugin.Output) bool {
	switch mode {
	case "on":
		return true
	case "off":
		return false
	}
	if rt, ok := in.(plugin.RealTimeDeclarer); ok && rt.IsRealTime() {
		return true
	}
	for _, p := range procs {
		if rt, ok := p.(plugin.RealTimeDeclarer); ok && rt.IsRealTime() {
			return true
		}
	}
	if rt, ok := out.(plugin.RealTimeDeclarer); ok && rt.IsRealTime() {
		return true
	}
	return false
}

func (p *Pipeline) buildStages(buf *buffer.Buffer, in plugin.Input, procs []plugin.Processor, out plugin.Output, batching executor.Batching, cfg *config.Config) {
	injCfg := inject.Config{
		AddStartStuffing:      cfg.Stuffing.AddStartStuffing,
		AddInputStuffingNull:  cfg.Stuffing.AddInputStuffingNull,
		AddInputStuffingIn:    cfg.Stuffing.AddInputStuffingIn,
		AddStopStuffing:       cfg.Stuffing.AddStopStuffing,
	}

	inputExec := &executor.Input{
		Ledger:             p.ledger,
		Buffer:             buf,
		Plugin:             in,
		Injector:           inject.New(injCfg, nil),
		Bitrate:            p.bitrate,
		Sink:               p.sink,
		Logger:             observability.WithStage(p.Logger, 0, p.stageNames[0], cfg.Logging.LogPluginIndex),
		Batching:           batching,
		StartStuffingCount: cfg.Stuffing.AddStartStuffing,
	}
	p.runners = append(p.runners, inputExec.Run)

	for i, proc := range procs {
		idx := i + 1
		procExec := &executor.Processor{
			StageIndex: idx,
			Ledger:     p.ledger,
			Buffer:     buf,
			Plugin:     proc,
			Arbiter:    p.arbiter,
			Bitrate:    p.bitrate,
			Logger:     observability.WithStage(p.Logger, idx, p.stageNames[idx], cfg.Logging.LogPluginIndex),
			Batching:   batching,
		}
		p.runners = append(p.runners, procExec.Run)
	}

	outIdx := len(procs) + 1
	outputExec := &executor.Output{
		StageIndex: outIdx,
		Ledger:     p.ledger,
		Buffer:     buf,
		Plugin:     out,
		Logger:     observability.WithStage(p.Logger, outIdx, p.stageNames[outIdx], cfg.Logging.LogPluginIndex),
		Batching:   batching,
	}
	p.runners = append(p.runners, outputExec.Run)

	p.lifecycles = append(p.lifecycles, in)
	for _, proc := range procs {
		p.lifecycles = append(p.lifecycles, proc)
	}
	p.lifecycles = append(p.lifecycles, out)
}
