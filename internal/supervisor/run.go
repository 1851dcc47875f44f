package supervisor

import (
	"context"
	"fmt"
	"log/slog"
)

// Start begins every plugin's lifecycle (§4.8 step 3's start() calls,
// deferred from New so ConfigError/PluginLoadError can be reported
// before any plugin touches I/O) and launches one goroutine per stage
// (§4.8 step 7: "start executor threads").
func (p *Pipeline) Start(ctx context.Context) error {
	for i, lc := range p.lifecycles {
		if err := lc.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = p.lifecycles[j].Stop(ctx)
			}
			return fmt.Errorf("supervisor: starting stage %d (%s): %w", i, p.stageNames[i], err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i, run := range p.runners {
		p.wg.Add(1)
		go func(idx int, fn func(context.Context) error) {
			defer p.wg.Done()
			if err := fn(runCtx); err != nil {
				p.errs <- fmt.Errorf("stage %d (%s): %w", idx, p.stageNames[idx], err)
			}
		}(i, run)
	}

	return nil
}

// Wait blocks until every executor goroutine has returned (§4.8 step
// 8), then tears down plugins in reverse order (§4.8 step 9). It
// returns the first stage error observed, if any, for the CLI to turn
// into a non-zero exit status (§6.4).
func (p *Pipeline) Wait(ctx context.Context) error {
	p.wg.Wait()
	close(p.errs)

	var first error
	for err := range p.errs {
		if first == nil {
			first = err
		}
		p.Logger.Error("stage exited with error", slog.String("error", err.Error()))
	}

	for i := len(p.lifecycles) - 1; i >= 0; i-- {
		if err := p.lifecycles[i].Stop(ctx); err != nil {
			p.Logger.Warn("error stopping stage", slog.Int("stage", i), slog.String("error", err.Error()))
		}
	}

	p.buffer.Close()
	p.sink.Close()

	return first
}

// Cancel requests an orderly shutdown of every executor goroutine
// (used by the control channel's "exit" command, §4.7).
func (p *Pipeline) Cancel() {
	if p.cancel != nil {
		p.cancel()
	}
}
