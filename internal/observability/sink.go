package observability

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/tsduckgo/tsp/internal/plugin"
)

// reportRecord is one plugin.Sink.Report call queued for the
// background drainer.
type reportRecord struct {
	severity plugin.Severity
	message  string
}

// AsyncSink is a plugin.Sink backed by a buffered channel and a single
// background goroutine, so a plugin's Report call never blocks on log
// I/O (§6.2 "a report(severity, message) sink", §9 "Async logging").
// When the channel is full, the record is dropped and a counter is
// incremented rather than applying backpressure to the plugin.
type AsyncSink struct {
	logger  *slog.Logger
	ch      chan reportRecord
	dropped atomic.Uint64
	done    chan struct{}
}

// NewAsyncSink starts the drainer goroutine. Capacity bounds how many
// pending reports may queue before new ones are dropped.
func NewAsyncSink(logger *slog.Logger, capacity int) *AsyncSink {
	if capacity <= 0 {
		capacity = 256
	}
	s := &AsyncSink{
		logger: logger,
		ch:     make(chan reportRecord, capacity),
		done:   make(chan struct{}),
	}
	go s.drain()
	return s
}

func (s *AsyncSink) drain() {
	defer close(s.done)
	for rec := range s.ch {
		level := severityToLevel(rec.severity)
		s.logger.Log(context.Background(), level, rec.message)
	}
}

// Report implements plugin.Sink.
func (s *AsyncSink) Report(severity plugin.Severity, message string) {
	select {
	case s.ch <- reportRecord{severity: severity, message: message}:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns how many reports were discarded due to a full queue.
func (s *AsyncSink) Dropped() uint64 {
	return s.dropped.Load()
}

// Close stops accepting new reports and waits for the drainer to
// finish flushing whatever is already queued.
func (s *AsyncSink) Close() {
	close(s.ch)
	<-s.done
}

func severityToLevel(sev plugin.Severity) slog.Level {
	switch sev {
	case plugin.SeverityTrace, plugin.SeverityDebug:
		return slog.LevelDebug
	case plugin.SeverityInfo:
		return slog.LevelInfo
	case plugin.SeverityWarn:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

var _ plugin.Sink = (*AsyncSink)(nil)
