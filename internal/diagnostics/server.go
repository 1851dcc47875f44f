// Package diagnostics provides a read-only HTTP status API over a
// running pipeline (§12.3 supplement): GET /stages, GET /bitrate, and
// GET /buffer. Grounded on the teacher's chi+huma wiring in
// internal/http/server.go, trimmed to a single read-only surface with
// no mutating operations — the control channel (internal/control) is
// the only way to change pipeline state.
package diagnostics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/tsduckgo/tsp/internal/ledger"
)

// Pipeline is the narrow read-only surface diagnostics needs.
type Pipeline interface {
	Ledger() *ledger.Ledger
	Bitrate() (bitsPerSecond uint64, sourceName string)
	StageNames() []string
	BufferLocked() bool
	SlotCount() int
	Dropped() uint64
}

// Server serves the diagnostics API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	startTime  time.Time
}

// New builds the diagnostics server bound to addr, backed by pipeline.
func New(addr string, pipeline Pipeline, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{logger: logger, startTime: time.Now()}

	router := chi.NewRouter()
	cfg := huma.DefaultConfig("tsp diagnostics API", version)
	cfg.Info.Description = "Read-only status API for a running tsp pipeline"
	api := humachi.New(router, cfg)

	registerRoutes(api, pipeline, s)

	s.httpServer = &http.Server{Addr: addr, Handler: router}
	return s
}

func registerRoutes(api huma.API, pipeline Pipeline, s *Server) {
	huma.Register(api, huma.Operation{
		OperationID: "getStages",
		Method:      "GET",
		Path:        "/stages",
		Summary:     "Stage windows",
		Description: "Returns each stage's current window state",
		Tags:        []string{"pipeline"},
	}, func(ctx context.Context, _ *struct{}) (*StagesOutput, error) {
		return &StagesOutput{Body: buildStagesResponse(pipeline)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "getBitrate",
		Method:      "GET",
		Path:        "/bitrate",
		Summary:     "Declared bitrate",
		Description: "Returns the current declared bitrate and its source",
		Tags:        []string{"pipeline"},
	}, func(ctx context.Context, _ *struct{}) (*BitrateOutput, error) {
		bps, source := pipeline.Bitrate()
		return &BitrateOutput{Body: BitrateResponse{BitsPerSecond: bps, Source: source}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "getBuffer",
		Method:      "GET",
		Path:        "/buffer",
		Summary:     "Resident buffer status",
		Description: "Returns ring slot count and page-lock status",
		Tags:        []string{"pipeline"},
	}, func(ctx context.Context, _ *struct{}) (*BufferOutput, error) {
		return &BufferOutput{Body: BufferResponse{
			SlotCount: pipeline.SlotCount(),
			Locked:    pipeline.BufferLocked(),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Process and host resource usage",
		Description: "Reports RSS, load average, and dropped-report count for operators watching a long-running process",
		Tags:        []string{"system"},
	}, func(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
		return &HealthOutput{Body: buildHealthResponse(s.startTime, pipeline)}, nil
	})
}

func buildHealthResponse(startTime time.Time, pipeline Pipeline) HealthResponse {
	resp := HealthResponse{
		Status:        "ok",
		UptimeSeconds: time.Since(startTime).Seconds(),
		Dropped:       pipeline.Dropped(),
	}

	if loadAvg, err := load.Avg(); err == nil && loadAvg != nil {
		resp.SystemLoad1Min = loadAvg.Load1
	}
	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		resp.SystemUsedMemoryMB = float64(vm.Used) / 1024 / 1024
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mi, err := proc.MemoryInfo(); err == nil && mi != nil {
			resp.ProcessRSSMB = float64(mi.RSS) / 1024 / 1024
		}
	}
	return resp
}

// Start begins serving in the background and returns immediately.
func (s *Server) Start() {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("diagnostics server stopped", slog.String("error", err.Error()))
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("diagnostics: shutdown: %w", err)
	}
	return nil
}

// Addr returns the address the server is bound to (useful when addr
// was ":0" and the OS chose an ephemeral port — callers needing the
// resolved value should inspect the net.Listener directly if the
// http.Server hasn't been told to listen yet; Start uses the
// configured addr as-is).
func (s *Server) Addr() string {
	return s.httpServer.Addr
}
