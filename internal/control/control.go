// Package control implements the Control Channel (C7): an optional TCP
// listener accepting textual line commands from an allow-listed set of
// sources, plus an optional cron-scheduled restart request (spec.md
// §4.7, and §12.5 supplement grounded on original_source's scheduled
// restart facility).
package control

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/tsduckgo/tsp/internal/ledger"
)

// Pipeline is the narrow surface the control channel needs from a
// running supervisor.Pipeline, kept as an interface here to avoid an
// import cycle (supervisor already depends on nothing in this
// package).
type Pipeline interface {
	Ledger() *ledger.Ledger
	Bitrate() (bitsPerSecond uint64, sourceName string)
	StageNames() []string
	Cancel()
	SetLogLevel(level string)
}

// Config mirrors the §6.1 control-channel options.
type Config struct {
	Port        int
	Local       bool
	Sources     []string // bare IPs or CIDRs
	ReusePort   bool
	Timeout     time.Duration
	RestartCron string
}

// Channel owns the TCP listener and, if configured, the cron job that
// cancels the whole pipeline on a schedule; the pipeline is not started
// again.
type Channel struct {
	cfg      Config
	pipeline Pipeline
	logger   *slog.Logger

	allowed []*net.IPNet
	ln      net.Listener
	cronJob *cron.Cron

	mu       sync.Mutex
	sessions map[string]struct{}
}

// New validates the allow-list and builds a Channel. It does not start
// listening until Start is called.
func New(cfg Config, pipeline Pipeline, logger *slog.Logger) (*Channel, error) {
	sources := cfg.Sources
	if cfg.Local || len(sources) == 0 {
		sources = append(sources, "127.0.0.1", "::1")
	}
	allowed := make([]*net.IPNet, 0, len(sources))
	for _, s := range sources {
		n, err := parseSource(s)
		if err != nil {
			return nil, fmt.Errorf("control: invalid control_source %q: %w", s, err)
		}
		allowed = append(allowed, n)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Channel{cfg: cfg, pipeline: pipeline, logger: logger, allowed: allowed, sessions: make(map[string]struct{})}, nil
}

func parseSource(s string) (*net.IPNet, error) {
	if strings.Contains(s, "/") {
		_, n, err := net.ParseCIDR(s)
		return n, err
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, fmt.Errorf("not an IP or CIDR")
	}
	bits := 32
	if ip.To4() == nil {
		bits = 128
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}, nil
}

func (c *Channel) allow(addr net.Addr) bool {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, n := range c.allowed {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Start opens the TCP listener and, if RestartCron is set, starts the
// restart scheduler. It returns once the listener is accepting
// connections; serve runs the accept loop in the background.
func (c *Channel) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	if c.cfg.ReusePort {
		lc.Control = reusePortControl
	}
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", c.cfg.Port))
	if err != nil {
		return fmt.Errorf("control: listen: %w", err)
	}
	c.ln = ln

	if c.cfg.RestartCron != "" {
		c.cronJob = cron.New(cron.WithSeconds())
		if _, err := c.cronJob.AddFunc(c.cfg.RestartCron, func() {
			c.logger.Info("scheduled restart firing", slog.String("cron", c.cfg.RestartCron))
			c.pipeline.Cancel()
		}); err != nil {
			ln.Close()
			return fmt.Errorf("control: invalid restart_cron %q: %w", c.cfg.RestartCron, err)
		}
		c.cronJob.Start()
	}

	go c.serve(ctx)
	return nil
}

func (c *Channel) serve(ctx context.Context) {
	for {
		conn, err := c.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				c.logger.Warn("control channel accept failed", slog.String("error", err.Error()))
				return
			}
		}
		if !c.allow(conn.RemoteAddr()) {
			c.logger.Warn("control channel rejected connection", slog.String("remote", conn.RemoteAddr().String()))
			conn.Close()
			continue
		}
		sessionID := uuid.NewString()
		go c.handleSession(sessionID, conn)
	}
}

func (c *Channel) handleSession(sessionID string, conn net.Conn) {
	defer conn.Close()
	c.mu.Lock()
	c.sessions[sessionID] = struct{}{}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.sessions, sessionID)
		c.mu.Unlock()
	}()

	_ = conn.SetDeadline(time.Now().Add(c.cfg.Timeout))
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		_ = conn.SetDeadline(time.Now().Add(c.cfg.Timeout))
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		reply := c.dispatch(line)
		fmt.Fprintln(conn, reply)
	}
}

// dispatch executes one textual command: list the stages, show the
// current bitrate, suspend/resume a named stage, set the log level, or
// request an orderly exit. suspend and resume only wake the named
// stage's condition variable; neither one pauses or restarts the stage.
// set-log changes the process-wide log level, not a single stage's.
func (c *Channel) dispatch(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "ERR empty command"
	}
	switch fields[0] {
	case "list":
		return "OK " + strings.Join(c.pipeline.StageNames(), ",")
	case "bitrate":
		bps, source := c.pipeline.Bitrate()
		return fmt.Sprintf("OK %d %s", bps, source)
	case "suspend", "resume":
		if len(fields) < 2 {
			return "ERR usage: " + fields[0] + " <stage-name>"
		}
		idx := c.stageIndex(fields[1])
		if idx < 0 {
			return "ERR unknown stage " + fields[1]
		}
		c.pipeline.Ledger().Signal(idx)
		return "OK"
	case "set-log":
		if len(fields) < 2 {
			return "ERR usage: set-log <level>"
		}
		c.pipeline.SetLogLevel(fields[1])
		return "OK"
	case "schedule-restart":
		if len(fields) < 2 {
			return "ERR usage: schedule-restart <cron-expr>"
		}
		return "ERR restart schedule is set at startup via control.restart_cron"
	case "exit":
		c.pipeline.Cancel()
		return "OK exiting"
	default:
		return "ERR unknown command " + fields[0]
	}
}

func (c *Channel) stageIndex(name string) int {
	for i, n := range c.pipeline.StageNames() {
		if n == name || strconv.Itoa(i) == name {
			return i
		}
	}
	return -1
}

// Close stops the listener and the restart scheduler, if any.
func (c *Channel) Close() error {
	if c.cronJob != nil {
		<-c.cronJob.Stop().Done()
	}
	if c.ln != nil {
		return c.ln.Close()
	}
	return nil
}
