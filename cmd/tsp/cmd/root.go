// Package cmd implements the tsp command-line surface (§6.1).
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tsduckgo/tsp/internal/config"
	"github.com/tsduckgo/tsp/internal/control"
	"github.com/tsduckgo/tsp/internal/diagnostics"
	"github.com/tsduckgo/tsp/internal/observability"
	"github.com/tsduckgo/tsp/internal/supervisor"
	"github.com/tsduckgo/tsp/internal/version"

	_ "github.com/tsduckgo/tsp/internal/plugins/fileio"
	_ "github.com/tsduckgo/tsp/internal/plugins/filterlabel"
)

// Execute parses args (the full command line minus argv[0]), runs the
// pipeline, and returns the process exit status (§6.4): 0 on success,
// non-zero on config/load/allocation/abort errors.
func Execute(args []string) int {
	if len(args) > 0 && (args[0] == "--version" || args[0] == "version") {
		fmt.Println(version.Short())
		return 0
	}

	globalArgs, chain, err := splitInvocation(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tsp: %v\n", err)
		return 1
	}

	fs := pflag.NewFlagSet("tsp", pflag.ContinueOnError)
	var cfgFile string
	fs.StringVar(&cfgFile, "config", "", "config file path")
	bindGlobalFlags(fs)
	if err := fs.Parse(globalArgs); err != nil {
		fmt.Fprintf(os.Stderr, "tsp: %v\n", err)
		return 1
	}

	v := viper.New()
	config.SetDefaults(v)
	if err := bindFlagsToViper(v, fs); err != nil {
		fmt.Fprintf(os.Stderr, "tsp: %v\n", err)
		return 1
	}
	v.SetEnvPrefix("TSP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "tsp: reading config file: %v\n", err)
			return 1
		}
	}

	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "tsp: unmarshaling config: %v\n", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "tsp: %v\n", err)
		return 1
	}

	logger := observability.NewLogger(cfg.Logging)
	return run(chain, &cfg, logger)
}

// flagToViperKey maps each §6.1 global flag name to its dotted viper
// key in config.Config, since pflag names use dashes while the
// mapstructure tags nest by section.
var flagToViperKey = map[string]string{
	"bitrate":                  "bitrate.override_bps",
	"bitrate-adjust-interval":  "bitrate.adjust_interval",
	"buffer-size-mb":           "buffer.size_mb",
	"buffer-lock-page":         "buffer.lock_page",
	"max-input-packets":        "batching.max_input_packets",
	"max-flushed-packets":      "batching.max_flushed_packets",
	"max-output-packets":       "batching.max_output_packets",
	"initial-input-packets":    "batching.initial_input_packets",
	"add-start-stuffing":       "stuffing.add_start_stuffing",
	"add-input-stuffing-null":  "stuffing.add_input_stuffing_null",
	"add-input-stuffing-in":    "stuffing.add_input_stuffing_in",
	"add-stop-stuffing":        "stuffing.add_stop_stuffing",
	"realtime":                 "realtime",
	"ignore-joint-termination": "termination.ignore_joint_termination",
	"final-wait-ms":            "termination.final_wait_ms",
	"receive-timeout-ms":       "termination.receive_timeout_ms",
	"control-port":             "control.port",
	"control-local":            "control.local",
	"control-source":           "control.sources",
	"control-reuse-port":       "control.reuse_port",
	"control-timeout-ms":       "control.timeout_ms",
	"control-restart-cron":     "control.restart_cron",
	"diagnostics":              "diagnostics.enabled",
	"diagnostics-addr":         "diagnostics.addr",
	"log-plugin-index":         "logging.log_plugin_index",
	"log-level":                "logging.level",
	"log-format":               "logging.format",
}

// bindGlobalFlags registers every §6.1 global option onto fs, using
// flag names that mirror the abstract option names with dashes instead
// of underscores.
func bindGlobalFlags(fs *pflag.FlagSet) {
	fs.Uint64("bitrate", 0, "fix the input bitrate instead of estimating")
	fs.Duration("bitrate-adjust-interval", 0, "seconds between bitrate republications")
	fs.String("buffer-size-mb", "", "ring size with a unit, e.g. 16MB (decimal allowed; a bare number is bytes)")
	fs.Bool("buffer-lock-page", true, "attempt to page-lock the resident buffer")
	fs.Int("max-input-packets", 0, "cap on packets read per input call")
	fs.Int("max-flushed-packets", 0, "cap on packets released per wake-up")
	fs.Int("max-output-packets", 0, "cap on packets sent per output call")
	fs.Int("initial-input-packets", 0, "bootstrap accumulation before first downstream wake")
	fs.Int("add-start-stuffing", 0, "null packets emitted before the first real packet")
	fs.Int("add-input-stuffing-null", 0, "null packets interleaved per add-input-stuffing-in real packets")
	fs.Int("add-input-stuffing-in", 0, "real packet count the add-input-stuffing-null ratio applies to")
	fs.Int("add-stop-stuffing", 0, "null packets appended after end-of-input")
	fs.String("realtime", "auto", "auto, on, or off")
	fs.Bool("ignore-joint-termination", false, "disable the joint-termination AND-gate")
	fs.Int("final-wait-ms", 0, "post-input drain deadline (0 = forever); stored in config but not applied, the pipeline always waits for drainage")
	fs.Int("receive-timeout-ms", 0, "per-input-call deadline; stored in config but not applied to input receive calls")
	fs.Int("control-port", 0, "control channel TCP port (0 = disabled)")
	fs.Bool("control-local", true, "always allow loopback sources on the control channel, in addition to control-source")
	fs.StringSlice("control-source", nil, "additional allow-listed control channel source (repeatable)")
	fs.Bool("control-reuse-port", false, "set SO_REUSEPORT on the control channel listener")
	fs.Int("control-timeout-ms", 5000, "per-session control channel timeout")
	fs.String("control-restart-cron", "", "cron expression on which the whole pipeline is cancelled; it is not started again")
	fs.Bool("diagnostics", false, "enable the read-only diagnostics HTTP API")
	fs.String("diagnostics-addr", "127.0.0.1:0", "diagnostics API listen address")
	fs.Bool("log-plugin-index", false, "prefix log lines with the stage's position")
	fs.String("log-level", "info", "debug, info, warn, or error")
	fs.String("log-format", "json", "json or text")
}

// bindFlagsToViper binds every flag in fs to its corresponding viper
// key per flagToViperKey, so that a flag set on the command line
// overrides file and environment configuration (standard viper
// layering) without colliding with the dotted mapstructure keys.
func bindFlagsToViper(v *viper.Viper, fs *pflag.FlagSet) error {
	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if bindErr != nil {
			return
		}
		key, ok := flagToViperKey[f.Name]
		if !ok {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			bindErr = fmt.Errorf("binding flag %s: %w", f.Name, err)
		}
	})
	return bindErr
}

// msToDuration converts a millisecond count from config into a
// time.Duration; zero means "no timeout" and is passed through as-is.
func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func run(chain supervisor.Chain, cfg *config.Config, logger *slog.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exeDir := ""
	if exe, err := os.Executable(); err == nil {
		exeDir = filepath.Dir(exe)
	}
	pipe, err := supervisor.New(ctx, chain, supervisor.RunOptions{Config: cfg, Logger: logger, ExeDir: exeDir})
	if err != nil {
		logger.Error("failed to build pipeline", slog.String("error", err.Error()))
		return 1
	}

	if err := pipe.Start(ctx); err != nil {
		logger.Error("failed to start pipeline", slog.String("error", err.Error()))
		return 1
	}

	var diag *diagnostics.Server
	if cfg.Diagnostics.Enabled {
		diag = diagnostics.New(cfg.Diagnostics.Addr, pipe, logger, version.Short())
		diag.Start()
	}

	var ctl *control.Channel
	if cfg.Control.Port > 0 {
		ctl, err = control.New(control.Config{
			Port:        cfg.Control.Port,
			Local:       cfg.Control.Local,
			Sources:     cfg.Control.Sources,
			ReusePort:   cfg.Control.ReusePort,
			Timeout:     msToDuration(cfg.Control.TimeoutMS),
			RestartCron: cfg.Control.RestartCron,
		}, pipe, logger)
		if err != nil {
			logger.Error("failed to build control channel", slog.String("error", err.Error()))
		} else if err := ctl.Start(ctx); err != nil {
			logger.Error("failed to start control channel", slog.String("error", err.Error()))
			ctl = nil
		}
	}

	runErr := pipe.Wait(ctx)

	if ctl != nil {
		_ = ctl.Close()
	}
	if diag != nil {
		_ = diag.Shutdown(context.Background())
	}

	if runErr != nil {
		logger.Error("pipeline terminated with error", slog.String("error", runErr.Error()))
		return 1
	}
	return 0
}
