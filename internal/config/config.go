// Package config provides configuration management for tsp using Viper.
// It supports configuration from file, environment variables, and CLI
// flags bound through pflag (cmd/tsp/cmd binds each global flag to its
// dotted viper key), with CLI flags taking precedence per the usual
// Viper layering.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values (§6.1).
const (
	defaultBufferSizeMB           = 16
	defaultBitrateAdjustInterval  = 5 * time.Second
	defaultFinalWaitMS            = 0
	defaultReceiveTimeoutMS       = 0
	defaultControlTimeoutMS       = 5000
	defaultMaxFlushedPacketsOff   = 10000
	defaultMaxFlushedPacketsRT    = 1000
	defaultMaxInputPacketsRT      = 1000
)

// Config holds all configuration for a tsp run.
type Config struct {
	Logging     LoggingConfig     `mapstructure:"logging"`
	Buffer      BufferConfig      `mapstructure:"buffer"`
	Batching    BatchingConfig    `mapstructure:"batching"`
	Bitrate     BitrateConfig     `mapstructure:"bitrate"`
	Stuffing    StuffingConfig    `mapstructure:"stuffing"`
	Termination TerminationConfig `mapstructure:"termination"`
	Control     ControlConfig     `mapstructure:"control"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics"`
	RealTime    string            `mapstructure:"realtime"` // "auto", "on", "off"
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level          string `mapstructure:"level"`  // debug, info, warn, error
	Format         string `mapstructure:"format"` // json, text
	AddSource      bool   `mapstructure:"add_source"`
	TimeFormat     string `mapstructure:"time_format"`
	LogPluginIndex bool   `mapstructure:"log_plugin_index"`
}

// BufferConfig holds the resident packet buffer configuration (C1, §4.1).
type BufferConfig struct {
	// SizeMB is the ring size as a byte count, parsed from values such
	// as "16MB" (decimal allowed); N_slots is derived as SizeMB / 188.
	SizeMB   ByteSize `mapstructure:"size_mb"`
	LockPage bool     `mapstructure:"lock_page"`
}

// BatchingConfig holds the executor batching caps (C3, §4.3).
type BatchingConfig struct {
	MaxInputPackets     int `mapstructure:"max_input_packets"`
	MaxFlushedPackets   int `mapstructure:"max_flushed_packets"`
	MaxOutputPackets    int `mapstructure:"max_output_packets"`
	InitialInputPackets int `mapstructure:"initial_input_packets"`
}

// BitrateConfig holds the bitrate propagator configuration (C4, §4.4).
type BitrateConfig struct {
	// OverrideBps fixes the declared bitrate when non-zero.
	OverrideBps    uint64   `mapstructure:"override_bps"`
	AdjustInterval Duration `mapstructure:"adjust_interval"`
}

// StuffingConfig holds the stuffing/timestamp injector configuration
// (C5, §4.5).
type StuffingConfig struct {
	AddStartStuffing     int `mapstructure:"add_start_stuffing"`
	AddInputStuffingNull int `mapstructure:"add_input_stuffing_null"`
	AddInputStuffingIn   int `mapstructure:"add_input_stuffing_in"`
	AddStopStuffing      int `mapstructure:"add_stop_stuffing"`
}

// TerminationConfig holds the termination arbiter configuration (C6,
// §4.6).
type TerminationConfig struct {
	IgnoreJointTermination bool     `mapstructure:"ignore_joint_termination"`
	FinalWaitMS            int      `mapstructure:"final_wait_ms"`
	ReceiveTimeoutMS       int      `mapstructure:"receive_timeout_ms"`
}

// ControlConfig holds the control channel configuration (C7, §4.7).
type ControlConfig struct {
	Port       int      `mapstructure:"port"`
	Local      bool     `mapstructure:"local"`
	Sources    []string `mapstructure:"sources"`
	ReusePort  bool     `mapstructure:"reuse_port"`
	TimeoutMS  int      `mapstructure:"timeout_ms"`
	// RestartCron, if set, is a cron expression (with seconds) on which
	// the control channel cancels the whole pipeline (§12.5 supplement);
	// nothing starts the pipeline again afterwards.
	RestartCron string `mapstructure:"restart_cron"`
}

// DiagnosticsConfig holds the optional read-only HTTP status API
// configuration (§12.3 supplement).
type DiagnosticsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration and
// are prefixed with TSP_, using underscores for nesting (e.g.
// TSP_BUFFER_SIZE_MB=64). CLI flags bound by cmd/tsp take precedence
// over both.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("tsp")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/tsp")
		v.AddConfigPath("$HOME/.tsp")
	}

	v.SetEnvPrefix("TSP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// SetDefaults configures default values for every configuration
// option (§6.1).
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
	v.SetDefault("logging.log_plugin_index", false)

	v.SetDefault("buffer.size_mb", defaultBufferSizeMB*1024*1024)
	v.SetDefault("buffer.lock_page", true)

	v.SetDefault("batching.max_flushed_packets", defaultMaxFlushedPacketsOff)
	v.SetDefault("batching.max_input_packets", 0)
	v.SetDefault("batching.max_output_packets", 0)
	v.SetDefault("batching.initial_input_packets", 0)

	v.SetDefault("bitrate.override_bps", 0)
	v.SetDefault("bitrate.adjust_interval", defaultBitrateAdjustInterval)

	v.SetDefault("stuffing.add_start_stuffing", 0)
	v.SetDefault("stuffing.add_input_stuffing_null", 0)
	v.SetDefault("stuffing.add_input_stuffing_in", 0)
	v.SetDefault("stuffing.add_stop_stuffing", 0)

	v.SetDefault("termination.ignore_joint_termination", false)
	v.SetDefault("termination.final_wait_ms", defaultFinalWaitMS)
	v.SetDefault("termination.receive_timeout_ms", defaultReceiveTimeoutMS)

	v.SetDefault("control.port", 0)
	v.SetDefault("control.local", true)
	v.SetDefault("control.sources", []string{"127.0.0.1", "::1"})
	v.SetDefault("control.reuse_port", false)
	v.SetDefault("control.timeout_ms", defaultControlTimeoutMS)
	v.SetDefault("control.restart_cron", "")

	v.SetDefault("diagnostics.enabled", false)
	v.SetDefault("diagnostics.addr", "127.0.0.1:0")

	v.SetDefault("realtime", "auto")
}

// Validate checks the configuration for errors (§7 ConfigError).
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Buffer.SizeMB.Bytes() <= 0 {
		return fmt.Errorf("buffer.size_mb must be positive")
	}

	validRealtime := map[string]bool{"auto": true, "on": true, "off": true}
	if !validRealtime[c.RealTime] {
		return fmt.Errorf("realtime must be one of: auto, on, off")
	}

	if c.Control.Port < 0 || c.Control.Port > 65535 {
		return fmt.Errorf("control.port must be between 0 and 65535")
	}

	return nil
}

// SlotCount derives N_slots from the configured buffer size (§3).
func (c *BufferConfig) SlotCount() int {
	const packetSize = 188
	n := int(c.SizeMB.Bytes() / packetSize)
	if n < 2 {
		n = 2
	}
	return n
}
