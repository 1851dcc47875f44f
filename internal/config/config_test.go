package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.False(t, cfg.Logging.LogPluginIndex)

	assert.Equal(t, ByteSize(16*1024*1024), cfg.Buffer.SizeMB)
	assert.True(t, cfg.Buffer.LockPage)

	assert.Equal(t, 10000, cfg.Batching.MaxFlushedPackets)
	assert.Equal(t, 0, cfg.Batching.MaxInputPackets)

	assert.Equal(t, uint64(0), cfg.Bitrate.OverrideBps)
	assert.Equal(t, 5*time.Second, cfg.Bitrate.AdjustInterval.Duration())

	assert.False(t, cfg.Termination.IgnoreJointTermination)
	assert.Equal(t, 0, cfg.Termination.FinalWaitMS)

	assert.Equal(t, 0, cfg.Control.Port)
	assert.True(t, cfg.Control.Local)
	assert.Equal(t, []string{"127.0.0.1", "::1"}, cfg.Control.Sources)

	assert.False(t, cfg.Diagnostics.Enabled)
	assert.Equal(t, "auto", cfg.RealTime)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tsp.yaml")
	content := `
logging:
  level: debug
  format: text
buffer:
  size_mb: 64MB
bitrate:
  override_bps: 5000000
realtime: "on"
control:
  port: 6000
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, int64(64*1024*1024), cfg.Buffer.SizeMB.Bytes())
	assert.Equal(t, uint64(5000000), cfg.Bitrate.OverrideBps)
	assert.Equal(t, "on", cfg.RealTime)
	assert.Equal(t, 6000, cfg.Control.Port)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("TSP_LOGGING_LEVEL", "warn")
	t.Setenv("TSP_CONTROL_PORT", "7000")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 7000, cfg.Control.Port)
}

func TestValidate(t *testing.T) {
	cfg := Config{
		Logging:  LoggingConfig{Level: "info", Format: "json"},
		Buffer:   BufferConfig{SizeMB: ByteSize(1024)},
		RealTime: "auto",
	}
	assert.NoError(t, cfg.Validate())

	bad := cfg
	bad.Logging.Level = "verbose"
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Logging.Format = "xml"
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Buffer.SizeMB = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.RealTime = "sometimes"
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Control.Port = -1
	assert.Error(t, bad.Validate())
}

func TestBufferConfig_SlotCount(t *testing.T) {
	b := BufferConfig{SizeMB: ByteSize(188 * 10)}
	assert.Equal(t, 10, b.SlotCount())

	tiny := BufferConfig{SizeMB: ByteSize(10)}
	assert.Equal(t, 2, tiny.SlotCount())
}

func TestSetDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	assert.Equal(t, "info", v.GetString("logging.level"))
	assert.Equal(t, int64(16*1024*1024), v.GetInt64("buffer.size_mb"))
	assert.Equal(t, []string{"127.0.0.1", "::1"}, v.GetStringSlice("control.sources"))
}
