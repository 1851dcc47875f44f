package supervisor

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsduckgo/tsp/internal/config"
	"github.com/tsduckgo/tsp/internal/tspacket"

	_ "github.com/tsduckgo/tsp/internal/plugins/fileio"
	_ "github.com/tsduckgo/tsp/internal/plugins/filterlabel"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeTestStream(t *testing.T, path string, n int) {
	t.Helper()
	buf := make([]byte, tspacket.PacketSize*n)
	for i := 0; i < n; i++ {
		buf[i*tspacket.PacketSize] = tspacket.SyncByte
	}
	require.NoError(t, os.WriteFile(path, buf, 0o644))
}

func baseConfig() *config.Config {
	return &config.Config{
		Logging: config.LoggingConfig{Level: "info", Format: "json"},
		Buffer:  config.BufferConfig{SizeMB: config.ByteSize(188 * 64), LockPage: false},
		Bitrate: config.BitrateConfig{},
		RealTime: "off",
	}
}

func TestNew_BuildsRunnablePipeline(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.ts")
	out := filepath.Join(dir, "out.ts")
	writeTestStream(t, in, 10)

	chain := Chain{
		Input:      PluginSpec{Name: "file", Args: []string{"--path", in}},
		Processors: []PluginSpec{{Name: "setlabel", Args: []string{"--pid", "0"}}},
		Output:     PluginSpec{Name: "file", Args: []string{"--path", out}},
	}

	pipe, err := New(context.Background(), chain, RunOptions{Config: baseConfig(), Logger: testLogger()})
	require.NoError(t, err)

	assert.NotEmpty(t, pipe.RunID)
	assert.Equal(t, []string{"file", "setlabel", "file"}, pipe.StageNames())
	assert.Equal(t, 64, pipe.SlotCount())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, pipe.Start(ctx))
	err = pipe.Wait(ctx)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Len(t, data, tspacket.PacketSize*10)
}

func TestNew_UnknownInputPluginFails(t *testing.T) {
	chain := Chain{
		Input:  PluginSpec{Name: "does-not-exist"},
		Output: PluginSpec{Name: "file"},
	}
	_, err := New(context.Background(), chain, RunOptions{Config: baseConfig(), Logger: testLogger()})
	assert.Error(t, err)
}

func TestResolveRealTime_ExplicitModeWins(t *testing.T) {
	assert.True(t, resolveRealTime("on", nil, nil, nil))
	assert.False(t, resolveRealTime("off", nil, nil, nil))
}
