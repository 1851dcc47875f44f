package fileio

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsduckgo/tsp/internal/plugin"
	"github.com/tsduckgo/tsp/internal/tspacket"
)

type discardSink struct{}

func (discardSink) Report(severity plugin.Severity, message string) {}

func writeTestPackets(t *testing.T, path string, n int) {
	t.Helper()
	buf := make([]byte, tspacket.PacketSize*n)
	for i := 0; i < n; i++ {
		buf[i*tspacket.PacketSize] = tspacket.SyncByte
	}
	require.NoError(t, os.WriteFile(path, buf, 0o644))
}

func TestInput_ParseOptions_PositionalPath(t *testing.T) {
	in := &Input{}
	require.NoError(t, in.ParseOptions([]string{"/tmp/stream.ts"}))
	assert.Equal(t, "/tmp/stream.ts", in.path)
}

func TestInput_ReceiveReadsPacketsAndReportsEOF(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "in.ts")
	writeTestPackets(t, path, 3)

	any, err := NewInput(discardSink{}, []string{path})
	require.NoError(t, err)
	in := any.(*Input)

	require.NoError(t, in.Start(context.Background()))
	defer in.Stop(context.Background())

	pkts := make([]tspacket.Packet, 5)
	metas := make([]*tspacket.Metadata, 5)
	for i := range pkts {
		pkts[i] = tspacket.Packet{Bytes: make([]byte, tspacket.PacketSize)}
		metas[i] = &tspacket.Metadata{}
	}

	n, eof, err := in.Receive(context.Background(), pkts, metas)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.True(t, eof)
}

func TestInput_Stop_IsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "in.ts")
	writeTestPackets(t, path, 1)

	any, err := NewInput(discardSink{}, []string{path})
	require.NoError(t, err)
	in := any.(*Input)
	require.NoError(t, in.Start(context.Background()))
	require.NoError(t, in.Stop(context.Background()))
	require.NoError(t, in.Stop(context.Background()))
}

func TestOutput_SendWritesAllPacketsThenFlushesOnStop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.ts")

	any, err := NewOutput(discardSink{}, []string{path})
	require.NoError(t, err)
	out := any.(*Output)

	require.NoError(t, out.Start(context.Background()))

	pkts := []tspacket.Packet{
		{Bytes: make([]byte, tspacket.PacketSize)},
		{Bytes: make([]byte, tspacket.PacketSize)},
	}
	pkts[0].Bytes[0] = tspacket.SyncByte
	pkts[1].Bytes[0] = tspacket.SyncByte

	ok, err := out.Send(context.Background(), pkts, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, out.Stop(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, data, tspacket.PacketSize*2)
}

func TestOutput_ParseOptions_KeepFlagRejectsExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.ts")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	any, err := NewOutput(discardSink{}, []string{"--path", path, "--keep"})
	require.NoError(t, err)
	out := any.(*Output)

	err = out.Start(context.Background())
	assert.Error(t, err, "O_EXCL must fail against a pre-existing file when --keep is set")
}
