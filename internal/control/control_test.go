package control

import (
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsduckgo/tsp/internal/ledger"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePipeline struct {
	ledger     *ledger.Ledger
	bps        uint64
	source     string
	stages     []string
	cancelled  bool
	lastLevel  string
}

func (f *fakePipeline) Ledger() *ledger.Ledger                    { return f.ledger }
func (f *fakePipeline) Bitrate() (uint64, string)                 { return f.bps, f.source }
func (f *fakePipeline) StageNames() []string                      { return f.stages }
func (f *fakePipeline) Cancel()                                   { f.cancelled = true }
func (f *fakePipeline) SetLogLevel(level string)                  { f.lastLevel = level }

func newFakeChain(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := ledger.New(10, []ledger.Kind{ledger.Input, ledger.Output}, []string{"file", "file"})
	require.NoError(t, err)
	return l
}

func TestParseSource_AcceptsBareIPAndCIDR(t *testing.T) {
	n, err := parseSource("10.0.0.1")
	require.NoError(t, err)
	assert.True(t, n.Contains(net.ParseIP("10.0.0.1")))
	assert.False(t, n.Contains(net.ParseIP("10.0.0.2")))

	n, err = parseSource("10.0.0.0/24")
	require.NoError(t, err)
	assert.True(t, n.Contains(net.ParseIP("10.0.0.42")))
	assert.False(t, n.Contains(net.ParseIP("10.0.1.1")))
}

func TestParseSource_RejectsGarbage(t *testing.T) {
	_, err := parseSource("not-an-ip")
	assert.Error(t, err)
}

func TestNew_DefaultsToLoopbackWhenLocalOrNoSources(t *testing.T) {
	pipe := &fakePipeline{}
	c, err := New(Config{Local: true}, pipe, testLogger())
	require.NoError(t, err)
	assert.True(t, c.allow(&net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1}))
	assert.False(t, c.allow(&net.TCPAddr{IP: net.ParseIP("8.8.8.8"), Port: 1}))
}

func TestNew_RejectsInvalidSource(t *testing.T) {
	pipe := &fakePipeline{}
	_, err := New(Config{Sources: []string{"garbage"}}, pipe, testLogger())
	assert.Error(t, err)
}

func TestNew_HonorsExplicitSourceList(t *testing.T) {
	pipe := &fakePipeline{}
	c, err := New(Config{Sources: []string{"192.168.1.0/24"}}, pipe, testLogger())
	require.NoError(t, err)
	assert.True(t, c.allow(&net.TCPAddr{IP: net.ParseIP("192.168.1.5"), Port: 1}))
	assert.False(t, c.allow(&net.TCPAddr{IP: net.ParseIP("10.0.0.1"), Port: 1}))
}

func TestDispatch_List(t *testing.T) {
	pipe := &fakePipeline{stages: []string{"file", "setlabel", "file"}}
	c, err := New(Config{Local: true}, pipe, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "OK file,setlabel,file", c.dispatch("list"))
}

func TestDispatch_Bitrate(t *testing.T) {
	pipe := &fakePipeline{bps: 5000000, source: "pcr"}
	c, err := New(Config{Local: true}, pipe, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "OK 5000000 pcr", c.dispatch("bitrate"))
}

func TestDispatch_SuspendResumeByNameOrIndex(t *testing.T) {
	l := newFakeChain(t)
	pipe := &fakePipeline{ledger: l, stages: []string{"file", "file"}}
	c, err := New(Config{Local: true}, pipe, testLogger())
	require.NoError(t, err)

	assert.Equal(t, "OK", c.dispatch("suspend file"))
	assert.Equal(t, "OK", c.dispatch("resume 1"))
	assert.Equal(t, "ERR unknown stage nope", c.dispatch("suspend nope"))
	assert.Equal(t, "ERR usage: suspend <stage-name>", c.dispatch("suspend"))
}

func TestDispatch_SetLog(t *testing.T) {
	pipe := &fakePipeline{}
	c, err := New(Config{Local: true}, pipe, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "OK", c.dispatch("set-log debug"))
	assert.Equal(t, "debug", pipe.lastLevel)
}

func TestDispatch_Exit(t *testing.T) {
	pipe := &fakePipeline{}
	c, err := New(Config{Local: true}, pipe, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "OK exiting", c.dispatch("exit"))
	assert.True(t, pipe.cancelled)
}

func TestDispatch_UnknownCommand(t *testing.T) {
	pipe := &fakePipeline{}
	c, err := New(Config{Local: true}, pipe, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "ERR unknown command frobnicate", c.dispatch("frobnicate"))
	assert.Equal(t, "ERR empty command", c.dispatch(""))
}

func TestDispatch_ScheduleRestartIsRejectedAtRuntime(t *testing.T) {
	pipe := &fakePipeline{}
	c, err := New(Config{Local: true}, pipe, testLogger())
	require.NoError(t, err)
	reply := c.dispatch("schedule-restart * * * * * *")
	assert.Contains(t, reply, "ERR")
}

func TestStageIndex_ResolvesByNameOrOrdinal(t *testing.T) {
	pipe := &fakePipeline{stages: []string{"file", "setlabel", "file"}}
	c, err := New(Config{Local: true}, pipe, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, c.stageIndex("setlabel"))
	assert.Equal(t, 2, c.stageIndex("2"))
	assert.Equal(t, -1, c.stageIndex("missing"))
}

func TestClose_WithNoListenerIsSafe(t *testing.T) {
	pipe := &fakePipeline{}
	c, err := New(Config{Local: true}, pipe, testLogger())
	require.NoError(t, err)
	assert.NoError(t, c.Close())
}
