package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopFactory(sink Sink, args []string) (any, error) { return nil, nil }

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	r.Register("file", noopFactory)

	f, ok := r.Lookup("file")
	require.True(t, ok)
	require.NotNil(t, f)

	_, ok = r.Lookup("missing")
	assert.False(t, ok)
}

func TestRegistry_DuplicateRegistrationPanics(t *testing.T) {
	r := NewRegistry()
	r.Register("file", noopFactory)
	assert.Panics(t, func() {
		r.Register("file", noopFactory)
	})
}

func TestRegistry_NamesListsEveryRegistration(t *testing.T) {
	r := NewRegistry()
	r.Register("file", noopFactory)
	r.Register("udp", noopFactory)

	names := r.Names()
	assert.ElementsMatch(t, []string{"file", "udp"}, names)
}

func TestVerdict_String(t *testing.T) {
	cases := map[Verdict]string{
		OK:    "OK",
		Null:  "NULL",
		Drop:  "DROP",
		Stall: "STALL",
		End:   "END",
		Abort: "ABORT",
	}
	for v, want := range cases {
		assert.Equal(t, want, v.String())
	}
	assert.Equal(t, "UNKNOWN", Verdict(99).String())
}
