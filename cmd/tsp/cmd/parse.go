package cmd

import (
	"fmt"

	"github.com/tsduckgo/tsp/internal/supervisor"
)

// splitInvocation implements the §6.1 invocation grammar:
//
//	tsp [global-opts] [-I name [input-opts]] (-P name [proc-opts])* [-O name [output-opts]]
//
// Standard flag libraries (pflag included) have no notion of a
// repeated stanza whose own option set is opaque to the outer parser,
// so this is a small hand-rolled scanner: everything before the first
// -I/-P/-O is global; each -I/-P/-O introduces a new stanza that
// continues until the next -I/-P/-O or end of input.
func splitInvocation(args []string) (globalArgs []string, chain supervisor.Chain, err error) {
	var sawInput, sawOutput bool
	i := 0
	for i < len(args) && args[i] != "-I" && args[i] != "-P" && args[i] != "-O" {
		globalArgs = append(globalArgs, args[i])
		i++
	}

	for i < len(args) {
		kind := args[i]
		i++
		if i >= len(args) {
			return nil, chain, fmt.Errorf("%s requires a plugin name", kind)
		}
		name := args[i]
		i++

		var stanzaArgs []string
		for i < len(args) && args[i] != "-I" && args[i] != "-P" && args[i] != "-O" {
			stanzaArgs = append(stanzaArgs, args[i])
			i++
		}

		spec := supervisor.PluginSpec{Name: name, Args: stanzaArgs}
		switch kind {
		case "-I":
			if sawInput {
				return nil, chain, fmt.Errorf("at most one -I is allowed")
			}
			chain.Input = spec
			sawInput = true
		case "-P":
			chain.Processors = append(chain.Processors, spec)
		case "-O":
			if sawOutput {
				return nil, chain, fmt.Errorf("at most one -O is allowed")
			}
			chain.Output = spec
			sawOutput = true
		}
	}

	if !sawInput {
		chain.Input = supervisor.PluginSpec{Name: "file"}
	}
	if !sawOutput {
		chain.Output = supervisor.PluginSpec{Name: "file"}
	}
	return globalArgs, chain, nil
}
