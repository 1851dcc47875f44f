package fileio

import "github.com/tsduckgo/tsp/internal/plugin"

func init() {
	plugin.Inputs.Register(InputName, NewInput)
	plugin.Outputs.Register(OutputName, NewOutput)
}
