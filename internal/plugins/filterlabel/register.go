package filterlabel

import "github.com/tsduckgo/tsp/internal/plugin"

func init() {
	plugin.Processors.Register(Name, NewProcessor)
}
