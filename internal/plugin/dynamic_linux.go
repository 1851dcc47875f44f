//go:build linux

package plugin

import (
	"fmt"
	"plugin"
)

// registerSymbol is the symbol every out-of-tree plugin shared object
// must export: a function with the Factory signature,
// func(Sink, []string) (any, error) (§6.2 "a
// registration symbol that yields an instance implementing one of three
// capability sets" — reinterpreted per §9 as a function-pointer-style
// factory rather than a class instance).
const registerSymbol = "TSPRegister"

func loadDynamic(path string) (Factory, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("plugin: opening %s: %w", path, err)
	}
	sym, err := p.Lookup(registerSymbol)
	if err != nil {
		return nil, fmt.Errorf("plugin: %s does not export %s: %w", path, registerSymbol, err)
	}
	factory, ok := sym.(func(Sink, []string) (any, error))
	if !ok {
		return nil, fmt.Errorf("plugin: %s's %s has the wrong signature", path, registerSymbol)
	}
	return Factory(factory), nil
}
