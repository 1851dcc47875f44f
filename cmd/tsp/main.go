// Package main is the entry point for the tsp command.
package main

import (
	"os"

	"github.com/tsduckgo/tsp/cmd/tsp/cmd"
)

func main() {
	os.Exit(cmd.Execute(os.Args[1:]))
}
