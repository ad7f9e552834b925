package main

import (
	"github.com/vhalberd/tracegraph/cmd"
)

// main is the entry point for the tracegraph CLI.
func main() {
	// Execute the root command defined in the cmd package.
	// This handles all command-line parsing, configuration, and execution.
	cmd.Execute()
}
