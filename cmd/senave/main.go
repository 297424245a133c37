// Package main is the entry point for the senave CLI.
package main

import (
	"os"

	"github.com/jmylchreest/senave-registros/cmd/senave/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
